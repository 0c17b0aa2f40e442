package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"rctcore/testutil"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"RCTCORE_INPUT", "RCTCORE_FORMAT", "RCTCORE_TABLE", "RCTCORE_OUTPUT",
		"RCTCORE_LOG_LEVEL", "RCTCORE_PUSHGATEWAY_URL", "RCTCORE_S3_REGION",
		"RCTCORE_S3_ENDPOINT", "RCTCORE_S3_PATH_STYLE",
	} {
		t.Setenv(key, "")
	}
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := cli(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestCLITextReport(t *testing.T) {
	isolateEnv(t)
	path := testutil.WriteTrialCSV(t, testutil.TrialRows(60))
	code, stdout, stderr := runCLI(t, path)
	if code != exitOK {
		t.Fatalf("exit %d, stderr:\n%s", code, stderr)
	}
	for _, want := range []string{"Math ITT (Z-score): ", "Hindi ITT (Z-score): ", "Full results – Math Z", "Full results – Hindi Z", "HC1"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("stdout missing %q:\n%s", want, stdout)
		}
	}
	if strings.Index(stdout, "Math ITT") > strings.Index(stdout, "Hindi ITT") {
		t.Fatalf("math headline must precede hindi")
	}
	if !strings.Contains(stderr, `"msg":"run finished"`) {
		t.Fatalf("expected structured log on stderr, got:\n%s", stderr)
	}
}

func TestCLIJSONOutputAndFlagsOverride(t *testing.T) {
	isolateEnv(t)
	path := testutil.WriteTrialCSV(t, testutil.TrialRows(60))
	code, stdout, stderr := runCLI(t, "--output", "json", "--use-t", "--alpha", "0.1", "--log-level", "error", path)
	if code != exitOK {
		t.Fatalf("exit %d, stderr:\n%s", code, stderr)
	}
	var doc struct {
		Subjects  int `json:"subjects"`
		Estimates []struct {
			Label     string   `json:"label"`
			Treatment *float64 `json:"treatment"`
			Result    struct {
				Statistic string  `json:"statistic"`
				Alpha     float64 `json:"alpha"`
			} `json:"result"`
		} `json:"estimates"`
	}
	if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
		t.Fatalf("decode json: %v\n%s", err, stdout)
	}
	if len(doc.Estimates) != 2 || doc.Estimates[0].Label != "Math ITT (Z-score)" {
		t.Fatalf("unexpected estimates %+v", doc.Estimates)
	}
	for _, e := range doc.Estimates {
		if e.Treatment == nil || e.Result.Statistic != "t" || e.Result.Alpha != 0.1 {
			t.Fatalf("flags not applied to %+v", e)
		}
	}
	if stderr != "" {
		t.Fatalf("error level must silence info logs, got:\n%s", stderr)
	}
}

func TestCLIConfigFileAndVerboseTrace(t *testing.T) {
	isolateEnv(t)
	path := testutil.WriteTrialCSV(t, testutil.TrialRows(44))
	cfgPath := filepath.Join(t.TempDir(), "itt.yaml")
	cfg := "input: " + path + "\noutput: csv\nverbose: true\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	code, stdout, stderr := runCLI(t, "--config", cfgPath)
	if code != exitOK {
		t.Fatalf("exit %d, stderr:\n%s", code, stderr)
	}
	if !strings.HasPrefix(stdout, "domain,label,term,") {
		t.Fatalf("expected csv output, got:\n%s", stdout)
	}
	if !strings.Contains(stderr, `"operation":"estimate_math"`) {
		t.Fatalf("verbose run must trace stages, got:\n%s", stderr)
	}
}

func TestCLIUsageErrors(t *testing.T) {
	isolateEnv(t)
	path := testutil.WriteTrialCSV(t, testutil.TrialRows(10))
	cases := map[string][]string{
		"unknown flag":   {"--nope", path},
		"too many args":  {path, path},
		"bad alpha":      {"--alpha", "2", path},
		"bad output":     {"--output", "xml", path},
		"bad log level":  {"--log-level", "loud", path},
		"missing config": {"--config", filepath.Join(t.TempDir(), "absent.yaml"), path},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			code, stdout, stderr := runCLI(t, args...)
			if code != exitUsage {
				t.Fatalf("exit %d, want %d; stderr:\n%s", code, exitUsage, stderr)
			}
			if stdout != "" {
				t.Fatalf("usage errors must not print a report:\n%s", stdout)
			}
		})
	}
}

func TestCLILoadFailure(t *testing.T) {
	isolateEnv(t)
	code, stdout, stderr := runCLI(t, filepath.Join(t.TempDir(), "missing.csv"))
	if code != exitFail {
		t.Fatalf("exit %d, want %d", code, exitFail)
	}
	if stdout != "" || !strings.Contains(stderr, "itt-report:") {
		t.Fatalf("unexpected output\nstdout:\n%s\nstderr:\n%s", stdout, stderr)
	}
}

func TestCLIDomainFailureStillReports(t *testing.T) {
	isolateEnv(t)
	rows := testutil.TrialRows(40)
	for i := range rows {
		if rows[i].Round == "Baseline" && rows[i].Treat == 0 {
			rows[i].Hindi = 0.5
		}
	}
	code, stdout, _ := runCLI(t, testutil.WriteTrialCSV(t, rows))
	if code != exitFail {
		t.Fatalf("exit %d, want %d", code, exitFail)
	}
	if !strings.Contains(stdout, "Math ITT (Z-score): ") || !strings.Contains(stdout, "Hindi ITT (Z-score): failed") {
		t.Fatalf("report must show the math estimate and the hindi failure:\n%s", stdout)
	}
}

func TestCLIPushesMetrics(t *testing.T) {
	isolateEnv(t)
	var (
		mu    sync.Mutex
		paths []string
		body  []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		body = data
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	path := testutil.WriteTrialCSV(t, testutil.TrialRows(30))
	code, _, stderr := runCLI(t, "--pushgateway", srv.URL, path)
	if code != exitOK {
		t.Fatalf("exit %d, stderr:\n%s", code, stderr)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 1 || !strings.HasPrefix(paths[0], "PUT /metrics/job/rctcore_itt/run_id/") {
		t.Fatalf("unexpected push requests %v", paths)
	}
	if len(body) == 0 {
		t.Fatalf("push carried no metrics")
	}
}

func TestMainUsesExitFunc(t *testing.T) {
	isolateEnv(t)
	path := testutil.WriteTrialCSV(t, testutil.TrialRows(30))
	origArgs, origExit, origStdout := os.Args, exitFunc, os.Stdout
	devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open devnull: %v", err)
	}
	defer func() {
		os.Args, exitFunc, os.Stdout = origArgs, origExit, origStdout
		_ = devnull.Close()
	}()
	os.Stdout = devnull
	os.Args = []string{"itt-report", "--log-level", "error", path}
	got := -1
	exitFunc = func(code int) { got = code }
	main()
	if got != exitOK {
		t.Fatalf("main exited with %d", got)
	}
}
