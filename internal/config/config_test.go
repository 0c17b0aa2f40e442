package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"rctcore/internal/panel"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rctcore.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	path := writeConfig(t, `
input: s3://trials/ms_blel_jpal_long.dta
output: json
timeout: 90s
regression:
  use_t: true
columns:
  math: math_score
s3:
  region: ap-south-1
  path_style: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Default()
	want.Input = "s3://trials/ms_blel_jpal_long.dta"
	want.Output = "json"
	want.Timeout = 90 * time.Second
	want.Regression.UseT = true
	want.Columns.Math = "math_score"
	want.S3 = S3{Region: "ap-south-1", PathStyle: true}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch:\n%s", diff)
	}
	if cfg.Columns.Hindi != panel.DefaultColumns().Hindi {
		t.Fatalf("unset column names must keep defaults")
	}
}

func TestLoadRejectsUnknownKeysAndBadFiles(t *testing.T) {
	if _, err := Load(writeConfig(t, "inptu: x.dta\n")); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for unknown key, got %v", err)
	}
	if _, err := Load(writeConfig(t, "timeout: soon\n")); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for bad duration, got %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
	cfg, err := Load(writeConfig(t, ""))
	if err != nil || cfg.Input != DefaultInput {
		t.Fatalf("empty file should yield defaults: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"RCTCORE_INPUT":           "sqlite://trial.db",
		"RCTCORE_TABLE":           "scores",
		"RCTCORE_OUTPUT":          "csv",
		"RCTCORE_LOG_LEVEL":       "debug",
		"RCTCORE_PUSHGATEWAY_URL": "http://pushgateway:9091",
		"RCTCORE_S3_ENDPOINT":     "http://minio:9000",
		"RCTCORE_S3_PATH_STYLE":   "true",
		"RCTCORE_FORMAT":          "  ",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }
	cfg := Default()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Input != "sqlite://trial.db" || cfg.Table != "scores" || cfg.Output != "csv" || cfg.LogLevel != "debug" ||
		cfg.Pushgateway != "http://pushgateway:9091" || cfg.S3.Endpoint != "http://minio:9000" || !cfg.S3.PathStyle || cfg.Format != "" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	env["RCTCORE_S3_PATH_STYLE"] = "maybe"
	if err := cfg.ApplyEnv(lookup); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestLoadReadsProcessEnv(t *testing.T) {
	t.Setenv("RCTCORE_OUTPUT", "json")
	cfg, err := Load("")
	if err != nil || cfg.Output != "json" {
		t.Fatalf("env not applied: %+v %v", cfg, err)
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Input = ""
	cfg.Format = "xlsx"
	cfg.Output = "html"
	cfg.LogLevel = "trace"
	cfg.Regression.Alpha = 1
	cfg.Timeout = -time.Second
	err := cfg.Validate()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	for _, want := range []string{"input", "xlsx", "html", "trace", "alpha", "timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error should mention %q: %v", want, err)
		}
	}
}
