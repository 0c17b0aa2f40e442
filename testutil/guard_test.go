package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInfraImportForbiddenPredicate(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"rctcore/internal/infra/source/s3", true},
		{"rctcore/internal/ingest", true},
		{"rctcore/internal/source", true},
		{"rctcore/internal/panel", false},
		{"rctcore/internal/regress", false},
	}
	for _, c := range cases {
		if got := InfraImportForbidden(c.in); got != c.want {
			t.Fatalf("InfraImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestDriverImportForbiddenPredicate(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"github.com/aws/aws-sdk-go-v2/service/s3", true},
		{"github.com/jackc/pgx/v5/stdlib", true},
		{"modernc.org/sqlite", true},
		{"gonum.org/v1/gonum/mat", false},
		{"github.com/montanaflynn/stats", false},
	}
	for _, c := range cases {
		if got := DriverImportForbidden(c.in); got != c.want {
			t.Fatalf("DriverImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestAssertNoDirectImportsIgnoresTestFiles(t *testing.T) {
	dir := t.TempDir()
	src := []byte("package tmp\nimport \"fmt\"\nfunc X(){fmt.Println(1)}")
	if err := os.WriteFile(filepath.Join(dir, "x.go"), src, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	testSrc := []byte("package tmp\nimport _ \"modernc.org/sqlite\"\n")
	if err := os.WriteFile(filepath.Join(dir, "x_test.go"), testSrc, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	AssertNoDirectImports(t, dir, DriverImportForbidden, "drivers")
}

func TestDirectImportViolationsReported(t *testing.T) {
	dir := t.TempDir()
	src := []byte("package tmp\nimport _ \"github.com/jackc/pgx/v5/stdlib\"\n")
	if err := os.WriteFile(filepath.Join(dir, "db.go"), src, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	viols, err := directImportViolations(dir, DriverImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || !strings.Contains(viols[0], "db.go") {
		t.Fatalf("unexpected violations %v", viols)
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), DriverImportForbidden); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

type captureFatal struct{ msg string }

func (c *captureFatal) Fatalf(format string, args ...any) { c.msg = fmt.Sprintf(format, args...) }

func TestFailIfFormatsViolations(t *testing.T) {
	var c captureFatal
	failIf(&c, "forbidden", "reason", nil)
	if c.msg != "" {
		t.Fatalf("no violations must not fail")
	}
	failIf(&c, "forbidden", "reason", []string{"a", "b"})
	if !strings.Contains(c.msg, "reason") || !strings.Contains(c.msg, "a\nb") {
		t.Fatalf("unexpected message %q", c.msg)
	}
}

func TestTransitiveDependencyViolations(t *testing.T) {
	orig := goListDeps
	defer func() { goListDeps = orig }()
	goListDeps = func(string) ([]byte, error) {
		return []byte("fmt\nrctcore/internal/panel\ngithub.com/aws/aws-sdk-go-v2/aws\n\n"), nil
	}
	viols, _, err := transitiveDependencyViolations("./...", DriverImportForbidden)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(viols) != 1 || viols[0] != "github.com/aws/aws-sdk-go-v2/aws" {
		t.Fatalf("unexpected violations %v", viols)
	}
	goListDeps = func(string) ([]byte, error) { return []byte("boom"), errors.New("exit 1") }
	if _, out, err := transitiveDependencyViolations("./...", DriverImportForbidden); err == nil || string(out) != "boom" {
		t.Fatalf("expected go list failure to surface")
	}
}
