package memory

import (
	"context"
	"errors"
	"io"
	"testing"

	"rctcore/internal/infra/source/core"
)

func TestMemoryStore(t *testing.T) {
	s := New()
	if s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
	data := []byte("abc")
	s.Put("trial.csv", data, "text/csv")
	data[0] = 'z'
	ctx := context.Background()
	info, rc, err := s.Get(ctx, "trial.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got, _ := io.ReadAll(rc)
	if string(got) != "abc" || info.Size != 3 || info.ContentType != "text/csv" {
		t.Fatalf("unexpected object %q %+v", got, info)
	}
	s.Put("trial.csv", []byte("abcd"), "")
	if head, err := s.Head(ctx, "trial.csv"); err != nil || head.Size != 4 {
		t.Fatalf("replace failed: %+v %v", head, err)
	}
	if _, err := s.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := s.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
