package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"foodlab/internal/blob/core"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.Put(ctx, "reports/b.pdf", strings.NewReader("bb"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Put(ctx, "reports/a.pdf", strings.NewReader("a"), core.PutOptions{ContentType: "application/pdf"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Put(ctx, "reports/a.pdf", strings.NewReader("a"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	list, _ := s.List(ctx, "reports/")
	if len(list) != 2 || list[0].Key != "reports/a.pdf" {
		t.Fatalf("expected sorted listing, got %+v", list)
	}
	_, rc, err := s.Get(ctx, "reports/b.pdf")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if string(b) != "bb" {
		t.Fatalf("body %q", b)
	}
	if ok, _ := s.Delete(ctx, "reports/b.pdf"); !ok {
		t.Fatalf("delete reported missing")
	}
	if _, err := s.Head(ctx, "reports/b.pdf"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
