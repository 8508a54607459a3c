package blob

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	fsStore, err := Open(ctx, Options{FSRoot: filepath.Join(t.TempDir(), "artifacts")})
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	if fsStore.Driver() != DriverFilesystem {
		t.Fatalf("default driver %s", fsStore.Driver())
	}
	mem, err := Open(ctx, Options{Driver: "MEMORY"})
	if err != nil || mem.Driver() != DriverMemory {
		t.Fatalf("open memory: %v", err)
	}
	if _, err := Open(ctx, Options{Driver: "gcs"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(ctx, Options{Driver: DriverS3}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

func TestPutUniqueSuffixesTakenKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	first, err := PutUnique(ctx, store, "reports/日报_2024-05-06.pdf", []byte("one"), PutOptions{})
	if err != nil {
		t.Fatalf("first put: %v", err)
	}
	second, err := PutUnique(ctx, store, "reports/日报_2024-05-06.pdf", []byte("two"), PutOptions{})
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if first.Key == second.Key {
		t.Fatalf("expected distinct keys")
	}
	if !strings.HasPrefix(second.Key, "reports/日报_2024-05-06_") || !strings.HasSuffix(second.Key, ".pdf") {
		t.Fatalf("unexpected suffixed key %s", second.Key)
	}
	_, data, err := ReadAll(ctx, store, second.Key)
	if err != nil || string(data) != "two" {
		t.Fatalf("read back %q err=%v", data, err)
	}
}
