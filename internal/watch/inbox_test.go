package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"foodlab/internal/adapters/modules"
	"foodlab/internal/core"
	"foodlab/internal/infra/persistence/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newPathogenImporter(t *testing.T) (*modules.ImportModule, *core.RecordStore) {
	t.Helper()
	reg := core.NewRegistry(memory.NewStore())
	m, err := modules.NewImport(reg, core.NewBus(), modules.Config{Category: core.CategoryPathogen})
	if err != nil {
		t.Fatalf("module: %v", err)
	}
	return m, m.Store()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestInboxImportsDroppedFiles(t *testing.T) {
	dir := t.TempDir()
	importer, store := newPathogenImporter(t)
	inbox, err := New(dir, importer, WithDebounce(30*time.Millisecond))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	// Present before start: picked up by the initial scan.
	if err := os.WriteFile(filepath.Join(dir, "early.json"), []byte(`{"sampleId":"E1"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := inbox.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer inbox.Stop()

	if err := os.WriteFile(filepath.Join(dir, "batch.json"), []byte(`[{"sampleId":"S1"},{"sampleId":"S2"}]`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`[{"sampleId":`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte(`ignored`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, func() bool {
		s := inbox.Stats()
		return s.Imported == 2 && s.Rejected == 1
	})
	if n := len(store.All(ctx)); n != 3 {
		t.Fatalf("expected 3 records, got %d", n)
	}
	for _, path := range []string{
		filepath.Join(dir, ProcessedDir, "early.json"),
		filepath.Join(dir, ProcessedDir, "batch.json"),
		filepath.Join(dir, RejectedDir, "broken.json"),
		filepath.Join(dir, "notes.txt"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s: %v", path, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "batch.json")); !os.IsNotExist(err) {
		t.Fatalf("imported file should have moved")
	}
}

func TestInboxRunStopsWithContext(t *testing.T) {
	importer, _ := newPathogenImporter(t)
	inbox, err := New(t.TempDir(), importer)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- inbox.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return")
	}
	inbox.Stop()
}

func TestNewValidates(t *testing.T) {
	importer, _ := newPathogenImporter(t)
	if _, err := New("", importer); err == nil {
		t.Fatalf("expected dir error")
	}
	if _, err := New(t.TempDir(), nil); err == nil {
		t.Fatalf("expected importer error")
	}
}

func TestMoveIntoAvoidsOverwrite(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, ProcessedDir)
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for i := 0; i < 2; i++ {
		src := filepath.Join(dir, "a.json")
		if err := os.WriteFile(src, []byte("{}"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := moveInto(src, target); err != nil {
			t.Fatalf("move: %v", err)
		}
	}
	entries, _ := os.ReadDir(target)
	if len(entries) != 2 {
		t.Fatalf("expected two files, got %d", len(entries))
	}
}
