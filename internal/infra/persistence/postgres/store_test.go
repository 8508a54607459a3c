package postgres

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"foodlab/internal/infra/persistence/postgres/testutil"
)

func openStub(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, conn
}

func TestNewStoreEnsuresSlotsTable(t *testing.T) {
	_, conn := openStub(t)
	var sawDDL bool
	for _, stmt := range conn.Statements() {
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS slots") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected slots DDL, got %v", conn.Statements())
	}
}

func TestWriteThenRead(t *testing.T) {
	ctx := context.Background()
	store, _ := openStub(t)
	if _, ok, err := store.Read(ctx, "oil_records"); err != nil || ok {
		t.Fatalf("expected absent slot, ok=%v err=%v", ok, err)
	}
	if err := store.Write(ctx, "oil_records", []byte(`[{"id":1}]`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.Write(ctx, "oil_records", []byte(`[{"id":2}]`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, ok, err := store.Read(ctx, "oil_records")
	if err != nil || !ok {
		t.Fatalf("read: ok=%v err=%v", ok, err)
	}
	if string(got) != `[{"id":2}]` {
		t.Fatalf("unexpected payload %s", got)
	}
}

func TestNewStorePingFailure(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore("postgres://example"); err == nil {
		t.Fatalf("expected ping failure")
	}
}

func TestWriteFailureSurfaces(t *testing.T) {
	store, conn := openStub(t)
	conn.FailExec = true
	if err := store.Write(context.Background(), "pesticide_records", []byte(`[]`)); err == nil {
		t.Fatalf("expected exec failure")
	}
}

func TestReadFailureSurfaces(t *testing.T) {
	store, conn := openStub(t)
	conn.FailQuery = true
	if _, _, err := store.Read(context.Background(), "pesticide_records"); err == nil {
		t.Fatalf("expected query failure")
	}
}
