package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"foodlab/internal/infra/persistence/memory"
)

// spySlots wraps the memory store and counts writes; failWrites forces errors.
type spySlots struct {
	*memory.Store
	mu         sync.Mutex
	writes     int
	failWrites bool
	failReads  bool
}

func newSpySlots() *spySlots { return &spySlots{Store: memory.NewStore()} }

func (s *spySlots) Write(ctx context.Context, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errors.New("disk full")
	}
	s.writes++
	return s.Store.Write(ctx, key, payload)
}

func (s *spySlots) Read(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	fail := s.failReads
	s.mu.Unlock()
	if fail {
		return nil, false, errors.New("io error")
	}
	return s.Store.Read(ctx, key)
}

func (s *spySlots) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestStore(t *testing.T, c Category, slots SlotStore) *RecordStore {
	t.Helper()
	desc, err := Describe(c)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	return NewRecordStore(desc, slots, WithClock(fixedClock(time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC))))
}

func TestSaveAssignsIDAndTimestamp(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, CategoryPesticide, newSpySlots())
	rec, err := store.Save(ctx, map[string]any{"id": "forged", "timestamp": "yesterday", "result": "合格"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if rec.ID() != time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC).UnixMilli() {
		t.Fatalf("unexpected id %v", rec[FieldID])
	}
	if rec.Timestamp() != "2024-05-06T08:00:00.000Z" {
		t.Fatalf("unexpected timestamp %q", rec.Timestamp())
	}
	if rec.Text("result") != "合格" {
		t.Fatalf("content not preserved: %v", rec)
	}
}

func TestSaveOrderIsNewestFirstWithDistinctIDs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, CategoryOil, newSpySlots())
	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		rec, err := store.Save(ctx, map[string]any{"batchNo": name})
		if err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
		ids = append(ids, rec.IDString())
	}
	all := store.All(ctx)
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	want := []string{"c", "b", "a"}
	for i, r := range all {
		if r.Text("batchNo") != want[i] {
			t.Fatalf("position %d: want %s got %s", i, want[i], r.Text("batchNo"))
		}
	}
	if ids[0] == ids[1] || ids[1] == ids[2] {
		t.Fatalf("ids collided under a fixed clock: %v", ids)
	}
	if all[0].ID() <= all[1].ID() || all[1].ID() <= all[2].ID() {
		t.Fatalf("ids not increasing with recency: %v", ids)
	}
}

func TestSaveDoesNotAliasCallerMap(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, CategoryOil, newSpySlots())
	fields := map[string]any{"canteen": "一食堂"}
	if _, err := store.Save(ctx, fields); err != nil {
		t.Fatalf("save: %v", err)
	}
	fields["canteen"] = "changed"
	if got := store.All(ctx)[0].Text("canteen"); got != "一食堂" {
		t.Fatalf("stored record changed with caller map: %s", got)
	}
}

func TestDeleteMatchesNumericAndStringIDs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, CategoryLeanMeat, newSpySlots())
	first, _ := store.Save(ctx, map[string]any{"meatType": "pork"})
	second, _ := store.Save(ctx, map[string]any{"meatType": "beef"})

	if n, err := store.Delete(ctx, first.ID()); err != nil || n != 1 {
		t.Fatalf("delete numeric: %d %v", n, err)
	}
	// Text ids in float notation match the stored integer id.
	if n, err := store.Delete(ctx, second.IDString()+".0"); err != nil || n != 1 {
		t.Fatalf("delete string: %d %v", n, err)
	}
	if n := len(store.All(ctx)); n != 0 {
		t.Fatalf("expected empty store, got %d", n)
	}
}

func TestDeleteUnknownIDIsNoOpWithoutWrite(t *testing.T) {
	ctx := context.Background()
	slots := newSpySlots()
	store := newTestStore(t, CategoryPesticide, slots)
	if _, err := store.Save(ctx, map[string]any{"result": "合格"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	before := slots.writeCount()
	if n, err := store.Delete(ctx, 42); err != nil || n != 0 {
		t.Fatalf("delete: %d %v", n, err)
	}
	if slots.writeCount() != before {
		t.Fatalf("delete of unknown id wrote the slot")
	}
	if n := len(store.All(ctx)); n != 1 {
		t.Fatalf("expected record kept, got %d", n)
	}
}

func TestCorruptSlotReadsEmptyAndIsRecoverable(t *testing.T) {
	ctx := context.Background()
	for name, payload := range map[string]string{
		"garbage":    `{not json`,
		"object":     `{"id":1}`,
		"scalars":    `[1,2,3]`,
		"null array": `null`,
	} {
		t.Run(name, func(t *testing.T) {
			slots := newSpySlots()
			if err := slots.Store.Write(ctx, SlotKey(CategoryOil), []byte(payload)); err != nil {
				t.Fatalf("seed: %v", err)
			}
			store := newTestStore(t, CategoryOil, slots)
			if n := len(store.All(ctx)); n != 0 {
				t.Fatalf("expected empty read, got %d", n)
			}
			if _, err := store.Save(ctx, map[string]any{"tpmValue": 12}); err != nil {
				t.Fatalf("save over corrupt slot: %v", err)
			}
			if n := len(store.All(ctx)); n != 1 {
				t.Fatalf("expected 1 record after recovery, got %d", n)
			}
		})
	}
}

func TestSaveWriteFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	slots := newSpySlots()
	store := newTestStore(t, CategoryPesticide, slots)
	if _, err := store.Save(ctx, map[string]any{"result": "合格"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	slots.failWrites = true
	if _, err := store.Save(ctx, map[string]any{"result": "不合格"}); err == nil {
		t.Fatalf("expected write failure")
	}
	if n := len(store.All(ctx)); n != 1 {
		t.Fatalf("failed save changed state: %d records", n)
	}
}

func TestSaveRefusesToOverwriteUnreadableSlot(t *testing.T) {
	ctx := context.Background()
	slots := newSpySlots()
	store := newTestStore(t, CategoryPesticide, slots)
	slots.failReads = true
	if _, err := store.Save(ctx, map[string]any{"result": "合格"}); err == nil {
		t.Fatalf("expected read failure to abort save")
	}
	if slots.writeCount() != 0 {
		t.Fatalf("save wrote despite read failure")
	}
	if got := store.All(ctx); len(got) != 0 {
		t.Fatalf("All should degrade to empty, got %d", len(got))
	}
}

func TestReplaceKeepsOrderAndIDs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, CategoryOil, newSpySlots())
	err := store.Replace(ctx, []Record{
		{"id": 3, "tpmValue": "20"},
		{"id": "1", "tpmValue": "18"},
	})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	all := store.All(ctx)
	if len(all) != 2 || all[0].IDString() != "3" || all[1].IDString() != "1" {
		t.Fatalf("unexpected records %v", all)
	}
	next, err := store.Save(ctx, map[string]any{})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if next.ID() <= 3 {
		t.Fatalf("id must exceed restored ids, got %d", next.ID())
	}
}

func TestRegistryReturnsSameStore(t *testing.T) {
	reg := NewRegistry(memory.NewStore())
	a, err := reg.Store(CategoryOil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	b, _ := reg.Store(CategoryOil)
	if a != b {
		t.Fatalf("registry created a second store for the same category")
	}
	if _, err := reg.Store("bogus"); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
}
