package core

import (
	"sync"

	"go.uber.org/zap"
)

// Registry hands out one RecordStore per category, created on first use and kept
// for the lifetime of the process.
type Registry struct {
	slots SlotStore
	opts  []Option
	log   *zap.Logger

	mu     sync.Mutex
	stores map[Category]*RecordStore
}

// NewRegistry constructs a registry over a slot store. Options are passed to every
// RecordStore it creates.
func NewRegistry(slots SlotStore, opts ...Option) *Registry {
	return &Registry{
		slots:  slots,
		opts:   opts,
		log:    applyOptions(opts).logger,
		stores: make(map[Category]*RecordStore),
	}
}

// Store returns the record store of a category.
func (r *Registry) Store(c Category) (*RecordStore, error) {
	desc, err := Describe(c)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[c]; ok {
		return s, nil
	}
	s := NewRecordStore(desc, r.slots, r.opts...)
	r.stores[c] = s
	r.log.Debug("record store created", zap.String("category", string(c)), zap.String("key", s.Key()))
	return s, nil
}

// Slots exposes the underlying slot store.
func (r *Registry) Slots() SlotStore { return r.slots }

// Close releases the slot store.
func (r *Registry) Close() error {
	if r.slots == nil {
		return nil
	}
	return r.slots.Close()
}
