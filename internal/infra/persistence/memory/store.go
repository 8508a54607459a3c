// Package memory provides an in-memory slot store used for tests and ephemeral
// environments.
package memory

import (
	"context"
	"sync"
)

// Store keeps slot payloads in a map. Payloads are copied on the way in and out.
type Store struct {
	mu    sync.RWMutex
	slots map[string][]byte
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{slots: make(map[string][]byte)}
}

// Read returns a copy of the payload stored under key.
func (s *Store) Read(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.slots[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), payload...), true, nil
}

// Write replaces the payload stored under key.
func (s *Store) Write(ctx context.Context, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[key] = append([]byte(nil), payload...)
	return nil
}

// Keys lists the slots currently held.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.slots))
	for k := range s.slots {
		keys = append(keys, k)
	}
	return keys
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
