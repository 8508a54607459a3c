package core

import (
	"context"
	"time"
)

// SlotStore is the persistence substrate: one opaque byte payload per key.
// Implementations live under internal/infra/persistence.
type SlotStore interface {
	// Read returns the payload stored under key. ok is false when the slot is absent.
	Read(ctx context.Context, key string) (payload []byte, ok bool, err error)
	// Write replaces the payload stored under key.
	Write(ctx context.Context, key string, payload []byte) error
	Close() error
}

// MetricsRecorder receives operation outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}
