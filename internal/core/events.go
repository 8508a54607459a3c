package core

import (
	"sync"
	"time"
)

// Action names what changed a category's records.
type Action string

const (
	ActionSave    Action = "save"
	ActionDelete  Action = "delete"
	ActionImport  Action = "import"
	ActionRestore Action = "restore"
)

// ChangeEvent announces that the records of a category changed.
type ChangeEvent struct {
	Category Category  `json:"category"`
	Action   Action    `json:"action"`
	RecordID string    `json:"recordId,omitempty"`
	Count    int       `json:"count,omitempty"`
	At       time.Time `json:"at"`
}

type subscriber struct {
	id int
	fn func(ChangeEvent)
}

// Bus delivers change events synchronously to subscribers in subscription order.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs []subscriber
}

// NewBus constructs an empty bus.
func NewBus() *Bus { return &Bus{} }

// Subscribe registers fn and returns a function that removes it again.
func (b *Bus) Subscribe(fn func(ChangeEvent)) func() {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers ev to every current subscriber before returning.
// A zero At is stamped with the current time.
func (b *Bus) Publish(ev ChangeEvent) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()
	for _, s := range subs {
		s.fn(ev)
	}
}
