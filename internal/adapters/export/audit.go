package export

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the outcome recorded for an export attempt.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusNotReady  Status = "not_ready"
)

// AuditEntry captures one export attempt.
type AuditEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	Title      string    `json:"title"`
	Status     Status    `json:"status"`
	Key        string    `json:"key,omitempty"`
	Pages      int       `json:"pages,omitempty"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// AuditLogger records export audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// DefaultAuditLimit bounds the entries kept in memory.
const DefaultAuditLimit = 200

// AuditLog keeps the most recent entries in memory and mirrors them to a logger.
type AuditLog struct {
	mu      sync.Mutex
	log     *zap.Logger
	limit   int
	entries []AuditEntry
}

// NewAuditLog constructs an audit log. A non-positive limit uses DefaultAuditLimit.
func NewAuditLog(l *zap.Logger, limit int) *AuditLog {
	if l == nil {
		l = zap.NewNop()
	}
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	return &AuditLog{log: l.Named("audit"), limit: limit}
}

// Record stores entry, dropping the oldest when full.
func (a *AuditLog) Record(_ context.Context, entry AuditEntry) {
	a.mu.Lock()
	a.entries = append(a.entries, entry)
	if over := len(a.entries) - a.limit; over > 0 {
		a.entries = append([]AuditEntry(nil), a.entries[over:]...)
	}
	a.mu.Unlock()
	a.log.Info(entry.Action,
		zap.String("id", entry.ID),
		zap.String("title", entry.Title),
		zap.String("status", string(entry.Status)),
		zap.String("key", entry.Key),
		zap.String("error", entry.Error))
}

// Entries returns a copy of the recorded entries, oldest first.
func (a *AuditLog) Entries() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AuditEntry, len(a.entries))
	copy(out, a.entries)
	return out
}
