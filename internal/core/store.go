package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Option configures stores and the registry.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	metrics MetricsRecorder
	now     func() time.Time
}

func defaultOptions() options {
	return options{logger: zap.NewNop(), metrics: noopMetrics{}, now: time.Now}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithLogger sets the logger used for persistence diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the recorder that observes save, delete and replace outcomes.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock overrides the time source used for ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// RecordStore is the durable, newest-first record list of one category.
// Every mutation is a read-modify-write of the whole slot under a mutex.
type RecordStore struct {
	desc    Descriptor
	key     string
	slots   SlotStore
	logger  *zap.Logger
	metrics MetricsRecorder
	now     func() time.Time

	mu sync.Mutex
}

// NewRecordStore binds a category descriptor to its slot.
func NewRecordStore(desc Descriptor, slots SlotStore, opts ...Option) *RecordStore {
	o := applyOptions(opts)
	return &RecordStore{
		desc:    desc,
		key:     desc.SlotKey(),
		slots:   slots,
		logger:  o.logger.With(zap.String("category", string(desc.Category))),
		metrics: o.metrics,
		now:     o.now,
	}
}

// Descriptor returns the category descriptor the store was built for.
func (s *RecordStore) Descriptor() Descriptor { return s.desc }

// Key returns the slot key.
func (s *RecordStore) Key() string { return s.key }

// All returns every stored record, newest first. It never fails: unreadable or
// corrupt slots are logged and read as empty.
func (s *RecordStore) All(ctx context.Context) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.load(ctx)
	if err != nil {
		s.logger.Warn("read slot", zap.String("key", s.key), zap.Error(err))
		return []Record{}
	}
	return records
}

// Save stamps fields with a fresh id and timestamp, prepends the record and
// persists the whole sequence. Caller supplied id and timestamp are overwritten.
func (s *RecordStore) Save(ctx context.Context, fields map[string]any) (rec Record, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe(ctx, "save", err == nil, time.Since(start)) }()

	rec, err = normalizeRecord(fields)
	if err != nil {
		return nil, fmt.Errorf("save %s: %w", s.desc.Category, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.loadForWrite(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	id := now.UnixMilli()
	for _, existing := range records {
		if n := existing.ID(); n >= id {
			id = n + 1
		}
	}
	rec[FieldID] = id
	rec[FieldTimestamp] = now.Format(TimestampLayout)

	next := make([]Record, 0, len(records)+1)
	next = append(next, rec)
	next = append(next, records...)
	if err := s.persist(ctx, next); err != nil {
		return nil, err
	}
	s.logger.Debug("record saved", zap.Int64("id", id))
	return rec.Clone(), nil
}

// Delete removes every record whose id equals id in numeric or textual form and
// reports how many were removed. Deleting an unknown id performs no write.
func (s *RecordStore) Delete(ctx context.Context, id any) (removed int, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe(ctx, "delete", err == nil, time.Since(start)) }()

	target := FormatID(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.loadForWrite(ctx)
	if err != nil {
		return 0, err
	}
	kept := make([]Record, 0, len(records))
	for _, r := range records {
		if target != "" && r.IDString() == target {
			continue
		}
		kept = append(kept, r)
	}
	removed = len(records) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := s.persist(ctx, kept); err != nil {
		return 0, err
	}
	s.logger.Debug("record deleted", zap.String("id", target), zap.Int("removed", removed))
	return removed, nil
}

// Replace overwrites the slot with records, keeping their order and ids.
// It exists for restore and is not part of the normal append/delete flow.
func (s *RecordStore) Replace(ctx context.Context, records []Record) (err error) {
	start := time.Now()
	defer func() { s.metrics.Observe(ctx, "replace", err == nil, time.Since(start)) }()

	normalized := make([]Record, 0, len(records))
	for i, r := range records {
		n, err := normalizeRecord(r)
		if err != nil {
			return fmt.Errorf("replace %s: record %d: %w", s.desc.Category, i, err)
		}
		normalized = append(normalized, n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist(ctx, normalized)
}

func (s *RecordStore) loadForWrite(ctx context.Context) ([]Record, error) {
	records, err := s.load(ctx)
	if err == nil {
		return records, nil
	}
	if errors.Is(err, ErrStorageCorruption) {
		s.logger.Warn("slot corrupt, starting from empty", zap.String("key", s.key), zap.Error(err))
		return []Record{}, nil
	}
	s.logger.Error("read slot", zap.String("key", s.key), zap.Error(err))
	return nil, fmt.Errorf("read %s: %w", s.key, err)
}

func (s *RecordStore) load(ctx context.Context) ([]Record, error) {
	payload, ok, err := s.slots.Read(ctx, s.key)
	if err != nil {
		return nil, err
	}
	if !ok || len(bytes.TrimSpace(payload)) == 0 {
		return []Record{}, nil
	}
	records, err := DecodeRecords(payload)
	if err != nil {
		return nil, &CorruptionError{Key: s.key, Err: err}
	}
	return records, nil
}

func (s *RecordStore) persist(ctx context.Context, records []Record) error {
	payload, err := json.Marshal(records)
	if err != nil {
		s.logger.Error("encode slot", zap.String("key", s.key), zap.Error(err))
		return fmt.Errorf("encode %s: %w", s.key, err)
	}
	if err := s.slots.Write(ctx, s.key, payload); err != nil {
		s.logger.Error("write slot", zap.String("key", s.key), zap.Error(err))
		return fmt.Errorf("write %s: %w", s.key, err)
	}
	return nil
}

// DecodeRecords parses a JSON array of objects. Numbers are kept as json.Number
// so ids survive without float rounding.
func DecodeRecords(payload []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("payload is not an array")
	}
	records := make([]Record, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("element %d is not an object", i)
		}
		records = append(records, Record(m))
	}
	return records, nil
}

// normalizeRecord deep-copies fields through a JSON round trip so stored records
// never alias caller-owned maps.
func normalizeRecord(fields map[string]any) (Record, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	rec := Record{}
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	if rec == nil {
		rec = Record{}
	}
	return rec, nil
}
