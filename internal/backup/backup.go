// Package backup snapshots every category into one JSON document and restores it.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"foodlab/internal/adapters/modules"
	"foodlab/internal/blob"
	"foodlab/internal/core"
)

// Version is written into every backup document.
const Version = "2.0"

// Prefix is the blob key prefix of stored backups.
const Prefix = "backups/"

const (
	MsgBackedUp      = "备份成功！共导出 %d 条记录。"
	MsgRestored      = "恢复成功！已恢复 %d 个表。"
	MsgInvalidFormat = "无效的数据格式"
	MsgFailed        = "操作失败"
)

// Document is the standard backup format.
type Document struct {
	Version   string                          `json:"version"`
	Timestamp string                          `json:"timestamp"`
	Tables    map[core.Category][]core.Record `json:"tables"`
}

// Result describes a stored backup.
type Result struct {
	Key      string `json:"key"`
	Filename string `json:"filename"`
	Records  int    `json:"records"`
	Data     []byte `json:"-"`
}

// RestoreReport lists what a restore replaced.
type RestoreReport struct {
	Standard bool            `json:"standard"`
	Tables   []core.Category `json:"tables"`
	Records  int             `json:"records"`
	Skipped  []string        `json:"skipped,omitempty"`
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records backup and restore outcomes.
func WithMetrics(m core.MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

type nopMetrics struct{}

func (nopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// Service backs up and restores the registry's categories.
type Service struct {
	reg     *core.Registry
	bus     *core.Bus
	store   blob.Store
	log     *zap.Logger
	metrics core.MetricsRecorder
	now     func() time.Time
}

// New constructs a backup service. store may be nil when only Snapshot and
// Restore are used.
func New(reg *core.Registry, bus *core.Bus, store blob.Store, opts ...Option) *Service {
	s := &Service{reg: reg, bus: bus, store: store, log: zap.NewNop(), metrics: nopMetrics{}, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot collects every category into a document and returns the record count.
func (s *Service) Snapshot(ctx context.Context) (Document, int, error) {
	doc := Document{
		Version:   Version,
		Timestamp: s.now().UTC().Format(core.TimestampLayout),
		Tables:    make(map[core.Category][]core.Record),
	}
	count := 0
	for _, c := range core.Categories() {
		st, err := s.reg.Store(c)
		if err != nil {
			return Document{}, 0, err
		}
		records := st.All(ctx)
		if records == nil {
			records = []core.Record{}
		}
		doc.Tables[c] = records
		count += len(records)
	}
	return doc, count, nil
}

// Backup stores a snapshot under backups/lab_backup_<date>.json.
func (s *Service) Backup(ctx context.Context) (res Result, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe(ctx, "backup", err == nil, time.Since(start)) }()
	if s.store == nil {
		return Result{}, errors.New("backup store not configured")
	}
	doc, count, err := s.Snapshot(ctx)
	if err != nil {
		return Result{}, err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("encode backup: %w", err)
	}
	filename := fmt.Sprintf("lab_backup_%s.json", s.now().UTC().Format("2006-01-02"))
	info, err := blob.PutUnique(ctx, s.store, Prefix+filename, data, blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"version": Version, "records": strconv.Itoa(count)},
	})
	if err != nil {
		s.log.Error("store backup", zap.Error(err))
		return Result{}, fmt.Errorf("store backup: %w", err)
	}
	s.log.Info("backup stored", zap.String("key", info.Key), zap.Int("records", count))
	return Result{Key: info.Key, Filename: strings.TrimPrefix(info.Key, Prefix), Records: count, Data: data}, nil
}

// List returns stored backups, newest key first.
func (s *Service) List(ctx context.Context) ([]blob.Info, error) {
	if s.store == nil {
		return nil, nil
	}
	infos, err := s.store.List(ctx, Prefix)
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key > infos[j].Key })
	return infos, nil
}

// RestoreKey restores a backup previously stored under key.
func (s *Service) RestoreKey(ctx context.Context, key string) (RestoreReport, error) {
	if s.store == nil {
		return RestoreReport{}, errors.New("backup store not configured")
	}
	_, data, err := blob.ReadAll(ctx, s.store, key)
	if err != nil {
		return RestoreReport{}, err
	}
	return s.Restore(ctx, data)
}

// Restore replaces the categories named in payload. Both the standard document
// and the simple {category: records} form are accepted; table values may be
// arrays, {"data": [...]} wrappers, or JSON strings of either. Unknown names are ignored.
func (s *Service) Restore(ctx context.Context, payload []byte) (report RestoreReport, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe(ctx, "restore", err == nil, time.Since(start)) }()

	tables, standard, err := parseDocument(payload)
	if err != nil {
		return RestoreReport{}, err
	}
	report.Standard = standard
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c, err := core.ParseCategory(name)
		if err != nil {
			continue
		}
		records, err := decodeTable(tables[name])
		if err != nil {
			s.log.Warn("skip table", zap.String("table", name), zap.Error(err))
			report.Skipped = append(report.Skipped, name)
			continue
		}
		st, err := s.reg.Store(c)
		if err != nil {
			return report, err
		}
		if err := st.Replace(ctx, records); err != nil {
			return report, fmt.Errorf("restore %s: %w", c, err)
		}
		report.Tables = append(report.Tables, c)
		report.Records += len(records)
		s.bus.Publish(core.ChangeEvent{Category: c, Action: core.ActionRestore, Count: len(records)})
	}
	s.log.Info("restore finished", zap.Int("tables", len(report.Tables)), zap.Int("records", report.Records))
	return report, nil
}

// HandleBackup runs Backup and converts the outcome into a notice.
func (s *Service) HandleBackup(ctx context.Context) (modules.Notice, Result) {
	res, err := s.Backup(ctx)
	if err != nil {
		return modules.Notice{Level: modules.LevelError, Message: MsgFailed}, res
	}
	return modules.Notice{Level: modules.LevelSuccess, Message: fmt.Sprintf(MsgBackedUp, res.Records)}, res
}

// HandleRestore runs Restore and converts the outcome into a notice.
func (s *Service) HandleRestore(ctx context.Context, payload []byte) (modules.Notice, RestoreReport) {
	report, err := s.Restore(ctx, payload)
	switch {
	case errors.Is(err, core.ErrImportParse):
		return modules.Notice{Level: modules.LevelError, Message: MsgInvalidFormat}, report
	case err != nil:
		return modules.Notice{Level: modules.LevelError, Message: MsgFailed}, report
	}
	return modules.Notice{Level: modules.LevelSuccess, Message: fmt.Sprintf(MsgRestored, len(report.Tables))}, report
}

func parseDocument(payload []byte) (map[string]json.RawMessage, bool, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(payload, &top); err != nil || len(top) == 0 {
		reason := "empty document"
		if err != nil {
			reason = err.Error()
		}
		return nil, false, &core.ImportError{Filename: "backup", Index: -1, Reason: reason}
	}
	rawTables, hasTables := top["tables"]
	_, hasVersion := top["version"]
	if !hasTables || !hasVersion {
		return top, false, nil
	}
	var tables map[string]json.RawMessage
	if err := json.Unmarshal(rawTables, &tables); err != nil {
		return nil, true, &core.ImportError{Filename: "backup", Index: -1, Reason: "tables: " + err.Error()}
	}
	return tables, true, nil
}

func decodeTable(raw json.RawMessage) ([]core.Record, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, err
		}
		raw = bytes.TrimSpace([]byte(inner))
	}
	if len(raw) > 0 && raw[0] == '{' {
		var wrapped struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, err
		}
		if len(wrapped.Data) == 0 {
			return []core.Record{}, nil
		}
		raw = wrapped.Data
	}
	return core.DecodeRecords(raw)
}
