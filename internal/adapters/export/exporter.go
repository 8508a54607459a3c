// Package export rasterizes the dashboard and assembles it into a PDF report.
package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"foodlab/internal/adapters/modules"
	"foodlab/internal/blob"
	"foodlab/internal/core"
)

// Defaults for the captured region and the report.
const (
	DefaultScale    = 2.0
	DefaultSelector = "#dashboard-capture-area"
	DefaultTitle    = "食品安全日报"
	ReportPrefix    = "reports/"
	dateLayout      = "2006-01-02"
)

// Notice texts.
const (
	MsgExported = "PDF导出成功"
	MsgNotReady = "PDF库加载中，请稍后再试..."
	MsgFailed   = "PDF导出失败"
)

// Region designates the rendered area to capture.
type Region struct {
	URL        string
	Selector   string
	Scale      float64
	Background color.Color
}

func (r Region) withDefaults() Region {
	if r.Selector == "" {
		r.Selector = DefaultSelector
	}
	if r.Scale <= 0 {
		r.Scale = DefaultScale
	}
	if r.Background == nil {
		r.Background = color.White
	}
	return r
}

// Rasterizer captures a region as an image.
type Rasterizer interface {
	Rasterize(ctx context.Context, region Region) (image.Image, error)
}

// Capabilities are the export collaborators resolved by a Loader.
type Capabilities struct {
	Rasterizer Rasterizer
	Assembler  Assembler
}

// Loader resolves capabilities, possibly slowly.
type Loader func(ctx context.Context) (Capabilities, error)

// Static returns a loader that resolves immediately.
func Static(c Capabilities) Loader {
	return func(context.Context) (Capabilities, error) { return c, nil }
}

// Artifact is a stored report.
type Artifact struct {
	Key       string    `json:"key"`
	Filename  string    `json:"filename"`
	Pages     int       `json:"pages"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
	Data      []byte    `json:"-"`
}

// Option customises an Exporter.
type Option func(*Exporter)

// WithLogger sets the exporter logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics records export outcomes.
func WithMetrics(m core.MetricsRecorder) Option {
	return func(e *Exporter) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithClock overrides the time source used for file names.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

// WithAudit sets the audit log.
func WithAudit(a AuditLogger) Option {
	return func(e *Exporter) {
		if a != nil {
			e.audit = a
		}
	}
}

// WithTitle sets the title used when a caller passes none.
func WithTitle(title string) Option {
	return func(e *Exporter) {
		if t := strings.TrimSpace(title); t != "" {
			e.title = t
		}
	}
}

// WithRegion sets the captured region.
func WithRegion(r Region) Option {
	return func(e *Exporter) { e.region = r }
}

type nopMetrics struct{}

func (nopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// Exporter produces PDF reports once its capabilities have loaded.
type Exporter struct {
	loader  Loader
	store   blob.Store
	audit   AuditLogger
	log     *zap.Logger
	metrics core.MetricsRecorder
	now     func() time.Time
	region  Region
	title   string

	loadOnce sync.Once
	loaded   chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	caps     *Capabilities
	loadErr  error

	busy atomic.Bool
}

// NewExporter constructs an exporter storing artifacts in store.
func NewExporter(loader Loader, store blob.Store, opts ...Option) *Exporter {
	e := &Exporter{
		loader:  loader,
		store:   store,
		audit:   NewAuditLog(nil, 0),
		log:     zap.NewNop(),
		metrics: nopMetrics{},
		now:     time.Now,
		title:   DefaultTitle,
		loaded:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.region = e.region.withDefaults()
	return e
}

// Load starts resolving capabilities in the background. Later calls are no-ops.
func (e *Exporter) Load(ctx context.Context) {
	e.loadOnce.Do(func() {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer close(e.loaded)
			caps, err := e.loader(ctx)
			if err == nil && (caps.Rasterizer == nil || caps.Assembler == nil) {
				err = errors.New("incomplete export capabilities")
			}
			e.mu.Lock()
			defer e.mu.Unlock()
			if err != nil {
				e.loadErr = err
				e.log.Error("export capabilities failed to load", zap.Error(err))
				return
			}
			e.caps = &caps
			e.log.Info("export capabilities loaded")
		}()
	})
}

// Wait blocks until loading finished or ctx is done.
func (e *Exporter) Wait(ctx context.Context) error {
	select {
	case <-e.loaded:
		e.mu.RLock()
		defer e.mu.RUnlock()
		return e.loadErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether capabilities are available.
func (e *Exporter) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.caps != nil
}

// Busy reports whether an export is in flight.
func (e *Exporter) Busy() bool { return e.busy.Load() }

// Close waits for a pending load.
func (e *Exporter) Close() error {
	e.wg.Wait()
	return nil
}

// Title returns the title used when a caller passes none.
func (e *Exporter) Title() string { return e.title }

// Audit returns the audit log.
func (e *Exporter) Audit() AuditLogger { return e.audit }

// Filename returns the report file name for title on the current UTC date.
func (e *Exporter) Filename(title string) string {
	return fmt.Sprintf("%s_%s.pdf", e.normalizeTitle(title), e.now().UTC().Format(dateLayout))
}

// Export captures the region, assembles the PDF and stores it under reports/.
// It fails with ErrExportNotReady, writing nothing, until capabilities are loaded.
func (e *Exporter) Export(ctx context.Context, title string) (art Artifact, err error) {
	e.busy.Store(true)
	defer e.busy.Store(false)
	start := time.Now()
	title = e.normalizeTitle(title)
	defer func() {
		e.metrics.Observe(ctx, "export", err == nil, time.Since(start))
		e.record(ctx, title, art, err)
	}()

	e.mu.RLock()
	caps := e.caps
	e.mu.RUnlock()
	if caps == nil {
		e.log.Warn("export requested before capabilities loaded")
		return Artifact{}, core.ErrExportNotReady
	}

	img, err := caps.Rasterizer.Rasterize(ctx, e.region)
	if err != nil {
		return Artifact{}, e.fail("rasterize", err)
	}
	data, pages, err := caps.Assembler.Assemble(img)
	if err != nil {
		return Artifact{}, e.fail("assemble", err)
	}
	filename := e.Filename(title)
	info, err := blob.PutUnique(ctx, e.store, ReportPrefix+filename, data, blob.PutOptions{
		ContentType: "application/pdf",
		Metadata:    map[string]string{"title": title, "pages": strconv.Itoa(pages)},
	})
	if err != nil {
		return Artifact{}, e.fail("store", err)
	}
	art = Artifact{
		Key:       info.Key,
		Filename:  strings.TrimPrefix(info.Key, ReportPrefix),
		Pages:     pages,
		Size:      int64(len(data)),
		CreatedAt: e.now().UTC(),
		Data:      data,
	}
	e.log.Info("report exported", zap.String("key", art.Key), zap.Int("pages", pages))
	return art, nil
}

// HandleExport runs Export and converts the outcome into a user notice.
func (e *Exporter) HandleExport(ctx context.Context, title string) (modules.Notice, Artifact) {
	art, err := e.Export(ctx, title)
	switch {
	case err == nil:
		return modules.Notice{Level: modules.LevelSuccess, Message: MsgExported}, art
	case errors.Is(err, core.ErrExportNotReady):
		return modules.Notice{Level: modules.LevelError, Message: MsgNotReady}, art
	default:
		return modules.Notice{Level: modules.LevelError, Message: MsgFailed}, art
	}
}

func (e *Exporter) fail(step string, err error) error {
	e.log.Error("export failed", zap.String("step", step), zap.Error(err))
	return fmt.Errorf("%w: %s: %w", core.ErrExportFailed, step, err)
}

func (e *Exporter) record(ctx context.Context, title string, art Artifact, err error) {
	entry := AuditEntry{
		ID:         uuid.NewString(),
		Action:     "report_export",
		Title:      title,
		Status:     StatusSucceeded,
		Key:        art.Key,
		Pages:      art.Pages,
		OccurredAt: e.now().UTC(),
	}
	switch {
	case errors.Is(err, core.ErrExportNotReady):
		entry.Status = StatusNotReady
		entry.Error = err.Error()
	case err != nil:
		entry.Status = StatusFailed
		entry.Error = err.Error()
	}
	e.audit.Record(ctx, entry)
}

func (e *Exporter) normalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = e.title
	}
	return strings.NewReplacer("/", "-", "\\", "-").Replace(title)
}
