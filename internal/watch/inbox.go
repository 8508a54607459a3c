// Package watch imports pathogen result files dropped into an inbox directory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"foodlab/internal/adapters/modules"
)

// Subdirectories receiving handled files.
const (
	ProcessedDir = "processed"
	RejectedDir  = "rejected"
)

// DefaultDebounce is how long a file must stay quiet before it is imported.
const DefaultDebounce = 500 * time.Millisecond

// Importer imports one file from disk.
type Importer interface {
	ImportFile(ctx context.Context, path string) (modules.ImportReport, error)
}

// Stats counts inbox activity.
type Stats struct {
	Imported int
	Rejected int
	Errors   int
	LastFile string
}

// Option customises an Inbox.
type Option func(*Inbox)

// WithLogger sets the inbox logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Inbox) {
		if l != nil {
			in.log = l
		}
	}
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(in *Inbox) {
		if d > 0 {
			in.debounce = d
		}
	}
}

// Inbox watches a directory for .json files and hands them to an Importer.
// Imported files move to processed/, failed ones to rejected/.
type Inbox struct {
	dir      string
	importer Importer
	log      *zap.Logger
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]time.Time
	stats   Stats
	running bool
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New constructs an inbox over dir.
func New(dir string, importer Importer, opts ...Option) (*Inbox, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("inbox directory required")
	}
	if importer == nil {
		return nil, errors.New("importer required")
	}
	in := &Inbox{
		dir:      dir,
		importer: importer,
		log:      zap.NewNop(),
		debounce: DefaultDebounce,
		pending:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in, nil
}

// Dir returns the watched directory.
func (in *Inbox) Dir() string { return in.dir }

// Start creates the directories, queues files already present and begins
// watching. It does not block.
func (in *Inbox) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.running {
		return nil
	}
	for _, d := range []string{in.dir, filepath.Join(in.dir, ProcessedDir), filepath.Join(in.dir, RejectedDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	if err := w.Add(in.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", in.dir, err)
	}
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("scan %s: %w", in.dir, err)
	}
	now := time.Now()
	for _, e := range entries {
		if !e.IsDir() && isJSON(e.Name()) {
			in.pending[filepath.Join(in.dir, e.Name())] = now
		}
	}
	in.watcher = w
	in.stopCh = make(chan struct{})
	in.doneCh = make(chan struct{})
	in.running = true
	go in.run(ctx, w, in.stopCh, in.doneCh)
	in.log.Info("watching inbox", zap.String("dir", in.dir))
	return nil
}

// Stop halts the watcher and waits for the loop to exit.
func (in *Inbox) Stop() {
	in.mu.Lock()
	if !in.running {
		in.mu.Unlock()
		return
	}
	in.running = false
	stop, done, w := in.stopCh, in.doneCh, in.watcher
	in.mu.Unlock()

	close(stop)
	<-done
	if err := w.Close(); err != nil {
		in.log.Warn("close watcher", zap.Error(err))
	}
}

// Run starts the inbox and blocks until ctx is done.
func (in *Inbox) Run(ctx context.Context) error {
	if err := in.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	in.Stop()
	return nil
}

// Stats returns a snapshot of the counters.
func (in *Inbox) Stats() Stats {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.stats
}

func (in *Inbox) run(ctx context.Context, w *fsnotify.Watcher, stop, done chan struct{}) {
	defer close(done)
	tick := time.NewTicker(in.debounce / 5)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			in.handle(ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			in.log.Warn("watcher error", zap.Error(err))
			in.mu.Lock()
			in.stats.Errors++
			in.mu.Unlock()
		case <-tick.C:
			in.flush(ctx)
		}
	}
}

func (in *Inbox) handle(ev fsnotify.Event) {
	if !isJSON(ev.Name) || filepath.Dir(ev.Name) != filepath.Clean(in.dir) {
		return
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	in.mu.Lock()
	in.pending[ev.Name] = time.Now()
	in.mu.Unlock()
}

func (in *Inbox) flush(ctx context.Context) {
	now := time.Now()
	var due []string
	in.mu.Lock()
	for path, last := range in.pending {
		if now.Sub(last) >= in.debounce {
			due = append(due, path)
			delete(in.pending, path)
		}
	}
	in.mu.Unlock()
	for _, path := range due {
		in.process(ctx, path)
	}
}

func (in *Inbox) process(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	name := filepath.Base(path)
	report, err := in.importer.ImportFile(ctx, path)
	target := ProcessedDir
	if err != nil {
		target = RejectedDir
		in.log.Warn("inbox file rejected", zap.String("file", name), zap.Error(err))
	} else {
		in.log.Info("inbox file imported", zap.String("file", name), zap.Int("imported", report.Imported))
	}
	if merr := moveInto(path, filepath.Join(in.dir, target)); merr != nil {
		in.log.Error("move inbox file", zap.String("file", name), zap.Error(merr))
	}
	in.mu.Lock()
	in.stats.LastFile = name
	if err != nil {
		in.stats.Rejected++
	} else {
		in.stats.Imported++
	}
	in.mu.Unlock()
}

// moveInto renames path into dir, adding a timestamp when the name is taken.
func moveInto(path, dir string) error {
	name := filepath.Base(path)
	dest := filepath.Join(dir, name)
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(name)
		dest = filepath.Join(dir, fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), time.Now().UnixNano(), ext))
	}
	return os.Rename(path, dest)
}

func isJSON(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".json")
}
