package core

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// OverviewSize is the number of recent records listed per category on the dashboard.
const OverviewSize = 5

// UnknownCanteen labels records without a canteen in the per-canteen breakdown.
const UnknownCanteen = "未知食堂"

// CategoryStats is the derived pass/fail summary of one category.
type CategoryStats struct {
	Category    Category `json:"category"`
	Title       string   `json:"title"`
	Count       int      `json:"count"`
	Pass        int      `json:"pass"`
	Positive    int      `json:"positive"`
	PassRate    int      `json:"passRate"`
	HasPassRate bool     `json:"hasPassRate"`
}

// CanteenRate is the pass rate of one canteen across every category.
type CanteenRate struct {
	Canteen  string `json:"canteen"`
	Total    int    `json:"total"`
	Passed   int    `json:"passed"`
	PassRate int    `json:"passRate"`
}

// Summary is one full dashboard computation.
type Summary struct {
	Filter      DateFilter            `json:"filter"`
	Window      string                `json:"window"`
	Stats       []CategoryStats       `json:"stats"`
	Total       int                   `json:"total"`
	Alerts      []string              `json:"alerts"`
	Overview    map[Category][]string `json:"overview"`
	Canteens    []CanteenRate         `json:"canteens"`
	GeneratedAt time.Time             `json:"generatedAt"`
}

// Stat returns the stats of one category, or a zero value when absent.
func (s Summary) Stat(c Category) CategoryStats {
	for _, st := range s.Stats {
		if st.Category == c {
			return st
		}
	}
	return CategoryStats{Category: c, PassRate: 100}
}

// PassRate is round(100*pass/count) with halves rounded away from zero, and 100
// for an empty category.
func PassRate(pass, count int) int {
	if count <= 0 {
		return 100
	}
	return int(math.Round(float64(pass) * 100 / float64(count)))
}

// Display receives rendered stat values by target id.
type Display interface {
	Set(target, value string)
}

// MemoryDisplay keeps the latest value per target. When constructed with targets
// only those accept values; others are ignored.
type MemoryDisplay struct {
	mu      sync.RWMutex
	allowed map[string]struct{}
	values  map[string]string
}

// NewMemoryDisplay constructs a display, optionally limited to targets.
func NewMemoryDisplay(targets ...string) *MemoryDisplay {
	d := &MemoryDisplay{values: make(map[string]string)}
	if len(targets) > 0 {
		d.allowed = make(map[string]struct{}, len(targets))
		for _, t := range targets {
			d.allowed[t] = struct{}{}
		}
	}
	return d
}

// Set stores value for target.
func (d *MemoryDisplay) Set(target, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.allowed != nil {
		if _, ok := d.allowed[target]; !ok {
			return
		}
	}
	d.values[target] = value
}

// Value returns the last value set for target.
func (d *MemoryDisplay) Value(target string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.values[target]
	return v, ok
}

// Values returns a copy of every target value.
func (d *MemoryDisplay) Values() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}

// Display target ids.
func CountTarget(c Category) string { return "card_" + string(c) + "_count" }
func PassTarget(c Category) string  { return "card_" + string(c) + "_pass" }

const (
	TotalTarget            = "card_total_count"
	PathogenPositiveTarget = "card_pathogen_positive"
)

// AggregationService recomputes dashboard statistics whenever records change and
// pushes them to a Display.
type AggregationService struct {
	registry *Registry
	display  Display
	logger   *zap.Logger
	now      func() time.Time

	refreshMu   sync.Mutex
	mu          sync.Mutex
	filter      DateFilter
	last        Summary
	unsubscribe func()
}

// NewAggregationService constructs the service. display may be nil.
func NewAggregationService(registry *Registry, display Display, opts ...Option) *AggregationService {
	o := applyOptions(opts)
	return &AggregationService{
		registry: registry,
		display:  display,
		logger:   o.logger,
		now:      o.now,
		filter:   AllDates(),
	}
}

// Start subscribes to bus and performs the initial computation.
func (a *AggregationService) Start(ctx context.Context, bus *Bus) {
	base := context.WithoutCancel(ctx)
	unsubscribe := bus.Subscribe(func(ev ChangeEvent) {
		a.logger.Debug("records changed", zap.String("category", string(ev.Category)), zap.String("action", string(ev.Action)))
		a.Refresh(base)
	})
	a.mu.Lock()
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	a.unsubscribe = unsubscribe
	a.mu.Unlock()
	a.Refresh(ctx)
}

// Stop detaches the service from its bus.
func (a *AggregationService) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
}

// SetFilter changes the active date filter and recomputes.
func (a *AggregationService) SetFilter(ctx context.Context, f DateFilter) Summary {
	a.mu.Lock()
	a.filter = f
	a.mu.Unlock()
	return a.Refresh(ctx)
}

// Refresh recomputes with the active filter and publishes every stat.
// Refreshes are serialized, so the display and Last always hold the newest
// computation.
func (a *AggregationService) Refresh(ctx context.Context) Summary {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	a.mu.Lock()
	f := a.filter
	a.mu.Unlock()

	s := a.Compute(ctx, f)
	a.publish(s)

	a.mu.Lock()
	a.last = s
	a.mu.Unlock()
	return s
}

// Last returns the most recent computation.
func (a *AggregationService) Last() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Compute derives a summary for filter without touching the display.
func (a *AggregationService) Compute(ctx context.Context, filter DateFilter) Summary {
	s := Summary{
		Filter:      filter,
		Window:      filter.Describe(),
		Overview:    make(map[Category][]string),
		Alerts:      []string{},
		GeneratedAt: a.now().UTC(),
	}
	canteens := map[string]*CanteenRate{}
	tally := func(canteen string, passed bool) {
		if canteen == "" {
			canteen = UnknownCanteen
		}
		cr, ok := canteens[canteen]
		if !ok {
			cr = &CanteenRate{Canteen: canteen}
			canteens[canteen] = cr
		}
		cr.Total++
		if passed {
			cr.Passed++
		}
	}

	for _, c := range Categories() {
		store, err := a.registry.Store(c)
		if err != nil {
			a.logger.Warn("aggregate", zap.String("category", string(c)), zap.Error(err))
			continue
		}
		desc := store.Descriptor()
		var records []Record
		for _, r := range store.All(ctx) {
			if filter.Matches(r) {
				records = append(records, r)
			}
		}

		st := CategoryStats{Category: c, Title: desc.Title}
		switch {
		case desc.ImportDriven:
			st.Count = len(records)
			for _, r := range records {
				positive := HasPositive(r)
				if positive {
					st.Positive++
				}
				tally(r.Text(FieldCanteen), !positive)
			}
		case desc.MultiPoint():
			for _, r := range records {
				for _, entry := range r.SubEntries(desc.SubEntryField) {
					st.Count++
					passed := IsPass(desc.SubEntryLabel(entry))
					if passed {
						st.Pass++
					}
					tally(r.Text(FieldCanteen), passed)
				}
			}
		default:
			st.Count = len(records)
			for _, r := range records {
				passed := IsPass(desc.RecordLabel(r))
				if passed {
					st.Pass++
				}
				tally(r.Text(FieldCanteen), passed)
			}
		}
		if !desc.ImportDriven {
			st.HasPassRate = true
			st.PassRate = PassRate(st.Pass, st.Count)
		}
		s.Stats = append(s.Stats, st)
		s.Total += st.Count

		if alert := desc.Alert(st); alert != "" {
			s.Alerts = append(s.Alerts, alert)
		}
		s.Overview[c] = overview(desc, records)
	}

	for _, cr := range canteens {
		cr.PassRate = PassRate(cr.Passed, cr.Total)
		s.Canteens = append(s.Canteens, *cr)
	}
	sort.Slice(s.Canteens, func(i, j int) bool { return s.Canteens[i].Canteen < s.Canteens[j].Canteen })
	return s
}

// Alert returns the dashboard alert for st, or "" when none fires.
func (d Descriptor) Alert(st CategoryStats) string {
	if d.ImportDriven {
		if st.Positive > 0 {
			return d.AlertMessage
		}
		return ""
	}
	if st.Count == 0 || st.PassRate >= d.AlertBelow {
		return ""
	}
	if d.AlertShowsRate {
		return fmt.Sprintf("%s(%d%%)", d.AlertMessage, st.PassRate)
	}
	return d.AlertMessage
}

func overview(desc Descriptor, records []Record) []string {
	if desc.Overview == nil {
		return nil
	}
	n := min(len(records), OverviewSize)
	out := make([]string, 0, n)
	for _, r := range records[:n] {
		out = append(out, desc.Overview(r))
	}
	return out
}

func (a *AggregationService) publish(s Summary) {
	if a.display == nil {
		return
	}
	for _, st := range s.Stats {
		a.display.Set(CountTarget(st.Category), fmt.Sprint(st.Count))
		if st.HasPassRate {
			a.display.Set(PassTarget(st.Category), fmt.Sprintf("%d%%", st.PassRate))
		}
		if st.Category == CategoryPathogen {
			a.display.Set(PathogenPositiveTarget, fmt.Sprint(st.Positive))
		}
	}
	a.display.Set(TotalTarget, fmt.Sprint(s.Total))
}
