package core

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder exports operation counters and latency histograms.
type PrometheusRecorder struct {
	registry *prometheus.Registry
	total    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the foodlab collectors on a private registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foodlab",
		Name:      "operations_total",
		Help:      "Record, import, export and backup operations by outcome.",
	}, []string{"operation", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "foodlab",
		Name:      "operation_duration_seconds",
		Help:      "Operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	reg.MustRegister(total, latency)
	return &PrometheusRecorder{registry: reg, total: total, latency: latency}
}

// Observe records an operation outcome.
func (p *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	p.total.WithLabelValues(operation, outcome(success)).Inc()
	p.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// Registry exposes the collector registry.
func (p *PrometheusRecorder) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus text format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// MetricsSnapshot is the operation counters read back from the registry.
type MetricsSnapshot struct {
	Results         map[string]map[string]int64 `json:"results_total"`
	DurationSeconds map[string]float64          `json:"duration_seconds_total"`
	RecordedAt      time.Time                   `json:"recorded_at"`
}

// Snapshot gathers the registry into per-operation outcome counts and
// cumulative latency.
func (p *PrometheusRecorder) Snapshot() (MetricsSnapshot, error) {
	snap := MetricsSnapshot{
		Results:         make(map[string]map[string]int64),
		DurationSeconds: make(map[string]float64),
		RecordedAt:      time.Now().UTC(),
	}
	families, err := p.registry.Gather()
	if err != nil {
		return snap, fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var op, status string
			for _, lp := range m.GetLabel() {
				switch lp.GetName() {
				case "operation":
					op = lp.GetValue()
				case "status":
					status = lp.GetValue()
				}
			}
			switch mf.GetName() {
			case "foodlab_operations_total":
				if snap.Results[op] == nil {
					snap.Results[op] = make(map[string]int64, 2)
				}
				snap.Results[op][status] = int64(m.GetCounter().GetValue())
			case "foodlab_operation_duration_seconds":
				snap.DurationSeconds[op] = m.GetHistogram().GetSampleSum()
			}
		}
	}
	return snap, nil
}

var expvarMu sync.Mutex

// PublishExpvar exposes Snapshot on /debug/vars under name. expvar names are
// process-global; a taken name is an error.
func (p *PrometheusRecorder) PublishExpvar(name string) error {
	expvarMu.Lock()
	defer expvarMu.Unlock()
	if expvar.Get(name) != nil {
		return fmt.Errorf("expvar %q already published", name)
	}
	expvar.Publish(name, expvar.Func(func() any {
		snap, err := p.Snapshot()
		if err != nil {
			return err.Error()
		}
		return snap
	}))
	return nil
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
