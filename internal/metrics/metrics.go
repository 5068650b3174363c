// Package metrics records a benchmark run as Prometheus metrics and writes
// them to a node_exporter textfile once the run is over.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
	"github.com/moguls753/serve-benchmark/internal/benchmark/scheduler"
)

// Recorder is a scheduler.Observer backed by its own registry
type Recorder struct {
	registry *prometheus.Registry

	samples  *prometheus.CounterVec
	failures *prometheus.CounterVec
	timings  *prometheus.HistogramVec
	duration *prometheus.HistogramVec
	typical  *prometheus.GaugeVec
}

// NewRecorder creates a recorder with a fresh registry
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		samples: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "serve_bench_samples_total",
			Help: "Recorded samples by case and variant",
		}, []string{"case", "variant"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "serve_bench_failures_total",
			Help: "Failed samples by case and variant",
		}, []string{"case", "variant"}),
		timings: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "serve_bench_timing_milliseconds",
			Help:    "Measured timings by case, variant and metric",
			Buckets: prometheus.ExponentialBuckets(50, 2, 10), // 50ms to ~25s
		}, []string{"case", "variant", "metric"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "serve_bench_sample_duration_seconds",
			Help:    "Wall time of one measurement including settle delays and teardown",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		}, []string{"case", "variant"}),
		typical: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "serve_bench_typical_milliseconds",
			Help: "k-means typical value by case, variant and metric",
		}, []string{"case", "variant", "metric"}),
	}
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveSample implements scheduler.Observer
func (r *Recorder) ObserveSample(s benchmark.RawSample, took time.Duration) {
	r.samples.WithLabelValues(s.CaseID, s.VariantKey).Inc()
	r.duration.WithLabelValues(s.CaseID, s.VariantKey).Observe(took.Seconds())
	for _, m := range benchmark.AllMetrics {
		r.timings.WithLabelValues(s.CaseID, s.VariantKey, string(m)).Observe(s.Value(m))
	}
}

// ObserveFailure implements scheduler.Observer
func (r *Recorder) ObserveFailure(f benchmark.SampleFailure, took time.Duration) {
	r.failures.WithLabelValues(f.CaseID, f.VariantKey).Inc()
	r.duration.WithLabelValues(f.CaseID, f.VariantKey).Observe(took.Seconds())
}

// ObserveSummary records the typical value of every valid row
func (r *Recorder) ObserveSummary(rows []benchmark.SummarizedResult) {
	for _, row := range rows {
		if !row.Valid {
			continue
		}
		for _, m := range benchmark.AllMetrics {
			r.typical.WithLabelValues(row.CaseID, row.VariantKey, string(m)).Set(row.Stats.Get(m).KMeans)
		}
	}
}

// WriteTextfile writes every metric in the text exposition format
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}

var _ scheduler.Observer = (*Recorder)(nil)
