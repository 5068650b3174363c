package statistics

import (
	"fmt"
	"math"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
)

// Aggregator reduces raw samples of one (case, variant) pair to MetricStats
type Aggregator struct {
	Repeats int
	KMeans  KMeans
}

// Aggregate computes mean, median and the k-means typical value of all three
// metrics. The pair must have exactly Repeats samples.
func (a Aggregator) Aggregate(samples []benchmark.RawSample, caseID, variantKey string) (benchmark.MetricStats, error) {
	var matched []benchmark.RawSample
	for _, s := range samples {
		if s.CaseID == caseID && s.VariantKey == variantKey {
			matched = append(matched, s)
		}
	}

	if len(matched) == 0 || len(matched) != a.Repeats {
		return benchmark.MetricStats{}, fmt.Errorf("%w: case %s, variant %s has %d samples, want %d",
			benchmark.ErrSampleCount, caseID, variantKey, len(matched), a.Repeats)
	}

	var stats benchmark.MetricStats
	for _, m := range benchmark.AllMetrics {
		values := make([]float64, len(matched))
		for i, s := range matched {
			values[i] = s.Value(m)
		}

		stat, err := a.metric(values)
		if err != nil {
			return benchmark.MetricStats{}, fmt.Errorf("case %s, variant %s, %s: %w", caseID, variantKey, m, err)
		}

		switch m {
		case benchmark.MetricStartup:
			stats.Startup = stat
		case benchmark.MetricServerStart:
			stats.ServerStart = stat
		case benchmark.MetricFCP:
			stats.FCP = stat
		}
	}
	return stats, nil
}

func (a Aggregator) metric(values []float64) (benchmark.MetricStat, error) {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return benchmark.MetricStat{}, fmt.Errorf("%w: non-finite sample value %v", benchmark.ErrAggregation, v)
		}
	}

	var typical float64
	if !unmeasured(values) {
		var err error
		typical, err = a.KMeans.TypicalValue(values)
		if err != nil {
			return benchmark.MetricStat{}, err
		}
	}

	kept := make([]float64, len(values))
	copy(kept, values)

	return benchmark.MetricStat{
		Mean:   Mean(values),
		Median: Median(values),
		KMeans: typical,
		Values: kept,
	}, nil
}

// unmeasured reports a metric the workload kind does not produce, such as
// first paint of a build
func unmeasured(values []float64) bool {
	for _, v := range values {
		if v != 0 {
			return false
		}
	}
	return true
}

// FormatMs renders a millisecond value with no decimals, rounding half away from zero
func FormatMs(v float64) string {
	return fmt.Sprintf("%.0f", math.Round(v))
}

// Format renders a MetricStat for reports
func Format(s benchmark.MetricStat) benchmark.FormattedStat {
	return benchmark.FormattedStat{
		Mean:   FormatMs(s.Mean),
		Median: FormatMs(s.Median),
		KMeans: FormatMs(s.KMeans),
	}
}

// Placeholder is the rendered form of a missing or redacted stat
var Placeholder = benchmark.FormattedStat{Mean: "-", Median: "-", KMeans: "-"}
