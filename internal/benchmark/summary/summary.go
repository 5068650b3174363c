// Package summary turns raw samples into the per-case report consumed by
// the console table, the exports and the dashboard.
package summary

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
	"github.com/moguls753/serve-benchmark/internal/benchmark/statistics"
)

// Report maps case id to its rows, one per variant in declaration order
type Report map[string][]benchmark.SummarizedResult

// Options controls how Summarize treats pairs that cannot be aggregated
type Options struct {
	Aggregator statistics.Aggregator

	// AllowGaps renders failed pairs as "-" rows carrying the error instead of
	// failing the whole summary. Used when the scheduler skipped failed samples.
	AllowGaps bool

	Logger *slog.Logger
}

// Summarize aggregates every (variant, case) pair of samples
func Summarize(samples []benchmark.RawSample, variants []benchmark.Variant, cases []benchmark.WorkloadCase, opts Options) (Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	report := make(Report, len(cases))
	for _, c := range cases {
		rows := make([]benchmark.SummarizedResult, 0, len(variants))
		for _, v := range variants {
			row := benchmark.SummarizedResult{
				VariantRef:      v.DisplayRef(),
				VariantKey:      v.UniqueKey(),
				CaseID:          c.ID,
				CaseDisplayName: c.Name(),
			}

			stats, err := opts.Aggregator.Aggregate(samples, c.ID, v.UniqueKey())
			switch {
			case err == nil:
				row.Stats = stats
				row.Valid = true
				row.Metrics = benchmark.FormattedMetrics{
					StartupStat:     statistics.Format(stats.Startup),
					ServerStartStat: statistics.Format(stats.ServerStart),
					FCPStat:         statistics.Format(stats.FCP),
				}
			case opts.AllowGaps && recoverable(err):
				logger.Warn("pair not aggregated", "case", c.ID, "variant", v.UniqueKey(), "error", err)
				row.Error = err.Error()
				row.Metrics = benchmark.FormattedMetrics{
					StartupStat:     statistics.Placeholder,
					ServerStartStat: statistics.Placeholder,
					FCPStat:         statistics.Placeholder,
				}
			default:
				return nil, fmt.Errorf("summarize: %w", err)
			}
			rows = append(rows, row)
		}
		report[c.ID] = rows
	}
	return report, nil
}

func recoverable(err error) bool {
	return errors.Is(err, benchmark.ErrSampleCount) || errors.Is(err, benchmark.ErrAggregation)
}

// Redact replaces every k-means value with "-". Used to get a stable
// rendering of a report whose estimator is randomised.
func (r Report) Redact() Report {
	out := make(Report, len(r))
	for id, rows := range r {
		cp := make([]benchmark.SummarizedResult, len(rows))
		copy(cp, rows)
		for i := range cp {
			cp[i].Metrics.StartupStat.KMeans = "-"
			cp[i].Metrics.ServerStartStat.KMeans = "-"
			cp[i].Metrics.FCPStat.KMeans = "-"
		}
		out[id] = cp
	}
	return out
}
