package summary

import (
	"fmt"
	"math"
	"sort"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
	"github.com/moguls753/serve-benchmark/internal/benchmark/statistics"
)

// NoiseFloorPercent is the relative change below which a delta is not reported as a change
const NoiseFloorPercent = 0.03

// Delta is the relative change of a candidate against a baseline
type Delta struct {
	Percent     float64
	Comparable  bool // false when the baseline is zero
	Significant bool // |Percent| >= NoiseFloorPercent
}

// PercentDelta compares candidate against baseline
func PercentDelta(baseline, candidate float64) Delta {
	if baseline == 0 {
		return Delta{}
	}
	pct := (candidate - baseline) / baseline * 100
	return Delta{
		Percent:     pct,
		Comparable:  true,
		Significant: math.Abs(pct) >= NoiseFloorPercent,
	}
}

func (d Delta) String() string {
	switch {
	case !d.Comparable:
		return "n/a"
	case !d.Significant:
		return "±0%"
	default:
		return fmt.Sprintf("%+.2f%%", d.Percent)
	}
}

// Comparison is one candidate row measured against the baseline of its case
type Comparison struct {
	CaseID     string
	Metric     benchmark.Metric
	Baseline   string
	Candidate  string
	Delta      Delta
	PValue     float64
	HasOverlap bool
}

// Compare measures every valid candidate row of every case against the row
// of baselineKey, metric by metric, using the k-means typical values.
func Compare(report Report, baselineKey string) []Comparison {
	var out []Comparison
	for _, id := range sortedCaseIDs(report) {
		rows := report[id]

		var base *benchmark.SummarizedResult
		for i := range rows {
			if rows[i].VariantKey == baselineKey && rows[i].Valid {
				base = &rows[i]
			}
		}
		if base == nil {
			continue
		}

		for _, row := range rows {
			if row.VariantKey == baselineKey || !row.Valid {
				continue
			}
			for _, m := range benchmark.AllMetrics {
				b, c := base.Stats.Get(m), row.Stats.Get(m)
				out = append(out, Comparison{
					CaseID:     id,
					Metric:     m,
					Baseline:   base.VariantRef,
					Candidate:  row.VariantRef,
					Delta:      PercentDelta(b.KMeans, c.KMeans),
					PValue:     statistics.MannWhitneyU(b.Values, c.Values),
					HasOverlap: statistics.HasOverlap(statistics.Describe(b.Values), statistics.Describe(c.Values)),
				})
			}
		}
	}
	return out
}

// CaseIDs returns the report's case ids in the order cases were declared
func CaseIDs(report Report, cases []benchmark.WorkloadCase) []string {
	ids := make([]string, 0, len(report))
	for _, c := range cases {
		if _, ok := report[c.ID]; ok {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

func sortedCaseIDs(report Report) []string {
	ids := make([]string, 0, len(report))
	for id := range report {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
