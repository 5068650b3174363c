package display

import (
	"bytes"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
	"github.com/moguls753/serve-benchmark/internal/benchmark/summary"
)

const viteKey = "vitejs%2Fvite%40063d93b"

func sampleReport() (summary.Report, []benchmark.WorkloadCase) {
	cases := []benchmark.WorkloadCase{
		{ID: "perf-1", DisplayName: "vite 2.7 slow"},
		{ID: "perf-2", DisplayName: "1000 React components"},
	}
	stat := benchmark.FormattedStat{Mean: "2156", Median: "2000", KMeans: "1995"}
	report := summary.Report{
		"perf-1": {
			{VariantRef: "vitejs/vite@063d93b", VariantKey: viteKey, CaseID: "perf-1", CaseDisplayName: "vite 2.7 slow",
				Metrics: benchmark.FormattedMetrics{StartupStat: stat, ServerStartStat: stat, FCPStat: stat}, Valid: true},
			{VariantRef: "sun0day/vite@999ad63", CaseID: "perf-1", CaseDisplayName: "vite 2.7 slow",
				Metrics: benchmark.FormattedMetrics{StartupStat: benchmark.FormattedStat{Mean: "-", Median: "-", KMeans: "-"}},
				Error:   "has 4 samples, want 5"},
		},
	}
	return report, cases
}

func TestSummaryPlain(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)
	report, cases := sampleReport()

	p.Summary(report, cases)

	out := buf.String()
	assert.Equal(t, ansi.Strip(out), out)
	assert.Contains(t, out, "vite 2.7 slow (perf-1)")
	assert.Contains(t, out, "Server start")
	assert.Contains(t, out, "1995 (2156 / 2000)")
	assert.Contains(t, out, "- (- / -)")
	assert.Contains(t, out, "sun0day/vite@999ad63: has 4 samples, want 5")
	assert.NotContains(t, out, "perf-2")
}

func TestComparisons(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)

	p.Comparisons([]summary.Comparison{
		{CaseID: "perf-1", Metric: benchmark.MetricStartup, Baseline: "vitejs/vite@063d93b", Candidate: "sun0day/vite@999ad63",
			Delta: summary.PercentDelta(2000, 1900), PValue: 0.0079, HasOverlap: true},
		{CaseID: "perf-1", Metric: benchmark.MetricFCP, Baseline: "vitejs/vite@063d93b", Candidate: "sun0day/vite@999ad63",
			Delta: summary.PercentDelta(0, 1500), PValue: 1},
	})

	out := buf.String()
	assert.Contains(t, out, "vitejs/vite@063d93b vs sun0day/vite@999ad63")
	assert.Contains(t, out, "-5.00%")
	assert.Contains(t, out, "** (p<0.01)")
	assert.Contains(t, out, "n/a")
}

func TestComparisonsEmpty(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Comparisons(nil)
	assert.Empty(t, buf.String())
}

func TestSignificance(t *testing.T) {
	tests := []struct {
		c    summary.Comparison
		want string
	}{
		{summary.Comparison{Delta: summary.PercentDelta(1000, 1000.2), PValue: 0.5, HasOverlap: true}, "no change"},
		{summary.Comparison{Delta: summary.PercentDelta(1000, 1200), PValue: 0.01}, "No overlap"},
		{summary.Comparison{Delta: summary.PercentDelta(1000, 1200), PValue: 0.0005, HasOverlap: true}, "*** (p<0.001)"},
		{summary.Comparison{Delta: summary.PercentDelta(1000, 1200), PValue: 0.03, HasOverlap: true}, "* (p<0.05)"},
		{summary.Comparison{Delta: summary.PercentDelta(1000, 1200), PValue: 0.3, HasOverlap: true}, "n.s."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Significance(tt.c))
	}
}

func TestProgressAndFailures(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)
	prog := p.NewProgress(2)

	prog.ObserveSample(benchmark.RawSample{CaseID: "perf-1", VariantKey: viteKey, Startup: 2761, ServerStart: 457, FCP: 1632.9}, 4200*time.Millisecond)
	prog.ObserveFailure(benchmark.SampleFailure{Round: 1, CaseID: "perf-2", VariantKey: viteKey, Error: "timed out"}, time.Minute)
	p.Failures([]benchmark.SampleFailure{{Round: 1, CaseID: "perf-2", VariantKey: viteKey, Error: "timed out"}})

	out := buf.String()
	assert.Contains(t, out, "✓ [1/2] round 1 perf-1 vitejs/vite@063d93b  startup 2761ms  server 457ms  fcp 1633ms  (4.2s)")
	assert.Contains(t, out, "✗ [2/2] round 2 perf-2 vitejs/vite@063d93b  timed out  (1m0s)")
	assert.Contains(t, out, "Failed samples (1)")
	assert.Contains(t, out, "round 1, case perf-2, variant "+viteKey+": timed out")
}
