package display

import (
	"fmt"
	"time"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
)

// Progress prints one line per finished measurement
type Progress struct {
	p     *Printer
	total int
	done  int
}

// NewProgress reports against total expected measurements
func (p *Printer) NewProgress(total int) *Progress {
	return &Progress{p: p, total: total}
}

// ObserveSample implements scheduler.Observer
func (g *Progress) ObserveSample(s benchmark.RawSample, took time.Duration) {
	g.done++
	g.p.line(colorAccent, fmt.Sprintf("✓ [%d/%d] round %d %s %s  startup %.0fms  server %.0fms  fcp %.0fms  (%s)",
		g.done, g.total, s.Round+1, s.CaseID, refOf(s.VariantKey), s.Startup, s.ServerStart, s.FCP, took.Round(time.Millisecond)))
}

// ObserveFailure implements scheduler.Observer
func (g *Progress) ObserveFailure(f benchmark.SampleFailure, took time.Duration) {
	g.done++
	g.p.line(colorError, fmt.Sprintf("✗ [%d/%d] round %d %s %s  %s  (%s)",
		g.done, g.total, f.Round+1, f.CaseID, refOf(f.VariantKey), f.Error, took.Round(time.Millisecond)))
}

func refOf(key string) string {
	v, err := benchmark.DecodeKey(key)
	if err != nil {
		return key
	}
	return v.DisplayRef()
}
