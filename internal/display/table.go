// Package display renders reports on the console. Styled output is used when
// writing to a terminal, plain ASCII tables otherwise.
package display

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
	"github.com/moguls753/serve-benchmark/internal/benchmark/summary"
)

var (
	colorAccent = lipgloss.Color("#2CD7C7")
	colorMuted  = lipgloss.Color("#2C4A54")
	colorError  = lipgloss.Color("#E74C3C")
	colorWarn   = lipgloss.Color("#F4D03F")
)

// Printer writes tables to one destination
type Printer struct {
	w      io.Writer
	styled bool
	r      *lipgloss.Renderer
}

// New creates a printer. Styling is enabled when w is a terminal.
func New(w io.Writer) *Printer {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Printer{w: w, styled: styled, r: lipgloss.NewRenderer(w)}
}

// Title prints a section heading
func (p *Printer) Title(text string) {
	if p.styled {
		fmt.Fprintln(p.w, p.r.NewStyle().Bold(true).Foreground(colorAccent).Render(text))
		return
	}
	fmt.Fprintln(p.w, text)
	fmt.Fprintln(p.w, strings.Repeat("=", len(text)))
}

// Summary prints one table per case. Cells read "k-means (mean / median)".
func (p *Printer) Summary(report summary.Report, cases []benchmark.WorkloadCase) {
	for _, id := range summary.CaseIDs(report, cases) {
		rows := report[id]
		if len(rows) == 0 {
			continue
		}

		fmt.Fprintln(p.w)
		p.Title(fmt.Sprintf("%s (%s)", rows[0].CaseDisplayName, id))

		t := p.table("Variant", "Startup", "Server start", "FCP")
		var gaps []benchmark.SummarizedResult
		for _, row := range rows {
			t.Row(row.VariantRef,
				statCell(row.Metrics.StartupStat),
				statCell(row.Metrics.ServerStartStat),
				statCell(row.Metrics.FCPStat))
			if row.Error != "" {
				gaps = append(gaps, row)
			}
		}
		fmt.Fprintln(p.w, t.String())

		for _, g := range gaps {
			p.line(colorWarn, fmt.Sprintf("  %s: %s", g.VariantRef, g.Error))
		}
	}
}

// Comparisons prints every candidate against the baseline
func (p *Printer) Comparisons(comparisons []summary.Comparison) {
	if len(comparisons) == 0 {
		return
	}

	fmt.Fprintln(p.w)
	p.Title("Comparisons (k-means typical value vs baseline)")

	t := p.table("Case", "Metric", "Comparison", "Delta", "p-value", "Overlap?", "Significant?")
	for _, c := range comparisons {
		overlap := "No"
		if c.HasOverlap {
			overlap = "Yes"
		}
		t.Row(c.CaseID,
			string(c.Metric),
			fmt.Sprintf("%s vs %s", c.Baseline, c.Candidate),
			c.Delta.String(),
			fmt.Sprintf("%.4f", c.PValue),
			overlap,
			Significance(c))
	}
	fmt.Fprintln(p.w, t.String())
}

// Failures lists every sample that produced no result
func (p *Printer) Failures(failures []benchmark.SampleFailure) {
	if len(failures) == 0 {
		return
	}
	fmt.Fprintln(p.w)
	p.Title(fmt.Sprintf("Failed samples (%d)", len(failures)))
	for _, f := range failures {
		p.line(colorError, fmt.Sprintf("  round %d, case %s, variant %s: %s", f.Round, f.CaseID, f.VariantKey, f.Error))
	}
}

// Significance labels a comparison by its p-value
func Significance(c summary.Comparison) string {
	switch {
	case !c.Delta.Comparable:
		return "n/a"
	case !c.Delta.Significant:
		return "no change"
	case !c.HasOverlap:
		return "No overlap"
	case c.PValue < 0.001:
		return "*** (p<0.001)"
	case c.PValue < 0.01:
		return "** (p<0.01)"
	case c.PValue < 0.05:
		return "* (p<0.05)"
	default:
		return "n.s."
	}
}

func statCell(s benchmark.FormattedStat) string {
	return fmt.Sprintf("%s (%s / %s)", s.KMeans, s.Mean, s.Median)
}

func (p *Printer) table(headers ...string) *table.Table {
	t := table.New().Headers(headers...)
	if !p.styled {
		return t.Border(lipgloss.ASCIIBorder())
	}

	header := p.r.NewStyle().Bold(true).Foreground(colorAccent).Padding(0, 1)
	cell := p.r.NewStyle().Padding(0, 1)
	return t.
		Border(lipgloss.RoundedBorder()).
		BorderStyle(p.r.NewStyle().Foreground(colorMuted)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
}

func (p *Printer) line(color lipgloss.Color, text string) {
	if p.styled {
		text = p.r.NewStyle().Foreground(color).Render(text)
	}
	fmt.Fprintln(p.w, text)
}
