package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
	"github.com/moguls753/serve-benchmark/internal/benchmark/statistics"
	"github.com/moguls753/serve-benchmark/internal/benchmark/summary"
	"github.com/moguls753/serve-benchmark/internal/display"
	"github.com/moguls753/serve-benchmark/internal/export"
)

var (
	summarizeSamples   string
	summarizeBaseline  string
	summarizeOutput    string
	summarizeTrials    int
	summarizeSeed      uint64
	summarizeAllowGaps bool
	summarizeLogLevel  string
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Recompute the report from a saved raw sample log",
	Long: `Reads a raw.json written by "bench" and prints the summary and the
comparisons against the baseline again, optionally with a different number of
clustering trials or a fixed seed.`,
	RunE: runSummarize,
}

func init() {
	f := summarizeCmd.Flags()
	f.StringVar(&summarizeSamples, "samples", "", "raw sample log (raw.json)")
	f.StringVar(&summarizeBaseline, "baseline", "", "baseline variant (defaults to the first variant of the log)")
	f.StringVarP(&summarizeOutput, "output", "o", "", "directory to write summary.json and summary.csv to")
	f.IntVar(&summarizeTrials, "kmeans-trials", statistics.DefaultTrials, "clustering trials per metric")
	f.Uint64Var(&summarizeSeed, "kmeans-seed", 0, "seed for the clustering trials (0 is random)")
	f.BoolVar(&summarizeAllowGaps, "allow-gaps", false, "render incomplete pairs as \"-\" instead of failing")
	f.StringVar(&summarizeLogLevel, "log-level", "info", "debug, info, warn or error")
	_ = summarizeCmd.MarkFlagRequired("samples")

	rootCmd.AddCommand(summarizeCmd)
}

func runSummarize(cmd *cobra.Command, args []string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(summarizeLogLevel)); err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	logger := newLogger(level)

	raw, err := export.ReadRawJSON(summarizeSamples)
	if err != nil {
		return err
	}
	if len(raw.Variants) == 0 || len(raw.Cases) == 0 {
		return fmt.Errorf("%s lists no variants or cases", summarizeSamples)
	}

	baseline := raw.Variants[0].UniqueKey()
	if summarizeBaseline != "" {
		v, err := benchmark.ParseVariant(summarizeBaseline)
		if err != nil {
			return fmt.Errorf("baseline: %w", err)
		}
		baseline = v.UniqueKey()
	}

	km := statistics.KMeans{K: statistics.DefaultClusters, Trials: summarizeTrials}
	if summarizeSeed != 0 {
		km = km.Seeded(summarizeSeed)
	}

	report, err := summarize(display.New(os.Stdout), raw, km, baseline, summarizeAllowGaps, logger)
	if err != nil {
		return err
	}
	return writeReport(report, raw.Cases, summarizeOutput)
}

// summarize aggregates a raw log and prints the tables
func summarize(out *display.Printer, raw export.RawLog, km statistics.KMeans, baselineKey string, allowGaps bool, logger *slog.Logger) (summary.Report, error) {
	report, err := summary.Summarize(raw.Samples, raw.Variants, raw.Cases, summary.Options{
		Aggregator: statistics.Aggregator{Repeats: raw.Repeats, KMeans: km},
		AllowGaps:  allowGaps,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	out.Summary(report, raw.Cases)
	out.Comparisons(summary.Compare(report, baselineKey))
	return report, nil
}

func writeReport(report summary.Report, cases []benchmark.WorkloadCase, dir string) error {
	if dir == "" {
		return nil
	}
	if err := export.WriteSummaryJSON(report, filepath.Join(dir, export.SummaryJSONFile)); err != nil {
		return err
	}
	return export.SummaryToCSV(report, cases, filepath.Join(dir, export.SummaryCSVFile))
}
