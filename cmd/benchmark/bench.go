package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
	"github.com/moguls753/serve-benchmark/internal/benchmark/browser"
	"github.com/moguls753/serve-benchmark/internal/benchmark/process"
	"github.com/moguls753/serve-benchmark/internal/benchmark/scheduler"
	"github.com/moguls753/serve-benchmark/internal/config"
	"github.com/moguls753/serve-benchmark/internal/display"
	"github.com/moguls753/serve-benchmark/internal/export"
	"github.com/moguls753/serve-benchmark/internal/metrics"
	"github.com/moguls753/serve-benchmark/internal/runner"
)

var (
	benchConfig     = config.Default()
	benchConfigPath string
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run the benchmark for the compared variants",
	Long: `Runs every configured workload case for every compared variant.

Each variant must already be prepared under
<cases-root>/<owner>___<repo>___<sha7>/<case-id> with its dependencies installed.

Example:
  benchmark bench --compare vitejs/vite@063d93b,sun0day/vite@999ad63 -n 10`,
	RunE: runBench,
}

func init() {
	f := benchCmd.Flags()
	f.StringVarP(&benchConfigPath, "config", "c", "", "YAML config file (flags override it)")
	benchConfig.BindFlags(f)

	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg := &benchConfig
	if err := cfg.Resolve(benchConfigPath, cmd.Flags()); err != nil {
		return err
	}
	logger := newLogger(cfg.Level())

	variants, err := cfg.Variants()
	if err != nil {
		return err
	}
	baseline, err := cfg.BaselineKey()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := ulid.Make().String()
	runDir := ""
	if cfg.OutputDir != "" {
		runDir = export.RunDir(cfg.OutputDir, runID)
		if err := os.MkdirAll(runDir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	out := display.New(os.Stdout)
	printHeader(cfg, variants, runID)

	br, err := browser.Launch(ctx, browser.Options{
		Headless: cfg.Headless,
		ExecPath: cfg.ChromePath,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := br.Close(); err != nil {
			logger.Warn("close browser", "error", err)
		}
	}()
	fmt.Println("✓ Browser launched")

	serve := runner.NewServe(runner.Processes(process.NewRunner(logger)), runner.Browser(br), logger)
	serve.Command = cfg.Launcher
	serve.Host = cfg.Host
	serve.Markers = cfg.Markers
	serve.Settle = cfg.Settle
	serve.ReadyTimeout = cfg.ReadyTimeout
	serve.LoadTimeout = cfg.LoadTimeout
	serve.BuildTimeout = cfg.BuildTimeout
	serve.BundleTimeout = cfg.BundleTimeout
	serve.SetupRetries = cfg.SetupRetries
	if runDir != "" {
		serve.LogDir = filepath.Join(runDir, export.LogsDir)
	}

	recorder := metrics.NewRecorder()
	total := cfg.Repeats * len(cfg.Cases) * len(variants)

	sched := scheduler.New(serve, cfg.CasesRoot, logger)
	sched.Policy = cfg.Policy()
	sched.RunID = runID
	sched.Observer = scheduler.Observers{out.NewProgress(total), recorder}

	fmt.Printf("\n→ Running %d measurements\n\n", total)
	run, runErr := sched.RunAll(ctx, cfg.Cases, variants, cfg.Repeats)
	if run == nil {
		return runErr
	}

	raw := export.RawLog{Run: run, Variants: variants, Cases: cfg.Cases}
	if runDir != "" {
		if err := writeRaw(raw, runDir); err != nil {
			return errors.Join(runErr, err)
		}
	}
	if runErr != nil {
		out.Failures(run.Failures)
		if runDir != "" {
			fmt.Printf("\nPartial samples kept in %s\n", runDir)
		}
		return runErr
	}

	report, err := summarize(out, raw, cfg.KMeans(), baseline, sched.Policy == scheduler.Continue, logger)
	if err != nil {
		return err
	}
	out.Failures(run.Failures)

	for _, rows := range report {
		recorder.ObserveSummary(rows)
	}
	if err := writeReport(report, cfg.Cases, runDir); err != nil {
		return err
	}

	metricsFile := cfg.MetricsFile
	if metricsFile == "" && runDir != "" {
		metricsFile = filepath.Join(runDir, export.MetricsFile)
	}
	if metricsFile != "" {
		if err := recorder.WriteTextfile(metricsFile); err != nil {
			return err
		}
	}

	if len(variants) > 1 && cfg.DashboardURL != "" {
		fmt.Printf("\nCompare: %s\n", benchmark.CompareURL(cfg.DashboardURL, variants))
	}
	if runDir != "" {
		fmt.Printf("Results written to %s\n", runDir)
	}
	fmt.Printf("\n✓ Benchmark finished in %s\n", run.Duration.Round(time.Second))
	return nil
}

func printHeader(cfg *config.Config, variants []benchmark.Variant, runID string) {
	fmt.Println("Serve Benchmark")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Run:          %s\n", runID)
	for i, v := range variants {
		label := "Variant:"
		if i == 0 {
			label = "Variants:"
		}
		fmt.Printf("%-13s %s\n", label, v.DisplayRef())
	}
	ids := make([]string, len(cfg.Cases))
	for i, c := range cfg.Cases {
		ids[i] = c.ID
	}
	fmt.Printf("Cases:        %s\n", strings.Join(ids, ", "))
	fmt.Printf("Repeats:      %d\n", cfg.Repeats)
	fmt.Printf("On failure:   %s\n", cfg.FailurePolicy)
	fmt.Println()
}

func writeRaw(raw export.RawLog, runDir string) error {
	if err := export.WriteRawJSON(raw, filepath.Join(runDir, export.RawJSONFile)); err != nil {
		return err
	}
	return export.SamplesToCSV(raw.Samples, filepath.Join(runDir, export.RawCSVFile))
}
