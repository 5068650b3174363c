package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Compare dev server cold start timings of several builds",
	Long: `Serves every workload case of every variant repeatedly, loads it in a
headless browser and reports startup, self-reported server start and first
contentful paint per variant.

Variants are measured interleaved: every round runs each case once per
variant before the next round starts.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
