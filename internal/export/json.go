// Package export writes raw samples and summaries to disk and reads raw
// sample logs back for re-summarizing.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
	"github.com/moguls753/serve-benchmark/internal/benchmark/summary"
)

// File names inside a run directory
const (
	RawJSONFile     = "raw.json"
	RawCSVFile      = "raw.csv"
	SummaryJSONFile = "summary.json"
	SummaryCSVFile  = "summary.csv"
	MetricsFile     = "metrics.prom"
	LogsDir         = "logs"
)

// RawLog is a run together with what is needed to summarize it again
type RawLog struct {
	*benchmark.Run
	Variants []benchmark.Variant      `json:"variants"`
	Cases    []benchmark.WorkloadCase `json:"cases"`
}

// RunDir is the directory holding every artifact of one run
func RunDir(outputDir, runID string) string {
	return filepath.Join(outputDir, runID)
}

// WriteRawJSON writes the raw sample log
func WriteRawJSON(log RawLog, outputPath string) error {
	if log.Run == nil {
		return errors.New("raw log has no run")
	}
	return writeJSON(log, outputPath)
}

// ReadRawJSON loads a raw sample log written by WriteRawJSON
func ReadRawJSON(path string) (RawLog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RawLog{}, fmt.Errorf("failed to read raw samples: %w", err)
	}

	log := RawLog{Run: &benchmark.Run{}}
	if err := json.Unmarshal(data, &log); err != nil {
		return RawLog{}, fmt.Errorf("failed to parse raw samples %s: %w", path, err)
	}
	if log.Repeats < 1 {
		return RawLog{}, fmt.Errorf("raw samples %s: repeats must be positive, got %d", path, log.Repeats)
	}
	return log, nil
}

// WriteSummaryJSON writes the report verbatim, keyed by case id
func WriteSummaryJSON(report summary.Report, outputPath string) error {
	return writeJSON(report, outputPath)
}

func writeJSON(v any, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(outputPath), err)
	}
	if err := os.WriteFile(outputPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	return nil
}
