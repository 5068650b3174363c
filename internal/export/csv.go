package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
	"github.com/moguls753/serve-benchmark/internal/benchmark/statistics"
	"github.com/moguls753/serve-benchmark/internal/benchmark/summary"
)

// SummaryToCSV exports one row per (case, variant, metric) for plotting
func SummaryToCSV(report summary.Report, cases []benchmark.WorkloadCase, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"CaseID", "Variant", "Metric", "KMeans", "Mean", "Median", "StdDev", "Min", "Max", "CV_Percent", "Error"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, id := range summary.CaseIDs(report, cases) {
		for _, row := range report[id] {
			for _, m := range benchmark.AllMetrics {
				formatted := row.Metrics.Get(m)
				record := []string{id, row.VariantRef, string(m), formatted.KMeans, formatted.Mean, formatted.Median}

				if row.Valid {
					spread := statistics.Describe(row.Stats.Get(m).Values)
					record = append(record,
						fmt.Sprintf("%.2f", spread.StdDev),
						fmt.Sprintf("%.2f", spread.Min),
						fmt.Sprintf("%.2f", spread.Max),
						fmt.Sprintf("%.2f", spread.CV))
				} else {
					record = append(record, "", "", "", "")
				}
				record = append(record, row.Error)

				if err := writer.Write(record); err != nil {
					return fmt.Errorf("failed to write CSV row: %w", err)
				}
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

// SamplesToCSV exports the raw sample log, one row per sample in run order
func SamplesToCSV(samples []benchmark.RawSample, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"Round", "CaseID", "Variant", "Startup", "ServerStart", "FCP"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, s := range samples {
		variant := s.VariantKey
		if v, err := benchmark.DecodeKey(s.VariantKey); err == nil {
			variant = v.DisplayRef()
		}
		record := []string{
			strconv.Itoa(s.Round),
			s.CaseID,
			variant,
			formatFloat(s.Startup),
			formatFloat(s.ServerStart),
			formatFloat(s.FCP),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
