// Package statistics reduces noisy timing samples to robust per-variant
// figures: mean, median, a repeated k-means typical value, and a
// Mann-Whitney comparison between two sample sets.
package statistics

import (
	"math"
	"sort"
)

// Spread describes how scattered a sample set is
type Spread struct {
	Min    float64
	Max    float64
	StdDev float64
	CV     float64 // coefficient of variation (%)
}

// Median of values; 0 for an empty set
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := sortedCopy(values)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2.0
	}
	return sorted[n/2]
}

// Mean of values; 0 for an empty set
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev is the sample standard deviation
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	mean := Mean(values)
	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	return math.Sqrt(variance / float64(len(values)-1))
}

// CV is stddev/mean in percent
func CV(values []float64) float64 {
	mean := Mean(values)
	if mean == 0 {
		return 0
	}
	return (StdDev(values) / math.Abs(mean)) * 100
}

// Describe computes the spread of values
func Describe(values []float64) Spread {
	if len(values) == 0 {
		return Spread{}
	}

	sorted := sortedCopy(values)
	return Spread{
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		StdDev: StdDev(values),
		CV:     CV(values),
	}
}

// HasOverlap reports whether the value ranges of a and b intersect
func HasOverlap(a, b Spread) bool {
	return !(a.Min > b.Max || b.Min > a.Max)
}

func sortedCopy(values []float64) []float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted
}
