package statistics

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
)

const (
	// DefaultTrials is the number of clustering runs averaged by TypicalValue
	DefaultTrials = 100_000

	// DefaultClusters is the k of the k-means partition
	DefaultClusters = 3

	maxIterations = 100
)

// KMeans configures the repeated-clustering typical value estimator
type KMeans struct {
	K      int
	Trials int
	Rand   *rand.Rand // nil means a randomly seeded source
}

// DefaultKMeans returns k=3 over DefaultTrials trials
func DefaultKMeans() KMeans {
	return KMeans{K: DefaultClusters, Trials: DefaultTrials}
}

// Seeded returns a copy of k drawing from a deterministic source
func (k KMeans) Seeded(seed uint64) KMeans {
	k.Rand = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return k
}

// TypicalValue partitions values into K clusters many times. Each trial keeps
// the centroid of the middle cluster (the median of all centroids) when that
// cluster holds at least len(values)/K members and no cluster is empty. The
// result is the mean of the kept centroids. Clusters pulled towards unusually
// fast or slow runs are thereby ignored. Values with fewer than K distinct
// entries cannot be partitioned and yield ErrAggregation.
func (k KMeans) TypicalValue(values []float64) (float64, error) {
	clusters := k.K
	if clusters <= 0 {
		clusters = DefaultClusters
	}
	trials := k.Trials
	if trials <= 0 {
		trials = DefaultTrials
	}
	if len(values) < clusters {
		return 0, fmt.Errorf("%w: %d values cannot form %d clusters", benchmark.ErrAggregation, len(values), clusters)
	}

	distinct := distinctValues(values)
	if len(distinct) < clusters {
		return 0, fmt.Errorf("%w: %d distinct values cannot form %d clusters", benchmark.ErrAggregation, len(distinct), clusters)
	}

	rng := k.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	minSize := len(values) / clusters
	centroids := make([]float64, clusters)
	sizes := make([]int, clusters)
	assign := make([]int, len(values))
	order := make([]int, clusters)

	sum := 0.0
	accepted := 0
	for trial := 0; trial < trials; trial++ {
		lloyd(values, distinct, centroids, sizes, assign, rng)
		if hasEmpty(sizes) {
			continue
		}

		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool { return centroids[order[a]] < centroids[order[b]] })
		middle := order[clusters/2]

		if sizes[middle] >= minSize && sizes[middle] > 0 {
			sum += centroids[middle]
			accepted++
		}
	}

	if accepted == 0 {
		return 0, fmt.Errorf("%w: no clustering trial produced a usable middle cluster over %d values", benchmark.ErrAggregation, len(values))
	}
	return sum / float64(accepted), nil
}

// lloyd runs one k-means from random initial centroids until assignments settle
func lloyd(values, distinct, centroids []float64, sizes, assign []int, rng *rand.Rand) {
	// initial centroids are pairwise different values
	for i, idx := range rng.Perm(len(distinct))[:len(centroids)] {
		centroids[i] = distinct[idx]
	}
	for i := range assign {
		assign[i] = -1
	}

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, v := range values {
			best, bestDist := 0, math.Inf(1)
			for c, centroid := range centroids {
				if d := math.Abs(v - centroid); d < bestDist {
					best, bestDist = c, d
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}

		sums := make([]float64, len(centroids))
		for c := range sizes {
			sizes[c] = 0
		}
		for i, v := range values {
			sums[assign[i]] += v
			sizes[assign[i]]++
		}
		for c := range centroids {
			// an empty cluster keeps its previous centroid
			if sizes[c] > 0 {
				centroids[c] = sums[c] / float64(sizes[c])
			}
		}

		if !changed {
			return
		}
	}
}

func distinctValues(values []float64) []float64 {
	sorted := sortedCopy(values)
	out := make([]float64, 0, len(sorted))
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}

func hasEmpty(sizes []int) bool {
	for _, n := range sizes {
		if n == 0 {
			return true
		}
	}
	return false
}
