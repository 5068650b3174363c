package statistics

import (
	"math"
	"sort"
)

// MannWhitneyU returns the two-tailed p-value (normal approximation) of the
// Mann-Whitney U test for groups a and b. H0: both come from the same
// distribution. Empty groups give 1.
func MannWhitneyU(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 1.0
	}

	n1 := float64(len(a))
	n2 := float64(len(b))

	rankSumA := 0.0
	for i, r := range ranks(a, b) {
		if i < len(a) {
			rankSumA += r
		}
	}

	u1 := rankSumA - n1*(n1+1)/2.0
	u := math.Min(u1, n1*n2-u1)

	meanU := n1 * n2 / 2.0
	stdU := math.Sqrt(n1 * n2 * (n1 + n2 + 1) / 12.0)
	if stdU == 0 {
		return 1.0
	}

	z := (u - meanU) / stdU
	return 2.0 * normalCDF(-math.Abs(z))
}

// ranks returns the tie-averaged rank of every element of a followed by b
func ranks(a, b []float64) []float64 {
	combined := append(append(make([]float64, 0, len(a)+len(b)), a...), b...)

	idx := make([]int, len(combined))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return combined[idx[i]] < combined[idx[j]] })

	out := make([]float64, len(combined))
	for i := 0; i < len(idx); {
		j := i
		for j < len(idx) && combined[idx[j]] == combined[idx[i]] {
			j++
		}
		avg := float64(i+j+1) / 2.0
		for k := i; k < j; k++ {
			out[idx[k]] = avg
		}
		i = j
	}
	return out
}

func normalCDF(z float64) float64 {
	return 0.5 * (1.0 + math.Erf(z/math.Sqrt2))
}
