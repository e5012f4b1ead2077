package stats

import (
	"math"
	"sort"
)

// psiEpsilon is the floor applied to per-bin probabilities so that empty bins
// do not produce infinite log-ratios.
const psiEpsilon = 1e-6

// PSI computes the Population Stability Index between a baseline and a
// current sample. Bin edges are the baseline quantiles at nBins+1 evenly
// spaced probabilities, deduplicated. A value lands in the bin with the
// largest edge ≤ x; the final bin is closed on both sides. Each bin
// contributes (p_c − p_b)·ln(p_c/p_b) with both probabilities floored at
// 1e-6.
func PSI(baseline, current []float64, nBins int) float64 {
	if len(baseline) == 0 || len(current) == 0 || nBins < 1 {
		return 0
	}

	sortedBase := make([]float64, len(baseline))
	copy(sortedBase, baseline)
	sort.Float64s(sortedBase)

	edges := make([]float64, 0, nBins+1)
	for i := 0; i <= nBins; i++ {
		e := quantileSorted(sortedBase, float64(i)/float64(nBins))
		if len(edges) == 0 || e > edges[len(edges)-1] {
			edges = append(edges, e)
		}
	}
	bins := len(edges) - 1
	if bins < 1 {
		// Constant baseline collapses every edge; one degenerate bin.
		return 0
	}

	baseCounts := binCounts(baseline, edges)
	curCounts := binCounts(current, edges)

	var psi float64
	for i := 0; i < bins; i++ {
		pb := math.Max(float64(baseCounts[i])/float64(len(baseline)), psiEpsilon)
		pc := math.Max(float64(curCounts[i])/float64(len(current)), psiEpsilon)
		psi += (pc - pb) * math.Log(pc/pb)
	}
	return psi
}

// binCounts assigns each value to the bin with the largest edge ≤ x, clamped
// to the valid bin range so out-of-range values land in the boundary bins.
func binCounts(xs []float64, edges []float64) []int {
	bins := len(edges) - 1
	counts := make([]int, bins)
	for _, x := range xs {
		idx := sort.SearchFloat64s(edges, x)
		// SearchFloat64s finds the first edge ≥ x; step back to the last
		// edge ≤ x unless x matched exactly.
		if idx == len(edges) || (idx > 0 && edges[idx] != x) {
			idx--
		}
		if idx < 0 {
			idx = 0
		}
		if idx >= bins {
			idx = bins - 1
		}
		counts[idx]++
	}
	return counts
}

// Wasserstein1D computes the 1-dimensional Wasserstein distance between two
// samples of possibly unequal length by sampling min(n_a, n_b) quantile
// positions from each sorted sample and averaging absolute differences.
func Wasserstein1D(a, b []float64) float64 {
	na := len(a)
	nb := len(b)
	if na == 0 || nb == 0 {
		return 0
	}

	sa := make([]float64, na)
	copy(sa, a)
	sort.Float64s(sa)
	sb := make([]float64, nb)
	copy(sb, b)
	sort.Float64s(sb)

	n := na
	if nb < n {
		n = nb
	}
	var sum float64
	for i := 0; i < n; i++ {
		ia := i * na / n
		ib := i * nb / n
		sum += math.Abs(sa[ia] - sb[ib])
	}
	return sum / float64(n)
}
