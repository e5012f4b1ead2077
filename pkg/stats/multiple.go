package stats

import "sort"

// BHResult pairs a raw p-value with its Benjamini-Hochberg adjusted q-value.
type BHResult struct {
	P           float64 `json:"p_value"`
	Q           float64 `json:"q_value"`
	Significant bool    `json:"significant"`
}

// BenjaminiHochberg applies the Benjamini-Hochberg step-up procedure to the
// given p-values at level alpha. The result slice is aligned with the input
// order. Walking from the largest p to the smallest, each q-value is
// min(q of the next rank, p·m/rank), which enforces monotonicity; a test is
// significant when q ≤ alpha.
func BenjaminiHochberg(ps []float64, alpha float64) []BHResult {
	m := len(ps)
	results := make([]BHResult, m)
	if m == 0 {
		return results
	}

	order := make([]int, m)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return ps[order[i]] < ps[order[j]] })

	qs := make([]float64, m)
	prev := 1.0
	for rank := m; rank >= 1; rank-- {
		idx := order[rank-1]
		q := ps[idx] * float64(m) / float64(rank)
		if q > prev {
			q = prev
		}
		if q > 1 {
			q = 1
		}
		qs[idx] = q
		prev = q
	}

	for i := range results {
		results[i] = BHResult{
			P:           ps[i],
			Q:           qs[i],
			Significant: qs[i] <= alpha,
		}
	}
	return results
}
