package stats

import "math"

// EWMA returns the exponentially weighted moving average series:
// e_0 = x_0, e_i = λ·x_i + (1−λ)·e_{i−1}.
func EWMA(xs []float64, lambda float64) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 {
		return out
	}
	out[0] = xs[0]
	for i := 1; i < len(xs); i++ {
		out[i] = lambda*xs[i] + (1-lambda)*out[i-1]
	}
	return out
}

// CUSUMResult holds the two-sided cumulative sums and the per-point alarm
// state.
type CUSUMResult struct {
	SPos  []float64
	SNeg  []float64
	Alarm []bool
}

// CUSUM runs a two-sided CUSUM on deviations from target with slack k and
// threshold h:
//
//	S⁺_i = max(0, S⁺_{i−1} + (x_i − target − k))
//	S⁻_i = min(0, S⁻_{i−1} + (x_i − target + k))
//
// Alarm[i] is true when S⁺_i > h or |S⁻_i| > h.
func CUSUM(xs []float64, target, k, h float64) CUSUMResult {
	n := len(xs)
	res := CUSUMResult{
		SPos:  make([]float64, n),
		SNeg:  make([]float64, n),
		Alarm: make([]bool, n),
	}
	var sPos, sNeg float64
	for i, x := range xs {
		sPos = math.Max(0, sPos+(x-target-k))
		sNeg = math.Min(0, sNeg+(x-target+k))
		res.SPos[i] = sPos
		res.SNeg[i] = sNeg
		res.Alarm[i] = sPos > h || math.Abs(sNeg) > h
	}
	return res
}
