package stats

import (
	"errors"
	"math"
)

// ErrSampleTooSmall is returned by WelchTTest when either sample has fewer
// than two elements.
var ErrSampleTooSmall = errors.New("each sample requires at least 2 elements")

// WelchResult holds the outcome of a two-sample Welch's t-test.
type WelchResult struct {
	T          float64 `json:"t"`
	DF         float64 `json:"df"`
	P          float64 `json:"p_value"`
	MeanA      float64 `json:"mean_a"`
	MeanB      float64 `json:"mean_b"`
	VarA       float64 `json:"var_a"`
	VarB       float64 `json:"var_b"`
	EffectSize float64 `json:"effect_size"`
	NA         int     `json:"n_a"`
	NB         int     `json:"n_b"`
}

// WelchTTest runs Welch's unequal-variance t-test on two samples and returns
// the statistic, Welch-Satterthwaite degrees of freedom, and a two-sided
// p-value from the standard-normal approximation.
//
// Boundary semantics: when both standard errors are zero and the means match,
// t=0 and p=1; when the means differ with zero standard error, t=+Inf and
// p=0.
func WelchTTest(a, b []float64) (WelchResult, error) {
	if len(a) < 2 || len(b) < 2 {
		return WelchResult{}, ErrSampleTooSmall
	}

	na := float64(len(a))
	nb := float64(len(b))
	meanA := Mean(a)
	meanB := Mean(b)
	sdA := SampleStdDev(a)
	sdB := SampleStdDev(b)
	varA := sdA * sdA
	varB := sdB * sdB

	res := WelchResult{
		MeanA:      meanA,
		MeanB:      meanB,
		VarA:       varA,
		VarB:       varB,
		EffectSize: meanA - meanB,
		NA:         len(a),
		NB:         len(b),
	}

	seA := varA / na
	seB := varB / nb
	se := math.Sqrt(seA + seB)

	if se == 0 {
		if meanA == meanB {
			res.T = 0
			res.P = 1
			res.DF = na + nb - 2
			return res, nil
		}
		res.T = math.Inf(1)
		res.P = 0
		res.DF = na + nb - 2
		return res, nil
	}

	res.T = (meanA - meanB) / se

	// Welch-Satterthwaite degrees of freedom.
	num := (seA + seB) * (seA + seB)
	den := seA*seA/(na-1) + seB*seB/(nb-1)
	if den == 0 {
		res.DF = na + nb - 2
	} else {
		res.DF = num / den
	}

	// Two-sided p from the standard-normal CDF (large-df approximation).
	res.P = 2 * (1 - normalCDF(math.Abs(res.T)))
	if res.P < 0 {
		res.P = 0
	}
	if res.P > 1 {
		res.P = 1
	}
	return res, nil
}

// normalCDF is the standard-normal cumulative distribution function.
func normalCDF(x float64) float64 {
	return 0.5 * (1 + erf(x/math.Sqrt2))
}

// erf is the Abramowitz & Stegun 7.1.26 rational approximation of the error
// function. Absolute error is below 1.5e-7 over the range of interest.
func erf(x float64) float64 {
	sign := 1.0
	if x < 0 {
		sign = -1.0
		x = -x
	}

	const (
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
		p  = 0.3275911
	)

	t := 1 / (1 + p*x)
	y := 1 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)
	return sign * y
}
