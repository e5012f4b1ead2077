// Package stats provides the deterministic statistical kernels used by the
// analysis jobs: quantiles, robust outlier scores, Welch's t-test,
// Benjamini-Hochberg correction, EWMA/CUSUM change detection, PSI and
// Wasserstein drift measures, and backtest summary statistics.
//
// All kernels are pure functions over float64 slices. Degenerate inputs
// (empty samples, zero variance) return neutral values instead of failing;
// callers decide whether a group has enough history to be worth testing.
package stats

import (
	"math"
	"sort"
)

// DefaultAnnualization is the annualization factor applied by Sharpe when the
// caller does not override it. It is used for every horizon.
const DefaultAnnualization = 252

// Mean returns the arithmetic mean, or 0 for an empty sample.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// SampleStdDev returns the sample (n-1) standard deviation, or 0 when the
// sample has fewer than two elements.
func SampleStdDev(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

// Quantile returns the q-th quantile (0 ≤ q ≤ 1) of the sample using linear
// interpolation on the sorted values. q=0 returns the minimum, q=1 the
// maximum. Returns 0 for an empty sample.
func Quantile(xs []float64, q float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, xs)
	sort.Float64s(sorted)
	return quantileSorted(sorted, q)
}

// quantileSorted is Quantile over an already-sorted sample.
func quantileSorted(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[n-1]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Median is Quantile at q=0.5.
func Median(xs []float64) float64 {
	return Quantile(xs, 0.5)
}

// MAD returns the median absolute deviation from the median.
func MAD(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	med := Median(xs)
	devs := make([]float64, len(xs))
	for i, x := range xs {
		devs[i] = math.Abs(x - med)
	}
	return Median(devs)
}

// RobustZ returns the MAD-based robust z-score of x against the sample:
// 0.6745·(x − median)/MAD. Defined as 0 when MAD is 0.
func RobustZ(x float64, xs []float64) float64 {
	mad := MAD(xs)
	if mad == 0 {
		return 0
	}
	return 0.6745 * (x - Median(xs)) / mad
}

// ZScore returns the classic (x − mean)/stddev score, or 0 when the sample
// stddev is 0.
func ZScore(x float64, xs []float64) float64 {
	sd := SampleStdDev(xs)
	if sd == 0 {
		return 0
	}
	return (x - Mean(xs)) / sd
}

// IQRBounds returns the Tukey fence [Q1 − k·IQR, Q3 + k·IQR].
func IQRBounds(xs []float64, k float64) (lo, hi float64) {
	q1 := Quantile(xs, 0.25)
	q3 := Quantile(xs, 0.75)
	iqr := q3 - q1
	return q1 - k*iqr, q3 + k*iqr
}

// Pearson returns the Pearson correlation coefficient of the paired samples,
// or 0 when the samples differ in length, are shorter than two elements, or
// either side has zero variance.
func Pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n != len(ys) || n < 2 {
		return 0
	}
	mx := Mean(xs)
	my := Mean(ys)
	var sxy, sxx, syy float64
	for i := 0; i < n; i++ {
		dx := xs[i] - mx
		dy := ys[i] - my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	return sxy / math.Sqrt(sxx*syy)
}

// Sharpe returns mean/stddev · √annualization. A non-positive annualization
// falls back to DefaultAnnualization. Returns 0 on zero variance.
func Sharpe(returns []float64, annualization float64) float64 {
	if annualization <= 0 {
		annualization = DefaultAnnualization
	}
	sd := SampleStdDev(returns)
	if sd == 0 {
		return 0
	}
	return Mean(returns) / sd * math.Sqrt(annualization)
}

// TStatMean returns mean/(stddev/√n), the t-statistic of the sample mean
// against zero. Returns 0 on degenerate inputs.
func TStatMean(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	sd := SampleStdDev(xs)
	if sd == 0 {
		return 0
	}
	return Mean(xs) / (sd / math.Sqrt(float64(n)))
}
