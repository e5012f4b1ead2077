package stats

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPSI(t *testing.T) {
	t.Run("identical distributions are zero", func(t *testing.T) {
		xs := make([]float64, 500)
		r := rand.New(rand.NewSource(1))
		for i := range xs {
			xs[i] = r.NormFloat64()*0.05 + 0.85
		}
		assert.InDelta(t, 0.0, PSI(xs, xs, 10), 1e-6)
	})

	t.Run("shifted distribution is severe", func(t *testing.T) {
		r := rand.New(rand.NewSource(2))
		base := make([]float64, 200)
		cur := make([]float64, 60)
		for i := range base {
			base[i] = r.NormFloat64()*0.05 + 0.85
		}
		for i := range cur {
			cur[i] = r.NormFloat64()*0.06 + 0.65
		}
		assert.GreaterOrEqual(t, PSI(base, cur, 10), 0.35)
	})

	t.Run("mild shift stays below identical-but-large drift", func(t *testing.T) {
		r := rand.New(rand.NewSource(3))
		base := make([]float64, 400)
		mild := make([]float64, 400)
		wild := make([]float64, 400)
		for i := range base {
			base[i] = r.NormFloat64()
			mild[i] = r.NormFloat64() + 0.1
			wild[i] = r.NormFloat64() + 3
		}
		assert.Less(t, PSI(base, mild, 10), PSI(base, wild, 10))
	})

	t.Run("degenerate inputs", func(t *testing.T) {
		assert.Equal(t, 0.0, PSI(nil, []float64{1}, 10))
		assert.Equal(t, 0.0, PSI([]float64{1}, nil, 10))
		// Constant baseline collapses all edges.
		assert.Equal(t, 0.0, PSI([]float64{1, 1, 1, 1}, []float64{2, 2}, 10))
	})
}

func TestWasserstein1D(t *testing.T) {
	t.Run("identical samples", func(t *testing.T) {
		xs := []float64{1, 2, 3, 4, 5}
		assert.InDelta(t, 0.0, Wasserstein1D(xs, xs), 1e-12)
	})

	t.Run("constant offset", func(t *testing.T) {
		a := []float64{1, 2, 3, 4}
		b := []float64{2, 3, 4, 5}
		assert.InDelta(t, 1.0, Wasserstein1D(a, b), 1e-12)
	})

	t.Run("unequal lengths", func(t *testing.T) {
		a := []float64{0, 0, 0, 0, 0, 0}
		b := []float64{1, 1, 1}
		assert.InDelta(t, 1.0, Wasserstein1D(a, b), 1e-12)
	})

	t.Run("order independent", func(t *testing.T) {
		a := []float64{3, 1, 2}
		b := []float64{9, 7, 8}
		assert.InDelta(t, 6.0, Wasserstein1D(a, b), 1e-12)
	})

	t.Run("empty side", func(t *testing.T) {
		assert.Equal(t, 0.0, Wasserstein1D(nil, []float64{1}))
	})
}
