package normalize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fptr(v float64) *float64 { return &v }
func bptr(v bool) *bool       { return &v }

func TestNormalize(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("latency log scaling", func(t *testing.T) {
		n := Normalize(Metrics{LatencyMS: fptr(0)}, cfg)
		require.NotNil(t, n.LatencyNorm)
		assert.InDelta(t, 1.0, *n.LatencyNorm, 1e-9)

		n = Normalize(Metrics{LatencyMS: fptr(5000)}, cfg)
		require.NotNil(t, n.LatencyNorm)
		assert.InDelta(t, 0.0, *n.LatencyNorm, 1e-6)

		n = Normalize(Metrics{LatencyMS: fptr(25000)}, cfg)
		require.NotNil(t, n.LatencyNorm)
		assert.Equal(t, 0.0, *n.LatencyNorm)
	})

	t.Run("negative latency treated as zero", func(t *testing.T) {
		n := Normalize(Metrics{LatencyMS: fptr(-100)}, cfg)
		require.NotNil(t, n.LatencyNorm)
		assert.InDelta(t, 1.0, *n.LatencyNorm, 1e-9)
	})

	t.Run("unit metrics clamped", func(t *testing.T) {
		n := Normalize(Metrics{
			Faithfulness: fptr(1.2),
			Coverage:     fptr(-0.3),
			Confidence:   fptr(0.5),
		}, cfg)
		assert.Equal(t, 1.0, *n.FaithfulnessNorm)
		assert.Equal(t, 0.0, *n.CoverageNorm)
		assert.Equal(t, 0.5, *n.ConfidenceNorm)
	})

	t.Run("missing stays missing", func(t *testing.T) {
		n := Normalize(Metrics{}, cfg)
		assert.Nil(t, n.LatencyNorm)
		assert.Nil(t, n.FaithfulnessNorm)
		assert.Nil(t, n.HallucinationNorm)
		assert.Nil(t, n.CoverageNorm)
		assert.Nil(t, n.ConfidenceNorm)
	})

	t.Run("hallucination flag", func(t *testing.T) {
		n := Normalize(Metrics{HallucinationFlag: bptr(false)}, cfg)
		assert.Equal(t, 1.0, *n.HallucinationNorm)
		n = Normalize(Metrics{HallucinationFlag: bptr(true)}, cfg)
		assert.Equal(t, 0.0, *n.HallucinationNorm)
	})
}

func TestQualityScore(t *testing.T) {
	w := DefaultConfig().QualityWeights

	t.Run("all components present and perfect", func(t *testing.T) {
		n := Normalized{
			LatencyNorm:       fptr(1),
			FaithfulnessNorm:  fptr(1),
			HallucinationNorm: fptr(1),
			CoverageNorm:      fptr(1),
			ConfidenceNorm:    fptr(1),
		}
		score := QualityScore(n, w)
		require.NotNil(t, score)
		assert.InDelta(t, 1.0, *score, 1e-9)
	})

	t.Run("present weights renormalized", func(t *testing.T) {
		// Only faithfulness (0.35) and coverage (0.20) present.
		n := Normalized{
			FaithfulnessNorm: fptr(1.0),
			CoverageNorm:     fptr(0.0),
		}
		score := QualityScore(n, w)
		require.NotNil(t, score)
		assert.InDelta(t, 0.35/(0.35+0.20), *score, 1e-9)
	})

	t.Run("no components yields nil", func(t *testing.T) {
		assert.Nil(t, QualityScore(Normalized{}, w))
	})

	t.Run("zero weights yield nil", func(t *testing.T) {
		n := Normalized{FaithfulnessNorm: fptr(0.9)}
		assert.Nil(t, QualityScore(n, QualityWeights{}))
	})

	t.Run("score within unit interval", func(t *testing.T) {
		n := Normalized{
			FaithfulnessNorm:  fptr(0.7),
			HallucinationNorm: fptr(1.0),
			LatencyNorm:       fptr(0.4),
		}
		score := QualityScore(n, w)
		require.NotNil(t, score)
		assert.GreaterOrEqual(t, *score, 0.0)
		assert.LessOrEqual(t, *score, 1.0)
	})
}

func TestRiskScore(t *testing.T) {
	t.Run("missing components are benign", func(t *testing.T) {
		assert.Equal(t, 0.0, RiskScore(Normalized{}))
	})

	t.Run("hallucination dominates", func(t *testing.T) {
		n := Normalized{
			FaithfulnessNorm:  fptr(1.0),
			HallucinationNorm: fptr(0.0),
		}
		assert.Equal(t, 1.0, RiskScore(n))
	})

	t.Run("partial faithfulness", func(t *testing.T) {
		n := Normalized{
			FaithfulnessNorm:  fptr(0.6),
			HallucinationNorm: fptr(1.0),
		}
		assert.InDelta(t, 0.4, RiskScore(n), 1e-9)
	})
}

func TestShrunkQuality(t *testing.T) {
	t.Run("no observations returns prior", func(t *testing.T) {
		assert.InDelta(t, 0.75, ShrunkQuality(0.2, 0, 0.75, 50), 1e-9)
	})

	t.Run("large n dominates", func(t *testing.T) {
		got := ShrunkQuality(0.2, 100000, 0.75, 50)
		assert.InDelta(t, 0.2, got, 1e-3)
	})

	t.Run("alpha formula", func(t *testing.T) {
		alpha := 50.0 / 100.0
		want := alpha*0.4 + (1-alpha)*0.75
		assert.InDelta(t, want, ShrunkQuality(0.4, 50, 0.75, 50), 1e-9)
	})

	t.Run("default k on nonpositive", func(t *testing.T) {
		assert.False(t, math.IsNaN(ShrunkQuality(0.5, 10, 0.75, 0)))
		assert.InDelta(t, ShrunkQuality(0.5, 10, 0.75, 50), ShrunkQuality(0.5, 10, 0.75, 0), 1e-12)
	})
}

func TestResolver(t *testing.T) {
	global := DefaultConfig()
	target := 2000.0
	weights := QualityWeights{Faithfulness: 1}
	r := NewResolver(global, map[string]Override{
		"wf-latency": {LatencyP99TargetMS: &target},
		"wf-weights": {QualityWeights: &weights},
	})

	t.Run("no override returns global", func(t *testing.T) {
		assert.Equal(t, global, r.ForWorkflow("other"))
	})

	t.Run("latency override leaves weights", func(t *testing.T) {
		cfg := r.ForWorkflow("wf-latency")
		assert.Equal(t, 2000.0, cfg.LatencyP99TargetMS)
		assert.Equal(t, global.QualityWeights, cfg.QualityWeights)
	})

	t.Run("weights override replaces whole block", func(t *testing.T) {
		cfg := r.ForWorkflow("wf-weights")
		assert.Equal(t, weights, cfg.QualityWeights)
		assert.Equal(t, global.LatencyP99TargetMS, cfg.LatencyP99TargetMS)
	})
}
