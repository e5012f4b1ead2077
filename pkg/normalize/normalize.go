package normalize

import "math"

// Metrics are the raw metrics reported by an AgentRunCompleted event. Nil
// means the evaluator did not report the metric.
type Metrics struct {
	LatencyMS         *float64
	Faithfulness      *float64
	HallucinationFlag *bool
	Coverage          *float64
	Confidence        *float64
}

// Normalized holds the 0-1 normalized forms. A nil field mirrors a missing
// raw metric.
type Normalized struct {
	LatencyNorm       *float64
	FaithfulnessNorm  *float64
	HallucinationNorm *float64
	CoverageNorm      *float64
	ConfidenceNorm    *float64
}

// Clamp01 clamps x into [0, 1].
func Clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Normalize converts raw metrics into their normalized forms:
//
//   - latency_norm = clamp01(1 − log1p(max(0, latency)) / log1p(max(1, target)))
//   - 0-1 metrics are clamped; missing stays missing
//   - hallucination_norm is 1 when the flag is false, 0 when true
func Normalize(m Metrics, cfg Config) Normalized {
	var out Normalized

	if m.LatencyMS != nil {
		target := math.Max(1, cfg.LatencyP99TargetMS)
		lat := math.Max(0, *m.LatencyMS)
		v := Clamp01(1 - math.Log1p(lat)/math.Log1p(target))
		out.LatencyNorm = &v
	}
	if m.Faithfulness != nil {
		v := Clamp01(*m.Faithfulness)
		out.FaithfulnessNorm = &v
	}
	if m.Coverage != nil {
		v := Clamp01(*m.Coverage)
		out.CoverageNorm = &v
	}
	if m.Confidence != nil {
		v := Clamp01(*m.Confidence)
		out.ConfidenceNorm = &v
	}
	if m.HallucinationFlag != nil {
		v := 1.0
		if *m.HallucinationFlag {
			v = 0.0
		}
		out.HallucinationNorm = &v
	}
	return out
}

// QualityScore computes the weighted run quality score over the components
// that are present, re-normalizing the present-component weights to sum to
// 1. Returns nil when no weighted component is present.
func QualityScore(n Normalized, w QualityWeights) *float64 {
	type component struct {
		value  *float64
		weight float64
	}
	components := []component{
		{n.FaithfulnessNorm, w.Faithfulness},
		{n.CoverageNorm, w.Coverage},
		{n.ConfidenceNorm, w.Confidence},
		{n.HallucinationNorm, w.Hallucination},
		{n.LatencyNorm, w.Latency},
	}

	var weightSum, weighted float64
	for _, c := range components {
		if c.value == nil {
			continue
		}
		weightSum += c.weight
		weighted += c.weight * *c.value
	}
	if weightSum == 0 {
		return nil
	}
	score := Clamp01(weighted / weightSum)
	return &score
}

// RiskScore is clamp01(1 − faithfulness_norm · hallucination_norm), with
// missing components treated as 1 (no evidence of risk).
func RiskScore(n Normalized) float64 {
	f := 1.0
	if n.FaithfulnessNorm != nil {
		f = *n.FaithfulnessNorm
	}
	h := 1.0
	if n.HallucinationNorm != nil {
		h = *n.HallucinationNorm
	}
	return Clamp01(1 - f*h)
}

// ShrunkQuality pulls a group mean toward the prior with α = n/(n+k).
// Non-positive k falls back to DefaultShrinkageK.
func ShrunkQuality(mean float64, n int, prior, k float64) float64 {
	if k <= 0 {
		k = DefaultShrinkageK
	}
	alpha := float64(n) / (float64(n) + k)
	return alpha*mean + (1-alpha)*prior
}
