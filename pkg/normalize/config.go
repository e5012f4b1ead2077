// Package normalize converts raw evaluation metrics into normalized 0-1
// scores and aggregates them into per-run quality and risk scores.
// Normalization behavior is configured globally with optional per-workflow
// overrides.
package normalize

// Defaults applied when no configuration is provided.
const (
	DefaultLatencyP99TargetMS = 5000

	// Shrinkage parameters for orchestration-level quality.
	DefaultShrinkageK     = 50
	DefaultShrinkagePrior = 0.75
)

// QualityWeights are the component weights of the composite run quality
// score. The built-in defaults sum to 1.0.
type QualityWeights struct {
	Faithfulness  float64 `yaml:"faithfulness" json:"faithfulness"`
	Coverage      float64 `yaml:"coverage" json:"coverage"`
	Confidence    float64 `yaml:"confidence" json:"confidence"`
	Hallucination float64 `yaml:"hallucination" json:"hallucination"`
	Latency       float64 `yaml:"latency" json:"latency"`
}

// Config controls metric normalization and score aggregation.
type Config struct {
	// LatencyP99TargetMS is the target latency treated as the 99th
	// percentile for log-scaled latency normalization.
	LatencyP99TargetMS float64 `yaml:"latency_p99_target_ms" json:"latency_p99_target_ms"`

	QualityWeights QualityWeights `yaml:"quality_weights" json:"quality_weights"`
}

// Override is a per-workflow partial configuration. Only non-nil fields
// replace the global value; the merge is shallow, so a quality_weights
// override replaces the whole weight block.
type Override struct {
	LatencyP99TargetMS *float64        `yaml:"latency_p99_target_ms" json:"latency_p99_target_ms,omitempty"`
	QualityWeights     *QualityWeights `yaml:"quality_weights" json:"quality_weights,omitempty"`
}

// DefaultConfig returns the built-in global normalization config.
func DefaultConfig() Config {
	return Config{
		LatencyP99TargetMS: DefaultLatencyP99TargetMS,
		QualityWeights: QualityWeights{
			Faithfulness:  0.35,
			Coverage:      0.20,
			Confidence:    0.15,
			Hallucination: 0.20,
			Latency:       0.10,
		},
	}
}

// Resolver resolves the effective config for a workflow by shallow-merging
// the workflow override onto the global default.
type Resolver struct {
	global    Config
	overrides map[string]Override
}

// NewResolver creates a Resolver. overrides may be nil.
func NewResolver(global Config, overrides map[string]Override) *Resolver {
	return &Resolver{global: global, overrides: overrides}
}

// ForWorkflow returns the effective config for the given workflow.
func (r *Resolver) ForWorkflow(workflowID string) Config {
	cfg := r.global
	ov, ok := r.overrides[workflowID]
	if !ok {
		return cfg
	}
	if ov.LatencyP99TargetMS != nil {
		cfg.LatencyP99TargetMS = *ov.LatencyP99TargetMS
	}
	if ov.QualityWeights != nil {
		cfg.QualityWeights = *ov.QualityWeights
	}
	return cfg
}
