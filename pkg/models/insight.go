package models

import (
	"encoding/json"
	"time"
)

// MetricRollupHourly is one per-hour, per-(workflow, agent, version) group
// statistic row maintained by the rollup builder.
type MetricRollupHourly struct {
	TenantID     string    `json:"tenant_id"`
	WorkflowID   string    `json:"workflow_id"`
	AgentID      string    `json:"agent_id"`
	AgentVersion string    `json:"agent_version"`
	HourBucket   time.Time `json:"hour_bucket"`

	Count int `json:"count"`

	MeanLatencyMS    *float64 `json:"mean_latency_ms,omitempty"`
	StdLatencyMS     *float64 `json:"std_latency_ms,omitempty"`
	P95LatencyMS     *float64 `json:"p95_latency_ms,omitempty"`
	MeanFaithfulness *float64 `json:"mean_faithfulness,omitempty"`
	StdFaithfulness  *float64 `json:"std_faithfulness,omitempty"`
	P05Faithfulness  *float64 `json:"p05_faithfulness,omitempty"`
	P10Faithfulness  *float64 `json:"p10_faithfulness,omitempty"`
	P50Faithfulness  *float64 `json:"p50_faithfulness,omitempty"`
	P95Faithfulness  *float64 `json:"p95_faithfulness,omitempty"`
	MeanQuality      *float64 `json:"mean_quality,omitempty"`
	StdQuality       *float64 `json:"std_quality,omitempty"`
	P05Quality       *float64 `json:"p05_quality,omitempty"`
	P10Quality       *float64 `json:"p10_quality,omitempty"`
	P50Quality       *float64 `json:"p50_quality,omitempty"`
	P95Quality       *float64 `json:"p95_quality,omitempty"`

	AnomalyCount int `json:"anomaly_count"`
}

// Anomaly is one flagged evaluation record.
type Anomaly struct {
	AnomalyID      string          `json:"anomaly_id"`
	TenantID       string          `json:"tenant_id"`
	EvaluationID   string          `json:"evaluation_id"`
	MetricName     string          `json:"metric_name"`
	Method         string          `json:"method"`
	Value          *float64        `json:"value,omitempty"`
	ThresholdLow   *float64        `json:"threshold_low,omitempty"`
	ThresholdHigh  *float64        `json:"threshold_high,omitempty"`
	ZScore         *float64        `json:"z_score,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// PerformanceShift is one detected version-over-version or over-time shift.
type PerformanceShift struct {
	ShiftID          string          `json:"shift_id"`
	TenantID         string          `json:"tenant_id"`
	WorkflowID       string          `json:"workflow_id"`
	AgentID          string          `json:"agent_id"`
	AgentVersion     string          `json:"agent_version"`
	MetricName       string          `json:"metric_name"`
	WindowAStart     time.Time       `json:"window_a_start"`
	WindowAEnd       time.Time       `json:"window_a_end"`
	WindowBStart     time.Time       `json:"window_b_start"`
	WindowBEnd       time.Time       `json:"window_b_end"`
	Method           string          `json:"method"`
	PValue           *float64        `json:"p_value,omitempty"`
	BHAdjustedPValue *float64        `json:"bh_adjusted_p_value,omitempty"`
	EffectSize       *float64        `json:"effect_size,omitempty"`
	Significant      bool            `json:"significant"`
	Details          json.RawMessage `json:"details,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ActionType enumerates the recommended action kinds the jobs emit.
type ActionType string

const (
	ActionIncreaseEvalSampling ActionType = "increase_eval_sampling"
	ActionRequireHumanReview   ActionType = "require_human_review"
	ActionRouteFallback        ActionType = "route_fallback"
	ActionRunInvestigation     ActionType = "run_investigation"
)

// ActionStatus is the lifecycle state of a recommended action.
type ActionStatus string

const (
	ActionStatusOpen      ActionStatus = "open"
	ActionStatusAccepted  ActionStatus = "accepted"
	ActionStatusDismissed ActionStatus = "dismissed"
)

// RecommendedAction is one deduplicated mitigation proposal.
type RecommendedAction struct {
	ActionID   string          `json:"action_id"`
	TenantID   string          `json:"tenant_id"`
	ActionType ActionType      `json:"action_type"`
	Target     json.RawMessage `json:"target"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	DecidedBy  string          `json:"decided_by"`
	Status     ActionStatus    `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}
