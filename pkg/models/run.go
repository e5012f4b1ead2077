package models

import "time"

// OrchestrationRunStatus is the lifecycle state of an orchestration run.
type OrchestrationRunStatus string

const (
	RunStatusRunning OrchestrationRunStatus = "running"
	RunStatusSuccess OrchestrationRunStatus = "success"
	RunStatusError   OrchestrationRunStatus = "error"
)

// OrchestrationRun is one end-to-end workflow execution. Any event type that
// references a run may create it first as a placeholder; later events fill
// identity fields with the first non-null observation.
type OrchestrationRun struct {
	TenantID            string                 `json:"tenant_id"`
	RunID               string                 `json:"run_id"`
	WorkflowID          string                 `json:"workflow_id"`
	QueryID             string                 `json:"query_id"`
	Query               *string                `json:"query,omitempty"`
	RequestTimestamp    *time.Time             `json:"request_timestamp,omitempty"`
	Status              OrchestrationRunStatus `json:"status"`
	StartedAt           *time.Time             `json:"started_at,omitempty"`
	CompletedAt         *time.Time             `json:"completed_at,omitempty"`
	TotalLatencyMS      *float64               `json:"total_latency_ms,omitempty"`
	ErrorCode           *string                `json:"error_code,omitempty"`
	ErrorMessage        *string                `json:"error_message,omitempty"`
	OrchestratorVersion *string                `json:"orchestrator_version,omitempty"`
	ClientID            *string                `json:"client_id,omitempty"`
	UserID              *string                `json:"user_id,omitempty"`
}

// AgentRun is one invocation of one agent within an orchestration run.
type AgentRun struct {
	TenantID      string     `json:"tenant_id"`
	AgentRunID    string     `json:"agent_run_id"`
	RunID         string     `json:"orchestration_run_id"`
	AgentID       string     `json:"agent_id"`
	AgentVersion  string     `json:"agent_version"`
	Model         *string    `json:"model,omitempty"`
	ConfigHash    *string    `json:"config_hash,omitempty"`
	ParentRunID   *string    `json:"parent_agent_run_id,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	LatencyMS     *float64   `json:"latency_ms,omitempty"`
	OutputSummary *string    `json:"output_summary,omitempty"`
	OutputURI     *string    `json:"output_uri,omitempty"`
}

// EvaluationRecord is the normalized, scored representation of a completed
// agent run. Exactly one exists per agent run.
type EvaluationRecord struct {
	TenantID     string `json:"tenant_id"`
	EvaluationID string `json:"evaluation_id"`
	AgentRunID   string `json:"agent_run_id"`
	RunID        string `json:"orchestration_run_id"`
	WorkflowID   string `json:"workflow_id"`
	AgentID      string `json:"agent_id"`
	AgentVersion string `json:"agent_version"`

	// Raw metrics.
	LatencyMS         *float64 `json:"latency_ms,omitempty"`
	Faithfulness      *float64 `json:"faithfulness,omitempty"`
	HallucinationFlag *bool    `json:"hallucination_flag,omitempty"`
	Coverage          *float64 `json:"coverage,omitempty"`
	Confidence        *float64 `json:"confidence,omitempty"`

	// Normalized forms.
	LatencyNorm       *float64 `json:"latency_norm,omitempty"`
	FaithfulnessNorm  *float64 `json:"faithfulness_norm,omitempty"`
	HallucinationNorm *float64 `json:"hallucination_norm,omitempty"`
	CoverageNorm      *float64 `json:"coverage_norm,omitempty"`
	ConfidenceNorm    *float64 `json:"confidence_norm,omitempty"`

	// Aggregates.
	RunQualityScore *float64 `json:"run_quality_score,omitempty"`
	RiskScore       float64  `json:"risk_score"`

	EvaluatorVersion     string    `json:"evaluator_version"`
	NormalizationVersion string    `json:"normalization_version"`
	WeightingVersion     string    `json:"weighting_version"`
	ScoringTimestamp     time.Time `json:"scoring_timestamp"`
	AnomalyFlag          bool      `json:"anomaly_flag"`
}
