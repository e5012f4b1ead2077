package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agentlens/agentlens/pkg/models"
)

// EnsureOrchestrationRun creates a placeholder run row if none exists.
// Any event referencing a run may arrive first, so every materializer
// calls this before touching run state.
func (s *Store) EnsureOrchestrationRun(ctx context.Context, tenantID, runID, workflowID, queryID string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO orchestration_runs (tenant_id, run_id, workflow_id, query_id, status)
		VALUES ($1, $2, $3, $4, 'running')
		ON CONFLICT (tenant_id, run_id) DO NOTHING`,
		tenantID, runID, workflowID, queryID)
	return err
}

// ApplyRunStarted merges OrchestrationRunStarted fields into the run.
// Identity fields keep their first non-null observation; started_at
// keeps the earliest timestamp seen.
func (s *Store) ApplyRunStarted(ctx context.Context, run *models.OrchestrationRun) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO orchestration_runs
			(tenant_id, run_id, workflow_id, query_id, query, request_timestamp,
			 status, started_at, orchestrator_version, client_id, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, 'running', $7, $8, $9, $10)
		ON CONFLICT (tenant_id, run_id) DO UPDATE SET
			query                = COALESCE(orchestration_runs.query, EXCLUDED.query),
			request_timestamp    = COALESCE(orchestration_runs.request_timestamp, EXCLUDED.request_timestamp),
			started_at           = LEAST(COALESCE(orchestration_runs.started_at, EXCLUDED.started_at), EXCLUDED.started_at),
			orchestrator_version = COALESCE(orchestration_runs.orchestrator_version, EXCLUDED.orchestrator_version),
			client_id            = COALESCE(orchestration_runs.client_id, EXCLUDED.client_id),
			user_id              = COALESCE(orchestration_runs.user_id, EXCLUDED.user_id)`,
		run.TenantID, run.RunID, run.WorkflowID, run.QueryID, run.Query,
		run.RequestTimestamp, run.StartedAt, run.OrchestratorVersion,
		run.ClientID, run.UserID)
	return err
}

// ApplyRunCompleted merges OrchestrationRunCompleted fields into the run.
// Terminal status wins over running; a second completion keeps the first
// terminal observation.
func (s *Store) ApplyRunCompleted(ctx context.Context, run *models.OrchestrationRun) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO orchestration_runs
			(tenant_id, run_id, workflow_id, query_id, status, completed_at,
			 total_latency_ms, error_code, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, run_id) DO UPDATE SET
			status           = CASE WHEN orchestration_runs.status = 'running'
			                        THEN EXCLUDED.status ELSE orchestration_runs.status END,
			completed_at     = COALESCE(orchestration_runs.completed_at, EXCLUDED.completed_at),
			total_latency_ms = COALESCE(orchestration_runs.total_latency_ms, EXCLUDED.total_latency_ms),
			error_code       = COALESCE(orchestration_runs.error_code, EXCLUDED.error_code),
			error_message    = COALESCE(orchestration_runs.error_message, EXCLUDED.error_message)`,
		run.TenantID, run.RunID, run.WorkflowID, run.QueryID, run.Status,
		run.CompletedAt, run.TotalLatencyMS, run.ErrorCode, run.ErrorMessage)
	return err
}

// GetOrchestrationRun fetches one run.
func (s *Store) GetOrchestrationRun(ctx context.Context, tenantID, runID string) (*models.OrchestrationRun, error) {
	var run models.OrchestrationRun
	err := s.db.QueryRow(ctx, `
		SELECT tenant_id, run_id, workflow_id, query_id, query, request_timestamp,
		       status, started_at, completed_at, total_latency_ms, error_code,
		       error_message, orchestrator_version, client_id, user_id
		FROM orchestration_runs
		WHERE tenant_id = $1 AND run_id = $2`, tenantID, runID).
		Scan(&run.TenantID, &run.RunID, &run.WorkflowID, &run.QueryID, &run.Query,
			&run.RequestTimestamp, &run.Status, &run.StartedAt, &run.CompletedAt,
			&run.TotalLatencyMS, &run.ErrorCode, &run.ErrorMessage,
			&run.OrchestratorVersion, &run.ClientID, &run.UserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching orchestration run: %w", err)
	}
	return &run, nil
}

// ApplyAgentRunStarted merges AgentRunStarted fields into the agent run.
func (s *Store) ApplyAgentRunStarted(ctx context.Context, ar *models.AgentRun) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO agent_runs
			(tenant_id, agent_run_id, run_id, agent_id, agent_version, model,
			 config_hash, parent_agent_run_id, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, agent_run_id) DO UPDATE SET
			model               = COALESCE(agent_runs.model, EXCLUDED.model),
			config_hash         = COALESCE(agent_runs.config_hash, EXCLUDED.config_hash),
			parent_agent_run_id = COALESCE(agent_runs.parent_agent_run_id, EXCLUDED.parent_agent_run_id),
			started_at          = LEAST(COALESCE(agent_runs.started_at, EXCLUDED.started_at), EXCLUDED.started_at)`,
		ar.TenantID, ar.AgentRunID, ar.RunID, ar.AgentID, ar.AgentVersion,
		ar.Model, ar.ConfigHash, ar.ParentRunID, ar.StartedAt)
	return err
}

// ApplyAgentRunCompleted merges AgentRunCompleted fields into the agent run.
func (s *Store) ApplyAgentRunCompleted(ctx context.Context, ar *models.AgentRun) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO agent_runs
			(tenant_id, agent_run_id, run_id, agent_id, agent_version, model,
			 config_hash, parent_agent_run_id, completed_at, latency_ms,
			 output_summary, output_uri)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tenant_id, agent_run_id) DO UPDATE SET
			model               = COALESCE(agent_runs.model, EXCLUDED.model),
			config_hash         = COALESCE(agent_runs.config_hash, EXCLUDED.config_hash),
			parent_agent_run_id = COALESCE(agent_runs.parent_agent_run_id, EXCLUDED.parent_agent_run_id),
			completed_at        = COALESCE(agent_runs.completed_at, EXCLUDED.completed_at),
			latency_ms          = COALESCE(agent_runs.latency_ms, EXCLUDED.latency_ms),
			output_summary      = COALESCE(agent_runs.output_summary, EXCLUDED.output_summary),
			output_uri          = COALESCE(agent_runs.output_uri, EXCLUDED.output_uri)`,
		ar.TenantID, ar.AgentRunID, ar.RunID, ar.AgentID, ar.AgentVersion,
		ar.Model, ar.ConfigHash, ar.ParentRunID, ar.CompletedAt, ar.LatencyMS,
		ar.OutputSummary, ar.OutputURI)
	return err
}

// InsertEvaluationRecord writes the scored record for an agent run.
// Replays are ignored: the first record per agent run wins.
func (s *Store) InsertEvaluationRecord(ctx context.Context, rec *models.EvaluationRecord) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO evaluation_records
			(tenant_id, evaluation_id, agent_run_id, run_id, workflow_id,
			 agent_id, agent_version, latency_ms, faithfulness,
			 hallucination_flag, coverage, confidence, latency_norm,
			 faithfulness_norm, hallucination_norm, coverage_norm,
			 confidence_norm, run_quality_score, risk_score,
			 evaluator_version, normalization_version, weighting_version,
			 scoring_timestamp, anomaly_flag)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		ON CONFLICT (tenant_id, agent_run_id) DO NOTHING`,
		rec.TenantID, rec.EvaluationID, rec.AgentRunID, rec.RunID, rec.WorkflowID,
		rec.AgentID, rec.AgentVersion, rec.LatencyMS, rec.Faithfulness,
		rec.HallucinationFlag, rec.Coverage, rec.Confidence, rec.LatencyNorm,
		rec.FaithfulnessNorm, rec.HallucinationNorm, rec.CoverageNorm,
		rec.ConfidenceNorm, rec.RunQualityScore, rec.RiskScore,
		rec.EvaluatorVersion, rec.NormalizationVersion, rec.WeightingVersion,
		rec.ScoringTimestamp, rec.AnomalyFlag)
	if err != nil {
		return false, fmt.Errorf("inserting evaluation record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetAnomalyFlag marks an evaluation record anomalous.
func (s *Store) SetAnomalyFlag(ctx context.Context, tenantID, evaluationID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE evaluation_records SET anomaly_flag = TRUE
		WHERE tenant_id = $1 AND evaluation_id = $2`, tenantID, evaluationID)
	return err
}

// EvaluationWindow lists one metric's values for a group inside a time
// window, ordered by scoring time. Used by the significance job.
func (s *Store) EvaluationWindow(ctx context.Context, tenantID, workflowID, agentID, agentVersion, metricColumn string, from, to time.Time) ([]float64, error) {
	col, ok := evaluationMetricColumns[metricColumn]
	if !ok {
		return nil, fmt.Errorf("unknown evaluation metric %q", metricColumn)
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+col+`
		FROM evaluation_records
		WHERE tenant_id = $1 AND workflow_id = $2 AND agent_id = $3
		  AND agent_version = $4
		  AND scoring_timestamp >= $5 AND scoring_timestamp < $6
		  AND `+col+` IS NOT NULL
		ORDER BY scoring_timestamp`,
		tenantID, workflowID, agentID, agentVersion, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying evaluation window: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// evaluationMetricColumns whitelists the columns jobs may select by
// name; anything else is rejected before reaching SQL.
var evaluationMetricColumns = map[string]string{
	"latency_ms":        "latency_ms",
	"faithfulness":      "faithfulness",
	"coverage":          "coverage",
	"confidence":        "confidence",
	"quality_score":     "run_quality_score",
	"run_quality_score": "run_quality_score",
	"risk_score":        "risk_score",
}

// EvaluationGroup identifies one (workflow, agent, version) scoring group.
type EvaluationGroup struct {
	TenantID     string
	WorkflowID   string
	AgentID      string
	AgentVersion string
}

// ActiveEvaluationGroups lists groups with evaluation records inside the
// lookback window, optionally filtered to one tenant.
func (s *Store) ActiveEvaluationGroups(ctx context.Context, tenantID string, since time.Time) ([]EvaluationGroup, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT tenant_id, workflow_id, agent_id, agent_version
		FROM evaluation_records
		WHERE scoring_timestamp >= $1
		  AND ($2 = '' OR tenant_id = $2)
		ORDER BY tenant_id, workflow_id, agent_id, agent_version`,
		since, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing evaluation groups: %w", err)
	}
	defer rows.Close()

	var out []EvaluationGroup
	for rows.Next() {
		var g EvaluationGroup
		if err := rows.Scan(&g.TenantID, &g.WorkflowID, &g.AgentID, &g.AgentVersion); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// RecentEvaluations lists the newest records for a group, newest first.
func (s *Store) RecentEvaluations(ctx context.Context, g EvaluationGroup, since time.Time, limit int) ([]models.EvaluationRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT tenant_id, evaluation_id, agent_run_id, run_id, workflow_id,
		       agent_id, agent_version, latency_ms, faithfulness,
		       hallucination_flag, coverage, confidence, latency_norm,
		       faithfulness_norm, hallucination_norm, coverage_norm,
		       confidence_norm, run_quality_score, risk_score,
		       evaluator_version, normalization_version, weighting_version,
		       scoring_timestamp, anomaly_flag
		FROM evaluation_records
		WHERE tenant_id = $1 AND workflow_id = $2 AND agent_id = $3
		  AND agent_version = $4 AND scoring_timestamp >= $5
		ORDER BY scoring_timestamp DESC
		LIMIT $6`,
		g.TenantID, g.WorkflowID, g.AgentID, g.AgentVersion, since, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent evaluations: %w", err)
	}
	defer rows.Close()

	var out []models.EvaluationRecord
	for rows.Next() {
		var r models.EvaluationRecord
		if err := rows.Scan(&r.TenantID, &r.EvaluationID, &r.AgentRunID, &r.RunID,
			&r.WorkflowID, &r.AgentID, &r.AgentVersion, &r.LatencyMS,
			&r.Faithfulness, &r.HallucinationFlag, &r.Coverage, &r.Confidence,
			&r.LatencyNorm, &r.FaithfulnessNorm, &r.HallucinationNorm,
			&r.CoverageNorm, &r.ConfidenceNorm, &r.RunQualityScore, &r.RiskScore,
			&r.EvaluatorVersion, &r.NormalizationVersion, &r.WeightingVersion,
			&r.ScoringTimestamp, &r.AnomalyFlag); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
