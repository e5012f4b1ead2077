package store

import (
	"context"
	"fmt"
	"time"

	"github.com/agentlens/agentlens/pkg/models"
)

// MaterializeHourlyRollups recomputes hourly rollup rows for every group
// with evaluation records inside [from, to). Whole-window recompute
// keeps the rollups idempotent under replays and late events.
func (s *Store) MaterializeHourlyRollups(ctx context.Context, tenantID string, from, to time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO metric_rollups_hourly
			(tenant_id, workflow_id, agent_id, agent_version, hour_bucket,
			 event_count,
			 mean_latency_ms, std_latency_ms, p95_latency_ms,
			 mean_faithfulness, std_faithfulness, p05_faithfulness,
			 p10_faithfulness, p50_faithfulness, p95_faithfulness,
			 mean_quality, std_quality, p05_quality, p10_quality,
			 p50_quality, p95_quality, anomaly_count)
		SELECT tenant_id, workflow_id, agent_id, agent_version,
		       date_trunc('hour', scoring_timestamp) AS hour_bucket,
		       count(*),
		       avg(latency_ms), stddev_samp(latency_ms),
		       percentile_cont(0.95) WITHIN GROUP (ORDER BY latency_ms),
		       avg(faithfulness), stddev_samp(faithfulness),
		       percentile_cont(0.05) WITHIN GROUP (ORDER BY faithfulness),
		       percentile_cont(0.10) WITHIN GROUP (ORDER BY faithfulness),
		       percentile_cont(0.50) WITHIN GROUP (ORDER BY faithfulness),
		       percentile_cont(0.95) WITHIN GROUP (ORDER BY faithfulness),
		       avg(run_quality_score), stddev_samp(run_quality_score),
		       percentile_cont(0.05) WITHIN GROUP (ORDER BY run_quality_score),
		       percentile_cont(0.10) WITHIN GROUP (ORDER BY run_quality_score),
		       percentile_cont(0.50) WITHIN GROUP (ORDER BY run_quality_score),
		       percentile_cont(0.95) WITHIN GROUP (ORDER BY run_quality_score),
		       count(*) FILTER (WHERE anomaly_flag)
		FROM evaluation_records
		WHERE scoring_timestamp >= $1 AND scoring_timestamp < $2
		  AND ($3 = '' OR tenant_id = $3)
		GROUP BY tenant_id, workflow_id, agent_id, agent_version,
		         date_trunc('hour', scoring_timestamp)
		ON CONFLICT (tenant_id, workflow_id, agent_id, agent_version, hour_bucket)
		DO UPDATE SET
			event_count       = EXCLUDED.event_count,
			mean_latency_ms   = EXCLUDED.mean_latency_ms,
			std_latency_ms    = EXCLUDED.std_latency_ms,
			p95_latency_ms    = EXCLUDED.p95_latency_ms,
			mean_faithfulness = EXCLUDED.mean_faithfulness,
			std_faithfulness  = EXCLUDED.std_faithfulness,
			p05_faithfulness  = EXCLUDED.p05_faithfulness,
			p10_faithfulness  = EXCLUDED.p10_faithfulness,
			p50_faithfulness  = EXCLUDED.p50_faithfulness,
			p95_faithfulness  = EXCLUDED.p95_faithfulness,
			mean_quality      = EXCLUDED.mean_quality,
			std_quality       = EXCLUDED.std_quality,
			p05_quality       = EXCLUDED.p05_quality,
			p10_quality       = EXCLUDED.p10_quality,
			p50_quality       = EXCLUDED.p50_quality,
			p95_quality       = EXCLUDED.p95_quality,
			anomaly_count     = EXCLUDED.anomaly_count`,
		from, to, tenantID)
	if err != nil {
		return 0, fmt.Errorf("materializing hourly rollups: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListRollups returns rollup rows for a group inside [from, to), oldest
// first.
func (s *Store) ListRollups(ctx context.Context, g EvaluationGroup, from, to time.Time) ([]models.MetricRollupHourly, error) {
	rows, err := s.db.Query(ctx, `
		SELECT tenant_id, workflow_id, agent_id, agent_version, hour_bucket,
		       event_count,
		       mean_latency_ms, std_latency_ms, p95_latency_ms,
		       mean_faithfulness, std_faithfulness, p05_faithfulness,
		       p10_faithfulness, p50_faithfulness, p95_faithfulness,
		       mean_quality, std_quality, p05_quality, p10_quality,
		       p50_quality, p95_quality, anomaly_count
		FROM metric_rollups_hourly
		WHERE tenant_id = $1 AND workflow_id = $2 AND agent_id = $3
		  AND agent_version = $4 AND hour_bucket >= $5 AND hour_bucket < $6
		ORDER BY hour_bucket`,
		g.TenantID, g.WorkflowID, g.AgentID, g.AgentVersion, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing rollups: %w", err)
	}
	defer rows.Close()

	var out []models.MetricRollupHourly
	for rows.Next() {
		var r models.MetricRollupHourly
		if err := rows.Scan(&r.TenantID, &r.WorkflowID, &r.AgentID, &r.AgentVersion,
			&r.HourBucket, &r.Count,
			&r.MeanLatencyMS, &r.StdLatencyMS, &r.P95LatencyMS,
			&r.MeanFaithfulness, &r.StdFaithfulness, &r.P05Faithfulness,
			&r.P10Faithfulness, &r.P50Faithfulness, &r.P95Faithfulness,
			&r.MeanQuality, &r.StdQuality, &r.P05Quality, &r.P10Quality,
			&r.P50Quality, &r.P95Quality, &r.AnomalyCount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RollupGroups lists groups with rollup rows inside [from, to).
func (s *Store) RollupGroups(ctx context.Context, tenantID string, from, to time.Time) ([]EvaluationGroup, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT tenant_id, workflow_id, agent_id, agent_version
		FROM metric_rollups_hourly
		WHERE hour_bucket >= $1 AND hour_bucket < $2
		  AND ($3 = '' OR tenant_id = $3)
		ORDER BY tenant_id, workflow_id, agent_id, agent_version`,
		from, to, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing rollup groups: %w", err)
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

// WorkflowRollup is one hourly statistic row aggregated across all
// agents of a workflow.
type WorkflowRollup struct {
	TenantID     string    `json:"tenant_id"`
	WorkflowID   string    `json:"workflow_id"`
	HourBucket   time.Time `json:"hour_bucket"`
	Count        int       `json:"count"`
	MeanLatency  *float64  `json:"mean_latency_ms,omitempty"`
	MeanQuality  *float64  `json:"mean_quality,omitempty"`
	AnomalyCount int       `json:"anomaly_count"`
}

// ListWorkflowRollups aggregates hourly rollups across agents for one
// workflow, count-weighting the means.
func (s *Store) ListWorkflowRollups(ctx context.Context, tenantID, workflowID string, from, to time.Time) ([]WorkflowRollup, error) {
	rows, err := s.db.Query(ctx, `
		SELECT tenant_id, workflow_id, hour_bucket,
		       sum(event_count),
		       sum(mean_latency_ms * event_count) / NULLIF(sum(event_count) FILTER (WHERE mean_latency_ms IS NOT NULL), 0),
		       sum(mean_quality * event_count) / NULLIF(sum(event_count) FILTER (WHERE mean_quality IS NOT NULL), 0),
		       sum(anomaly_count)
		FROM metric_rollups_hourly
		WHERE tenant_id = $1 AND workflow_id = $2
		  AND hour_bucket >= $3 AND hour_bucket < $4
		GROUP BY tenant_id, workflow_id, hour_bucket
		ORDER BY hour_bucket`,
		tenantID, workflowID, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing workflow rollups: %w", err)
	}
	defer rows.Close()

	var out []WorkflowRollup
	for rows.Next() {
		var r WorkflowRollup
		if err := rows.Scan(&r.TenantID, &r.WorkflowID, &r.HourBucket, &r.Count,
			&r.MeanLatency, &r.MeanQuality, &r.AnomalyCount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
