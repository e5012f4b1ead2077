package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentlens/agentlens/pkg/config"
	"github.com/agentlens/agentlens/pkg/models"
)

// SLOJob refreshes the hourly rollups, then checks every rollup row in
// the window against the workflow's objectives and opens an
// investigation for each breach.
type SLOJob struct {
	deps Deps
}

func (j *SLOJob) Name() string { return "slo" }

// Violation kinds emitted on threshold breaches.
const (
	violationLatencyP95     = "max_latency_p95_ms"
	violationFaithfulnessP5 = "min_faithfulness_p05"
	violationQualityP5      = "min_quality_p05"
	violationAnomalyRate    = "max_anomaly_rate"
)

func (j *SLOJob) Run(ctx context.Context) error {
	// Fresh rollups first so thresholds see current data.
	if err := (&RollupJob{j.deps}).Run(ctx); err != nil {
		return err
	}

	now := j.deps.now()
	from := now.Add(-time.Duration(j.deps.Cfg.WindowHours) * time.Hour).Truncate(time.Hour)

	groups, err := j.deps.Store.RollupGroups(ctx, j.deps.Cfg.TenantID, from, now)
	if err != nil {
		return err
	}

	violations := 0
	for _, g := range groups {
		slo := j.deps.Eval.SLOFor(g.WorkflowID)
		if slo.MaxLatencyP95MS == nil && slo.MinFaithfulnessP5 == nil &&
			slo.MinQualityP5 == nil && slo.MaxAnomalyRate == nil {
			continue
		}

		rollups, err := j.deps.Store.ListRollups(ctx, g, from, now)
		if err != nil {
			return err
		}
		for _, r := range rollups {
			for _, kind := range evaluateSLO(&r, slo) {
				target := map[string]any{
					"agent_id":      r.AgentID,
					"agent_version": r.AgentVersion,
					"hour_bucket":   r.HourBucket.UTC().Format(time.RFC3339),
					"violation":     kind,
					"workflow_id":   r.WorkflowID,
				}
				payload := map[string]any{
					"event_count":   r.Count,
					"anomaly_count": r.AnomalyCount,
				}
				inserted, err := proposeAction(ctx, j.deps.Store, r.TenantID, models.ActionRunInvestigation, target, payload, j.Name())
				if err != nil {
					return err
				}
				if inserted {
					violations++
				}
			}
		}
	}
	slog.Info("SLO evaluation finished", "groups", len(groups), "violations", violations)
	return nil
}

// evaluateSLO returns the violation kinds breached by one rollup row.
func evaluateSLO(r *models.MetricRollupHourly, slo config.SLOThresholds) []string {
	var kinds []string
	if slo.MaxLatencyP95MS != nil && r.P95LatencyMS != nil && *r.P95LatencyMS > *slo.MaxLatencyP95MS {
		kinds = append(kinds, violationLatencyP95)
	}
	if slo.MinFaithfulnessP5 != nil && r.P05Faithfulness != nil && *r.P05Faithfulness < *slo.MinFaithfulnessP5 {
		kinds = append(kinds, violationFaithfulnessP5)
	}
	if slo.MinQualityP5 != nil && r.P05Quality != nil && *r.P05Quality < *slo.MinQualityP5 {
		kinds = append(kinds, violationQualityP5)
	}
	if slo.MaxAnomalyRate != nil && r.Count > 0 {
		rate := float64(r.AnomalyCount) / float64(r.Count)
		if rate > *slo.MaxAnomalyRate {
			kinds = append(kinds, violationAnomalyRate)
		}
	}
	return kinds
}
