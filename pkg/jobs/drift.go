package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/stats"
	"github.com/agentlens/agentlens/pkg/store"
)

// Drift parameters.
const (
	driftBins        = 10
	driftMinBaseline = 20
	driftMinCurrent  = 10

	psiModerate = 0.2
	psiSevere   = 0.35

	samplingRateModerate = 0.05
	samplingRateSevere   = 0.2
)

// DriftSeverity classifies a PSI value.
type DriftSeverity string

const (
	SeverityNone     DriftSeverity = "none"
	SeverityModerate DriftSeverity = "moderate"
	SeveritySevere   DriftSeverity = "severe"
)

// ClassifyPSI maps a PSI value onto the severity ladder.
func ClassifyPSI(psi float64) DriftSeverity {
	switch {
	case psi >= psiSevere:
		return SeveritySevere
	case psi >= psiModerate:
		return SeverityModerate
	default:
		return SeverityNone
	}
}

// DriftJob compares each group's current faithfulness distribution
// against its baseline and proposes mitigation actions on drift.
type DriftJob struct {
	deps Deps
}

func (j *DriftJob) Name() string { return "auto-eval" }

func (j *DriftJob) Run(ctx context.Context) error {
	now := j.deps.now()
	curHours := time.Duration(j.deps.Cfg.CurrentHours) * time.Hour
	baseHours := time.Duration(j.deps.Cfg.BaselineHours) * time.Hour
	baseStart := now.Add(-baseHours - curHours)
	curStart := now.Add(-curHours)

	groups, err := j.deps.Store.ActiveEvaluationGroups(ctx, j.deps.Cfg.TenantID, baseStart)
	if err != nil {
		return err
	}

	drifted := 0
	for _, g := range groups {
		base, err := j.deps.Store.EvaluationWindow(ctx, g.TenantID, g.WorkflowID, g.AgentID, g.AgentVersion, "faithfulness", baseStart, curStart)
		if err != nil {
			return err
		}
		cur, err := j.deps.Store.EvaluationWindow(ctx, g.TenantID, g.WorkflowID, g.AgentID, g.AgentVersion, "faithfulness", curStart, now)
		if err != nil {
			return err
		}
		if len(base) < driftMinBaseline || len(cur) < driftMinCurrent {
			continue
		}

		psi := stats.PSI(base, cur, driftBins)
		wasserstein := stats.Wasserstein1D(base, cur)
		severity := ClassifyPSI(psi)
		if severity == SeverityNone {
			continue
		}
		drifted++

		details, _ := json.Marshal(map[string]any{
			"psi":         psi,
			"wasserstein": wasserstein,
			"severity":    severity,
			"n_baseline":  len(base),
			"n_current":   len(cur),
		})
		effect := wasserstein
		if err := j.deps.Store.InsertPerformanceShift(ctx, &models.PerformanceShift{
			TenantID:     g.TenantID,
			WorkflowID:   g.WorkflowID,
			AgentID:      g.AgentID,
			AgentVersion: g.AgentVersion,
			MetricName:   "faithfulness",
			WindowAStart: curStart,
			WindowAEnd:   now,
			WindowBStart: baseStart,
			WindowBEnd:   curStart,
			Method:       "psi",
			EffectSize:   &effect,
			Significant:  true,
			Details:      details,
		}); err != nil {
			return err
		}

		if err := j.proposeDriftActions(ctx, g, severity, psi, wasserstein); err != nil {
			return err
		}
	}
	slog.Info("Drift scan finished", "groups", len(groups), "drifted", drifted)
	return nil
}

func (j *DriftJob) proposeDriftActions(ctx context.Context, g store.EvaluationGroup, severity DriftSeverity, psi, wasserstein float64) error {
	target := map[string]any{
		"agent_id":      g.AgentID,
		"agent_version": g.AgentVersion,
		"metric":        "faithfulness",
		"workflow_id":   g.WorkflowID,
	}

	rate := samplingRateModerate
	if severity == SeveritySevere {
		rate = samplingRateSevere
	}
	payload := map[string]any{
		"severity":                severity,
		"psi":                     psi,
		"wasserstein":             wasserstein,
		"sampling_rate_suggested": rate,
	}
	if _, err := proposeAction(ctx, j.deps.Store, g.TenantID, models.ActionIncreaseEvalSampling, target, payload, j.Name()); err != nil {
		return err
	}
	if severity != SeveritySevere {
		return nil
	}

	severePayload := map[string]any{
		"reason": "severe_metric_drift",
		"psi":    psi,
	}
	if _, err := proposeAction(ctx, j.deps.Store, g.TenantID, models.ActionRequireHumanReview, target, severePayload, j.Name()); err != nil {
		return err
	}
	_, err := proposeAction(ctx, j.deps.Store, g.TenantID, models.ActionRouteFallback, target, severePayload, j.Name())
	return err
}
