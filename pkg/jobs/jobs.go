// Package jobs implements the scheduled batch analytics: rollup
// materialization, anomaly scanning, significance testing, drift
// detection, SLO evaluation, and signal backtesting. Jobs are
// single-shot and run to completion; all coordination happens through
// the store.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentlens/agentlens/pkg/config"
	"github.com/agentlens/agentlens/pkg/metrics"
	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/store"
)

// Job is one runnable batch job.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Deps carries everything a job needs. Now is injectable for tests.
type Deps struct {
	Store *store.Store
	Cfg   config.JobsConfig
	Eval  *config.EvalConfig
	Now   func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// New returns the named job, or an error listing the known names.
func New(name string, deps Deps) (Job, error) {
	switch name {
	case "rollups":
		return &RollupJob{deps}, nil
	case "anomalies":
		return &AnomalyJob{deps}, nil
	case "significance":
		return &SignificanceJob{deps}, nil
	case "auto-eval":
		return &DriftJob{deps}, nil
	case "slo":
		return &SLOJob{deps}, nil
	case "backtest":
		return &BacktestJob{deps}, nil
	default:
		return nil, fmt.Errorf("unknown job %q (want rollups, anomalies, significance, auto-eval, slo, or backtest)", name)
	}
}

// Run executes the named job once, recording duration and failures.
func Run(ctx context.Context, name string, deps Deps) error {
	job, err := New(name, deps)
	if err != nil {
		return err
	}

	log := slog.With("job", job.Name())
	log.Info("Job starting")
	start := time.Now()

	err = job.Run(ctx)
	metrics.JobDuration.WithLabelValues(job.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.JobFailures.WithLabelValues(job.Name()).Inc()
		log.Error("Job failed", "error", err, "elapsed", time.Since(start))
		return err
	}
	log.Info("Job finished", "elapsed", time.Since(start))
	return nil
}

// Cooldowns applied before re-proposing an action for the same target.
var actionCooldowns = map[models.ActionType]time.Duration{
	models.ActionIncreaseEvalSampling: 6 * time.Hour,
	models.ActionRequireHumanReview:   12 * time.Hour,
	models.ActionRouteFallback:        12 * time.Hour,
	models.ActionRunInvestigation:     6 * time.Hour,
}

// canonicalTarget marshals the target with sorted keys. The string form
// is the dedup key; the raw form is stored on the action.
func canonicalTarget(target map[string]any) (json.RawMessage, string, error) {
	raw, err := json.Marshal(target)
	if err != nil {
		return nil, "", fmt.Errorf("marshaling action target: %w", err)
	}
	return raw, string(raw), nil
}

// proposeAction routes one recommendation through the dedup store and
// emits a best-effort audit entry when inserted.
func proposeAction(ctx context.Context, st *store.Store, tenantID string, actionType models.ActionType, target, payload map[string]any, decidedBy string) (bool, error) {
	rawTarget, targetKey, err := canonicalTarget(target)
	if err != nil {
		return false, err
	}
	var rawPayload json.RawMessage
	if payload != nil {
		if rawPayload, err = json.Marshal(payload); err != nil {
			return false, fmt.Errorf("marshaling action payload: %w", err)
		}
	}

	action := &models.RecommendedAction{
		TenantID:   tenantID,
		ActionType: actionType,
		Target:     rawTarget,
		Payload:    rawPayload,
		DecidedBy:  decidedBy,
	}
	inserted, err := st.ProposeAction(ctx, action, targetKey, actionCooldowns[actionType])
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}
	metrics.ActionsProposed.WithLabelValues(string(actionType)).Inc()

	detail, _ := json.Marshal(map[string]any{
		"action_id":   action.ActionID,
		"action_type": actionType,
		"target":      json.RawMessage(rawTarget),
	})
	if err := st.InsertAudit(ctx, &models.AuditEntry{
		TenantID: tenantID,
		Action:   "action_proposed",
		Detail:   detail,
	}); err != nil {
		slog.Warn("Failed to audit proposed action", "tenant_id", tenantID, "error", err)
	}
	return true, nil
}
