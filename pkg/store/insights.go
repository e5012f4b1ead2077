package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentlens/agentlens/pkg/models"
)

// InsertAnomaly records one flagged evaluation. The (evaluation, metric,
// method) uniqueness makes anomaly runs replay-safe.
func (s *Store) InsertAnomaly(ctx context.Context, a *models.Anomaly) (bool, error) {
	if a.AnomalyID == "" {
		a.AnomalyID = uuid.NewString()
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO anomalies
			(anomaly_id, tenant_id, evaluation_id, metric_name, method,
			 value, threshold_low, threshold_high, z_score, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id, evaluation_id, metric_name, method) DO NOTHING`,
		a.AnomalyID, a.TenantID, a.EvaluationID, a.MetricName, a.Method,
		a.Value, a.ThresholdLow, a.ThresholdHigh, a.ZScore, a.Details)
	if err != nil {
		return false, fmt.Errorf("inserting anomaly: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListAnomalies returns the newest anomalies for a tenant.
func (s *Store) ListAnomalies(ctx context.Context, tenantID string, since time.Time, limit int) ([]models.Anomaly, error) {
	rows, err := s.db.Query(ctx, `
		SELECT anomaly_id, tenant_id, evaluation_id, metric_name, method,
		       value, threshold_low, threshold_high, z_score, details, created_at
		FROM anomalies
		WHERE tenant_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3`, tenantID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("listing anomalies: %w", err)
	}
	defer rows.Close()

	var out []models.Anomaly
	for rows.Next() {
		var a models.Anomaly
		if err := rows.Scan(&a.AnomalyID, &a.TenantID, &a.EvaluationID,
			&a.MetricName, &a.Method, &a.Value, &a.ThresholdLow,
			&a.ThresholdHigh, &a.ZScore, &a.Details, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertPerformanceShift records one detected shift.
func (s *Store) InsertPerformanceShift(ctx context.Context, sh *models.PerformanceShift) error {
	if sh.ShiftID == "" {
		sh.ShiftID = uuid.NewString()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO performance_shifts
			(shift_id, tenant_id, workflow_id, agent_id, agent_version,
			 metric_name, window_a_start, window_a_end, window_b_start,
			 window_b_end, method, p_value, bh_adjusted_p_value, effect_size,
			 significant, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		sh.ShiftID, sh.TenantID, sh.WorkflowID, sh.AgentID, sh.AgentVersion,
		sh.MetricName, sh.WindowAStart, sh.WindowAEnd, sh.WindowBStart,
		sh.WindowBEnd, sh.Method, sh.PValue, sh.BHAdjustedPValue,
		sh.EffectSize, sh.Significant, sh.Details)
	if err != nil {
		return fmt.Errorf("inserting performance shift: %w", err)
	}
	return nil
}

// ListPerformanceShifts returns the newest shifts for a tenant,
// optionally only significant ones.
func (s *Store) ListPerformanceShifts(ctx context.Context, tenantID string, significantOnly bool, since time.Time, limit int) ([]models.PerformanceShift, error) {
	rows, err := s.db.Query(ctx, `
		SELECT shift_id, tenant_id, workflow_id, agent_id, agent_version,
		       metric_name, window_a_start, window_a_end, window_b_start,
		       window_b_end, method, p_value, bh_adjusted_p_value, effect_size,
		       significant, details, created_at
		FROM performance_shifts
		WHERE tenant_id = $1 AND created_at >= $2
		  AND (NOT $3 OR significant)
		ORDER BY created_at DESC
		LIMIT $4`, tenantID, since, significantOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("listing performance shifts: %w", err)
	}
	defer rows.Close()

	var out []models.PerformanceShift
	for rows.Next() {
		var sh models.PerformanceShift
		if err := rows.Scan(&sh.ShiftID, &sh.TenantID, &sh.WorkflowID, &sh.AgentID,
			&sh.AgentVersion, &sh.MetricName, &sh.WindowAStart, &sh.WindowAEnd,
			&sh.WindowBStart, &sh.WindowBEnd, &sh.Method, &sh.PValue,
			&sh.BHAdjustedPValue, &sh.EffectSize, &sh.Significant, &sh.Details,
			&sh.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

// ProposeAction inserts a recommended action unless an action of the
// same type for the same canonical target was created within the
// cooldown. Returns true when the action was inserted.
func (s *Store) ProposeAction(ctx context.Context, action *models.RecommendedAction, targetKey string, cooldown time.Duration) (bool, error) {
	if action.ActionID == "" {
		action.ActionID = uuid.NewString()
	}
	if action.Status == "" {
		action.Status = models.ActionStatusOpen
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO recommended_actions
			(action_id, tenant_id, action_type, target, target_key, payload,
			 decided_by, status)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8
		WHERE NOT EXISTS (
			SELECT 1 FROM recommended_actions
			WHERE tenant_id = $2 AND action_type = $3 AND target_key = $5
			  AND status = 'open'
			  AND created_at > now() - $9::interval
		)`,
		action.ActionID, action.TenantID, action.ActionType, action.Target,
		targetKey, action.Payload, action.DecidedBy, action.Status,
		fmt.Sprintf("%f seconds", cooldown.Seconds()))
	if err != nil {
		return false, fmt.Errorf("proposing action: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListActions returns actions for a tenant filtered by status; empty
// status means all.
func (s *Store) ListActions(ctx context.Context, tenantID string, status models.ActionStatus, limit int) ([]models.RecommendedAction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT action_id, tenant_id, action_type, target, payload, decided_by,
		       status, created_at
		FROM recommended_actions
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3`, tenantID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("listing actions: %w", err)
	}
	defer rows.Close()

	var out []models.RecommendedAction
	for rows.Next() {
		var a models.RecommendedAction
		if err := rows.Scan(&a.ActionID, &a.TenantID, &a.ActionType, &a.Target,
			&a.Payload, &a.DecidedBy, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateActionStatus moves an action through its open/accepted/dismissed
// lifecycle.
func (s *Store) UpdateActionStatus(ctx context.Context, tenantID, actionID string, status models.ActionStatus) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE recommended_actions SET status = $3
		WHERE tenant_id = $1 AND action_id = $2`, tenantID, actionID, status)
	if err != nil {
		return fmt.Errorf("updating action status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
