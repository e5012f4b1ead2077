package jobs

import (
	"context"
	"log/slog"
	"time"
)

// RollupJob materializes hourly per-group statistics from evaluation
// records. Recomputing whole hours keeps it idempotent under replays.
type RollupJob struct {
	deps Deps
}

func (j *RollupJob) Name() string { return "rollups" }

func (j *RollupJob) Run(ctx context.Context) error {
	now := j.deps.now()
	from := now.Add(-time.Duration(j.deps.Cfg.WindowHours) * time.Hour).Truncate(time.Hour)

	rows, err := j.deps.Store.MaterializeHourlyRollups(ctx, j.deps.Cfg.TenantID, from, now)
	if err != nil {
		return err
	}
	slog.Info("Rollups materialized", "from", from, "to", now, "rows", rows)
	return nil
}
