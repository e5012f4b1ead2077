package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agentlens/agentlens/pkg/models"
)

// InsertSignal records one emitted signal. Replays are ignored.
func (s *Store) InsertSignal(ctx context.Context, sig *models.Signal) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO signals
			(tenant_id, signal_id, run_id, event_time, horizon,
			 instrument_universe, signal_value, confidence, constraints)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, signal_id) DO NOTHING`,
		sig.TenantID, sig.SignalID, sig.RunID, sig.EventTime, sig.Horizon,
		sig.InstrumentUniverse, sig.SignalValue, sig.Confidence, sig.Constraints)
	if err != nil {
		return false, fmt.Errorf("inserting signal: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetSignal fetches one signal.
func (s *Store) GetSignal(ctx context.Context, tenantID, signalID string) (*models.Signal, error) {
	var sig models.Signal
	err := s.db.QueryRow(ctx, `
		SELECT tenant_id, signal_id, run_id, event_time, horizon,
		       instrument_universe, signal_value, confidence, constraints
		FROM signals
		WHERE tenant_id = $1 AND signal_id = $2`, tenantID, signalID).
		Scan(&sig.TenantID, &sig.SignalID, &sig.RunID, &sig.EventTime,
			&sig.Horizon, &sig.InstrumentUniverse, &sig.SignalValue,
			&sig.Confidence, &sig.Constraints)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching signal: %w", err)
	}
	return &sig, nil
}

// ListSignals returns signals emitted inside [from, to), oldest first.
func (s *Store) ListSignals(ctx context.Context, tenantID string, from, to time.Time) ([]models.Signal, error) {
	rows, err := s.db.Query(ctx, `
		SELECT tenant_id, signal_id, run_id, event_time, horizon,
		       instrument_universe, signal_value, confidence, constraints
		FROM signals
		WHERE tenant_id = $1 AND event_time >= $2 AND event_time < $3
		ORDER BY event_time`, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing signals: %w", err)
	}
	defer rows.Close()

	var out []models.Signal
	for rows.Next() {
		var sig models.Signal
		if err := rows.Scan(&sig.TenantID, &sig.SignalID, &sig.RunID,
			&sig.EventTime, &sig.Horizon, &sig.InstrumentUniverse,
			&sig.SignalValue, &sig.Confidence, &sig.Constraints); err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// InsertMarketOutcome records one realized return observation. Outcomes
// are immutable: replays of the same (dataset, instrument, asof) row are
// ignored.
func (s *Store) InsertMarketOutcome(ctx context.Context, mo *models.MarketOutcome) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO market_outcomes
			(tenant_id, dataset_version, instrument_id, asof_time,
			 realized_return, benchmark_return)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, dataset_version, instrument_id, asof_time) DO NOTHING`,
		mo.TenantID, mo.DatasetVersion, mo.InstrumentID, mo.AsofTime,
		mo.RealizedReturn, mo.BenchmarkReturn)
	if err != nil {
		return false, fmt.Errorf("inserting market outcome: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// OutcomeAsOf returns the latest outcome for an instrument at or before
// the target time within the dataset version. The backtest joins
// signals to outcomes point-in-time: nothing after target_time and
// nothing outside the dataset snapshot may be consulted.
func (s *Store) OutcomeAsOf(ctx context.Context, tenantID, datasetVersion, instrumentID string, target time.Time) (*models.MarketOutcome, error) {
	var mo models.MarketOutcome
	err := s.db.QueryRow(ctx, `
		SELECT tenant_id, dataset_version, instrument_id, asof_time,
		       realized_return, benchmark_return
		FROM market_outcomes
		WHERE tenant_id = $1 AND dataset_version = $2 AND instrument_id = $3
		  AND asof_time <= $4
		ORDER BY asof_time DESC
		LIMIT 1`, tenantID, datasetVersion, instrumentID, target).
		Scan(&mo.TenantID, &mo.DatasetVersion, &mo.InstrumentID, &mo.AsofTime,
			&mo.RealizedReturn, &mo.BenchmarkReturn)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching market outcome: %w", err)
	}
	return &mo, nil
}

// InsertSignalOutcome records a signal's realized performance. The first
// outcome per (signal, horizon) wins; re-running a backtest never
// rewrites history.
func (s *Store) InsertSignalOutcome(ctx context.Context, so *models.SignalOutcome) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO signal_outcomes
			(tenant_id, signal_id, horizon, realized_return, benchmark_return,
			 excess_return, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, signal_id, horizon) DO NOTHING`,
		so.TenantID, so.SignalID, so.Horizon, so.RealizedReturn,
		so.BenchmarkReturn, so.ExcessReturn, so.Details)
	if err != nil {
		return false, fmt.Errorf("inserting signal outcome: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertBacktestRun records one backtest invocation.
func (s *Store) InsertBacktestRun(ctx context.Context, bt *models.BacktestRun) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO backtest_runs
			(tenant_id, backtest_id, dataset_version, horizon, start_time,
			 end_time, cost_bps, code_version, status, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		bt.TenantID, bt.BacktestID, bt.DatasetVersion, bt.Horizon,
		bt.StartTime, bt.EndTime, bt.CostBPS, bt.CodeVersion, bt.Status,
		bt.Summary)
	if err != nil {
		return fmt.Errorf("inserting backtest run: %w", err)
	}
	return nil
}

// ListBacktestRuns returns the newest backtest runs for a tenant.
func (s *Store) ListBacktestRuns(ctx context.Context, tenantID string, limit int) ([]models.BacktestRun, error) {
	rows, err := s.db.Query(ctx, `
		SELECT tenant_id, backtest_id, dataset_version, horizon, start_time,
		       end_time, cost_bps, code_version, status, summary, created_at
		FROM backtest_runs
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing backtest runs: %w", err)
	}
	defer rows.Close()

	var out []models.BacktestRun
	for rows.Next() {
		var bt models.BacktestRun
		if err := rows.Scan(&bt.TenantID, &bt.BacktestID, &bt.DatasetVersion,
			&bt.Horizon, &bt.StartTime, &bt.EndTime, &bt.CostBPS,
			&bt.CodeVersion, &bt.Status, &bt.Summary, &bt.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, bt)
	}
	return out, rows.Err()
}

// SignalOutcomesFor returns the stored outcomes of the given signals at
// one horizon, keyed by signal id.
func (s *Store) SignalOutcomesFor(ctx context.Context, tenantID, horizon string, signalIDs []string) (map[string]models.SignalOutcome, error) {
	rows, err := s.db.Query(ctx, `
		SELECT tenant_id, signal_id, horizon, realized_return,
		       benchmark_return, excess_return, details, created_at
		FROM signal_outcomes
		WHERE tenant_id = $1 AND horizon = $2 AND signal_id = ANY($3)`,
		tenantID, horizon, signalIDs)
	if err != nil {
		return nil, fmt.Errorf("listing signal outcomes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.SignalOutcome)
	for rows.Next() {
		var so models.SignalOutcome
		if err := rows.Scan(&so.TenantID, &so.SignalID, &so.Horizon,
			&so.RealizedReturn, &so.BenchmarkReturn, &so.ExcessReturn,
			&so.Details, &so.CreatedAt); err != nil {
			return nil, err
		}
		out[so.SignalID] = so
	}
	return out, rows.Err()
}
