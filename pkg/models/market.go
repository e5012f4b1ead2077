package models

import (
	"encoding/json"
	"time"
)

// Signal is one prediction emitted about one or more instruments over a
// horizon. SignalValue and InstrumentUniverse are opaque JSON at the
// database boundary; the backtest runner parses them.
type Signal struct {
	TenantID           string          `json:"tenant_id"`
	SignalID           string          `json:"signal_id"`
	RunID              string          `json:"orchestration_run_id"`
	EventTime          time.Time       `json:"event_time"`
	Horizon            string          `json:"horizon"`
	InstrumentUniverse json.RawMessage `json:"instrument_universe"`
	SignalValue        json.RawMessage `json:"signal_value"`
	Confidence         *float64        `json:"confidence,omitempty"`
	Constraints        json.RawMessage `json:"constraints,omitempty"`
}

// MarketOutcome is the realized per-instrument return at a dataset-versioned
// instant. Immutable once inserted.
type MarketOutcome struct {
	TenantID        string    `json:"tenant_id"`
	DatasetVersion  string    `json:"dataset_version"`
	InstrumentID    string    `json:"instrument_id"`
	AsofTime        time.Time `json:"asof_time"`
	RealizedReturn  float64   `json:"realized_return"`
	BenchmarkReturn *float64  `json:"benchmark_return,omitempty"`
}

// SignalOutcome is the realized performance of one signal at one horizon,
// computed by a backtest.
type SignalOutcome struct {
	TenantID        string          `json:"tenant_id"`
	SignalID        string          `json:"signal_id"`
	Horizon         string          `json:"horizon"`
	RealizedReturn  float64         `json:"realized_return"`
	BenchmarkReturn float64         `json:"benchmark_return"`
	ExcessReturn    float64         `json:"excess_return"`
	Details         json.RawMessage `json:"details,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// BacktestStatus is the terminal state of a backtest run.
type BacktestStatus string

const (
	BacktestStatusCompleted BacktestStatus = "completed"
	BacktestStatusFailed    BacktestStatus = "failed"
)

// BacktestRun records one backtest invocation and its summary statistics.
type BacktestRun struct {
	TenantID       string          `json:"tenant_id"`
	BacktestID     string          `json:"backtest_id"`
	DatasetVersion string          `json:"dataset_version"`
	Horizon        string          `json:"horizon"`
	StartTime      time.Time       `json:"start_time"`
	EndTime        time.Time       `json:"end_time"`
	CostBPS        float64         `json:"cost_bps"`
	CodeVersion    string          `json:"code_version"`
	Status         BacktestStatus  `json:"status"`
	Summary        json.RawMessage `json:"summary"`
	CreatedAt      time.Time       `json:"created_at"`
}
