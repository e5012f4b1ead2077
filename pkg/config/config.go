// Package config loads the process configuration from environment
// variables plus an optional evaluation-policy YAML file. Environment
// variables carry infrastructure settings (database, server, workers);
// the YAML file carries per-workflow scoring and SLO policy.
package config

import (
	"time"

	"github.com/agentlens/agentlens/pkg/normalize"
)

// Config is the umbrella configuration object returned by Initialize()
// and used throughout the application.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Ingest   IngestConfig
	Worker   WorkerConfig
	Jobs     JobsConfig
	Eval     *EvalConfig

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string
	Port int

	// APIKeys are the accepted bearer keys for the ingest and query
	// surface. Empty means authentication is disabled (dev mode).
	APIKeys []string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL is the pgx connection string. Required.
	URL string

	// PoolMaxConns caps the pgx pool size.
	PoolMaxConns int32

	// ConnMaxLifetime bounds how long a pooled connection lives.
	ConnMaxLifetime time.Duration

	// ConnectTimeout bounds how long dialing a new connection may take.
	// Zero keeps the driver default.
	ConnectTimeout time.Duration

	// ConnMaxIdleTime closes pooled connections idle longer than this.
	// Zero keeps the driver default.
	ConnMaxIdleTime time.Duration

	// SSLMode sets the sslmode connection parameter when the URL does
	// not already pin one.
	SSLMode string
}

// IngestConfig holds ingest endpoint settings.
type IngestConfig struct {
	// MaxBodyBytes caps the request body size accepted by the ingest
	// endpoint before validation.
	MaxBodyBytes int64
}

// WorkerConfig controls the raw-event processing pool.
type WorkerConfig struct {
	// WorkerCount is the number of claim/process goroutines.
	WorkerCount int

	// BatchSize is the number of raw events claimed per poll.
	BatchSize int

	// PollInterval is the base interval between claim attempts.
	PollInterval time.Duration

	// PollIntervalJitter randomizes the poll interval to spread load
	// across replicas: actual interval is PollInterval ± jitter.
	PollIntervalJitter time.Duration

	// MaxAttempts is the attempt budget before an event goes terminal-dead.
	MaxAttempts int

	// GracefulShutdownTimeout bounds how long Stop waits for in-flight
	// batches.
	GracefulShutdownTimeout time.Duration
}

// JobsConfig carries the knobs for the batch analytics jobs. Each job
// reads only its own fields; unset fields keep their defaults.
type JobsConfig struct {
	// TenantID scopes a single-shot job run. Empty means all tenants.
	TenantID string

	// LookbackHours bounds how much history the rollup and anomaly
	// jobs scan.
	LookbackHours int

	// MinHistory is the minimum per-group sample count before the
	// anomaly job scores a candidate.
	MinHistory int

	// PerGroupLimit caps candidates scored per (workflow, agent) group
	// in one anomaly run.
	PerGroupLimit int

	// WindowHours is the rollup job's materialization window.
	WindowHours int

	// SignificanceMetric is the evaluation metric compared across
	// windows by the significance job.
	SignificanceMetric string

	// Alpha is the Benjamini-Hochberg false discovery rate.
	Alpha float64

	// BaselineHours and CurrentHours define the two comparison windows.
	BaselineHours int
	CurrentHours  int

	// Horizon is the backtest holding horizon, e.g. "5d".
	Horizon string

	// DatasetVersion pins the market outcome snapshot used by a
	// backtest run.
	DatasetVersion string

	// CostBPS is the round-trip transaction cost in basis points.
	CostBPS float64

	// CodeVersion is stamped onto backtest runs for reproducibility.
	CodeVersion string

	// BacktestStart and BacktestEnd bound the signal range of a
	// backtest run. Zero values fall back to the lookback window.
	BacktestStart time.Time
	BacktestEnd   time.Time
}

// EvalConfig is the optional evaluation-policy file: per-workflow
// normalization overrides and SLO thresholds.
type EvalConfig struct {
	Normalization normalize.Config              `yaml:"normalization"`
	Workflows     map[string]WorkflowEvalConfig `yaml:"workflows"`
	SLO           SLOThresholds                 `yaml:"slo"`
}

// WorkflowEvalConfig overrides scoring policy for one workflow.
type WorkflowEvalConfig struct {
	Normalization *normalize.Override `yaml:"normalization"`
	SLO           *SLOThresholds      `yaml:"slo"`
}

// SLOThresholds are the per-window objectives checked by the SLO job.
// Nil fields are not enforced.
type SLOThresholds struct {
	MaxLatencyP95MS   *float64 `yaml:"max_latency_p95_ms"`
	MinFaithfulnessP5 *float64 `yaml:"min_faithfulness_p05"`
	MinQualityP5      *float64 `yaml:"min_quality_p05"`
	MaxAnomalyRate    *float64 `yaml:"max_anomaly_rate"`
}

// SLOFor returns the thresholds for a workflow, falling back to the
// global thresholds when the workflow has no override.
func (e *EvalConfig) SLOFor(workflowID string) SLOThresholds {
	if e == nil {
		return SLOThresholds{}
	}
	if wf, ok := e.Workflows[workflowID]; ok && wf.SLO != nil {
		return *wf.SLO
	}
	return e.SLO
}

// Resolver builds the per-workflow normalization resolver from the
// evaluation policy. The global normalization section has already been
// merged onto the built-in defaults by Initialize.
func (e *EvalConfig) Resolver() *normalize.Resolver {
	if e == nil {
		return normalize.NewResolver(normalize.DefaultConfig(), nil)
	}
	overrides := make(map[string]normalize.Override, len(e.Workflows))
	for id, wf := range e.Workflows {
		if wf.Normalization != nil {
			overrides[id] = *wf.Normalization
		}
	}
	return normalize.NewResolver(e.Normalization, overrides)
}
