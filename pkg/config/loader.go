package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/agentlens/agentlens/pkg/normalize"
)

// Built-in defaults. Overridable through environment variables.
const (
	defaultHost               = "0.0.0.0"
	defaultPort               = 8080
	defaultMaxBodyBytes       = 5 << 20
	defaultPoolMaxConns       = 10
	defaultWorkerCount        = 4
	defaultBatchSize          = 100
	defaultPollInterval       = 500 * time.Millisecond
	defaultPollJitter         = 250 * time.Millisecond
	defaultMaxAttempts        = 5
	defaultShutdownTimeout    = 30 * time.Second
	defaultLookbackHours      = 720
	defaultMinHistory         = 30
	defaultPerGroupLimit      = 20
	defaultWindowHours        = 24
	defaultSignificanceMetric = "quality_score"
	defaultAlpha              = 0.05
	defaultBaselineHours      = 168
	defaultCurrentHours       = 24
	defaultHorizon            = "5d"
	defaultCostBPS            = 5.0
)

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Read environment variables onto built-in defaults
//  2. Load the optional evaluation-policy YAML named by EVAL_CONFIG
//  3. Merge the policy's normalization section onto built-in defaults
//  4. Validate everything, failing fast on bad values
func Initialize() (*Config, error) {
	cfg := &Config{
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Host: getEnvOrDefault("HOST", defaultHost),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			ConnMaxLifetime: 30 * time.Minute,
		},
		Jobs: JobsConfig{
			TenantID:           os.Getenv("TENANT_ID"),
			SignificanceMetric: getEnvOrDefault("SIGNIFICANCE_METRIC", defaultSignificanceMetric),
			Horizon:            getEnvOrDefault("HORIZON", defaultHorizon),
			DatasetVersion:     os.Getenv("DATASET_VERSION"),
			CodeVersion:        getEnvOrDefault("CODE_VERSION", "dev"),
		},
	}

	if keys := os.Getenv("EVAL_API_KEYS"); keys != "" {
		for _, k := range strings.Split(keys, ",") {
			if k = strings.TrimSpace(k); k != "" {
				cfg.Server.APIKeys = append(cfg.Server.APIKeys, k)
			}
		}
	}

	var err error
	if cfg.Server.Port, err = intEnv("PORT", defaultPort); err != nil {
		return nil, err
	}
	poolMax, err := intEnv("PG_POOL_MAX", defaultPoolMaxConns)
	if err != nil {
		return nil, err
	}
	cfg.Database.PoolMaxConns = int32(poolMax)
	connectMS, err := intEnv("PG_CONNECT_TIMEOUT_MS", 0)
	if err != nil {
		return nil, err
	}
	cfg.Database.ConnectTimeout = time.Duration(connectMS) * time.Millisecond
	idleMS, err := intEnv("PG_IDLE_TIMEOUT_MS", 0)
	if err != nil {
		return nil, err
	}
	cfg.Database.ConnMaxIdleTime = time.Duration(idleMS) * time.Millisecond
	cfg.Database.SSLMode = os.Getenv("PG_SSL")

	if cfg.Ingest.MaxBodyBytes, err = int64Env("MAX_BODY_BYTES", defaultMaxBodyBytes); err != nil {
		return nil, err
	}

	if cfg.Worker.WorkerCount, err = intEnv("WORKER_COUNT", defaultWorkerCount); err != nil {
		return nil, err
	}
	if cfg.Worker.BatchSize, err = intEnv("WORKER_BATCH_SIZE", defaultBatchSize); err != nil {
		return nil, err
	}
	if cfg.Worker.MaxAttempts, err = intEnv("WORKER_MAX_ATTEMPTS", defaultMaxAttempts); err != nil {
		return nil, err
	}
	if cfg.Worker.PollInterval, err = durationEnv("WORKER_POLL_INTERVAL", defaultPollInterval); err != nil {
		return nil, err
	}
	if cfg.Worker.PollIntervalJitter, err = durationEnv("WORKER_POLL_JITTER", defaultPollJitter); err != nil {
		return nil, err
	}
	if cfg.Worker.GracefulShutdownTimeout, err = durationEnv("WORKER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout); err != nil {
		return nil, err
	}

	if cfg.Jobs.LookbackHours, err = intEnv("LOOKBACK_HOURS", defaultLookbackHours); err != nil {
		return nil, err
	}
	if cfg.Jobs.MinHistory, err = intEnv("MIN_HISTORY", defaultMinHistory); err != nil {
		return nil, err
	}
	if cfg.Jobs.PerGroupLimit, err = intEnv("PER_GROUP_LIMIT", defaultPerGroupLimit); err != nil {
		return nil, err
	}
	if cfg.Jobs.WindowHours, err = intEnv("WINDOW_HOURS", defaultWindowHours); err != nil {
		return nil, err
	}
	if cfg.Jobs.Alpha, err = floatEnv("ALPHA", defaultAlpha); err != nil {
		return nil, err
	}
	if cfg.Jobs.BaselineHours, err = intEnv("BASELINE_HOURS", defaultBaselineHours); err != nil {
		return nil, err
	}
	if cfg.Jobs.CurrentHours, err = intEnv("CURRENT_HOURS", defaultCurrentHours); err != nil {
		return nil, err
	}
	if cfg.Jobs.CostBPS, err = floatEnv("COST_BPS", defaultCostBPS); err != nil {
		return nil, err
	}
	if cfg.Jobs.BacktestStart, err = timeEnv("BACKTEST_START"); err != nil {
		return nil, err
	}
	if cfg.Jobs.BacktestEnd, err = timeEnv("BACKTEST_END"); err != nil {
		return nil, err
	}

	if cfg.Eval, err = loadEvalConfig(os.Getenv("EVAL_CONFIG")); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	slog.Info("Configuration initialized",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"auth_enabled", len(cfg.Server.APIKeys) > 0,
		"worker_count", cfg.Worker.WorkerCount,
		"eval_policy", cfg.Eval != nil)
	return cfg, nil
}

// loadEvalConfig reads the evaluation-policy YAML and merges its global
// normalization section onto the built-in defaults, so unset fields keep
// their default values. Path may be empty.
func loadEvalConfig(path string) (*EvalConfig, error) {
	eval := &EvalConfig{Normalization: normalize.DefaultConfig()}
	if path == "" {
		return eval, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, NewLoadError(path, err)
	}
	var loaded EvalConfig
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}
	if err := mergo.Merge(&loaded.Normalization, normalize.DefaultConfig()); err != nil {
		return nil, NewLoadError(path, err)
	}
	return &loaded, nil
}

// validate fails fast on configuration a running process cannot use.
func validate(cfg *Config) error {
	if cfg.Database.URL == "" {
		return NewValidationError("database", "url", ErrMissingRequiredField)
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return NewValidationError("server", "port", ErrInvalidValue)
	}
	if cfg.Ingest.MaxBodyBytes <= 0 {
		return NewValidationError("ingest", "max_body_bytes", ErrInvalidValue)
	}
	if cfg.Worker.WorkerCount < 1 {
		return NewValidationError("worker", "worker_count", ErrInvalidValue)
	}
	if cfg.Worker.BatchSize < 1 {
		return NewValidationError("worker", "batch_size", ErrInvalidValue)
	}
	if cfg.Worker.MaxAttempts < 1 {
		return NewValidationError("worker", "max_attempts", ErrInvalidValue)
	}
	if cfg.Jobs.Alpha <= 0 || cfg.Jobs.Alpha >= 1 {
		return NewValidationError("jobs", "alpha", ErrInvalidValue)
	}
	if cfg.Jobs.BaselineHours < 1 || cfg.Jobs.CurrentHours < 1 {
		return NewValidationError("jobs", "window_hours", ErrInvalidValue)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return NewValidationError("logging", "log_level", ErrInvalidValue)
	}
	if cfg.Eval != nil {
		if err := validateEval(cfg.Eval); err != nil {
			return err
		}
	}
	return nil
}

func validateEval(eval *EvalConfig) error {
	check := func(id string, c normalize.Config) error {
		if c.LatencyP99TargetMS <= 0 {
			return NewValidationError("eval", id, fmt.Errorf("%w: latency_p99_target_ms must be positive", ErrInvalidValue))
		}
		w := c.QualityWeights
		for _, v := range []float64{w.Faithfulness, w.Coverage, w.Confidence, w.Hallucination, w.Latency} {
			if v < 0 {
				return NewValidationError("eval", id, fmt.Errorf("%w: quality weights must be non-negative", ErrInvalidValue))
			}
		}
		return nil
	}
	if err := check("global", eval.Normalization); err != nil {
		return err
	}
	resolver := eval.Resolver()
	for id := range eval.Workflows {
		if err := check(id, resolver.ForWorkflow(id)); err != nil {
			return err
		}
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func intEnv(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func int64Env(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func timeEnv(key string) (time.Time, error) {
	val := os.Getenv(key)
	if val == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return t, nil
}

func durationEnv(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
