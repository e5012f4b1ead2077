// AgentLens server — ingests agent telemetry over HTTP, materializes
// evaluation records through queue workers, and runs the batch
// analytics jobs.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentlens/agentlens/pkg/api"
	"github.com/agentlens/agentlens/pkg/config"
	"github.com/agentlens/agentlens/pkg/database"
	"github.com/agentlens/agentlens/pkg/ingest"
	"github.com/agentlens/agentlens/pkg/jobs"
	"github.com/agentlens/agentlens/pkg/schema"
	"github.com/agentlens/agentlens/pkg/store"
	"github.com/agentlens/agentlens/pkg/version"
	"github.com/agentlens/agentlens/pkg/worker"
)

func main() {
	envFile := flag.String("env-file", ".env", "Path to an optional .env file")
	jobName := flag.String("job", "",
		"Run a single batch job and exit (rollups, anomalies, significance, auto-eval, slo, backtest)")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	}

	cfg, err := config.Initialize()
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	configureLogging(cfg.LogLevel)

	slog.Info("Starting AgentLens", "version", version.Full(), "job", *jobName)

	ctx := context.Background()

	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL database")

	st := store.New(dbClient.Pool())

	if *jobName != "" {
		runJob(ctx, *jobName, st, cfg)
		return
	}

	registry, err := schema.NewRegistry()
	if err != nil {
		slog.Error("Failed to compile event schemas", "error", err)
		os.Exit(1)
	}

	pool := worker.NewPool(dbClient.Pool(), cfg.Worker, worker.NewMaterializer(registry, cfg.Eval.Resolver()))
	pool.Start(ctx)

	httpServer := api.NewServer(cfg, dbClient, st, ingest.NewService(registry, st))
	httpServer.SetWorkerPool(pool)

	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port)
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("AgentLens started successfully", "workers", cfg.Worker.WorkerCount)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Stop claiming new event batches, then drain HTTP.
	pool.Stop()
	slog.Info("Worker pool stopped")

	httpCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// runJob executes one batch job to completion and exits.
func runJob(ctx context.Context, name string, st *store.Store, cfg *config.Config) {
	deps := jobs.Deps{Store: st, Cfg: cfg.Jobs, Eval: cfg.Eval}
	if err := jobs.Run(ctx, name, deps); err != nil {
		slog.Error("Job run failed", "job", name, "error", err)
		os.Exit(1)
	}
}

func configureLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
