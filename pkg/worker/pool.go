package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentlens/agentlens/pkg/config"
	"github.com/agentlens/agentlens/pkg/metrics"
	"github.com/agentlens/agentlens/pkg/store"
)

// ErrNoEventsAvailable signals an empty claim; workers back off to the
// poll interval.
var ErrNoEventsAvailable = errors.New("no events available")

// Pool runs the configured number of materializer workers against the
// raw event log.
type Pool struct {
	db  *pgxpool.Pool
	cfg config.WorkerConfig
	mat *Materializer

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool creates a worker pool. Start must be called to begin
// processing.
func NewPool(db *pgxpool.Pool, cfg config.WorkerConfig, mat *Materializer) *Pool {
	return &Pool{
		db:     db,
		cfg:    cfg,
		mat:    mat,
		stopCh: make(chan struct{}),
	}
}

// PoolHealth reports the pool state for the health endpoint.
type PoolHealth struct {
	Workers int  `json:"workers"`
	Running bool `json:"running"`
}

// Health reports the configured worker count and whether the pool is
// still accepting work.
func (p *Pool) Health() PoolHealth {
	running := true
	select {
	case <-p.stopCh:
		running = false
	default:
	}
	return PoolHealth{Workers: p.cfg.WorkerCount, Running: running}
}

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.run(ctx, fmt.Sprintf("worker-%d", i))
	}
	slog.Info("Worker pool started", "workers", p.cfg.WorkerCount, "batch_size", p.cfg.BatchSize)
}

// Stop signals all workers to stop and waits up to the configured
// graceful shutdown timeout for in-flight batches to finish. Safe to
// call multiple times.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped")
	case <-time.After(p.cfg.GracefulShutdownTimeout):
		slog.Warn("Worker pool shutdown timed out", "timeout", p.cfg.GracefulShutdownTimeout)
	}
}

// run is the main worker loop.
func (p *Pool) run(ctx context.Context, id string) {
	defer p.wg.Done()

	log := slog.With("worker_id", id)
	log.Info("Worker started")

	for {
		select {
		case <-p.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := p.processBatch(ctx); err != nil {
				if errors.Is(err, ErrNoEventsAvailable) {
					p.sleep(p.pollInterval())
					continue
				}
				log.Error("Error processing batch", "error", err)
				p.sleep(time.Second)
			}
		}
	}
}

// processBatch claims one batch and applies each event inside its own
// savepoint. The claim locks ride the batch transaction, so concurrent
// workers skip past them.
func (p *Pool) processBatch(ctx context.Context) error {
	start := time.Now()

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning batch transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	st := store.New(tx)
	events, err := st.ClaimRawEvents(ctx, p.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return ErrNoEventsAvailable
	}

	for _, ev := range events {
		sp, err := tx.Begin(ctx) // savepoint
		if err != nil {
			return fmt.Errorf("opening savepoint: %w", err)
		}
		procErr := p.mat.Process(ctx, store.New(sp), ev)
		if procErr != nil {
			_ = sp.Rollback(ctx)
			slog.Warn("Event materialization failed",
				"tenant_id", ev.TenantID, "event_id", ev.EventID,
				"event_type", ev.Type, "attempt", ev.AttemptCount+1,
				"error", procErr)
			if err := st.MarkRawEventFailed(ctx, ev.TenantID, ev.EventID, procErr.Error(), p.cfg.MaxAttempts); err != nil {
				return err
			}
			metrics.EventsProcessed.WithLabelValues(ev.Type, "failed").Inc()
			continue
		}
		if err := sp.Commit(ctx); err != nil {
			return fmt.Errorf("committing savepoint: %w", err)
		}
		if err := st.MarkRawEventProcessed(ctx, ev.TenantID, ev.EventID); err != nil {
			return err
		}
		metrics.EventsProcessed.WithLabelValues(ev.Type, "processed").Inc()
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	metrics.BatchDuration.Observe(time.Since(start).Seconds())

	if pending, err := store.New(p.db).PendingRawEventCount(ctx); err == nil {
		metrics.PendingEvents.Set(float64(pending))
	}
	return nil
}

// pollInterval returns the base interval plus random jitter, so workers
// across replicas spread their claim attempts.
func (p *Pool) pollInterval() time.Duration {
	jitter := p.cfg.PollIntervalJitter
	if jitter <= 0 {
		return p.cfg.PollInterval
	}
	offset := time.Duration(rand.Int64N(int64(2*jitter))) - jitter
	return p.cfg.PollInterval + offset
}

// sleep waits for the given duration or until stop is signalled.
func (p *Pool) sleep(d time.Duration) {
	select {
	case <-p.stopCh:
	case <-time.After(d):
	}
}
