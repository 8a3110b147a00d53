package worker

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/fan-automation/internal/domain"
	"github.com/ignite/fan-automation/internal/metrics"
	"github.com/ignite/fan-automation/internal/pkg/logger"
)

// =============================================================================
// ACTION RUNNER: Executes Scheduled Actions When They Fall Due
// =============================================================================
// The runner sleeps until the earliest due time in its queue, pops what is
// due and hands each id to a fixed pool of workers. A push wakes it early.
// The store stays authoritative: a popped id whose lease cannot be taken is
// dropped, and the recovery sweeper re-queues anything left pending.

// Executor runs one due action.
type Executor interface {
	Execute(ctx context.Context, actionID string) (domain.ScheduledAction, error)
}

// RunnerConfig holds runner settings.
type RunnerConfig struct {
	Workers int
	// MaxIdle caps how long the runner sleeps without checking the queue.
	// Pushes from other processes sharing a Redis queue are seen within it.
	MaxIdle time.Duration
	// RetryDelay is how far out an action is re-queued after Execute fails
	// with a store error.
	RetryDelay time.Duration
	BatchSize  int
}

// ActionRunner implements scheduler.DueQueue by pushing to its queue and
// waking the pop loop.
type ActionRunner struct {
	queue DueQueue
	exec  Executor
	cfg   RunnerConfig
	wake  chan struct{}
	now   func() time.Time
}

// NewActionRunner creates a runner over queue.
func NewActionRunner(queue DueQueue, exec Executor, cfg RunnerConfig) *ActionRunner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 5 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &ActionRunner{
		queue: queue,
		exec:  exec,
		cfg:   cfg,
		wake:  make(chan struct{}, 1),
		now:   time.Now,
	}
}

// Push queues actionID for due and wakes the runner.
func (r *ActionRunner) Push(ctx context.Context, actionID string, due time.Time) error {
	if err := r.queue.Push(ctx, actionID, due); err != nil {
		return err
	}
	select {
	case r.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run blocks until ctx is cancelled.
func (r *ActionRunner) Run(ctx context.Context) error {
	logger.Info("runner: starting", "workers", r.cfg.Workers, "max_idle", r.cfg.MaxIdle.String())

	work := make(chan string)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Workers; i++ {
		g.Go(func() error {
			for id := range work {
				r.execute(gctx, id)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(work)
		return r.loop(gctx, work)
	})

	err := g.Wait()
	logger.Info("runner: stopped")
	return err
}

func (r *ActionRunner) loop(ctx context.Context, work chan<- string) error {
	for {
		ids, err := r.queue.PopDue(ctx, r.now(), r.cfg.BatchSize)
		if err != nil {
			logger.Warn("runner: pop due actions failed", "error", err.Error())
		}
		for _, id := range ids {
			select {
			case work <- id:
			case <-ctx.Done():
				return nil
			}
		}
		if len(ids) == r.cfg.BatchSize {
			continue
		}

		timer := time.NewTimer(r.sleepFor(ctx))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-r.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (r *ActionRunner) sleepFor(ctx context.Context) time.Duration {
	wait := r.cfg.MaxIdle
	next, ok, err := r.queue.Next(ctx)
	if err != nil || !ok {
		return wait
	}
	if d := next.Sub(r.now()); d < wait {
		wait = d
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (r *ActionRunner) execute(ctx context.Context, id string) {
	metrics.WorkerStarted("actions")
	defer metrics.WorkerFinished("actions")

	a, err := r.exec.Execute(ctx, id)
	switch {
	case err == nil:
		logger.Debug("runner: action executed", "action_id", id, "status", string(a.Status))
	case errors.Is(err, domain.ErrLeaseNotAcquired):
		logger.Debug("runner: action not claimable", "action_id", id)
	case errors.Is(err, domain.ErrNotFound):
		logger.Warn("runner: queued action does not exist", "action_id", id)
	case ctx.Err() != nil:
		// shutting down; the sweeper picks it up on the next start
	default:
		logger.Error("runner: execute failed, re-queueing", "action_id", id, "error", err.Error())
		if err := r.Push(ctx, id, r.now().Add(r.cfg.RetryDelay)); err != nil {
			logger.Warn("runner: re-queue failed", "action_id", id, "error", err.Error())
		}
	}
}
