package worker

import (
	"context"
	"time"

	"github.com/ignite/fan-automation/internal/domain"
	"github.com/ignite/fan-automation/internal/metrics"
	"github.com/ignite/fan-automation/internal/pkg/logger"
)

// =============================================================================
// QUEUE RECOVERY: Re-queues Pending Actions From The Store
// =============================================================================
// The due queue is a cache of the action table. If a push failed, a worker
// crashed holding a lease, or the process restarted with an in-memory queue,
// pending actions would never wake up. This sweeper periodically reads them
// from the store and pushes them again. Pushing an already queued id is a
// no-op apart from refreshing its due time.

const (
	// DefaultRecoveryInterval is how often the store is swept.
	DefaultRecoveryInterval = time.Minute

	// DefaultRecoveryBatch bounds one sweep.
	DefaultRecoveryBatch = 5000
)

// PendingSource lists pending actions, earliest due first.
type PendingSource interface {
	Pending(ctx context.Context, limit int) ([]domain.ScheduledAction, error)
}

// Pusher queues an action id for its due time.
type Pusher interface {
	Push(ctx context.Context, actionID string, due time.Time) error
}

// QueueRecoveryWorker re-queues pending actions on an interval.
type QueueRecoveryWorker struct {
	source   PendingSource
	queue    Pusher
	interval time.Duration
	batch    int
}

// NewQueueRecoveryWorker creates a sweeper. Non-positive settings use the
// defaults.
func NewQueueRecoveryWorker(source PendingSource, queue Pusher, interval time.Duration, batch int) *QueueRecoveryWorker {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if batch <= 0 {
		batch = DefaultRecoveryBatch
	}
	return &QueueRecoveryWorker{source: source, queue: queue, interval: interval, batch: batch}
}

// Start sweeps once immediately, then on every tick. It blocks until ctx is
// cancelled.
func (qr *QueueRecoveryWorker) Start(ctx context.Context) error {
	logger.Info("recovery: starting", "interval", qr.interval.String(), "batch", qr.batch)

	qr.Sweep(ctx)

	ticker := time.NewTicker(qr.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("recovery: stopping")
			return nil
		case <-ticker.C:
			qr.Sweep(ctx)
		}
	}
}

// Sweep re-queues pending actions and returns how many were pushed.
func (qr *QueueRecoveryWorker) Sweep(ctx context.Context) int {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pending, err := qr.source.Pending(queryCtx, qr.batch)
	if err != nil {
		logger.Warn("recovery: listing pending actions failed", "error", err.Error())
		return 0
	}
	metrics.SetDueQueueDepth(len(pending))

	pushed := 0
	for _, a := range pending {
		if err := qr.queue.Push(ctx, a.ID, a.NotBefore); err != nil {
			logger.Warn("recovery: push failed", "action_id", a.ID, "error", err.Error())
			continue
		}
		pushed++
	}
	if pushed > 0 {
		logger.Debug("recovery: re-queued pending actions", "count", pushed)
	}
	return pushed
}
