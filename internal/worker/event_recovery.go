package worker

import (
	"context"
	"time"

	"github.com/ignite/fan-automation/internal/domain"
	"github.com/ignite/fan-automation/internal/pkg/logger"
)

// =============================================================================
// EVENT RECOVERY: Re-notifies Events The Pipeline Never Checkpointed
// =============================================================================
// Append makes an event durable before the notifier sees it. A failed
// notify, a crash with events still in the dispatcher channel, or a handler
// error that outlived its retries leaves the event without a processed
// checkpoint. This sweeper finds those events once they are older than the
// grace period and notifies them again. Every pipeline step is idempotent,
// so an event that was in fact applied is harmless to redeliver. Events that
// keep failing are dead-lettered after MaxRedeliveries attempts.

const (
	DefaultEventRecoveryInterval = time.Minute
	DefaultEventRedeliverAfter   = 2 * time.Minute
	DefaultEventRecoveryBatch    = 1000
	DefaultMaxRedeliveries       = 10
)

// EventSource is the event log surface the sweeper drives.
type EventSource interface {
	Unprocessed(ctx context.Context, grace time.Duration, limit int) ([]domain.Event, error)
	Redeliver(ctx context.Context, e domain.Event) error
	DeadLetter(ctx context.Context, e domain.Event) error
}

// EventRecoveryConfig holds sweeper settings. Zero values use the defaults.
type EventRecoveryConfig struct {
	Interval        time.Duration
	Grace           time.Duration
	Batch           int
	MaxRedeliveries int
}

// EventRecoveryWorker redelivers unprocessed events on an interval.
type EventRecoveryWorker struct {
	source EventSource
	cfg    EventRecoveryConfig
}

// NewEventRecoveryWorker creates a sweeper over source.
func NewEventRecoveryWorker(source EventSource, cfg EventRecoveryConfig) *EventRecoveryWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultEventRecoveryInterval
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultEventRedeliverAfter
	}
	if cfg.Batch <= 0 {
		cfg.Batch = DefaultEventRecoveryBatch
	}
	if cfg.MaxRedeliveries <= 0 {
		cfg.MaxRedeliveries = DefaultMaxRedeliveries
	}
	return &EventRecoveryWorker{source: source, cfg: cfg}
}

// Start sweeps once immediately, then on every tick, until ctx is cancelled.
func (w *EventRecoveryWorker) Start(ctx context.Context) error {
	logger.Info("event recovery: starting",
		"interval", w.cfg.Interval.String(), "grace", w.cfg.Grace.String(), "max_redeliveries", w.cfg.MaxRedeliveries)

	w.Sweep(ctx)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("event recovery: stopping")
			return nil
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep handles one batch of unprocessed events and reports how many were
// redelivered and how many dead-lettered.
func (w *EventRecoveryWorker) Sweep(ctx context.Context) (redelivered, deadLettered int) {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	events, err := w.source.Unprocessed(queryCtx, w.cfg.Grace, w.cfg.Batch)
	if err != nil {
		logger.Warn("event recovery: listing unprocessed events failed", "error", err.Error())
		return 0, 0
	}

	for _, e := range events {
		if ctx.Err() != nil {
			break
		}
		if e.Redeliveries >= w.cfg.MaxRedeliveries {
			if err := w.source.DeadLetter(ctx, e); err != nil {
				logger.Warn("event recovery: dead-letter failed", "event_id", e.ID, "error", err.Error())
				continue
			}
			logger.Error("event recovery: event dead-lettered",
				"event_id", e.ID, "type", string(e.Type), "redeliveries", e.Redeliveries)
			deadLettered++
			continue
		}
		if err := w.source.Redeliver(ctx, e); err != nil {
			logger.Warn("event recovery: redelivery failed", "event_id", e.ID, "error", err.Error())
			continue
		}
		redelivered++
	}
	if redelivered > 0 || deadLettered > 0 {
		logger.Info("event recovery: sweep finished", "redelivered", redelivered, "dead_lettered", deadLettered)
	}
	return redelivered, deadLettered
}
