package eventlog

import (
	"context"
	"time"

	"github.com/ignite/fan-automation/internal/domain"
)

// Repository defines the data access contract for the event log.
type Repository interface {
	// Append writes e atomically and sets its Seq.
	Append(ctx context.Context, e *domain.Event) error

	// Query returns events matching the filter ordered by timestamp, then Seq.
	Query(ctx context.Context, f domain.EventFilter) ([]domain.Event, error)

	// Counts aggregates events by subject, type and time bucket.
	Counts(ctx context.Context, f domain.CountFilter) ([]domain.BucketCount, error)

	// MarkProcessed checkpoints an event as applied by the pipeline. Marking
	// an event twice, or an unknown event, is not an error.
	MarkProcessed(ctx context.Context, eventID string, at time.Time) error

	// Unprocessed returns events neither processed nor dead-lettered whose
	// last notification is older than before, in log order.
	Unprocessed(ctx context.Context, before time.Time, limit int) ([]domain.Event, error)

	// MarkRedelivered bumps the redelivery count and notification time.
	MarkRedelivered(ctx context.Context, eventID string, at time.Time) error

	// MarkDeadLettered takes an event out of recovery for good.
	MarkDeadLettered(ctx context.Context, eventID string, at time.Time) error
}

// Notifier delivers an appended event to downstream consumers.
type Notifier interface {
	Notify(ctx context.Context, e domain.Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e domain.Event) error

func (f NotifierFunc) Notify(ctx context.Context, e domain.Event) error { return f(ctx, e) }
