package eventlog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/fan-automation/internal/domain"
	"github.com/ignite/fan-automation/internal/metrics"
	"github.com/ignite/fan-automation/internal/pkg/logger"
	"github.com/ignite/fan-automation/internal/pkg/retry"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// Service implements the event log. It is safe for concurrent use.
type Service struct {
	repo     Repository
	notifier Notifier
	retry    retry.Config
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithRetry overrides the transient store retry policy.
func WithRetry(cfg retry.Config) Option { return func(s *Service) { s.retry = cfg } }

// NewService creates an event log. notifier may be nil.
func NewService(repo Repository, notifier Notifier, opts ...Option) *Service {
	s := &Service{repo: repo, notifier: notifier, retry: retry.DefaultConfig, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetNotifier replaces the notifier. It must be called before the service
// receives traffic.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// Append validates and durably records e, then notifies consumers.
// It returns the generated event id.
func (s *Service) Append(ctx context.Context, e domain.Event) (string, error) {
	e.SubjectID = strings.TrimSpace(e.SubjectID)
	e.AnonymousID = strings.TrimSpace(e.AnonymousID)
	e.IdentifiedID = strings.TrimSpace(e.IdentifiedID)
	if err := e.Validate(); err != nil {
		if ve, ok := err.(*domain.ValidationError); ok {
			metrics.RecordEventRejected(ve.Field)
		}
		return "", err
	}

	e.ID = uuid.New().String()
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	e.Timestamp = e.Timestamp.UTC()
	e.RecordedAt = s.now().UTC()

	if err := retry.Store(ctx, s.retry, func() error { return s.repo.Append(ctx, &e) }); err != nil {
		return "", err
	}
	metrics.RecordEventAppended(string(e.Type))

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, e); err != nil {
			// The event stays unprocessed; the event recovery sweep re-notifies it.
			metrics.RecordNotifyFailure()
			logger.Warn("eventlog: notify failed", "event_id", e.ID, "type", string(e.Type), "error", err.Error())
		}
	}
	return e.ID, nil
}

// Query returns events matching f in log order.
func (s *Service) Query(ctx context.Context, f domain.EventFilter) ([]domain.Event, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, &domain.ValidationError{Field: "type", Reason: "unknown event type " + string(f.Type)}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, &domain.ValidationError{Field: "to", Reason: "must not be before from"}
	}
	switch {
	case f.Limit <= 0:
		f.Limit = defaultQueryLimit
	case f.Limit > maxQueryLimit:
		f.Limit = maxQueryLimit
	}
	return retry.Value(ctx, s.retry, func() ([]domain.Event, error) { return s.repo.Query(ctx, f) })
}

// Counts aggregates events by subject, type and bucket over [From, To).
func (s *Service) Counts(ctx context.Context, f domain.CountFilter) ([]domain.BucketCount, error) {
	if f.Bucket == "" {
		f.Bucket = domain.BucketHour
	}
	if !f.Bucket.Valid() {
		return nil, &domain.ValidationError{Field: "bucket", Reason: "must be minute, hour or day"}
	}
	if f.To.IsZero() {
		f.To = s.now().UTC()
	}
	if f.From.IsZero() {
		f.From = f.To.Add(-24 * time.Hour)
	}
	if !f.To.After(f.From) {
		return nil, &domain.ValidationError{Field: "to", Reason: "must be after from"}
	}
	return retry.Value(ctx, s.retry, func() ([]domain.BucketCount, error) { return s.repo.Counts(ctx, f) })
}

// MarkProcessed checkpoints eventID as fully applied.
func (s *Service) MarkProcessed(ctx context.Context, eventID string) error {
	at := s.now().UTC()
	return retry.Store(ctx, s.retry, func() error { return s.repo.MarkProcessed(ctx, eventID, at) })
}

// Unprocessed lists events whose last notification is more than grace old and
// that no consumer has checkpointed.
func (s *Service) Unprocessed(ctx context.Context, grace time.Duration, limit int) ([]domain.Event, error) {
	before := s.now().UTC().Add(-grace)
	return retry.Value(ctx, s.retry, func() ([]domain.Event, error) { return s.repo.Unprocessed(ctx, before, limit) })
}

// Redeliver notifies consumers of e again. The attempt is recorded before the
// notify so a failing notifier still moves e toward the dead-letter cap.
func (s *Service) Redeliver(ctx context.Context, e domain.Event) error {
	if s.notifier == nil {
		return errors.New("eventlog: no notifier configured")
	}
	at := s.now().UTC()
	if err := retry.Store(ctx, s.retry, func() error { return s.repo.MarkRedelivered(ctx, e.ID, at) }); err != nil {
		return err
	}
	if err := s.notifier.Notify(ctx, e); err != nil {
		metrics.RecordNotifyFailure()
		return err
	}
	metrics.RecordEventRedelivered()
	return nil
}

// DeadLetter stops recovering e.
func (s *Service) DeadLetter(ctx context.Context, e domain.Event) error {
	at := s.now().UTC()
	if err := retry.Store(ctx, s.retry, func() error { return s.repo.MarkDeadLettered(ctx, e.ID, at) }); err != nil {
		return err
	}
	metrics.RecordEventDeadLettered()
	return nil
}
