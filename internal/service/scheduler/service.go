package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/fan-automation/internal/domain"
	"github.com/ignite/fan-automation/internal/metrics"
	"github.com/ignite/fan-automation/internal/pkg/logger"
	"github.com/ignite/fan-automation/internal/pkg/retry"
)

// Rule schedules ActionType Delay after an event of EventType.
type Rule struct {
	EventType  domain.EventType
	ActionType string
	Delay      time.Duration
}

// DefaultRules sends the listen follow-up seven minutes after a platform click.
func DefaultRules() []Rule {
	return []Rule{{EventType: domain.EventListenClick, ActionType: "listen_followup", Delay: 7 * time.Minute}}
}

// Config holds scheduler settings.
type Config struct {
	Rules       []Rule
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// Lease bounds how long one worker owns an action. Delivery is given
	// half of it so the transition lands before the lease can expire.
	Lease time.Duration
	// Owner prefixes lease tokens. Every Execute call leases under its own
	// token, so two goroutines of one process never share a lease.
	Owner string
}

func (c *Config) setDefaults() {
	if len(c.Rules) == 0 {
		c.Rules = DefaultRules()
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 30 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = time.Hour
	}
	if c.Lease <= 0 {
		c.Lease = time.Minute
	}
	if c.Owner == "" {
		host, _ := os.Hostname()
		c.Owner = host + "-" + uuid.New().String()[:8]
	}
}

// Service implements the automation scheduler. It is safe for concurrent use.
type Service struct {
	repo        Repository
	identities  IdentityResolver
	suppression SuppressionChecker
	deliverer   Deliverer
	queue       DueQueue
	cfg         Config
	rules       map[domain.EventType][]Rule
	retry       retry.Config
	now         func() time.Time
}

// NewService creates a scheduler.
func NewService(repo Repository, identities IdentityResolver, suppression SuppressionChecker, deliverer Deliverer, cfg Config) *Service {
	cfg.setDefaults()
	s := &Service{
		repo:        repo,
		identities:  identities,
		suppression: suppression,
		deliverer:   deliverer,
		cfg:         cfg,
		rules:       make(map[domain.EventType][]Rule),
		retry:       retry.DefaultConfig,
		now:         time.Now,
	}
	for _, r := range cfg.Rules {
		s.rules[r.EventType] = append(s.rules[r.EventType], r)
	}
	return s
}

// SetQueue attaches the due queue newly created actions are pushed to.
func (s *Service) SetQueue(q DueQueue) { s.queue = q }

// SetClock overrides the time source. For tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// IsTrigger reports whether events of type t schedule anything.
func (s *Service) IsTrigger(t domain.EventType) bool { return len(s.rules[t]) > 0 }

// Trigger schedules the actions configured for e's type and returns them.
// Replaying the same event returns the existing actions and creates nothing.
func (s *Service) Trigger(ctx context.Context, e domain.Event) ([]domain.ScheduledAction, error) {
	rules := s.rules[e.Type]
	if len(rules) == 0 {
		return nil, nil
	}
	if e.ID == "" {
		return nil, &domain.ValidationError{Field: "event_id", Reason: "is required"}
	}

	recipient := s.knownRecipient(ctx, e)
	status := domain.ActionPending
	lastErr := ""
	if recipient != "" {
		suppressed, err := s.suppression.IsSuppressed(ctx, recipient)
		switch {
		case err != nil:
			// The send-time check is authoritative and fails closed.
			metrics.RecordSuppressionCheck("schedule", "error")
			logger.Warn("scheduler: schedule-time suppression check failed", "recipient_id", recipient, "error", err.Error())
		case suppressed:
			metrics.RecordSuppressionCheck("schedule", "suppressed")
			status = domain.ActionSuppressed
			lastErr = "recipient suppressed at schedule time"
		default:
			metrics.RecordSuppressionCheck("schedule", "clear")
		}
	}

	now := s.now().UTC()
	out := make([]domain.ScheduledAction, 0, len(rules))
	for _, r := range rules {
		a := domain.ScheduledAction{
			ID:             uuid.New().String(),
			TriggerEventID: e.ID,
			ActionType:     r.ActionType,
			AnonymousID:    e.AnonymousID,
			SubjectID:      e.SubjectID,
			RecipientID:    recipient,
			Payload:        payloadFor(e),
			NotBefore:      e.Timestamp.UTC().Add(r.Delay),
			Status:         status,
			LastError:      lastErr,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		stored, created, err := retry.Value2(ctx, s.retry, func() (domain.ScheduledAction, bool, error) {
			return s.repo.Create(ctx, a)
		})
		if err != nil {
			return out, fmt.Errorf("create %s action for event %s: %w", r.ActionType, e.ID, err)
		}
		out = append(out, stored)
		if !created {
			metrics.RecordActionDuplicate()
			logger.Debug("scheduler: duplicate trigger ignored", "event_id", e.ID, "action_type", r.ActionType)
			continue
		}
		metrics.RecordActionCreated(r.ActionType, string(stored.Status))
		if stored.Status.Terminal() {
			metrics.RecordActionTerminal(r.ActionType, string(stored.Status))
			logger.Info("scheduler: action suppressed at schedule time", "action_id", stored.ID, "recipient_id", recipient)
			continue
		}
		s.enqueue(ctx, stored)
	}
	return out, nil
}

// Execute runs one due action: claim, resolve recipient, re-check
// suppression, deliver, transition. It returns the action as left in the
// store. domain.ErrLeaseNotAcquired means another worker owns it, it is no
// longer pending, or it is not due yet.
func (s *Service) Execute(ctx context.Context, actionID string) (domain.ScheduledAction, error) {
	now := s.now().UTC()
	lease := s.leaseToken()
	a, err := retry.Value(ctx, s.retry, func() (domain.ScheduledAction, error) {
		return s.repo.Claim(ctx, actionID, lease, now, now.Add(s.cfg.Lease))
	})
	if err != nil {
		return domain.ScheduledAction{}, err
	}
	a.LeaseOwner = lease

	recipient := a.RecipientID
	if recipient == "" {
		id, err := s.identities.Resolve(ctx, a.AnonymousID)
		if err != nil {
			return s.reschedule(ctx, a, a.AttemptCount, s.cfg.BackoffBase, "resolve recipient: "+err.Error())
		}
		if !id.Identified() {
			logger.Info("scheduler: visitor never identified, nothing to send", "action_id", a.ID, "anonymous_id", a.AnonymousID)
			return s.finish(ctx, a, domain.ActionTransition{
				Status:       domain.ActionSkipped,
				AttemptCount: a.AttemptCount,
				LastError:    "recipient never identified",
			})
		}
		recipient = id.IdentifiedID
	}

	suppressed, err := s.suppression.IsSuppressed(ctx, recipient)
	if err != nil {
		metrics.RecordSuppressionCheck("send", "error")
		logger.Warn("scheduler: suppression check failed, failing closed", "action_id", a.ID, "recipient_id", recipient, "error", err.Error())
		return s.finish(ctx, a, domain.ActionTransition{
			Status:       domain.ActionSuppressed,
			RecipientID:  recipient,
			AttemptCount: a.AttemptCount,
			LastError:    "suppression check failed: " + err.Error(),
		})
	}
	if suppressed {
		metrics.RecordSuppressionCheck("send", "suppressed")
		return s.finish(ctx, a, domain.ActionTransition{
			Status:       domain.ActionSuppressed,
			RecipientID:  recipient,
			AttemptCount: a.AttemptCount,
			LastError:    "recipient suppressed before send",
		})
	}
	metrics.RecordSuppressionCheck("send", "clear")

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.Lease/2)
	start := time.Now()
	err = s.deliverer.Send(sendCtx, recipient, a.ActionType, a.Payload)
	cancel()

	// A local quota refusal never reached the provider: no attempt is spent.
	var limited *domain.RateLimitedError
	if errors.As(err, &limited) {
		wait := limited.Wait
		if wait <= 0 {
			wait = time.Second
		}
		metrics.RecordDeliveryThrottled(a.ActionType)
		logger.Info("scheduler: channel over quota, deferring", "action_id", a.ID, "channel", limited.Channel, "retry_in", wait.String())
		a.RecipientID = recipient
		return s.reschedule(ctx, a, a.AttemptCount, wait, err.Error())
	}
	metrics.RecordDelivery(a.ActionType, err == nil, time.Since(start))

	attempts := a.AttemptCount + 1
	if err == nil {
		return s.finish(ctx, a, domain.ActionTransition{
			Status:       domain.ActionSent,
			RecipientID:  recipient,
			AttemptCount: attempts,
		})
	}

	a.RecipientID = recipient
	if attempts >= s.cfg.MaxAttempts || errors.Is(err, domain.ErrUnknownActionType) {
		logger.Error("scheduler: delivery failed permanently", "action_id", a.ID, "action_type", a.ActionType,
			"recipient_id", recipient, "attempts", attempts, "error", err.Error())
		return s.finish(ctx, a, domain.ActionTransition{
			Status:       domain.ActionFailed,
			RecipientID:  recipient,
			AttemptCount: attempts,
			LastError:    err.Error(),
		})
	}
	metrics.RecordDeliveryRetry(a.ActionType)
	delay := retry.Delay(attempts, s.cfg.BackoffBase, s.cfg.BackoffMax)
	logger.Warn("scheduler: delivery failed, retrying", "action_id", a.ID, "attempts", attempts, "retry_in", delay.String(), "error", err.Error())
	return s.reschedule(ctx, a, attempts, delay, err.Error())
}

// Get returns one action.
func (s *Service) Get(ctx context.Context, id string) (domain.ScheduledAction, error) {
	if strings.TrimSpace(id) == "" {
		return domain.ScheduledAction{}, &domain.ValidationError{Field: "action_id", Reason: "is required"}
	}
	return s.repo.Get(ctx, id)
}

// List returns actions matching the filter, newest first.
func (s *Service) List(ctx context.Context, f domain.ActionFilter) ([]domain.ScheduledAction, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, &domain.ValidationError{Field: "status", Reason: "unknown status " + string(f.Status)}
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return s.repo.List(ctx, f)
}

// Pending returns up to limit pending actions for the recovery sweep.
func (s *Service) Pending(ctx context.Context, limit int) ([]domain.ScheduledAction, error) {
	return s.repo.Pending(ctx, limit)
}

func (s *Service) knownRecipient(ctx context.Context, e domain.Event) string {
	if e.IdentifiedID != "" {
		return domain.NormalizeRecipient(e.IdentifiedID)
	}
	id, err := s.identities.Resolve(ctx, e.AnonymousID)
	if err != nil {
		logger.Warn("scheduler: identity lookup failed, recipient resolved at send time", "anonymous_id", e.AnonymousID, "error", err.Error())
		return ""
	}
	return id.IdentifiedID
}

func (s *Service) reschedule(ctx context.Context, a domain.ScheduledAction, attempts int, delay time.Duration, lastErr string) (domain.ScheduledAction, error) {
	next := s.now().UTC().Add(delay)
	out, err := s.finish(ctx, a, domain.ActionTransition{
		Status:       domain.ActionPending,
		RecipientID:  a.RecipientID,
		AttemptCount: attempts,
		NotBefore:    next,
		LastError:    lastErr,
	})
	if err == nil {
		s.enqueue(ctx, out)
	}
	return out, err
}

func (s *Service) finish(ctx context.Context, a domain.ScheduledAction, t domain.ActionTransition) (domain.ScheduledAction, error) {
	err := retry.Store(ctx, s.retry, func() error {
		return s.repo.Transition(ctx, a.ID, a.LeaseOwner, t, s.now().UTC())
	})
	if err != nil {
		return a, fmt.Errorf("transition action %s to %s: %w", a.ID, t.Status, err)
	}
	a.Status = t.Status
	a.AttemptCount = t.AttemptCount
	a.LastError = t.LastError
	if t.RecipientID != "" {
		a.RecipientID = t.RecipientID
	}
	if !t.NotBefore.IsZero() {
		a.NotBefore = t.NotBefore
	}
	a.LeaseOwner = ""
	a.LeaseUntil = nil
	if t.Status.Terminal() {
		metrics.RecordActionTerminal(a.ActionType, string(t.Status))
		logger.Info("scheduler: action finished", "action_id", a.ID, "status", string(t.Status), "attempts", t.AttemptCount)
	}
	return a, nil
}

func (s *Service) leaseToken() string {
	return s.cfg.Owner + "/" + uuid.New().String()[:8]
}

func (s *Service) enqueue(ctx context.Context, a domain.ScheduledAction) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Push(ctx, a.ID, a.NotBefore); err != nil {
		// The recovery sweep re-enqueues pending actions from the store.
		logger.Warn("scheduler: enqueue failed", "action_id", a.ID, "error", err.Error())
	}
}

func payloadFor(e domain.Event) map[string]string {
	p := make(map[string]string, len(e.Attributes)+3)
	for k, v := range e.Attributes {
		p[k] = v
	}
	p["subject_id"] = e.SubjectID
	p["trigger_event_type"] = string(e.Type)
	p["trigger_event_id"] = e.ID
	return p
}
