// Package pipeline applies appended events to identity, suppression and
// scheduling state. Every step is idempotent, so an at-least-once transport
// can redeliver the same event safely.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/fan-automation/internal/domain"
	"github.com/ignite/fan-automation/internal/pkg/logger"
)

// Identities is the identity resolver surface the pipeline writes to.
type Identities interface {
	Resolve(ctx context.Context, anonymousID string) (domain.Identity, error)
	AttachIdentifier(ctx context.Context, anonymousID, identifiedID string, at time.Time) (domain.Identity, error)
	SetPreferredPlatform(ctx context.Context, anonymousID string, p domain.Platform) (domain.Identity, error)
	ChangePreferredPlatform(ctx context.Context, anonymousID string, p domain.Platform) (domain.Identity, error)
}

// Suppressions records unsubscribe signals.
type Suppressions interface {
	Suppress(ctx context.Context, recipientID string, reason domain.SuppressionReason, actor string) (bool, error)
}

// Scheduler creates follow-up actions from trigger events.
type Scheduler interface {
	Trigger(ctx context.Context, e domain.Event) ([]domain.ScheduledAction, error)
}

// Checkpointer records that an event has been fully applied.
type Checkpointer interface {
	MarkProcessed(ctx context.Context, eventID string) error
}

// Handler consumes events from the dispatcher or the SQS consumer.
type Handler struct {
	identities   Identities
	suppressions Suppressions
	scheduler    Scheduler
	checkpoints  Checkpointer
}

// NewHandler creates an event handler.
func NewHandler(identities Identities, suppressions Suppressions, scheduler Scheduler) *Handler {
	return &Handler{identities: identities, suppressions: suppressions, scheduler: scheduler}
}

// SetCheckpointer enables event checkpoints. Without one, events are never
// marked processed.
func (h *Handler) SetCheckpointer(c Checkpointer) { h.checkpoints = c }

// Handle applies one event. Identity changes land before the scheduler runs
// so a trigger sees the recipient attached by the same event.
func (h *Handler) Handle(ctx context.Context, e domain.Event) error {
	if _, err := h.identities.Resolve(ctx, e.AnonymousID); err != nil {
		return fmt.Errorf("resolve %s: %w", e.AnonymousID, err)
	}

	if contact := identifierOf(e); contact != "" {
		if _, err := h.identities.AttachIdentifier(ctx, e.AnonymousID, contact, e.Timestamp); err != nil {
			return fmt.Errorf("attach identifier for %s: %w", e.AnonymousID, err)
		}
	}

	switch e.Type {
	case domain.EventListenClick:
		// Implicit signal: only the first click sets the preference.
		if _, err := h.identities.SetPreferredPlatform(ctx, e.AnonymousID, domain.Platform(e.Attr(domain.AttrPlatform))); err != nil {
			return fmt.Errorf("set preferred platform: %w", err)
		}
	case domain.EventPlatformPreferenceSet:
		if _, err := h.identities.ChangePreferredPlatform(ctx, e.AnonymousID, domain.Platform(e.Attr(domain.AttrPlatform))); err != nil {
			return fmt.Errorf("change preferred platform: %w", err)
		}
	case domain.EventUnsubscribe:
		recipient := e.Attr(domain.AttrRecipientID)
		created, err := h.suppressions.Suppress(ctx, recipient, domain.ReasonUnsubscribe, "event:"+e.ID)
		if err != nil {
			return fmt.Errorf("suppress %s: %w", logger.RedactEmail(recipient), err)
		}
		if created {
			logger.Info("pipeline: recipient unsubscribed", "recipient_id", recipient, "event_id", e.ID)
		}
	}

	actions, err := h.scheduler.Trigger(ctx, e)
	if err != nil {
		return fmt.Errorf("trigger %s: %w", e.ID, err)
	}
	for _, a := range actions {
		logger.Debug("pipeline: action scheduled", "event_id", e.ID, "action_id", a.ID, "status", string(a.Status))
	}

	if h.checkpoints != nil {
		if err := h.checkpoints.MarkProcessed(ctx, e.ID); err != nil {
			return fmt.Errorf("checkpoint %s: %w", e.ID, err)
		}
	}
	return nil
}

func identifierOf(e domain.Event) string {
	if e.IdentifiedID != "" {
		return e.IdentifiedID
	}
	if e.Type == domain.EventSubscribeSubmit {
		return e.Attr(domain.AttrContact)
	}
	return ""
}
