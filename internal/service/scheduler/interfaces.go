package scheduler

import (
	"context"
	"time"

	"github.com/ignite/fan-automation/internal/domain"
)

// Deliverer sends one follow-up message. The scheduler treats it as a black
// box with a binary outcome and does not assume the far side is idempotent.
type Deliverer interface {
	Send(ctx context.Context, recipientID, actionType string, payload map[string]string) error
}

// SuppressionChecker is the pre-send check. Implementations must read the
// same store suppression writes go to.
type SuppressionChecker interface {
	IsSuppressed(ctx context.Context, recipientID string) (bool, error)
}

// IdentityResolver resolves the recipient of an action.
type IdentityResolver interface {
	Resolve(ctx context.Context, anonymousID string) (domain.Identity, error)
}

// DueQueue wakes a worker when an action becomes due.
type DueQueue interface {
	Push(ctx context.Context, actionID string, due time.Time) error
}
