package scheduler

import (
	"context"
	"time"

	"github.com/ignite/fan-automation/internal/domain"
)

// Repository defines the data access contract for scheduled actions.
type Repository interface {
	// Create inserts a unless an action with the same (trigger_event_id,
	// action_type) exists. It returns the stored action and whether this
	// call created it.
	Create(ctx context.Context, a domain.ScheduledAction) (domain.ScheduledAction, bool, error)

	// Get returns domain.ErrNotFound for an unknown id.
	Get(ctx context.Context, id string) (domain.ScheduledAction, error)

	// Claim leases a pending, due action to owner until leaseUntil. It
	// returns domain.ErrNotFound for an unknown id and
	// domain.ErrLeaseNotAcquired when the action is not claimable.
	Claim(ctx context.Context, id, owner string, now, leaseUntil time.Time) (domain.ScheduledAction, error)

	// Transition applies t to a pending action leased by owner and clears
	// the lease. It returns domain.ErrLeaseNotAcquired when the action has
	// left pending or the lease was lost.
	Transition(ctx context.Context, id, owner string, t domain.ActionTransition, now time.Time) error

	// Pending returns up to limit pending actions ordered by not_before.
	Pending(ctx context.Context, limit int) ([]domain.ScheduledAction, error)

	// List returns actions matching the filter and the total count.
	List(ctx context.Context, f domain.ActionFilter) ([]domain.ScheduledAction, int, error)
}
