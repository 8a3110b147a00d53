package identity

import (
	"context"
	"time"

	"github.com/ignite/fan-automation/internal/domain"
)

// Repository defines the data access contract for visitor identities.
// Every write is conditional so that the rules hold even without the
// service-level per-key lock.
type Repository interface {
	// GetOrCreate returns the identity for anonymousID, inserting an
	// anonymous-only record stamped at now if none exists.
	GetOrCreate(ctx context.Context, anonymousID string, now time.Time) (domain.Identity, error)

	// AttachIdentifier sets identified_id unless a more recent attach is
	// already recorded, and returns the resulting identity.
	AttachIdentifier(ctx context.Context, anonymousID, identifiedID string, at time.Time) (domain.Identity, error)

	// SetPreferredPlatformIfNull sets the preference only when none is set.
	SetPreferredPlatformIfNull(ctx context.Context, anonymousID string, p domain.Platform, at time.Time) (domain.Identity, error)

	// SetPreferredPlatform overwrites the preference.
	SetPreferredPlatform(ctx context.Context, anonymousID string, p domain.Platform, at time.Time) (domain.Identity, error)
}
