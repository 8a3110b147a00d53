package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/fan-automation/internal/domain"
)

// IdentityRepo is an in-memory identity store.
type IdentityRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.Identity
}

// NewIdentityRepo creates an empty identity store.
func NewIdentityRepo() *IdentityRepo {
	return &IdentityRepo{byID: make(map[string]*domain.Identity)}
}

func (r *IdentityRepo) GetOrCreate(_ context.Context, anonymousID string, now time.Time) (domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreate(anonymousID, now), nil
}

func (r *IdentityRepo) getOrCreate(anonymousID string, now time.Time) domain.Identity {
	id, ok := r.byID[anonymousID]
	if !ok {
		id = &domain.Identity{AnonymousID: anonymousID, CreatedAt: now, UpdatedAt: now}
		r.byID[anonymousID] = id
	}
	return clone(*id)
}

func (r *IdentityRepo) AttachIdentifier(_ context.Context, anonymousID, identifiedID string, at time.Time) (domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getOrCreate(anonymousID, at)
	id := r.byID[anonymousID]
	if id.IdentifiedAt == nil || !at.Before(*id.IdentifiedAt) {
		id.IdentifiedID = identifiedID
		id.IdentifiedAt = timePtr(at)
		id.UpdatedAt = at
	}
	return clone(*id), nil
}

func (r *IdentityRepo) SetPreferredPlatformIfNull(_ context.Context, anonymousID string, p domain.Platform, at time.Time) (domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getOrCreate(anonymousID, at)
	id := r.byID[anonymousID]
	if id.PreferredPlatform == "" {
		id.PreferredPlatform = p
		id.PreferenceSetAt = timePtr(at)
		id.UpdatedAt = at
	}
	return clone(*id), nil
}

func (r *IdentityRepo) SetPreferredPlatform(_ context.Context, anonymousID string, p domain.Platform, at time.Time) (domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getOrCreate(anonymousID, at)
	id := r.byID[anonymousID]
	id.PreferredPlatform = p
	id.PreferenceSetAt = timePtr(at)
	id.UpdatedAt = at
	return clone(*id), nil
}

func clone(id domain.Identity) domain.Identity {
	if id.IdentifiedAt != nil {
		id.IdentifiedAt = timePtr(*id.IdentifiedAt)
	}
	if id.PreferenceSetAt != nil {
		id.PreferenceSetAt = timePtr(*id.PreferenceSetAt)
	}
	return id
}
