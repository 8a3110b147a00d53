package identity

import (
	"context"
	"strings"
	"time"

	"github.com/ignite/fan-automation/internal/domain"
	"github.com/ignite/fan-automation/internal/pkg/distlock"
	"github.com/ignite/fan-automation/internal/pkg/logger"
	"github.com/ignite/fan-automation/internal/pkg/retry"
)

const lockTimeout = 5 * time.Second

// Service implements identity resolution. It is safe for concurrent use.
type Service struct {
	repo   Repository
	locker distlock.KeyLocker
	retry  retry.Config
	now    func() time.Time
}

// NewService creates an identity resolver. A nil locker falls back to an
// in-process lock table.
func NewService(repo Repository, locker distlock.KeyLocker) *Service {
	if locker == nil {
		locker = distlock.NewLocal()
	}
	return &Service{repo: repo, locker: locker, retry: retry.DefaultConfig, now: time.Now}
}

// SetClock overrides the time source. For tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Resolve returns the identity for anonymousID, creating an anonymous-only
// record on first sight. It never returns domain.ErrNotFound.
func (s *Service) Resolve(ctx context.Context, anonymousID string) (domain.Identity, error) {
	anonymousID = strings.TrimSpace(anonymousID)
	if anonymousID == "" {
		return domain.Identity{}, &domain.ValidationError{Field: "anonymous_id", Reason: "is required"}
	}
	return retry.Value(ctx, s.retry, func() (domain.Identity, error) {
		return s.repo.GetOrCreate(ctx, anonymousID, s.now().UTC())
	})
}

// AttachIdentifier records that anonymousID was identified as identifiedID
// at the given time. The newest attach wins; an older one never overwrites
// it, and an identifier is never cleared. A zero at means now.
func (s *Service) AttachIdentifier(ctx context.Context, anonymousID, identifiedID string, at time.Time) (domain.Identity, error) {
	anonymousID = strings.TrimSpace(anonymousID)
	identifiedID = domain.NormalizeRecipient(identifiedID)
	if anonymousID == "" {
		return domain.Identity{}, &domain.ValidationError{Field: "anonymous_id", Reason: "is required"}
	}
	if identifiedID == "" {
		return domain.Identity{}, &domain.ValidationError{Field: "identified_id", Reason: "is required"}
	}
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	var out domain.Identity
	err := s.withLock(ctx, anonymousID, func() error {
		id, err := retry.Value(ctx, s.retry, func() (domain.Identity, error) {
			return s.repo.AttachIdentifier(ctx, anonymousID, identifiedID, at)
		})
		if err != nil {
			return err
		}
		if id.IdentifiedID != identifiedID {
			logger.Debug("identity: stale attach ignored", "anonymous_id", anonymousID, "identified_id", identifiedID)
		}
		out = id
		return nil
	})
	return out, err
}

// SetPreferredPlatform sets the preference only if none is set yet and
// returns the (possibly unchanged) identity.
func (s *Service) SetPreferredPlatform(ctx context.Context, anonymousID string, p domain.Platform) (domain.Identity, error) {
	return s.setPreference(ctx, anonymousID, p, s.repo.SetPreferredPlatformIfNull)
}

// ChangePreferredPlatform overwrites the preference. It is reserved for an
// explicit user choice, never an incidental click.
func (s *Service) ChangePreferredPlatform(ctx context.Context, anonymousID string, p domain.Platform) (domain.Identity, error) {
	return s.setPreference(ctx, anonymousID, p, s.repo.SetPreferredPlatform)
}

type preferenceWrite func(ctx context.Context, anonymousID string, p domain.Platform, at time.Time) (domain.Identity, error)

func (s *Service) setPreference(ctx context.Context, anonymousID string, p domain.Platform, write preferenceWrite) (domain.Identity, error) {
	anonymousID = strings.TrimSpace(anonymousID)
	if anonymousID == "" {
		return domain.Identity{}, &domain.ValidationError{Field: "anonymous_id", Reason: "is required"}
	}
	if !p.Valid() {
		return domain.Identity{}, &domain.ValidationError{Field: "platform", Reason: "unknown platform " + string(p)}
	}

	var out domain.Identity
	err := s.withLock(ctx, anonymousID, func() error {
		id, err := retry.Value(ctx, s.retry, func() (domain.Identity, error) {
			return write(ctx, anonymousID, p, s.now().UTC())
		})
		out = id
		return err
	})
	return out, err
}

func (s *Service) withLock(ctx context.Context, anonymousID string, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	unlock, err := s.locker.Lock(lockCtx, "identity:"+anonymousID)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		// Contention or a lock backend blip: callers retry the whole step.
		return domain.StoreError("lock identity", err)
	}
	defer unlock()
	return fn()
}
