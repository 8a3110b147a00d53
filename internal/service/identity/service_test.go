package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/fan-automation/internal/domain"
	"github.com/ignite/fan-automation/internal/pkg/distlock"
	"github.com/ignite/fan-automation/internal/pkg/retry"
	"github.com/ignite/fan-automation/internal/repository/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService() *Service {
	svc := NewService(memory.NewIdentityRepo(), nil)
	svc.SetClock(func() time.Time { return t0 })
	return svc
}

func TestResolve_CreatesAnonymousIdentity(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	id, err := svc.Resolve(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "A1", id.AnonymousID)
	assert.False(t, id.Identified())
	assert.False(t, id.HasPreference())
	assert.Equal(t, t0, id.CreatedAt)

	again, err := svc.Resolve(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	_, err = svc.Resolve(ctx, "  ")
	assert.True(t, domain.IsValidation(err))
}

func TestAttachIdentifier_LastAttachWins(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	id, err := svc.AttachIdentifier(ctx, "A1", "Fan@Example.com", t0)
	require.NoError(t, err)
	assert.Equal(t, "fan@example.com", id.IdentifiedID, "identifiers are normalized")

	id, err = svc.AttachIdentifier(ctx, "A1", "new@example.com", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", id.IdentifiedID)

	// An older attach arriving late must not regress the identity.
	id, err = svc.AttachIdentifier(ctx, "A1", "old@example.com", t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", id.IdentifiedID)
	require.NotNil(t, id.IdentifiedAt)
	assert.Equal(t, t0.Add(time.Hour), *id.IdentifiedAt)

	// Idempotent replay.
	id, err = svc.AttachIdentifier(ctx, "A1", "new@example.com", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", id.IdentifiedID)
}

func TestAttachIdentifier_NeverClears(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, err := svc.AttachIdentifier(ctx, "A1", "fan@example.com", t0)
	require.NoError(t, err)

	_, err = svc.AttachIdentifier(ctx, "A1", "", t0.Add(time.Hour))
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "identified_id", ve.Field)

	id, err := svc.Resolve(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "fan@example.com", id.IdentifiedID)
}

func TestSetPreferredPlatform_IsSticky(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	id, err := svc.SetPreferredPlatform(ctx, "A1", domain.PlatformSpotify)
	require.NoError(t, err)
	assert.Equal(t, domain.PlatformSpotify, id.PreferredPlatform)

	for _, p := range []domain.Platform{domain.PlatformTidal, domain.PlatformAppleMusic, domain.PlatformSpotify, domain.PlatformDeezer} {
		id, err = svc.SetPreferredPlatform(ctx, "A1", p)
		require.NoError(t, err)
		assert.Equal(t, domain.PlatformSpotify, id.PreferredPlatform, "click on %s must not change the preference", p)
	}

	_, err = svc.SetPreferredPlatform(ctx, "A1", "myspace")
	assert.True(t, domain.IsValidation(err))
}

func TestSetPreferredPlatform_ConcurrentFirstClickWins(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	platforms := []domain.Platform{
		domain.PlatformSpotify, domain.PlatformAppleMusic, domain.PlatformTidal, domain.PlatformDeezer,
	}

	var wg sync.WaitGroup
	results := make([]domain.Platform, 40)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := svc.SetPreferredPlatform(ctx, "A1", platforms[i%len(platforms)])
			if err != nil {
				t.Errorf("SetPreferredPlatform: %v", err)
				return
			}
			results[i] = id.PreferredPlatform
		}(i)
	}
	wg.Wait()

	final, err := svc.Resolve(ctx, "A1")
	require.NoError(t, err)
	for i, p := range results {
		assert.Equal(t, final.PreferredPlatform, p, "call %d observed a different winner", i)
	}
}

func TestChangePreferredPlatform_Overwrites(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, err := svc.SetPreferredPlatform(ctx, "A1", domain.PlatformSpotify)
	require.NoError(t, err)

	id, err := svc.ChangePreferredPlatform(ctx, "A1", domain.PlatformTidal)
	require.NoError(t, err)
	assert.Equal(t, domain.PlatformTidal, id.PreferredPlatform)

	id, err = svc.SetPreferredPlatform(ctx, "A1", domain.PlatformSpotify)
	require.NoError(t, err)
	assert.Equal(t, domain.PlatformTidal, id.PreferredPlatform)
}

func TestAttachIdentifier_ConcurrentAttachesKeepNewest(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.AttachIdentifier(ctx, "A1", fmt.Sprintf("fan%02d@example.com", i), t0.Add(time.Duration(i)*time.Second))
			if err != nil {
				t.Errorf("AttachIdentifier: %v", err)
			}
		}(i)
	}
	wg.Wait()

	id, err := svc.Resolve(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "fan29@example.com", id.IdentifiedID)
}

// contendedLocker fails the first busy acquisitions like a held key would.
type contendedLocker struct {
	mu   sync.Mutex
	busy int
}

func (l *contendedLocker) Lock(context.Context, string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy > 0 {
		l.busy--
		return nil, fmt.Errorf("%w: %v", distlock.ErrNotAcquired, context.DeadlineExceeded)
	}
	return func() {}, nil
}

func TestLockContentionIsTransient(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewIdentityRepo(), &contendedLocker{busy: 1})

	_, err := svc.SetPreferredPlatform(ctx, "A1", domain.PlatformSpotify)
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.True(t, errors.Is(err, distlock.ErrNotAcquired))

	svc = NewService(memory.NewIdentityRepo(), &contendedLocker{busy: 2})
	cfg := retry.Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	err = retry.Store(ctx, cfg, func() error {
		_, err := svc.AttachIdentifier(ctx, "A1", "fan@example.com", time.Time{})
		return err
	})
	require.NoError(t, err)

	id, err := svc.Resolve(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "fan@example.com", id.IdentifiedID)
}
