package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ignite/fan-automation/internal/domain"
)

// IdentityRepo implements identity.Repository against PostgreSQL.
type IdentityRepo struct{ db *sql.DB }

// NewIdentityRepo creates a Postgres-backed identity store.
func NewIdentityRepo(db *sql.DB) *IdentityRepo { return &IdentityRepo{db: db} }

func (r *IdentityRepo) GetOrCreate(ctx context.Context, anonymousID string, now time.Time) (domain.Identity, error) {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO fan_identities (anonymous_id, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (anonymous_id) DO NOTHING
	`, anonymousID, now); err != nil {
		return domain.Identity{}, domain.StoreError("create identity", err)
	}
	return r.get(ctx, anonymousID)
}

// AttachIdentifier upserts the identifier unless the stored attach is newer.
func (r *IdentityRepo) AttachIdentifier(ctx context.Context, anonymousID, identifiedID string, at time.Time) (domain.Identity, error) {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO fan_identities (anonymous_id, identified_id, identified_at, created_at, updated_at)
		VALUES ($1, $2, $3, $3, $3)
		ON CONFLICT (anonymous_id) DO UPDATE
		SET identified_id = EXCLUDED.identified_id,
		    identified_at = EXCLUDED.identified_at,
		    updated_at = EXCLUDED.updated_at
		WHERE fan_identities.identified_at IS NULL
		   OR fan_identities.identified_at <= EXCLUDED.identified_at
	`, anonymousID, identifiedID, at); err != nil {
		return domain.Identity{}, domain.StoreError("attach identifier", err)
	}
	return r.get(ctx, anonymousID)
}

// SetPreferredPlatformIfNull is the set-if-null conditional write.
func (r *IdentityRepo) SetPreferredPlatformIfNull(ctx context.Context, anonymousID string, p domain.Platform, at time.Time) (domain.Identity, error) {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO fan_identities (anonymous_id, preferred_platform, preference_set_at, created_at, updated_at)
		VALUES ($1, $2, $3, $3, $3)
		ON CONFLICT (anonymous_id) DO UPDATE
		SET preferred_platform = EXCLUDED.preferred_platform,
		    preference_set_at = EXCLUDED.preference_set_at,
		    updated_at = EXCLUDED.updated_at
		WHERE fan_identities.preferred_platform IS NULL
	`, anonymousID, p, at); err != nil {
		return domain.Identity{}, domain.StoreError("set preferred platform", err)
	}
	return r.get(ctx, anonymousID)
}

func (r *IdentityRepo) SetPreferredPlatform(ctx context.Context, anonymousID string, p domain.Platform, at time.Time) (domain.Identity, error) {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO fan_identities (anonymous_id, preferred_platform, preference_set_at, created_at, updated_at)
		VALUES ($1, $2, $3, $3, $3)
		ON CONFLICT (anonymous_id) DO UPDATE
		SET preferred_platform = EXCLUDED.preferred_platform,
		    preference_set_at = EXCLUDED.preference_set_at,
		    updated_at = EXCLUDED.updated_at
	`, anonymousID, p, at); err != nil {
		return domain.Identity{}, domain.StoreError("change preferred platform", err)
	}
	return r.get(ctx, anonymousID)
}

func (r *IdentityRepo) get(ctx context.Context, anonymousID string) (domain.Identity, error) {
	var (
		id           domain.Identity
		identifiedID sql.NullString
		platform     sql.NullString
		identifiedAt sql.NullTime
		prefSetAt    sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT anonymous_id, identified_id, identified_at, preferred_platform, preference_set_at, created_at, updated_at
		FROM fan_identities
		WHERE anonymous_id = $1
	`, anonymousID).Scan(&id.AnonymousID, &identifiedID, &identifiedAt, &platform, &prefSetAt, &id.CreatedAt, &id.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Identity{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Identity{}, domain.StoreError("get identity", err)
	}
	id.IdentifiedID = identifiedID.String
	id.IdentifiedAt = timePtr(identifiedAt)
	id.PreferredPlatform = domain.Platform(platform.String)
	id.PreferenceSetAt = timePtr(prefSetAt)
	id.CreatedAt = id.CreatedAt.UTC()
	id.UpdatedAt = id.UpdatedAt.UTC()
	return id, nil
}
