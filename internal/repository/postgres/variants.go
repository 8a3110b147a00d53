package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ignite/fan-automation/internal/domain"
)

// VariantRepo implements variant.Repository against PostgreSQL.
type VariantRepo struct{ db *sql.DB }

// NewVariantRepo creates a Postgres-backed assignment store.
func NewVariantRepo(db *sql.DB) *VariantRepo { return &VariantRepo{db: db} }

func (r *VariantRepo) Get(ctx context.Context, experimentKey, anonymousID string) (domain.VariantAssignment, error) {
	var a domain.VariantAssignment
	err := r.db.QueryRowContext(ctx, `
		SELECT experiment_key, anonymous_id, variant_id, assigned_at
		FROM fan_variant_assignments
		WHERE experiment_key = $1 AND anonymous_id = $2
	`, experimentKey, anonymousID).Scan(&a.ExperimentKey, &a.AnonymousID, &a.VariantID, &a.AssignedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.VariantAssignment{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.VariantAssignment{}, domain.StoreError("get variant", err)
	}
	a.AssignedAt = a.AssignedAt.UTC()
	return a, nil
}

// InsertIfAbsent writes with ON CONFLICT DO NOTHING and reads back, so the
// first writer's variant is what every caller sees.
func (r *VariantRepo) InsertIfAbsent(ctx context.Context, a domain.VariantAssignment) (domain.VariantAssignment, error) {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO fan_variant_assignments (experiment_key, anonymous_id, variant_id, assigned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (experiment_key, anonymous_id) DO NOTHING
	`, a.ExperimentKey, a.AnonymousID, a.VariantID, a.AssignedAt); err != nil {
		return domain.VariantAssignment{}, domain.StoreError("assign variant", err)
	}
	return r.Get(ctx, a.ExperimentKey, a.AnonymousID)
}
