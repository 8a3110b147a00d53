package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/fan-automation/internal/domain"
)

// SuppressionRepo implements suppression.Repository against PostgreSQL.
// Writes and IsSuppressed go to the same table on the same pool.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression ledger.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

const suppressionColumns = `id, recipient_id, scope, reason, created_at, COALESCE(created_by, ''), revoked_at, COALESCE(revoked_by, '')`

func (r *SuppressionRepo) IsSuppressed(ctx context.Context, recipientID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM fan_suppression_entries WHERE recipient_id = $1 AND revoked_at IS NULL)`,
		recipientID,
	).Scan(&exists)
	if err != nil {
		return false, domain.StoreError("is suppressed", err)
	}
	return exists, nil
}

// AppendIfAbsent relies on the partial unique index over active
// (recipient_id, reason) pairs.
func (r *SuppressionRepo) AppendIfAbsent(ctx context.Context, e *domain.SuppressionEntry) (bool, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Scope == "" {
		e.Scope = domain.ScopeGlobal
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO fan_suppression_entries (id, recipient_id, scope, reason, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (recipient_id, reason) WHERE revoked_at IS NULL DO NOTHING
	`, e.ID, e.RecipientID, e.Scope, e.Reason, e.CreatedAt, nullString(e.CreatedBy))
	if err != nil {
		return false, domain.StoreError("suppress", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.StoreError("suppress", err)
	}
	return n == 1, nil
}

func (r *SuppressionRepo) Entries(ctx context.Context, recipientID string) ([]domain.SuppressionEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+suppressionColumns+`
		FROM fan_suppression_entries
		WHERE recipient_id = $1
		ORDER BY created_at, id
	`, recipientID)
	if err != nil {
		return nil, domain.StoreError("suppression entries", err)
	}
	defer rows.Close()
	return scanSuppressions(rows)
}

func (r *SuppressionRepo) Revoke(ctx context.Context, recipientID string, reasons []domain.SuppressionReason, actor string, at time.Time) (int, error) {
	rs := make([]string, len(reasons))
	for i, reason := range reasons {
		rs[i] = string(reason)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE fan_suppression_entries
		SET revoked_at = $3, revoked_by = $4
		WHERE recipient_id = $1 AND revoked_at IS NULL AND reason = ANY($2)
	`, recipientID, pq.Array(rs), at, actor)
	if err != nil {
		return 0, domain.StoreError("unsuppress", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.StoreError("unsuppress", err)
	}
	return int(n), nil
}

func (r *SuppressionRepo) List(ctx context.Context, f domain.SuppressionFilter) ([]domain.SuppressionEntry, int, error) {
	var (
		where []string
		args  []any
	)
	if !f.IncludeRevoked {
		where = append(where, "revoked_at IS NULL")
	}
	if f.Reason != "" {
		args = append(args, f.Reason)
		where = append(where, fmt.Sprintf("reason = $%d", len(args)))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fan_suppression_entries`+cond, args...).Scan(&total); err != nil {
		return nil, 0, domain.StoreError("count suppressions", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, f.Offset)
	rows, err := r.db.QueryContext(ctx, `SELECT `+suppressionColumns+` FROM fan_suppression_entries`+cond+
		fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, domain.StoreError("list suppressions", err)
	}
	defer rows.Close()
	out, err := scanSuppressions(rows)
	return out, total, err
}

func (r *SuppressionRepo) CountActiveByReason(ctx context.Context) (map[domain.SuppressionReason]int, int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT reason, COUNT(*)
		FROM fan_suppression_entries
		WHERE revoked_at IS NULL
		GROUP BY reason
	`)
	if err != nil {
		return nil, 0, domain.StoreError("suppression stats", err)
	}
	defer rows.Close()

	byReason := make(map[domain.SuppressionReason]int)
	for rows.Next() {
		var (
			reason domain.SuppressionReason
			n      int
		)
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, 0, domain.StoreError("scan suppression stats", err)
		}
		byReason[reason] = n
	}
	if err := rows.Err(); err != nil {
		return nil, 0, domain.StoreError("suppression stats", err)
	}

	var recipients int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT recipient_id) FROM fan_suppression_entries WHERE revoked_at IS NULL`,
	).Scan(&recipients); err != nil {
		return nil, 0, domain.StoreError("suppression stats", err)
	}
	return byReason, recipients, nil
}

func scanSuppressions(rows *sql.Rows) ([]domain.SuppressionEntry, error) {
	var out []domain.SuppressionEntry
	for rows.Next() {
		var (
			e       domain.SuppressionEntry
			revoked sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.RecipientID, &e.Scope, &e.Reason, &e.CreatedAt, &e.CreatedBy, &revoked, &e.RevokedBy); err != nil {
			return nil, domain.StoreError("scan suppression", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		e.RevokedAt = timePtr(revoked)
		out = append(out, e)
	}
	return out, domain.StoreError("scan suppressions", rows.Err())
}
