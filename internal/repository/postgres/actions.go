package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/fan-automation/internal/domain"
)

// ActionRepo implements scheduler.Repository against PostgreSQL.
type ActionRepo struct{ db *sql.DB }

// NewActionRepo creates a Postgres-backed scheduled action table.
func NewActionRepo(db *sql.DB) *ActionRepo { return &ActionRepo{db: db} }

const actionColumns = `action_id, trigger_event_id, action_type, anonymous_id, subject_id,
	COALESCE(recipient_id, ''), payload, not_before, status, attempt_count,
	COALESCE(last_error, ''), COALESCE(lease_owner, ''), lease_until, created_at, updated_at`

// Create inserts the action unless its dedup key exists. Under concurrent
// duplicates exactly one insert wins; the others read the winner back.
func (r *ActionRepo) Create(ctx context.Context, a domain.ScheduledAction) (domain.ScheduledAction, bool, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	payload, err := marshalMap(a.Payload)
	if err != nil {
		return domain.ScheduledAction{}, false, fmt.Errorf("marshal payload: %w", err)
	}
	var id string
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO fan_scheduled_actions (action_id, trigger_event_id, action_type, anonymous_id, subject_id,
			recipient_id, payload, not_before, status, attempt_count, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $11, $11)
		ON CONFLICT (trigger_event_id, action_type) DO NOTHING
		RETURNING action_id
	`, a.ID, a.TriggerEventID, a.ActionType, a.AnonymousID, a.SubjectID,
		nullString(a.RecipientID), payload, a.NotBefore, a.Status, nullString(a.LastError), a.CreatedAt,
	).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		existing, err := r.byDedupKey(ctx, a.TriggerEventID, a.ActionType)
		return existing, false, err
	case err != nil:
		return domain.ScheduledAction{}, false, domain.StoreError("create action", err)
	}
	return a, true, nil
}

func (r *ActionRepo) Get(ctx context.Context, id string) (domain.ScheduledAction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM fan_scheduled_actions WHERE action_id = $1`, id)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScheduledAction{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ScheduledAction{}, domain.StoreError("get action", err)
	}
	return a, nil
}

func (r *ActionRepo) byDedupKey(ctx context.Context, triggerEventID, actionType string) (domain.ScheduledAction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+actionColumns+`
		FROM fan_scheduled_actions
		WHERE trigger_event_id = $1 AND action_type = $2
	`, triggerEventID, actionType)
	a, err := scanAction(row)
	if err != nil {
		return domain.ScheduledAction{}, domain.StoreError("get action by dedup key", err)
	}
	return a, nil
}

// Claim takes the lease with a single conditional update; one worker wins.
// A live lease is never re-taken, not even by the same owner.
func (r *ActionRepo) Claim(ctx context.Context, id, owner string, now, leaseUntil time.Time) (domain.ScheduledAction, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE fan_scheduled_actions
		SET lease_owner = $2, lease_until = $4, updated_at = $3
		WHERE action_id = $1
		  AND status = 'pending'
		  AND not_before <= $3
		  AND (lease_until IS NULL OR lease_until < $3)
		RETURNING `+actionColumns,
		id, owner, now, leaseUntil)
	a, err := scanAction(row)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.ScheduledAction{}, domain.StoreError("claim action", err)
	}
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM fan_scheduled_actions WHERE action_id = $1)`, id,
	).Scan(&exists); err != nil {
		return domain.ScheduledAction{}, domain.StoreError("claim action", err)
	}
	if !exists {
		return domain.ScheduledAction{}, domain.ErrNotFound
	}
	return domain.ScheduledAction{}, domain.ErrLeaseNotAcquired
}

// Transition only ever moves a pending row still leased by owner.
func (r *ActionRepo) Transition(ctx context.Context, id, owner string, t domain.ActionTransition, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE fan_scheduled_actions
		SET status = $3,
		    recipient_id = COALESCE($4, recipient_id),
		    attempt_count = $5,
		    last_error = $6,
		    not_before = COALESCE($7, not_before),
		    lease_owner = NULL,
		    lease_until = NULL,
		    updated_at = $8
		WHERE action_id = $1 AND status = 'pending' AND lease_owner = $2
	`, id, owner, t.Status, nullString(t.RecipientID), t.AttemptCount, nullString(t.LastError), nullTime(t.NotBefore), now)
	if err != nil {
		return domain.StoreError("transition action", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.StoreError("transition action", err)
	}
	if n == 0 {
		return domain.ErrLeaseNotAcquired
	}
	return nil
}

func (r *ActionRepo) Pending(ctx context.Context, limit int) ([]domain.ScheduledAction, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+actionColumns+`
		FROM fan_scheduled_actions
		WHERE status = 'pending'
		ORDER BY not_before
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, domain.StoreError("pending actions", err)
	}
	defer rows.Close()
	return scanActions(rows)
}

func (r *ActionRepo) List(ctx context.Context, f domain.ActionFilter) ([]domain.ScheduledAction, int, error) {
	cond := ""
	args := []any{}
	if f.Status != "" {
		cond = " WHERE status = $1"
		args = append(args, f.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fan_scheduled_actions`+cond, args...).Scan(&total); err != nil {
		return nil, 0, domain.StoreError("count actions", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, f.Offset)
	rows, err := r.db.QueryContext(ctx, `SELECT `+actionColumns+` FROM fan_scheduled_actions`+cond+
		fmt.Sprintf(" ORDER BY created_at DESC, action_id LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, domain.StoreError("list actions", err)
	}
	defer rows.Close()
	out, err := scanActions(rows)
	return out, total, err
}

func scanAction(s scanner) (domain.ScheduledAction, error) {
	var (
		a          domain.ScheduledAction
		payload    []byte
		leaseUntil sql.NullTime
	)
	if err := s.Scan(&a.ID, &a.TriggerEventID, &a.ActionType, &a.AnonymousID, &a.SubjectID,
		&a.RecipientID, &payload, &a.NotBefore, &a.Status, &a.AttemptCount,
		&a.LastError, &a.LeaseOwner, &leaseUntil, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return domain.ScheduledAction{}, err
	}
	p, err := unmarshalMap(payload)
	if err != nil {
		return domain.ScheduledAction{}, fmt.Errorf("decode payload of %s: %w", a.ID, err)
	}
	a.Payload = p
	a.NotBefore = a.NotBefore.UTC()
	a.LeaseUntil = timePtr(leaseUntil)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func scanActions(rows *sql.Rows) ([]domain.ScheduledAction, error) {
	var out []domain.ScheduledAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, domain.StoreError("scan action", err)
		}
		out = append(out, a)
	}
	return out, domain.StoreError("scan actions", rows.Err())
}
