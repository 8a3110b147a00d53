package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/fan-automation/internal/domain"
)

// EventRepo implements eventlog.Repository against PostgreSQL.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed event log.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

func (r *EventRepo) Append(ctx context.Context, e *domain.Event) error {
	attrs, err := marshalMap(e.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO fan_events (event_id, event_type, subject_id, anonymous_id, identified_id, occurred_at, attributes, created_at, last_notified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING seq
	`, e.ID, e.Type, e.SubjectID, e.AnonymousID, nullString(e.IdentifiedID), e.Timestamp, attrs, recordedAt(e)).Scan(&e.Seq)
	return domain.StoreError("append event", err)
}

func recordedAt(e *domain.Event) time.Time {
	if e.RecordedAt.IsZero() {
		return time.Now().UTC()
	}
	return e.RecordedAt
}

// MarkProcessed is idempotent; the first checkpoint time is kept.
func (r *EventRepo) MarkProcessed(ctx context.Context, eventID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE fan_events SET processed_at = $2 WHERE event_id = $1 AND processed_at IS NULL`,
		eventID, at)
	return domain.StoreError("mark event processed", err)
}

func (r *EventRepo) Unprocessed(ctx context.Context, before time.Time, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, event_id, event_type, subject_id, anonymous_id, COALESCE(identified_id, ''), occurred_at, attributes, created_at, redeliveries
		FROM fan_events
		WHERE processed_at IS NULL AND dead_lettered_at IS NULL AND last_notified_at < $1
		ORDER BY seq
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, domain.StoreError("unprocessed events", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var (
			e     domain.Event
			attrs []byte
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.Type, &e.SubjectID, &e.AnonymousID, &e.IdentifiedID,
			&e.Timestamp, &attrs, &e.RecordedAt, &e.Redeliveries); err != nil {
			return nil, domain.StoreError("scan event", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		e.RecordedAt = e.RecordedAt.UTC()
		if e.Attributes, err = unmarshalMap(attrs); err != nil {
			return nil, fmt.Errorf("decode attributes of %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, domain.StoreError("unprocessed events", rows.Err())
}

func (r *EventRepo) MarkRedelivered(ctx context.Context, eventID string, at time.Time) error {
	return r.touch(ctx, "mark event redelivered",
		`UPDATE fan_events SET redeliveries = redeliveries + 1, last_notified_at = $2 WHERE event_id = $1`, eventID, at)
}

func (r *EventRepo) MarkDeadLettered(ctx context.Context, eventID string, at time.Time) error {
	return r.touch(ctx, "mark event dead-lettered",
		`UPDATE fan_events SET dead_lettered_at = $2 WHERE event_id = $1`, eventID, at)
}

func (r *EventRepo) touch(ctx context.Context, op, q string, eventID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, q, eventID, at)
	if err != nil {
		return domain.StoreError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.StoreError(op, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *EventRepo) Query(ctx context.Context, f domain.EventFilter) ([]domain.Event, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.SubjectID != "" {
		add("subject_id = $%d", f.SubjectID)
	}
	if f.AnonymousID != "" {
		add("anonymous_id = $%d", f.AnonymousID)
	}
	if f.Type != "" {
		add("event_type = $%d", f.Type)
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at < $%d", f.To)
	}

	q := `SELECT seq, event_id, event_type, subject_id, anonymous_id, COALESCE(identified_id, ''), occurred_at, attributes
		FROM fan_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY occurred_at, seq"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, domain.StoreError("query events", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var (
			e     domain.Event
			attrs []byte
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.Type, &e.SubjectID, &e.AnonymousID, &e.IdentifiedID, &e.Timestamp, &attrs); err != nil {
			return nil, domain.StoreError("scan event", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		if e.Attributes, err = unmarshalMap(attrs); err != nil {
			return nil, fmt.Errorf("decode attributes of %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, domain.StoreError("query events", rows.Err())
}

func (r *EventRepo) Counts(ctx context.Context, f domain.CountFilter) ([]domain.BucketCount, error) {
	q := `
		SELECT subject_id, event_type, date_trunc($1, occurred_at, 'UTC') AS bucket, COUNT(*)
		FROM fan_events
		WHERE occurred_at >= $2 AND occurred_at < $3`
	args := []any{string(f.Bucket), f.From, f.To}
	if f.SubjectID != "" {
		q += " AND subject_id = $4"
		args = append(args, f.SubjectID)
	}
	q += " GROUP BY 1, 2, 3 ORDER BY 3, 1, 2"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, domain.StoreError("count events", err)
	}
	defer rows.Close()

	out := []domain.BucketCount{}
	for rows.Next() {
		var c domain.BucketCount
		if err := rows.Scan(&c.SubjectID, &c.Type, &c.BucketStart, &c.Count); err != nil {
			return nil, domain.StoreError("scan event count", err)
		}
		c.BucketStart = c.BucketStart.UTC()
		out = append(out, c)
	}
	return out, domain.StoreError("count events", rows.Err())
}
