package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignite/fan-automation/internal/domain"
)

// EventRepo is an in-memory event log.
type EventRepo struct {
	mu     sync.RWMutex
	seq    int64
	events []domain.Event
	state  map[string]*eventState
}

// eventState is the consumer checkpoint kept beside each event.
type eventState struct {
	notifiedAt   time.Time
	processedAt  *time.Time
	deadAt       *time.Time
	redeliveries int
}

// NewEventRepo creates an empty event log.
func NewEventRepo() *EventRepo { return &EventRepo{state: make(map[string]*eventState)} }

func (r *EventRepo) Append(_ context.Context, e *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	e.Seq = r.seq
	cp := *e
	cp.Attributes = copyAttrs(e.Attributes)
	r.events = append(r.events, cp)
	r.state[e.ID] = &eventState{notifiedAt: e.RecordedAt}
	return nil
}

func (r *EventRepo) MarkProcessed(_ context.Context, eventID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.state[eventID]; ok && st.processedAt == nil {
		st.processedAt = timePtr(at)
	}
	return nil
}

func (r *EventRepo) Unprocessed(_ context.Context, before time.Time, limit int) ([]domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Event
	for _, e := range r.events {
		st := r.state[e.ID]
		if st == nil || st.processedAt != nil || st.deadAt != nil || !st.notifiedAt.Before(before) {
			continue
		}
		cp := e
		cp.Attributes = copyAttrs(e.Attributes)
		cp.Redeliveries = st.redeliveries
		out = append(out, cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *EventRepo) MarkRedelivered(_ context.Context, eventID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.state[eventID]
	if !ok {
		return domain.ErrNotFound
	}
	st.redeliveries++
	st.notifiedAt = at
	return nil
}

func (r *EventRepo) MarkDeadLettered(_ context.Context, eventID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.state[eventID]
	if !ok {
		return domain.ErrNotFound
	}
	st.deadAt = timePtr(at)
	return nil
}

func (r *EventRepo) Query(_ context.Context, f domain.EventFilter) ([]domain.Event, error) {
	r.mu.RLock()
	var out []domain.Event
	for _, e := range r.events {
		if !matchEvent(e, f) {
			continue
		}
		cp := e
		cp.Attributes = copyAttrs(e.Attributes)
		out = append(out, cp)
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Seq < out[j].Seq
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *EventRepo) Counts(_ context.Context, f domain.CountFilter) ([]domain.BucketCount, error) {
	type key struct {
		subject string
		typ     domain.EventType
		start   int64
	}
	counts := make(map[key]int64)

	r.mu.RLock()
	for _, e := range r.events {
		if f.SubjectID != "" && e.SubjectID != f.SubjectID {
			continue
		}
		if e.Timestamp.Before(f.From) || !e.Timestamp.Before(f.To) {
			continue
		}
		counts[key{e.SubjectID, e.Type, f.Bucket.Truncate(e.Timestamp).Unix()}]++
	}
	r.mu.RUnlock()

	out := make([]domain.BucketCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, domain.BucketCount{
			SubjectID:   k.subject,
			Type:        k.typ,
			BucketStart: unixUTC(k.start),
			Count:       n,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.BucketStart.Equal(b.BucketStart) {
			return a.BucketStart.Before(b.BucketStart)
		}
		if a.SubjectID != b.SubjectID {
			return a.SubjectID < b.SubjectID
		}
		return a.Type < b.Type
	})
	return out, nil
}

func matchEvent(e domain.Event, f domain.EventFilter) bool {
	if f.SubjectID != "" && e.SubjectID != f.SubjectID {
		return false
	}
	if f.AnonymousID != "" && e.AnonymousID != f.AnonymousID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.Timestamp.Before(f.To) {
		return false
	}
	return true
}
