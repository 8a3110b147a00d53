package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/fan-automation/internal/domain"
)

// ActionRepo is an in-memory scheduled action table with a unique index on
// (trigger_event_id, action_type).
type ActionRepo struct {
	mu      sync.Mutex
	byID    map[string]*domain.ScheduledAction
	byDedup map[string]string
}

// NewActionRepo creates an empty action table.
func NewActionRepo() *ActionRepo {
	return &ActionRepo{
		byID:    make(map[string]*domain.ScheduledAction),
		byDedup: make(map[string]string),
	}
}

func (r *ActionRepo) Create(_ context.Context, a domain.ScheduledAction) (domain.ScheduledAction, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byDedup[a.DedupKey()]; ok {
		return copyAction(r.byID[id]), false, nil
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.Payload = copyAttrs(a.Payload)
	r.byID[a.ID] = &a
	r.byDedup[a.DedupKey()] = a.ID
	return copyAction(&a), true, nil
}

func (r *ActionRepo) Get(_ context.Context, id string) (domain.ScheduledAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return domain.ScheduledAction{}, domain.ErrNotFound
	}
	return copyAction(a), nil
}

func (r *ActionRepo) Claim(_ context.Context, id, owner string, now, leaseUntil time.Time) (domain.ScheduledAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return domain.ScheduledAction{}, domain.ErrNotFound
	}
	if a.Status != domain.ActionPending || a.NotBefore.After(now) {
		return domain.ScheduledAction{}, domain.ErrLeaseNotAcquired
	}
	if a.LeaseUntil != nil && !a.LeaseUntil.Before(now) {
		return domain.ScheduledAction{}, domain.ErrLeaseNotAcquired
	}
	a.LeaseOwner = owner
	a.LeaseUntil = timePtr(leaseUntil)
	a.UpdatedAt = now
	return copyAction(a), nil
}

func (r *ActionRepo) Transition(_ context.Context, id, owner string, t domain.ActionTransition, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	if a.Status != domain.ActionPending || a.LeaseOwner != owner {
		return domain.ErrLeaseNotAcquired
	}
	a.Status = t.Status
	if t.RecipientID != "" {
		a.RecipientID = t.RecipientID
	}
	a.AttemptCount = t.AttemptCount
	a.LastError = t.LastError
	if !t.NotBefore.IsZero() {
		a.NotBefore = t.NotBefore
	}
	a.LeaseOwner = ""
	a.LeaseUntil = nil
	a.UpdatedAt = now
	return nil
}

func (r *ActionRepo) Pending(_ context.Context, limit int) ([]domain.ScheduledAction, error) {
	r.mu.Lock()
	var out []domain.ScheduledAction
	for _, a := range r.byID {
		if a.Status == domain.ActionPending {
			out = append(out, copyAction(a))
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].NotBefore.Before(out[j].NotBefore) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ActionRepo) List(_ context.Context, f domain.ActionFilter) ([]domain.ScheduledAction, int, error) {
	r.mu.Lock()
	var all []domain.ScheduledAction
	for _, a := range r.byID {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		all = append(all, copyAction(a))
	}
	r.mu.Unlock()
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	start, end := paginate(len(all), f.Limit, f.Offset)
	return all[start:end], len(all), nil
}

func copyAction(a *domain.ScheduledAction) domain.ScheduledAction {
	cp := *a
	cp.Payload = copyAttrs(a.Payload)
	if a.LeaseUntil != nil {
		cp.LeaseUntil = timePtr(*a.LeaseUntil)
	}
	return cp
}
