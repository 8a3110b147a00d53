package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/fan-automation/internal/domain"
)

// SuppressionRepo is an in-memory suppression ledger. Reads and writes take
// the same lock, so a suppress is visible to the next check.
type SuppressionRepo struct {
	mu      sync.RWMutex
	entries []*domain.SuppressionEntry
}

// NewSuppressionRepo creates an empty ledger.
func NewSuppressionRepo() *SuppressionRepo { return &SuppressionRepo{} }

func (r *SuppressionRepo) IsSuppressed(_ context.Context, recipientID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.RecipientID == recipientID && e.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (r *SuppressionRepo) AppendIfAbsent(_ context.Context, e *domain.SuppressionEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.entries {
		if cur.RecipientID == e.RecipientID && cur.Reason == e.Reason && cur.Active() {
			return false, nil
		}
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	cp := *e
	r.entries = append(r.entries, &cp)
	return true, nil
}

func (r *SuppressionRepo) Entries(_ context.Context, recipientID string) ([]domain.SuppressionEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.SuppressionEntry
	for _, e := range r.entries {
		if e.RecipientID == recipientID {
			out = append(out, copyEntry(e))
		}
	}
	return out, nil
}

func (r *SuppressionRepo) Revoke(_ context.Context, recipientID string, reasons []domain.SuppressionReason, actor string, at time.Time) (int, error) {
	want := make(map[domain.SuppressionReason]bool, len(reasons))
	for _, reason := range reasons {
		want[reason] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.RecipientID == recipientID && e.Active() && want[e.Reason] {
			e.RevokedAt = timePtr(at)
			e.RevokedBy = actor
			n++
		}
	}
	return n, nil
}

func (r *SuppressionRepo) List(_ context.Context, f domain.SuppressionFilter) ([]domain.SuppressionEntry, int, error) {
	r.mu.RLock()
	var all []domain.SuppressionEntry
	for _, e := range r.entries {
		if !f.IncludeRevoked && !e.Active() {
			continue
		}
		if f.Reason != "" && e.Reason != f.Reason {
			continue
		}
		all = append(all, copyEntry(e))
	}
	r.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	start, end := paginate(len(all), f.Limit, f.Offset)
	return all[start:end], len(all), nil
}

func (r *SuppressionRepo) CountActiveByReason(_ context.Context) (map[domain.SuppressionReason]int, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byReason := make(map[domain.SuppressionReason]int)
	recipients := make(map[string]bool)
	for _, e := range r.entries {
		if !e.Active() {
			continue
		}
		byReason[e.Reason]++
		recipients[e.RecipientID] = true
	}
	return byReason, len(recipients), nil
}

func copyEntry(e *domain.SuppressionEntry) domain.SuppressionEntry {
	cp := *e
	if e.RevokedAt != nil {
		cp.RevokedAt = timePtr(*e.RevokedAt)
	}
	return cp
}
