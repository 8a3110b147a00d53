package suppression

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/fan-automation/internal/domain"
)

// mockRepo is an in-memory ledger for testing.
type mockRepo struct {
	mu      sync.RWMutex
	entries []*domain.SuppressionEntry
	readErr error
}

func newMockRepo() *mockRepo { return &mockRepo{} }

func (m *mockRepo) IsSuppressed(_ context.Context, recipientID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.readErr != nil {
		return false, m.readErr
	}
	for _, e := range m.entries {
		if e.RecipientID == recipientID && e.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) AppendIfAbsent(_ context.Context, e *domain.SuppressionEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.entries {
		if cur.RecipientID == e.RecipientID && cur.Reason == e.Reason && cur.Active() {
			return false, nil
		}
	}
	cp := *e
	cp.ID = uuid.New().String()
	m.entries = append(m.entries, &cp)
	return true, nil
}

func (m *mockRepo) Entries(_ context.Context, recipientID string) ([]domain.SuppressionEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	var out []domain.SuppressionEntry
	for _, e := range m.entries {
		if e.RecipientID == recipientID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *mockRepo) Revoke(_ context.Context, recipientID string, reasons []domain.SuppressionReason, actor string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.RecipientID != recipientID || !e.Active() {
			continue
		}
		for _, r := range reasons {
			if e.Reason == r {
				e.RevokedAt = &at
				e.RevokedBy = actor
				n++
				break
			}
		}
	}
	return n, nil
}

func (m *mockRepo) List(_ context.Context, f domain.SuppressionFilter) ([]domain.SuppressionEntry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.SuppressionEntry
	for _, e := range m.entries {
		if !f.IncludeRevoked && !e.Active() {
			continue
		}
		if f.Reason != "" && e.Reason != f.Reason {
			continue
		}
		out = append(out, *e)
	}
	return out, len(out), nil
}

func (m *mockRepo) CountActiveByReason(_ context.Context) (map[domain.SuppressionReason]int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byReason := make(map[domain.SuppressionReason]int)
	recipients := make(map[string]bool)
	for _, e := range m.entries {
		if e.Active() {
			byReason[e.Reason]++
			recipients[e.RecipientID] = true
		}
	}
	return byReason, len(recipients), nil
}

func TestSuppress_AddsRecipientToLedger(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	created, err := svc.Suppress(ctx, "  FAN@Example.com ", domain.ReasonManual, "ops@example.com")
	if err != nil {
		t.Fatalf("Suppress: %v", err)
	}
	if !created {
		t.Error("expected a new entry")
	}

	ok, err := svc.IsSuppressed(ctx, "fan@example.com")
	if err != nil {
		t.Fatalf("IsSuppressed: %v", err)
	}
	if !ok {
		t.Error("expected recipient to be suppressed after Suppress()")
	}
}

func TestSuppress_SameReasonIsIdempotent(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Suppress(ctx, "dup@example.com", domain.ReasonUnsubscribe, ""); err != nil {
			t.Fatalf("Suppress #%d: %v", i, err)
		}
	}

	st, _ := svc.Status(ctx, "dup@example.com")
	if len(st.History) != 1 {
		t.Errorf("expected 1 ledger entry, got %d", len(st.History))
	}
}

func TestSuppress_NewReasonAppendsAuditEntry(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	_, _ = svc.Suppress(ctx, "fan@example.com", domain.ReasonUnsubscribe, "")
	_, _ = svc.Suppress(ctx, "fan@example.com", domain.ReasonManual, "ops@example.com")

	st, err := svc.Status(ctx, "fan@example.com")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Suppressed {
		t.Error("expected suppressed status")
	}
	if len(st.History) != 2 {
		t.Errorf("expected 2 ledger entries, got %d", len(st.History))
	}
	if len(st.Reasons) != 2 {
		t.Errorf("expected 2 active reasons, got %v", st.Reasons)
	}
}

func TestSuppress_RejectsBadInput(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	if _, err := svc.Suppress(ctx, "", domain.ReasonManual, ""); !domain.IsValidation(err) {
		t.Errorf("expected validation error for empty recipient, got %v", err)
	}
	if _, err := svc.Suppress(ctx, "fan@example.com", "spam_trap", ""); !domain.IsValidation(err) {
		t.Errorf("expected validation error for unknown reason, got %v", err)
	}
}

func TestUnsuppress_RevokesManualEntries(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	_, _ = svc.Suppress(ctx, "manual@example.com", domain.ReasonManual, "ops@example.com")

	n, err := svc.Unsuppress(ctx, "manual@example.com", "lead@example.com", false)
	if err != nil {
		t.Fatalf("Unsuppress: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 revoked entry, got %d", n)
	}

	ok, _ := svc.IsSuppressed(ctx, "manual@example.com")
	if ok {
		t.Error("expected recipient to no longer be suppressed after Unsuppress()")
	}

	st, _ := svc.Status(ctx, "manual@example.com")
	if len(st.History) != 1 || st.History[0].RevokedBy != "lead@example.com" {
		t.Errorf("expected tombstoned entry in history, got %+v", st.History)
	}
}

func TestUnsuppress_AutomaticRequiresOverride(t *testing.T) {
	for _, reason := range []domain.SuppressionReason{domain.ReasonUnsubscribe, domain.ReasonBounce, domain.ReasonComplaint} {
		t.Run(string(reason), func(t *testing.T) {
			svc := NewService(newMockRepo())
			ctx := context.Background()

			_, _ = svc.Suppress(ctx, "fan@example.com", reason, "")
			_, _ = svc.Suppress(ctx, "fan@example.com", domain.ReasonManual, "ops@example.com")

			_, err := svc.Unsuppress(ctx, "fan@example.com", "ops@example.com", false)
			if !errors.Is(err, ErrOverrideRequired) {
				t.Fatalf("expected ErrOverrideRequired, got %v", err)
			}
			st, _ := svc.Status(ctx, "fan@example.com")
			for _, e := range st.History {
				if !e.Active() {
					t.Errorf("entry %s revoked without override", e.Reason)
				}
			}

			n, err := svc.Unsuppress(ctx, "fan@example.com", "ops@example.com", true)
			if err != nil {
				t.Fatalf("Unsuppress with override: %v", err)
			}
			if n != 2 {
				t.Errorf("expected 2 revoked entries, got %d", n)
			}
			if ok, _ := svc.IsSuppressed(ctx, "fan@example.com"); ok {
				t.Error("expected recipient to be cleared after override")
			}
		})
	}
}

func TestUnsuppress_NotFound_ReturnsError(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	_, err := svc.Unsuppress(ctx, "ghost@example.com", "ops@example.com", true)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUnsuppress_RequiresActor(t *testing.T) {
	svc := NewService(newMockRepo())
	_, err := svc.Unsuppress(context.Background(), "fan@example.com", "", false)
	if !domain.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestResuppressAfterRevoke_AppendsNewEntry(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	_, _ = svc.Suppress(ctx, "fan@example.com", domain.ReasonManual, "ops")
	_, _ = svc.Unsuppress(ctx, "fan@example.com", "ops", false)
	created, err := svc.Suppress(ctx, "fan@example.com", domain.ReasonManual, "ops")
	if err != nil {
		t.Fatalf("Suppress: %v", err)
	}
	if !created {
		t.Error("a revoked entry must not block a new one")
	}
	st, _ := svc.Status(ctx, "fan@example.com")
	if !st.Suppressed || len(st.History) != 2 {
		t.Errorf("expected suppressed with 2 history entries, got %+v", st)
	}
}

func TestIsSuppressed_PropagatesStoreError(t *testing.T) {
	repo := newMockRepo()
	repo.readErr = errors.New("permission denied")
	svc := NewService(repo)

	if _, err := svc.IsSuppressed(context.Background(), "fan@example.com"); err == nil {
		t.Error("expected store error to surface so the caller can fail closed")
	}
}

func TestList_FiltersByReason(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	_, _ = svc.Suppress(ctx, "a@example.com", domain.ReasonBounce, "")
	_, _ = svc.Suppress(ctx, "b@example.com", domain.ReasonComplaint, "")
	_, _ = svc.Suppress(ctx, "c@example.com", domain.ReasonBounce, "")

	results, total, err := svc.List(ctx, domain.SuppressionFilter{Reason: domain.ReasonBounce})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 {
		t.Errorf("expected 2 bounces, got %d", total)
	}
	for _, r := range results {
		if r.Reason != domain.ReasonBounce {
			t.Errorf("unexpected reason: %s", r.Reason)
		}
	}
}

func TestGetStats_AggregatesByReason(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	_, _ = svc.Suppress(ctx, "a@example.com", domain.ReasonBounce, "")
	_, _ = svc.Suppress(ctx, "a@example.com", domain.ReasonManual, "ops")
	_, _ = svc.Suppress(ctx, "b@example.com", domain.ReasonUnsubscribe, "")

	stats, err := svc.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.SuppressedRecipients != 2 {
		t.Errorf("expected 2 recipients, got %d", stats.SuppressedRecipients)
	}
	if stats.ActiveEntries != 3 {
		t.Errorf("expected 3 active entries, got %d", stats.ActiveEntries)
	}
	if stats.ByReason["bounce"] != 1 {
		t.Errorf("expected 1 bounce, got %d", stats.ByReason["bounce"])
	}
}
