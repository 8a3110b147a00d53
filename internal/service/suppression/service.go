package suppression

import (
	"context"
	"time"

	"github.com/ignite/fan-automation/internal/domain"
	"github.com/ignite/fan-automation/internal/metrics"
	"github.com/ignite/fan-automation/internal/pkg/logger"
	"github.com/ignite/fan-automation/internal/pkg/retry"
)

// Service implements suppression business logic. It is safe for concurrent use.
// IsSuppressed never caches: it reads the same store the writes go to.
type Service struct {
	repo  Repository
	retry retry.Config
	now   func() time.Time
}

// NewService creates a suppression service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, retry: retry.DefaultConfig, now: time.Now}
}

// IsSuppressed checks whether a recipient must be blocked from sending.
// Callers must treat an error as suppressed.
func (s *Service) IsSuppressed(ctx context.Context, recipientID string) (bool, error) {
	recipientID = domain.NormalizeRecipient(recipientID)
	if recipientID == "" {
		return false, &domain.ValidationError{Field: "recipient_id", Reason: "is required"}
	}
	return retry.Value(ctx, s.retry, func() (bool, error) {
		return s.repo.IsSuppressed(ctx, recipientID)
	})
}

// Suppress adds a ledger entry. If the recipient already has an active entry
// with the same reason this is a no-op; a different reason appends a second
// entry for the audit trail. It reports whether an entry was written.
func (s *Service) Suppress(ctx context.Context, recipientID string, reason domain.SuppressionReason, actor string) (bool, error) {
	recipientID = domain.NormalizeRecipient(recipientID)
	if recipientID == "" {
		return false, &domain.ValidationError{Field: "recipient_id", Reason: "is required"}
	}
	if !reason.Valid() {
		return false, &domain.ValidationError{Field: "reason", Reason: "unknown reason " + string(reason)}
	}

	entry := &domain.SuppressionEntry{
		RecipientID: recipientID,
		Scope:       domain.ScopeGlobal,
		Reason:      reason,
		CreatedAt:   s.now().UTC(),
		CreatedBy:   actor,
	}
	created, err := retry.Value(ctx, s.retry, func() (bool, error) {
		return s.repo.AppendIfAbsent(ctx, entry)
	})
	if err != nil {
		return false, err
	}
	if created {
		metrics.RecordSuppressionWrite("suppress", string(reason))
		logger.Info("suppression: entry added", "recipient_id", recipientID, "reason", string(reason), "actor", actor)
	}
	return created, nil
}

// Unsuppress tombstones the recipient's manual entries. Active automatic
// entries (unsubscribe, bounce, complaint) make it fail with
// ErrOverrideRequired and revoke nothing, unless override is set, in which
// case every active entry is revoked. A recipient with no active entries
// yields ErrNotFound. It returns the number of revoked entries.
func (s *Service) Unsuppress(ctx context.Context, recipientID, actor string, override bool) (int, error) {
	recipientID = domain.NormalizeRecipient(recipientID)
	if recipientID == "" {
		return 0, &domain.ValidationError{Field: "recipient_id", Reason: "is required"}
	}
	if actor == "" {
		return 0, &domain.ValidationError{Field: "actor", Reason: "is required"}
	}

	entries, err := retry.Value(ctx, s.retry, func() ([]domain.SuppressionEntry, error) {
		return s.repo.Entries(ctx, recipientID)
	})
	if err != nil {
		return 0, err
	}

	var active, automatic int
	for _, e := range entries {
		if !e.Active() {
			continue
		}
		active++
		if e.Reason.Automatic() {
			automatic++
		}
	}
	if active == 0 {
		return 0, ErrNotFound
	}
	if automatic > 0 && !override {
		return 0, ErrOverrideRequired
	}

	reasons := []domain.SuppressionReason{domain.ReasonManual}
	if override {
		reasons = []domain.SuppressionReason{
			domain.ReasonManual, domain.ReasonUnsubscribe, domain.ReasonBounce, domain.ReasonComplaint,
		}
	}
	n, err := retry.Value(ctx, s.retry, func() (int, error) {
		return s.repo.Revoke(ctx, recipientID, reasons, actor, s.now().UTC())
	})
	if err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		metrics.RecordSuppressionWrite("unsuppress", "")
	}
	logger.Info("suppression: entries revoked", "recipient_id", recipientID, "actor", actor, "count", n, "override", override)
	return n, nil
}

// Status returns the derived status and full history of a recipient.
func (s *Service) Status(ctx context.Context, recipientID string) (domain.SuppressionStatus, error) {
	recipientID = domain.NormalizeRecipient(recipientID)
	if recipientID == "" {
		return domain.SuppressionStatus{}, &domain.ValidationError{Field: "recipient_id", Reason: "is required"}
	}
	entries, err := retry.Value(ctx, s.retry, func() ([]domain.SuppressionEntry, error) {
		return s.repo.Entries(ctx, recipientID)
	})
	if err != nil {
		return domain.SuppressionStatus{}, err
	}
	return domain.DeriveSuppressionStatus(recipientID, entries), nil
}

// List returns ledger entries matching the given filter.
func (s *Service) List(ctx context.Context, f domain.SuppressionFilter) ([]domain.SuppressionEntry, int, error) {
	if f.Reason != "" && !f.Reason.Valid() {
		return nil, 0, &domain.ValidationError{Field: "reason", Reason: "unknown reason " + string(f.Reason)}
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return s.repo.List(ctx, f)
}

// Stats is the aggregate view of the active ledger.
type Stats struct {
	SuppressedRecipients int            `json:"suppressed_recipients"`
	ActiveEntries        int            `json:"active_entries"`
	ByReason             map[string]int `json:"by_reason"`
}

// GetStats computes suppression statistics for the dashboard.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	byReason, recipients, err := s.repo.CountActiveByReason(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Stats{SuppressedRecipients: recipients, ByReason: make(map[string]int)}
	for reason, n := range byReason {
		stats.ByReason[string(reason)] = n
		stats.ActiveEntries += n
	}
	return stats, nil
}
