package suppression

import (
	"context"
	"time"

	"github.com/ignite/fan-automation/internal/domain"
)

// Repository defines the data access contract for the suppression ledger.
// Entries are never updated in place except to set the revocation
// tombstone, and never deleted.
type Repository interface {
	// IsSuppressed returns true if the recipient has at least one active entry.
	IsSuppressed(ctx context.Context, recipientID string) (bool, error)

	// AppendIfAbsent adds e unless an active entry with the same recipient
	// and reason exists. It reports whether e was written.
	AppendIfAbsent(ctx context.Context, e *domain.SuppressionEntry) (bool, error)

	// Entries returns every entry for the recipient, oldest first.
	Entries(ctx context.Context, recipientID string) ([]domain.SuppressionEntry, error)

	// Revoke tombstones the recipient's active entries whose reason is in
	// reasons and returns how many were revoked.
	Revoke(ctx context.Context, recipientID string, reasons []domain.SuppressionReason, actor string, at time.Time) (int, error)

	// List returns ledger entries matching the filter and the total count.
	List(ctx context.Context, f domain.SuppressionFilter) ([]domain.SuppressionEntry, int, error)

	// CountActiveByReason counts active entries and distinct suppressed
	// recipients.
	CountActiveByReason(ctx context.Context) (map[domain.SuppressionReason]int, int, error)
}
