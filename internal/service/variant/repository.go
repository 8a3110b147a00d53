package variant

import (
	"context"

	"github.com/ignite/fan-automation/internal/domain"
)

// Repository defines the data access contract for variant assignments.
type Repository interface {
	// Get returns domain.ErrNotFound when the visitor has no assignment yet.
	Get(ctx context.Context, experimentKey, anonymousID string) (domain.VariantAssignment, error)

	// InsertIfAbsent stores a unless an assignment already exists, and
	// returns whichever assignment is stored. The first writer wins.
	InsertIfAbsent(ctx context.Context, a domain.VariantAssignment) (domain.VariantAssignment, error)
}
