package memory

import (
	"context"
	"sync"

	"github.com/ignite/fan-automation/internal/domain"
)

// VariantRepo is an in-memory variant assignment store.
type VariantRepo struct {
	mu   sync.RWMutex
	byID map[[2]string]domain.VariantAssignment
}

// NewVariantRepo creates an empty assignment store.
func NewVariantRepo() *VariantRepo {
	return &VariantRepo{byID: make(map[[2]string]domain.VariantAssignment)}
}

func (r *VariantRepo) Get(_ context.Context, experimentKey, anonymousID string) (domain.VariantAssignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[[2]string{experimentKey, anonymousID}]
	if !ok {
		return domain.VariantAssignment{}, domain.ErrNotFound
	}
	return a, nil
}

func (r *VariantRepo) InsertIfAbsent(_ context.Context, a domain.VariantAssignment) (domain.VariantAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := [2]string{a.ExperimentKey, a.AnonymousID}
	if cur, ok := r.byID[k]; ok {
		return cur, nil
	}
	r.byID[k] = a
	return a, nil
}
