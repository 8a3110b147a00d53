// Package variant assigns visitors to CTA copy variants. An assignment is
// deterministic on first exposure and sticky afterwards: later calls return
// the stored variant even if the candidate set changed.
package variant

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ignite/fan-automation/internal/domain"
	"github.com/ignite/fan-automation/internal/pkg/retry"
)

// Service implements variant assignment. Reads after the first write are
// served from an LRU cache; assignments are immutable so the cache never
// needs invalidation.
type Service struct {
	repo  Repository
	cache *lru.Cache[string, string]
	retry retry.Config
	now   func() time.Time
}

// NewService creates an assigner with a read cache of cacheSize entries.
func NewService(repo Repository, cacheSize int) *Service {
	if cacheSize <= 0 {
		cacheSize = 10_000
	}
	c, _ := lru.New[string, string](cacheSize)
	return &Service{repo: repo, cache: c, retry: retry.DefaultConfig, now: time.Now}
}

// Assign returns the visitor's variant for the experiment.
func (s *Service) Assign(ctx context.Context, anonymousID, experimentKey string, candidates []string) (string, error) {
	anonymousID = strings.TrimSpace(anonymousID)
	experimentKey = strings.TrimSpace(experimentKey)
	if anonymousID == "" {
		return "", &domain.ValidationError{Field: "anonymous_id", Reason: "is required"}
	}
	if experimentKey == "" {
		return "", &domain.ValidationError{Field: "experiment_key", Reason: "is required"}
	}

	key := experimentKey + "\x00" + anonymousID
	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}

	existing, err := retry.Value(ctx, s.retry, func() (domain.VariantAssignment, error) {
		return s.repo.Get(ctx, experimentKey, anonymousID)
	})
	if err == nil {
		s.cache.Add(key, existing.VariantID)
		return existing.VariantID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	variantID, ok := Bucket(anonymousID, experimentKey, candidates)
	if !ok {
		return "", &domain.ValidationError{Field: "candidates", Reason: "at least one variant is required"}
	}
	stored, err := retry.Value(ctx, s.retry, func() (domain.VariantAssignment, error) {
		return s.repo.InsertIfAbsent(ctx, domain.VariantAssignment{
			ExperimentKey: experimentKey,
			AnonymousID:   anonymousID,
			VariantID:     variantID,
			AssignedAt:    s.now().UTC(),
		})
	})
	if err != nil {
		return "", err
	}
	s.cache.Add(key, stored.VariantID)
	return stored.VariantID, nil
}

// Bucket deterministically picks a candidate for the pair. Candidates are
// deduplicated and sorted first so their order does not matter.
func Bucket(anonymousID, experimentKey string, candidates []string) (string, bool) {
	set := make(map[string]struct{}, len(candidates))
	sorted := make([]string, 0, len(candidates))
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, dup := set[c]; dup {
			continue
		}
		set[c] = struct{}{}
		sorted = append(sorted, c)
	}
	if len(sorted) == 0 {
		return "", false
	}
	sort.Strings(sorted)

	h := fnv.New64a()
	h.Write([]byte(anonymousID))
	h.Write([]byte{0})
	h.Write([]byte(experimentKey))
	return sorted[h.Sum64()%uint64(len(sorted))], true
}
