package variant

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/fan-automation/internal/domain"
	"github.com/ignite/fan-automation/internal/repository/memory"
)

func TestAssign_StableAcrossCandidateOrder(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		anon := fmt.Sprintf("anon-%d", i)
		a := NewService(memory.NewVariantRepo(), 16)
		b := NewService(memory.NewVariantRepo(), 16)

		va, err := a.Assign(ctx, anon, "cta_copy", []string{"control", "urgent", "friendly"})
		require.NoError(t, err)
		vb, err := b.Assign(ctx, anon, "cta_copy", []string{"friendly", "control", "urgent"})
		require.NoError(t, err)
		assert.Equal(t, va, vb, "fresh assignment for %s depends on candidate order", anon)
	}
}

func TestAssign_StickyWhenCandidatesChange(t *testing.T) {
	svc := NewService(memory.NewVariantRepo(), 16)
	ctx := context.Background()

	first, err := svc.Assign(ctx, "A1", "cta_copy", []string{"control", "urgent"})
	require.NoError(t, err)

	again, err := svc.Assign(ctx, "A1", "cta_copy", []string{"brand_new"})
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestAssign_StoredValueSurvivesCacheMiss(t *testing.T) {
	repo := memory.NewVariantRepo()
	ctx := context.Background()

	first, err := NewService(repo, 1).Assign(ctx, "A1", "cta_copy", []string{"control", "urgent", "friendly"})
	require.NoError(t, err)

	// A new process with an empty cache and a different candidate set.
	again, err := NewService(repo, 1).Assign(ctx, "A1", "cta_copy", []string{"other"})
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestAssign_ConcurrentFirstExposureAgrees(t *testing.T) {
	repo := memory.NewVariantRepo()
	ctx := context.Background()

	var wg sync.WaitGroup
	got := make([]string, 20)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Each goroutine sees a different candidate set to force divergent hashes.
			cands := []string{"control", fmt.Sprintf("v%d", i)}
			v, err := NewService(repo, 4).Assign(ctx, "A1", "cta_copy", cands)
			if err != nil {
				t.Errorf("Assign: %v", err)
				return
			}
			got[i] = v
		}(i)
	}
	wg.Wait()
	for _, v := range got {
		assert.Equal(t, got[0], v)
	}
}

func TestAssign_Validation(t *testing.T) {
	svc := NewService(memory.NewVariantRepo(), 4)
	ctx := context.Background()

	_, err := svc.Assign(ctx, "", "cta_copy", []string{"control"})
	assert.True(t, domain.IsValidation(err))
	_, err = svc.Assign(ctx, "A1", "", []string{"control"})
	assert.True(t, domain.IsValidation(err))
	_, err = svc.Assign(ctx, "A1", "cta_copy", nil)
	assert.True(t, domain.IsValidation(err))
}

func TestBucket_Distribution(t *testing.T) {
	counts := map[string]int{}
	for i := 0; i < 3000; i++ {
		v, ok := Bucket(fmt.Sprintf("anon-%d", i), "cta_copy", []string{"a", "b", "c"})
		require.True(t, ok)
		counts[v]++
	}
	for v, n := range counts {
		assert.InDelta(t, 1000, n, 250, "variant %s is badly skewed", v)
	}
	assert.Len(t, counts, 3)
}
