package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/fan-automation/internal/domain"
	"github.com/ignite/fan-automation/internal/repository/memory"
	"github.com/ignite/fan-automation/internal/service/suppression"
)

func seeded(t *testing.T) *suppression.Service {
	t.Helper()
	ctx := context.Background()
	svc := suppression.NewService(memory.NewSuppressionRepo())
	_, err := svc.Suppress(ctx, "bounced@example.com", domain.ReasonBounce, "event:e1")
	require.NoError(t, err)
	_, err = svc.Suppress(ctx, "back@example.com", domain.ReasonManual, "ops")
	require.NoError(t, err)
	_, err = svc.Unsuppress(ctx, "back@example.com", "ops", false)
	require.NoError(t, err)
	return svc
}

func TestCheckRecipients(t *testing.T) {
	svc := seeded(t)
	ctx := context.Background()

	results := checkRecipients(ctx, svc, []string{"Bounced@Example.com", "back@example.com", "new@example.com"}, "", true)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Passed, r.Name)
	}
	assert.Equal(t, "bounced@example.com", results[0].Name)
	assert.Contains(t, results[0].Detail, "state=suppressed, reasons=bounce")
	assert.Contains(t, results[1].Detail, "state=clear")
	assert.Contains(t, results[1].Detail, "revoked")
	assert.Equal(t, "state=clear", results[2].Detail)
}

func TestCheckRecipients_Expectation(t *testing.T) {
	svc := seeded(t)
	results := checkRecipients(context.Background(), svc, []string{"bounced@example.com", "back@example.com"}, "suppressed", false)
	assert.True(t, results[0].Passed)
	assert.False(t, results[1].Passed)
}

func TestCheckRecipients_LookupErrorFails(t *testing.T) {
	svc := seeded(t)
	results := checkRecipients(context.Background(), svc, []string{"  "}, "", false)
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Contains(t, results[0].Detail, "Lookup error")
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	ok := printReport(&buf, []checkResult{
		{Name: "a@example.com", Passed: true, Detail: "state=clear", Elapsed: time.Millisecond},
		{Name: "b@example.com", Passed: false, Detail: "state=suppressed", Elapsed: time.Millisecond},
	})
	assert.False(t, ok)
	assert.Contains(t, buf.String(), "OVERALL: FAIL")
	assert.Contains(t, buf.String(), "[2] b@example.com")
}
