package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeriveSuppressionStatus(t *testing.T) {
	now := time.Now()

	st := DeriveSuppressionStatus("fan@example.com", nil)
	assert.False(t, st.Suppressed)
	assert.NotNil(t, st.History)

	entries := []SuppressionEntry{
		{ID: "1", Reason: ReasonManual, RevokedAt: &now},
		{ID: "2", Reason: ReasonUnsubscribe},
		{ID: "3", Reason: ReasonUnsubscribe},
	}
	st = DeriveSuppressionStatus("fan@example.com", entries)
	assert.True(t, st.Suppressed)
	assert.Equal(t, []SuppressionReason{ReasonUnsubscribe}, st.Reasons)
	assert.Len(t, st.History, 3)

	entries[1].RevokedAt = &now
	entries[2].RevokedAt = &now
	assert.False(t, DeriveSuppressionStatus("fan@example.com", entries).Suppressed)
}

func TestNormalizeRecipient(t *testing.T) {
	assert.Equal(t, "fan@example.com", NormalizeRecipient("  Fan@Example.COM "))
}

func TestSuppressionReasonAutomatic(t *testing.T) {
	assert.False(t, ReasonManual.Automatic())
	assert.True(t, ReasonUnsubscribe.Automatic())
	assert.True(t, ReasonBounce.Automatic())
	assert.True(t, ReasonComplaint.Automatic())
}
