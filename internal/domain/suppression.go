package domain

import (
	"strings"
	"time"
)

// SuppressionReason enumerates why a recipient was suppressed.
type SuppressionReason string

const (
	ReasonManual      SuppressionReason = "manual"
	ReasonUnsubscribe SuppressionReason = "unsubscribe"
	ReasonBounce      SuppressionReason = "bounce"
	ReasonComplaint   SuppressionReason = "complaint"
)

// Valid reports whether r is a known reason.
func (r SuppressionReason) Valid() bool {
	switch r {
	case ReasonManual, ReasonUnsubscribe, ReasonBounce, ReasonComplaint:
		return true
	}
	return false
}

// Automatic reports whether entries with this reason came from a recipient
// or provider signal rather than an operator. Removing them needs an override.
func (r SuppressionReason) Automatic() bool { return r != ReasonManual }

// ScopeGlobal is the only suppression scope: every subject, every channel.
const ScopeGlobal = "global"

// SuppressionEntry is one append-only row of the suppression ledger.
type SuppressionEntry struct {
	ID          string            `json:"id" db:"id"`
	RecipientID string            `json:"recipient_id" db:"recipient_id"`
	Scope       string            `json:"scope" db:"scope"`
	Reason      SuppressionReason `json:"reason" db:"reason"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	CreatedBy   string            `json:"created_by,omitempty" db:"created_by"`
	RevokedAt   *time.Time        `json:"revoked_at,omitempty" db:"revoked_at"`
	RevokedBy   string            `json:"revoked_by,omitempty" db:"revoked_by"`
}

// Active reports whether the entry still counts toward suppression.
func (e SuppressionEntry) Active() bool { return e.RevokedAt == nil }

// SuppressionStatus is derived from a recipient's ledger entries.
type SuppressionStatus struct {
	RecipientID string              `json:"recipient_id"`
	Suppressed  bool                `json:"suppressed"`
	Reasons     []SuppressionReason `json:"reasons,omitempty"`
	History     []SuppressionEntry  `json:"history"`
}

// DeriveSuppressionStatus folds ledger entries into a status. A recipient is
// suppressed iff at least one entry is not revoked.
func DeriveSuppressionStatus(recipientID string, entries []SuppressionEntry) SuppressionStatus {
	st := SuppressionStatus{RecipientID: recipientID, History: entries}
	seen := make(map[SuppressionReason]bool)
	for _, e := range entries {
		if !e.Active() {
			continue
		}
		st.Suppressed = true
		if !seen[e.Reason] {
			seen[e.Reason] = true
			st.Reasons = append(st.Reasons, e.Reason)
		}
	}
	if st.History == nil {
		st.History = []SuppressionEntry{}
	}
	return st
}

// NormalizeRecipient lowercases and trims a recipient id so that the same
// contact always maps to the same ledger key.
func NormalizeRecipient(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// SuppressionFilter controls pagination and filtering for ledger listings.
type SuppressionFilter struct {
	Reason         SuppressionReason
	IncludeRevoked bool
	Limit          int
	Offset         int
}
