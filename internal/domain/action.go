package domain

import "time"

// ActionStatus is the lifecycle state of a scheduled action.
type ActionStatus string

const (
	ActionPending    ActionStatus = "pending"
	ActionSuppressed ActionStatus = "suppressed"
	ActionSent       ActionStatus = "sent"
	ActionFailed     ActionStatus = "failed"
	// ActionSkipped is the terminal no-op for a visitor who never left the
	// anonymous state, so there was no contact to deliver to.
	ActionSkipped ActionStatus = "skipped"
)

// Terminal reports whether no further transitions are allowed.
func (s ActionStatus) Terminal() bool { return s != ActionPending }

// Valid reports whether s is a known status.
func (s ActionStatus) Valid() bool {
	switch s {
	case ActionPending, ActionSuppressed, ActionSent, ActionFailed, ActionSkipped:
		return true
	}
	return false
}

// ScheduledAction is a delayed, suppression-checked send created from a
// trigger event. (TriggerEventID, ActionType) is unique.
type ScheduledAction struct {
	ID             string            `json:"action_id" db:"action_id"`
	TriggerEventID string            `json:"trigger_event_id" db:"trigger_event_id"`
	ActionType     string            `json:"action_type" db:"action_type"`
	AnonymousID    string            `json:"anonymous_id" db:"anonymous_id"`
	SubjectID      string            `json:"subject_id" db:"subject_id"`
	RecipientID    string            `json:"recipient_id,omitempty" db:"recipient_id"`
	Payload        map[string]string `json:"payload,omitempty" db:"payload"`
	NotBefore      time.Time         `json:"not_before" db:"not_before"`
	Status         ActionStatus      `json:"status" db:"status"`
	AttemptCount   int               `json:"attempt_count" db:"attempt_count"`
	LastError      string            `json:"last_error,omitempty" db:"last_error"`
	LeaseOwner     string            `json:"-" db:"lease_owner"`
	LeaseUntil     *time.Time        `json:"-" db:"lease_until"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

// DedupKey returns the (trigger_event_id, action_type) pair as one string.
func (a ScheduledAction) DedupKey() string {
	return a.TriggerEventID + "/" + a.ActionType
}

// ActionTransition describes a move out of pending. Only fields relevant to
// the new status need to be set.
type ActionTransition struct {
	Status       ActionStatus
	RecipientID  string
	AttemptCount int
	NotBefore    time.Time
	LastError    string
}

// ActionFilter controls listing of scheduled actions.
type ActionFilter struct {
	Status ActionStatus
	Limit  int
	Offset int
}
