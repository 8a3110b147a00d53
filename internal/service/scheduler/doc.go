// Package scheduler turns trigger events into delayed, suppression-checked,
// idempotent follow-up sends.
//
// Each scheduled action is created exactly once per (trigger_event_id,
// action_type); duplicate deliveries of the same trigger event find the
// existing row. An action moves out of pending exactly once:
//
//	pending -> sent | suppressed | failed | skipped
//
// Suppression is checked when the action is created and again, mandatorily,
// right before delivery. A failed check counts as suppressed. The store is
// the durable record; the due queue only wakes workers up.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package scheduler
