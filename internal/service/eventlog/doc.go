// Package eventlog is the append-only log of behavioral events.
//
// Append validates an event against the closed taxonomy, writes it durably
// and only then notifies downstream consumers. Notification is
// at-least-once: consumers must tolerate duplicates. Nothing downstream is
// considered to have happened until its event is in the log.
package eventlog
