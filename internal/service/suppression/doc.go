// Package suppression implements the global suppression ledger.
//
// This is the single source of truth for whether a recipient may receive
// automated messages. Suppressions are scope-global: they block every
// subject and every channel. Entries flow in from unsubscribe events,
// provider bounce/complaint signals and manual admin actions, and are
// checked by the scheduler both when an action is created and again right
// before it is sent.
//
// The ledger is append-only. Status is derived from the entries; removal
// sets a revocation tombstone. Entries from automatic sources can only be
// revoked with an explicit override.
//
// The service layer contains pure business logic and depends on the
// Repository interface defined in repository.go. It never imports
// net/http or database/sql directly.
package suppression
