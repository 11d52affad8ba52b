package store

import "errors"

// Sentinel errors surfaced by EmailEventStore and JobStateStore at the store
// boundary: ErrEmailEventNotFound from sql.ErrNoRows or a zero-row update,
// ErrDuplicateMessageID from a unique violation on message_id, and
// ErrJobStateNotFound from a missing or empty Redis hash.
var (
	ErrEmailEventNotFound = errors.New("store: email event not found")
	ErrDuplicateMessageID = errors.New("store: message_id already ingested")
	ErrJobStateNotFound   = errors.New("store: job state not found")
)
