package session

import "errors"

// Sentinel errors for store operations. Part of the Store's public API;
// check with errors.Is().
var (
	// ErrNotFound indicates the requested session does not exist
	// (never created, deleted, or evicted).
	ErrNotFound = errors.New("session not found")

	// ErrTurnInProgress indicates the session already has a turn in
	// flight. Interleaving two model calls against one history would
	// corrupt the append-only ordering, so the second message is
	// rejected instead.
	ErrTurnInProgress = errors.New("turn already in progress")
)
