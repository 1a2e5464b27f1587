// Package session defines the conversation domain model (Session, Turn,
// Step, CostMetrics) and the in-process Store that owns all sessions.
//
// Ownership: the Store exclusively owns every Session. The turn
// orchestrator takes a per-session turn lease (BeginTurn) for the
// duration of one turn; the lease rejects concurrent turns and shields
// the session from eviction. All reads hand out copies, so history is
// immutable from the caller's point of view.
package session
