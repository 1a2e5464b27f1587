package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the process-lifetime registry of sessions.
//
// The session map is the only structure shared across sessions; it is
// guarded by a read-write mutex so lookups for different session ids
// proceed without contention. Mutation of a single session's fields
// (turn append, totals update, lease state) is serialized by that
// session's own mutex.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*entry
}

// entry pairs a session with its per-session lock and turn lease.
type entry struct {
	mu         sync.Mutex
	sess       *Session
	turnActive bool
}

// NewStore creates an empty Store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:   logger,
		sessions: make(map[uuid.UUID]*entry),
	}
}

// Create registers a new session with a fresh random identifier,
// empty history, and zeroed totals, and returns its summary.
func (s *Store) Create() Summary {
	now := time.Now()
	sess := &Session{
		ID:             uuid.New(),
		CreatedAt:      now,
		LastActivityAt: now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = &entry{sess: sess}
	s.mu.Unlock()

	s.logger.Debug("session created", "session_id", sess.ID)
	return Summary{ID: sess.ID, CreatedAt: now, LastActivityAt: now}
}

// Get returns a deep copy of the session, or ErrNotFound.
func (s *Store) Get(id uuid.UUID) (*Session, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return copySession(e.sess), nil
}

// History returns a copy of the session's turns in append order.
func (s *Store) History(id uuid.UUID) ([]Turn, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Turns, nil
}

// Stats returns the derived statistics view for the session.
func (s *Store) Stats(id uuid.UUID) (Stats, error) {
	e, err := s.entry(id)
	if err != nil {
		return Stats{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		TurnCount:     len(e.sess.Turns),
		Totals:        e.sess.Totals,
		CacheHitRatio: cacheHitRatio(e.sess.Totals),
		Age:           time.Since(e.sess.CreatedAt),
	}, nil
}

// BeginTurn takes the session's turn lease. While held, the session
// cannot be evicted and no second turn can start. The returned release
// function is idempotent and must be called once the turn reaches a
// terminal state.
//
// Returns ErrTurnInProgress when a prior turn has not yet completed,
// ErrNotFound when the session does not exist.
func (s *Store) BeginTurn(id uuid.UUID) (release func(), err error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.turnActive {
		return nil, ErrTurnInProgress
	}
	e.turnActive = true

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			e.turnActive = false
			e.mu.Unlock()
		})
	}, nil
}

// AppendTurn atomically appends a completed turn to the session's
// history, folds its usage into the session totals, and bumps
// LastActivityAt. Fails with ErrNotFound if the session was deleted
// mid-turn.
func (s *Store) AppendTurn(id uuid.UUID, turn Turn) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.sess.Turns = append(e.sess.Turns, copyTurn(turn))
	e.sess.Totals.Add(turn.Usage)
	e.sess.LastActivityAt = time.Now()
	turnCount := len(e.sess.Turns)
	e.mu.Unlock()

	s.logger.Debug("turn appended",
		"session_id", id,
		"status", turn.Status,
		"steps", len(turn.Steps),
		"turns", turnCount,
	)
	return nil
}

// List returns session summaries ordered most-recent-activity first.
func (s *Store) List() []Summary {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	summaries := make([]Summary, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		summaries = append(summaries, Summary{
			ID:             e.sess.ID,
			CreatedAt:      e.sess.CreatedAt,
			LastActivityAt: e.sess.LastActivityAt,
			TurnCount:      len(e.sess.Turns),
		})
		e.mu.Unlock()
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastActivityAt.After(summaries[j].LastActivityAt)
	})
	return summaries
}

// Delete removes a session. Returns ErrNotFound if absent.
func (s *Store) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	s.logger.Debug("session deleted", "session_id", id)
	return nil
}

// EvictOlderThan removes sessions whose last activity is older than
// maxAge. Sessions holding a turn lease are never evicted. Returns the
// number of sessions removed.
func (s *Store) EvictOlderThan(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, e := range s.sessions {
		e.mu.Lock()
		expired := !e.turnActive && e.sess.LastActivityAt.Before(cutoff)
		e.mu.Unlock()

		if expired {
			delete(s.sessions, id)
			evicted++
			s.logger.Debug("session evicted", "session_id", id)
		}
	}

	if evicted > 0 {
		s.logger.Info("evicted inactive sessions", "count", evicted)
	}
	return evicted
}

// StartEvictionLoop runs periodic eviction until ctx is canceled.
// Expiry is advisory cleanup, not correctness-critical.
func (s *Store) StartEvictionLoop(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.EvictOlderThan(maxAge)
			}
		}
	}()
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) entry(id uuid.UUID) (*entry, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// copySession deep-copies the turn slice so callers cannot mutate
// history through the returned value. Turns themselves are immutable
// after append, so per-turn step slices are copied but raw JSON
// payloads are shared.
func copySession(sess *Session) *Session {
	cp := *sess
	cp.Turns = make([]Turn, len(sess.Turns))
	for i := range sess.Turns {
		cp.Turns[i] = copyTurn(sess.Turns[i])
	}
	return &cp
}

func copyTurn(t Turn) Turn {
	cp := t
	cp.Steps = make([]Step, len(t.Steps))
	copy(cp.Steps, t.Steps)
	return cp
}
