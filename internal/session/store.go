// Package session owns all live conversation state. Sessions never
// leave the store: callers get deep-copied snapshots, and mutation goes
// through store methods under a per-session exclusive gate.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/charla-ai/charla/internal/interfaces"
)

var (
	// ErrNotFound means the session id is unknown or already deleted.
	ErrNotFound = errors.New("session not found")
	// ErrBusy means the session's gate stayed held past the wait bound.
	ErrBusy = errors.New("session busy")
	// ErrLimit means the store is at its session cap.
	ErrLimit = errors.New("session limit reached")
)

const (
	defaultMaxSessions = 100
	defaultAcquireWait = 30 * time.Second
)

// Session is one conversation's state. The gate channel carries the
// exclusive right to run a query against the session; holding the token
// marks it active.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActiveAt time.Time

	turns []interfaces.Turn
	gate  chan struct{}
	mu    sync.RWMutex
}

// Snapshot is a read-only copy of a session handed across boundaries.
type Snapshot struct {
	ID           string            `json:"id"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActiveAt time.Time         `json:"last_active_at"`
	TurnCount    int               `json:"turn_count"`
	Turns        []interfaces.Turn `json:"turns,omitempty"`
}

// Store manages all sessions.
type Store struct {
	sessions map[string]*Session
	max      int
	wait     time.Duration
	logger   *slog.Logger
	mu       sync.RWMutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxSessions caps the number of concurrent sessions.
func WithMaxSessions(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.max = n
		}
	}
}

// WithAcquireWait bounds how long Acquire queues behind a running query.
func WithAcquireWait(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.wait = d
		}
	}
}

// NewStore creates an empty session store.
func NewStore(logger *slog.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		sessions: make(map[string]*Session),
		max:      defaultMaxSessions,
		wait:     defaultAcquireWait,
		logger:   logger.With("component", "session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create adds a new empty session, enforcing the session cap.
func (s *Store) Create() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sessions) >= s.max {
		return Snapshot{}, ErrLimit
	}

	now := time.Now()
	sess := &Session{
		ID:           uuid.New().String(),
		CreatedAt:    now,
		LastActiveAt: now,
		gate:         make(chan struct{}, 1),
	}
	s.sessions[sess.ID] = sess

	s.logger.Info("session created", "session", sess.ID, "count", len(s.sessions))
	return sess.snapshot(false), nil
}

// Get returns a full snapshot including turns.
func (s *Store) Get(id string) (Snapshot, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return sess.snapshot(true), nil
}

// Acquire takes the session's exclusive query gate. A later arrival
// queues behind the holder up to the store's wait bound, then fails
// with ErrBusy. The returned release func must be called exactly once.
func (s *Store) Acquire(ctx context.Context, id string) (func(), error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.wait)
	defer cancel()

	select {
	case sess.gate <- struct{}{}:
		// The session may have been deleted while we queued.
		if _, err := s.lookup(id); err != nil {
			<-sess.gate
			return nil, err
		}
		var once sync.Once
		release := func() {
			once.Do(func() { <-sess.gate })
		}
		return release, nil
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrBusy
	}
}

// Append commits turns to the session's history under its lock and
// returns the new history length. Each turn is deep-copied in.
func (s *Store) Append(id string, turns ...interfaces.Turn) (int, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return 0, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.turns = append(sess.turns, interfaces.CloneTurns(turns)...)
	sess.LastActiveAt = time.Now()
	return len(sess.turns), nil
}

// History returns a deep copy of the session's turns in insertion order.
func (s *Store) History(id string) ([]interfaces.Turn, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return interfaces.CloneTurns(sess.turns), nil
}

// ClearHistory drops the session's turns but keeps the session.
func (s *Store) ClearHistory(id string) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.turns = nil
	sess.LastActiveAt = time.Now()
	return nil
}

// Touch marks the session as recently active.
func (s *Store) Touch(id string) {
	sess, err := s.lookup(id)
	if err != nil {
		return
	}
	sess.mu.Lock()
	sess.LastActiveAt = time.Now()
	sess.mu.Unlock()
}

// Delete removes a session. Deleting an unknown id is a no-op; the
// return value reports whether anything was removed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	s.logger.Info("session deleted", "session", id, "count", len(s.sessions))
	return true
}

// Sweep removes sessions idle past ttl. Sessions whose gate is held are
// active and skipped regardless of their timestamps.
func (s *Store) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		sess.mu.RLock()
		idle := sess.LastActiveAt.Before(cutoff)
		sess.mu.RUnlock()
		if !idle {
			continue
		}

		select {
		case sess.gate <- struct{}{}:
			delete(s.sessions, id)
			<-sess.gate
			removed++
			s.logger.Info("idle session swept", "session", id)
		default:
			// A query holds or waits on the gate; leave the session alone.
		}
	}
	return removed
}

// List returns snapshots of all sessions ordered by creation time.
// Turns are omitted; use Get or History for them.
func (s *Store) List() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Snapshot, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.snapshot(false))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Len returns the live session count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) lookup(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// snapshot copies the session state; withTurns includes a deep copy of
// the history.
func (sess *Session) snapshot(withTurns bool) Snapshot {
	sess.mu.RLock()
	defer sess.mu.RUnlock()

	snap := Snapshot{
		ID:           sess.ID,
		CreatedAt:    sess.CreatedAt,
		LastActiveAt: sess.LastActiveAt,
		TurnCount:    len(sess.turns),
	}
	if withTurns {
		snap.Turns = interfaces.CloneTurns(sess.turns)
	}
	return snap
}
