package trainer

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrSessionNotFound is returned when a registry lookup misses.
var ErrSessionNotFound = errors.New("session not found")

// Registry holds the live sessions, keyed by generated UUID.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	cfg      Config
	log      zerolog.Logger
}

type entry struct {
	session  *Session
	created  time.Time
	lastUsed time.Time
}

// NewRegistry builds a registry whose sessions all share cfg's oracle
// stack, thresholds and logger.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
		cfg:      cfg,
		log:      cfg.Logger,
	}
}

// Create starts a new session at fenStr for playerSide and returns it.
func (r *Registry) Create(fenStr string, playerSide byte) (*Session, error) {
	id := uuid.NewString()
	s, err := NewSession(id, r.cfg, fenStr, playerSide)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	r.mu.Lock()
	r.sessions[id] = &entry{session: s, created: now, lastUsed: now}
	r.mu.Unlock()

	r.log.Info().Str("session", id).Str("fen", fenStr).Msg("session created")
	return s, nil
}

// Get looks up a session and touches its last-used time.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.lastUsed = time.Now()
	return e.session, nil
}

// Delete removes a session, cancelling anything it still has in flight.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	e.session.CancelPendingReply()
	r.log.Info().Str("session", id).Msg("session deleted")
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes sessions idle for longer than maxIdle and returns how
// many were evicted.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.Lock()
	var stale []*entry
	for id, e := range r.sessions {
		if e.lastUsed.Before(cutoff) {
			stale = append(stale, e)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, e := range stale {
		e.session.CancelPendingReply()
	}
	if len(stale) > 0 {
		r.log.Info().Int("evicted", len(stale)).Msg("idle sessions swept")
	}
	return len(stale)
}

// Snapshots returns snapshots of every live session.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.session.Snapshot())
	}
	return out
}
