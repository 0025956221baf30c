package agent

import (
	"sync"
	"time"

	"sitepulse/internal/events"
)

// SessionIDPrefix marks agent-minted session identifiers.
const SessionIDPrefix = "sess_"

// SessionStore hands out the current session identifier, minting a fresh one
// after the inactivity timeout elapses or the previous session was ended
// explicitly.
type SessionStore interface {
	// Acquire returns the session id active at now, and whether this call
	// started a new session.
	Acquire(now time.Time) (id string, started bool)
	// End discards the active session so the next event starts a new one.
	End()
}

// memorySessionStore is the default in-process session store.
type memorySessionStore struct {
	mu       sync.Mutex
	timeout  time.Duration
	id       string
	lastSeen time.Time
}

// NewMemorySessionStore creates a session store with the given inactivity
// timeout.
func NewMemorySessionStore(timeout time.Duration) SessionStore {
	return &memorySessionStore{timeout: timeout}
}

func (s *memorySessionStore) Acquire(now time.Time) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := false
	if s.id == "" || now.Sub(s.lastSeen) > s.timeout {
		s.id = NewSessionID()
		started = true
	}
	s.lastSeen = now
	return s.id, started
}

func (s *memorySessionStore) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = ""
}

// NewSessionID mints a prefixed, lexicographically sortable session id.
func NewSessionID() string {
	return SessionIDPrefix + events.NewEventID()
}
