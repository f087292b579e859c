package oauth

import (
	"sync"
	"time"
)

const (
	// stateTTL bounds how long an authorization may sit between the
	// redirect and the callback.
	stateTTL = 10 * time.Minute

	// maxPendingStates caps the in-memory map so an unauthenticated
	// attacker cannot grow it without bound.
	maxPendingStates = 10000
)

// PendingAuth is the per-authorization data held between the redirect
// to the authorization server and the callback.
type PendingAuth struct {
	ExpiresAt   time.Time
	Verifier    string
	RedirectURI string
}

// stateStore is a bounded in-memory map of state -> PendingAuth with
// TTL expiry. Entries are single-use.
type stateStore struct {
	pending map[string]PendingAuth
	mu      sync.Mutex
	now     func() time.Time
}

func newStateStore() *stateStore {
	return &stateStore{
		pending: make(map[string]PendingAuth),
		now:     time.Now,
	}
}

// Put stores a pending authorization under state. Returns false when
// the map is at capacity.
func (s *stateStore) Put(state, verifier, redirectURI string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) >= maxPendingStates {
		s.evictExpiredLocked()
		if len(s.pending) >= maxPendingStates {
			return false
		}
	}

	s.pending[state] = PendingAuth{
		Verifier:    verifier,
		RedirectURI: redirectURI,
		ExpiresAt:   s.now().UTC().Add(stateTTL),
	}
	return true
}

// Consume removes and returns the pending authorization for state.
// Expired or unknown states return false.
func (s *stateStore) Consume(state string) (PendingAuth, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[state]
	if !ok {
		return PendingAuth{}, false
	}
	delete(s.pending, state)

	if s.now().UTC().After(p.ExpiresAt) {
		return PendingAuth{}, false
	}
	return p, true
}

func (s *stateStore) evictExpiredLocked() {
	now := s.now().UTC()
	for state, p := range s.pending {
		if now.After(p.ExpiresAt) {
			delete(s.pending, state)
		}
	}
}

// SweepExpired evicts expired states and reports how many were removed.
// Called from the maintenance task rather than a dedicated timer.
func (s *stateStore) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.pending)
	s.evictExpiredLocked()
	return before - len(s.pending)
}
