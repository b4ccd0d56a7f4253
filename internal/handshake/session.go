package handshake

import (
	"fmt"
	"sync"
	"time"
)

// Phase is a handshake session phase. Phases only move forward.
type Phase int

const (
	Idle Phase = iota
	RestVerified
	EmitVerified
	Established
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "Idle"
	case RestVerified:
		return "RestVerified"
	case EmitVerified:
		return "EmitVerified"
	case Established:
		return "Established"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == Established || p == Failed
}

// Session tracks one handshake attempt.
type Session struct {
	mu           sync.RWMutex
	phase        Phase
	connectionID string
	deadline     time.Time
}

// NewSession returns a session in Idle.
func NewSession() *Session {
	return &Session{}
}

// Advance moves the session to phase to. Moving to an earlier or equal
// phase, or out of a terminal phase, is rejected.
func (s *Session) Advance(to Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase.Terminal() || to <= s.phase {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.phase, to)
	}
	s.phase = to
	return nil
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// ConnectionID returns the peer-issued connection id, empty before Phase 1 succeeds.
func (s *Session) ConnectionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectionID
}

func (s *Session) setConnectionID(id string) {
	s.mu.Lock()
	s.connectionID = id
	s.mu.Unlock()
}

// Deadline returns the deadline of the wait currently in progress.
func (s *Session) Deadline() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deadline
}

func (s *Session) setDeadline(t time.Time) {
	s.mu.Lock()
	s.deadline = t
	s.mu.Unlock()
}
