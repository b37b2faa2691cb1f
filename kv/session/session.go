package session

import (
	"sync"

	"github.com/google/uuid"
)

// Session is the server side state of one logical session.
type Session struct {
	id uuid.UUID

	mu          sync.Mutex
	participant *Participant
}

func newSession(id uuid.UUID) *Session {
	return &Session{id: id}
}

// ID returns the logical session id.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Participant returns the transaction participant of the session, or nil
// if no transaction was ever started on it.
func (s *Session) Participant() *Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participant
}

// GetOrCreateParticipant returns the transaction participant of the
// session, creating it on first use.
func (s *Session) GetOrCreateParticipant() *Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.participant == nil {
		s.participant = newParticipant(s.id)
	}
	return s.participant
}
