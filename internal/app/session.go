package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ABERsara/worldplay-media/internal/domain"
)

// Notifier delivers server-pushed events to one connected participant.
// Owned by the signaling adapter; the adapter closes it.
type Notifier interface {
	TrySend(event string, data any) error
}

// Session is the authoritative record of one live broadcast: its routing
// domain, its host, the current producer and the joined participants.
//
// All mutating signaling operations for a session are applied under Lock;
// that single serialization point is what makes duplicate room creation,
// double produce and conflicting closes impossible. Different sessions
// proceed fully in parallel.
type Session struct {
	ID     domain.SessionID
	Router MediaRouter
	Host   domain.ParticipantID

	opMu sync.Mutex

	mu         sync.RWMutex
	ended      bool
	producerID domain.ProducerID
	members    map[domain.ParticipantID]Notifier
}

func NewSession(id domain.SessionID, host domain.ParticipantID, router MediaRouter) *Session {
	return &Session{
		ID:      id,
		Router:  router,
		Host:    host,
		members: make(map[domain.ParticipantID]Notifier),
	}
}

// Lock serializes mutating operations for this session.
func (s *Session) Lock() { s.opMu.Lock() }

func (s *Session) Unlock() { s.opMu.Unlock() }

// MarkEnded flips the session to ended exactly once and reports whether
// this call did the flip.
func (s *Session) MarkEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	return true
}

func (s *Session) Ended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ended
}

func (s *Session) SetCurrentProducer(id domain.ProducerID) {
	s.mu.Lock()
	s.producerID = id
	s.mu.Unlock()
}

// CurrentProducer is the id announced to late joiners, or "" before the
// host produces.
func (s *Session) CurrentProducer() domain.ProducerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.producerID
}

// ClearCurrentProducer resets the announced producer only if it still is
// the given one; a newer produce call wins.
func (s *Session) ClearCurrentProducer(id domain.ProducerID) {
	s.mu.Lock()
	if s.producerID == id {
		s.producerID = ""
	}
	s.mu.Unlock()
}

// AddMember registers a participant in the session broadcast group.
// Joining twice is detected and reported, not duplicated.
func (s *Session) AddMember(pid domain.ParticipantID, n Notifier) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[pid]; ok {
		return false
	}
	s.members[pid] = n
	log.Info().Str("module", "app.session").Str("session", string(s.ID)).Str("participant", string(pid)).Msg("member joined")
	return true
}

func (s *Session) RemoveMember(pid domain.ParticipantID) {
	s.mu.Lock()
	delete(s.members, pid)
	s.mu.Unlock()
}

func (s *Session) IsMember(pid domain.ParticipantID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[pid]
	return ok
}

// Broadcast fans an event out to every member except the excluded one.
// Slow receivers are skipped, not waited for.
func (s *Session) Broadcast(exclude domain.ParticipantID, event string, data any) {
	s.mu.RLock()
	snapshot := make(map[domain.ParticipantID]Notifier, len(s.members))
	for pid, n := range s.members {
		snapshot[pid] = n
	}
	s.mu.RUnlock()

	for pid, n := range snapshot {
		if pid == exclude {
			continue
		}
		if err := n.TrySend(event, data); err != nil {
			log.Warn().Err(err).
				Str("module", "app.session").
				Str("session", string(s.ID)).
				Str("participant", string(pid)).
				Str("event", event).
				Msg("broadcast dropped")
		}
	}
}
