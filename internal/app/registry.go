package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/ABERsara/worldplay-media/internal/domain"
	"github.com/ABERsara/worldplay-media/internal/metrics"
)

// SessionRegistry is the authoritative in-memory map from broadcast
// session id to its Session: the source of truth for "is this session
// live". Creation is lazy and exactly-once per id; concurrent creators
// for the same id all observe the first result.
type SessionRegistry struct {
	factory RouterFactory
	group   singleflight.Group

	mu       sync.RWMutex
	sessions map[domain.SessionID]*Session
}

func NewSessionRegistry(factory RouterFactory) *SessionRegistry {
	return &SessionRegistry{
		factory:  factory,
		sessions: make(map[domain.SessionID]*Session),
	}
}

func (r *SessionRegistry) Get(id domain.SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// GetOrCreate returns the session for id, creating its routing domain on
// first call. Racing creators are collapsed through a singleflight group
// keyed by session id, so one routing domain exists per id no matter how
// the calls interleave; router creation never holds the registry lock.
func (r *SessionRegistry) GetOrCreate(ctx context.Context, id domain.SessionID, host domain.ParticipantID) (*Session, error) {
	if s, ok := r.Get(id); ok {
		return s, nil
	}
	v, err, _ := r.group.Do(string(id), func() (any, error) {
		if s, ok := r.Get(id); ok {
			return s, nil
		}
		router, err := r.factory.CreateRouter(ctx, id)
		if err != nil {
			return nil, err
		}
		s := NewSession(id, host, router)
		r.mu.Lock()
		r.sessions[id] = s
		r.mu.Unlock()
		metrics.ActiveSessions.Inc()
		log.Info().Str("module", "app.registry").Str("session", string(id)).Str("host", string(host)).Msg("session created")
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (r *SessionRegistry) Remove(id domain.SessionID) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		metrics.ActiveSessions.Dec()
		log.Info().Str("module", "app.registry").Str("session", string(id)).Msg("session removed")
	}
}

// HostedBy lists the sessions a participant hosts. Used on disconnect to
// find the broadcasts that must be torn down.
func (r *SessionRegistry) HostedBy(pid domain.ParticipantID) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.Host == pid {
			out = append(out, s)
		}
	}
	return out
}

// All snapshots the current sessions.
func (r *SessionRegistry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
