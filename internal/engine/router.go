package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ABERsara/worldplay-media/internal/domain"
)

// Router is the routing domain of one broadcast session: the negotiated
// codec set plus the transports and producers registered under it. It is
// created lazily, exactly once per session id, by the session registry.
type Router struct {
	worker    *Worker
	sessionID domain.SessionID
	caps      RTPCapabilities

	mu         sync.RWMutex
	closed     bool
	transports map[string]*WebRTCTransport
	producers  map[string]*Producer
}

func newRouter(w *Worker, sessionID domain.SessionID, caps RTPCapabilities) *Router {
	return &Router{
		worker:     w,
		sessionID:  sessionID,
		caps:       caps,
		transports: make(map[string]*WebRTCTransport),
		producers:  make(map[string]*Producer),
	}
}

func (r *Router) SessionID() domain.SessionID { return r.sessionID }

func (r *Router) Capabilities() RTPCapabilities { return r.caps }

// CreateTransport allocates a new ICE/DTLS transport on this routing
// domain and gathers its local candidates. Each call creates a fresh
// transport: one per participant connection leg.
func (r *Router) CreateTransport(ctx context.Context) (*WebRTCTransport, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, domain.ErrNotFound
	}

	t, err := newWebRTCTransport(ctx, r)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.transports[t.ID()] = t
	r.mu.Unlock()
	return t, nil
}

// CanConsume reports whether the given receiver capabilities can consume
// the producer. Unknown producer ids report false.
func (r *Router) CanConsume(producerID string, caps RTPCapabilities) bool {
	r.mu.RLock()
	p, ok := r.producers[producerID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return CanConsume(p.RTPParameters(), caps)
}

func (r *Router) producer(id string) (*Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) registerProducer(p *Producer) {
	r.mu.Lock()
	r.producers[p.ID()] = p
	r.mu.Unlock()
}

func (r *Router) removeProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *Router) removeTransport(id string) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}

// Close tears down every transport on the domain and detaches it from the
// worker. Safe to call twice.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := make([]*WebRTCTransport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
	r.worker.removeRouter(r.sessionID)
	log.Info().Str("module", "engine").Str("session", string(r.sessionID)).Msg("router closed")
}
