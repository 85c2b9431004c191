package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ABERsara/worldplay-media/internal/domain"
)

// Graph is the arena of live transports, producers and consumers with
// explicit parent→child ownership edges. Closing a node walks its owned
// edges instead of scanning global tables:
//
//	transport → {producers, consumers}
//	producer  → {dependent consumers (possibly on other transports)}
//
// Every close is idempotent because teardown can be triggered from
// multiple events (explicit close, disconnect, parent closing).
type Graph struct {
	mu         sync.Mutex
	transports map[domain.TransportID]*transportNode
	producers  map[domain.ProducerID]*producerNode
	consumers  map[domain.ConsumerID]*consumerNode
}

type transportNode struct {
	t         MediaTransport
	session   domain.SessionID
	owner     domain.ParticipantID
	producers map[domain.ProducerID]struct{}
	consumers map[domain.ConsumerID]struct{}
}

type producerNode struct {
	p          MediaProducer
	transport  domain.TransportID
	session    domain.SessionID
	dependents map[domain.ConsumerID]struct{}
	onClosed   []func(domain.ProducerID)
}

type consumerNode struct {
	c         MediaConsumer
	transport domain.TransportID
	producer  domain.ProducerID
}

func NewGraph() *Graph {
	return &Graph{
		transports: make(map[domain.TransportID]*transportNode),
		producers:  make(map[domain.ProducerID]*producerNode),
		consumers:  make(map[domain.ConsumerID]*consumerNode),
	}
}

func (g *Graph) AddTransport(session domain.SessionID, owner domain.ParticipantID, t MediaTransport) domain.TransportID {
	id := domain.TransportID(t.ID())
	g.mu.Lock()
	g.transports[id] = &transportNode{
		t:         t,
		session:   session,
		owner:     owner,
		producers: make(map[domain.ProducerID]struct{}),
		consumers: make(map[domain.ConsumerID]struct{}),
	}
	g.mu.Unlock()
	log.Info().Str("module", "app.graph").Str("transport", string(id)).Str("session", string(session)).Msg("transport registered")
	return id
}

func (g *Graph) Transport(id domain.TransportID) (MediaTransport, domain.SessionID, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.transports[id]
	if !ok {
		return nil, "", false
	}
	return n.t, n.session, true
}

func (g *Graph) AddProducer(transportID domain.TransportID, p MediaProducer) (domain.ProducerID, error) {
	id := domain.ProducerID(p.ID())
	g.mu.Lock()
	defer g.mu.Unlock()
	tn, ok := g.transports[transportID]
	if !ok {
		return "", domain.ErrNotFound
	}
	g.producers[id] = &producerNode{
		p:          p,
		transport:  transportID,
		session:    tn.session,
		dependents: make(map[domain.ConsumerID]struct{}),
	}
	tn.producers[id] = struct{}{}
	return id, nil
}

func (g *Graph) Producer(id domain.ProducerID) (MediaProducer, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.producers[id]
	if !ok {
		return nil, false
	}
	return n.p, true
}

// OnProducerClosed registers a hook fired exactly once when the producer
// leaves the graph, whatever triggered the close.
func (g *Graph) OnProducerClosed(id domain.ProducerID, fn func(domain.ProducerID)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.producers[id]; ok {
		n.onClosed = append(n.onClosed, fn)
	}
}

// AddConsumer registers a consumer under its transport and as a dependent
// of its producer; either parent closing removes it exactly once.
func (g *Graph) AddConsumer(transportID domain.TransportID, producerID domain.ProducerID, c MediaConsumer) (domain.ConsumerID, error) {
	id := domain.ConsumerID(c.ID())
	g.mu.Lock()
	defer g.mu.Unlock()
	tn, ok := g.transports[transportID]
	if !ok {
		return "", domain.ErrNotFound
	}
	pn, ok := g.producers[producerID]
	if !ok {
		return "", domain.ErrNotFound
	}
	g.consumers[id] = &consumerNode{c: c, transport: transportID, producer: producerID}
	tn.consumers[id] = struct{}{}
	pn.dependents[id] = struct{}{}
	return id, nil
}

func (g *Graph) Consumer(id domain.ConsumerID) (MediaConsumer, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.consumers[id]
	if !ok {
		return nil, false
	}
	return n.c, true
}

// CloseTransport cascades over everything the transport owns. A second
// call is a no-op, not an error.
func (g *Graph) CloseTransport(id domain.TransportID) {
	g.mu.Lock()
	effects := g.closeTransportLocked(id)
	g.mu.Unlock()
	runEffects(effects)
}

// CloseProducer closes the producer, all its dependent consumers and fires
// its close hooks.
func (g *Graph) CloseProducer(id domain.ProducerID) {
	g.mu.Lock()
	effects := g.closeProducerLocked(id)
	g.mu.Unlock()
	runEffects(effects)
}

func (g *Graph) CloseConsumer(id domain.ConsumerID) {
	g.mu.Lock()
	effects := g.closeConsumerLocked(id)
	g.mu.Unlock()
	runEffects(effects)
}

// CloseSession closes every transport registered under the session.
func (g *Graph) CloseSession(session domain.SessionID) {
	g.mu.Lock()
	var effects []func()
	for id, n := range g.transports {
		if n.session == session {
			effects = append(effects, g.closeTransportLocked(id)...)
		}
	}
	g.mu.Unlock()
	runEffects(effects)
}

// CloseOwnedBy closes every transport a participant owns, across sessions.
// Used on disconnect.
func (g *Graph) CloseOwnedBy(owner domain.ParticipantID) {
	g.mu.Lock()
	var effects []func()
	for id, n := range g.transports {
		if n.owner == owner {
			effects = append(effects, g.closeTransportLocked(id)...)
		}
	}
	g.mu.Unlock()
	runEffects(effects)
}

// Engine Close calls and close hooks are collected under the lock and run
// outside it; hooks are free to call back into the graph.
func (g *Graph) closeTransportLocked(id domain.TransportID) []func() {
	n, ok := g.transports[id]
	if !ok {
		return nil
	}
	delete(g.transports, id)

	var effects []func()
	for pid := range n.producers {
		effects = append(effects, g.closeProducerLocked(pid)...)
	}
	for cid := range n.consumers {
		effects = append(effects, g.closeConsumerLocked(cid)...)
	}
	t := n.t
	effects = append(effects, func() {
		t.Close()
		log.Info().Str("module", "app.graph").Str("transport", string(id)).Msg("transport closed")
	})
	return effects
}

func (g *Graph) closeProducerLocked(id domain.ProducerID) []func() {
	n, ok := g.producers[id]
	if !ok {
		return nil
	}
	delete(g.producers, id)
	if tn, ok := g.transports[n.transport]; ok {
		delete(tn.producers, id)
	}

	var effects []func()
	for cid := range n.dependents {
		effects = append(effects, g.closeConsumerLocked(cid)...)
	}
	p, hooks := n.p, n.onClosed
	effects = append(effects, func() {
		p.Close()
		for _, fn := range hooks {
			fn(id)
		}
		log.Info().Str("module", "app.graph").Str("producer", string(id)).Msg("producer closed")
	})
	return effects
}

func (g *Graph) closeConsumerLocked(id domain.ConsumerID) []func() {
	n, ok := g.consumers[id]
	if !ok {
		return nil
	}
	delete(g.consumers, id)
	if tn, ok := g.transports[n.transport]; ok {
		delete(tn.consumers, id)
	}
	if pn, ok := g.producers[n.producer]; ok {
		delete(pn.dependents, id)
	}
	c := n.c
	return []func(){func() {
		c.Close()
	}}
}

func runEffects(effects []func()) {
	for _, fn := range effects {
		fn()
	}
}
