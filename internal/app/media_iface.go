package app

import (
	"context"

	"github.com/ABERsara/worldplay-media/internal/domain"
	"github.com/ABERsara/worldplay-media/internal/engine"
)

// The control plane talks to the media engine through these interfaces so
// that session and graph logic can be exercised without real ICE/DTLS
// stacks underneath.

// MediaRouter is one routing domain as seen by the control plane.
type MediaRouter interface {
	Capabilities() engine.RTPCapabilities
	CreateTransport(ctx context.Context) (MediaTransport, error)
	CanConsume(producerID string, caps engine.RTPCapabilities) bool
	Close()
}

// MediaTransport is one secured media leg. Closing it here releases only
// the engine resources; the ownership cascade lives in the Graph.
type MediaTransport interface {
	ID() string
	ICEParameters() engine.ICEParameters
	ICECandidates() []engine.ICECandidate
	DTLSParameters() engine.DTLSParameters
	State() string
	Connect(ctx context.Context, remoteICE *engine.ICEParameters, remoteDTLS engine.DTLSParameters) error
	Produce(ctx context.Context, kind domain.MediaKind, params engine.RTPParameters) (MediaProducer, error)
	Consume(ctx context.Context, producerID string, caps engine.RTPCapabilities) (MediaConsumer, error)
	Close()
}

type MediaProducer interface {
	ID() string
	Kind() domain.MediaKind
	RTPParameters() engine.RTPParameters
	MimeType() string
	Close()
}

type MediaConsumer interface {
	ID() string
	ProducerID() string
	Kind() domain.MediaKind
	RTPParameters() engine.RTPParameters
	Resume() error
	Close()
}

// RouterFactory creates routing domains. The production implementation
// acquires an engine worker round-robin.
type RouterFactory interface {
	CreateRouter(ctx context.Context, sessionID domain.SessionID) (MediaRouter, error)
}

// EngineFactory adapts the engine worker pool to RouterFactory.
type EngineFactory struct {
	Pool *engine.WorkerPool
}

func (f EngineFactory) CreateRouter(ctx context.Context, sessionID domain.SessionID) (MediaRouter, error) {
	w, err := f.Pool.Acquire()
	if err != nil {
		return nil, err
	}
	r, err := w.CreateRouter(sessionID)
	if err != nil {
		return nil, err
	}
	return engineRouter{r}, nil
}

// engineRouter narrows *engine.Router to the control-plane interfaces.
type engineRouter struct {
	r *engine.Router
}

func (er engineRouter) Capabilities() engine.RTPCapabilities { return er.r.Capabilities() }

func (er engineRouter) CreateTransport(ctx context.Context) (MediaTransport, error) {
	t, err := er.r.CreateTransport(ctx)
	if err != nil {
		return nil, err
	}
	return engineTransport{t}, nil
}

func (er engineRouter) CanConsume(producerID string, caps engine.RTPCapabilities) bool {
	return er.r.CanConsume(producerID, caps)
}

// ConsumeToTap exposes the recording tap of the underlying router. Callers
// discover it by type assertion; fake routers simply lack it.
func (er engineRouter) ConsumeToTap(producerID string, port int) (*engine.Tap, error) {
	return er.r.ConsumeToTap(producerID, port)
}

func (er engineRouter) Close() { er.r.Close() }

type engineTransport struct {
	t *engine.WebRTCTransport
}

func (et engineTransport) ID() string                             { return et.t.ID() }
func (et engineTransport) ICEParameters() engine.ICEParameters    { return et.t.ICEParameters() }
func (et engineTransport) ICECandidates() []engine.ICECandidate   { return et.t.ICECandidates() }
func (et engineTransport) DTLSParameters() engine.DTLSParameters  { return et.t.DTLSParameters() }
func (et engineTransport) State() string                          { return et.t.State() }

func (et engineTransport) Connect(ctx context.Context, remoteICE *engine.ICEParameters, remoteDTLS engine.DTLSParameters) error {
	return et.t.Connect(ctx, remoteICE, remoteDTLS)
}

func (et engineTransport) Produce(ctx context.Context, kind domain.MediaKind, params engine.RTPParameters) (MediaProducer, error) {
	return et.t.Produce(ctx, kind, params)
}

func (et engineTransport) Consume(ctx context.Context, producerID string, caps engine.RTPCapabilities) (MediaConsumer, error) {
	return et.t.Consume(ctx, producerID, caps)
}

func (et engineTransport) Close() { et.t.Close() }
