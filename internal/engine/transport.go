package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ABERsara/worldplay-media/internal/domain"
)

// Transport lifecycle events.
const (
	evConnect   = "connect"
	evConnected = "connected"
	evClose     = "close"
)

// WebRTCTransport is one secured bidirectional media leg between a
// participant and the SFU: an ICE transport plus a DTLS transport, created
// via the worker's ORTC API so that ICE/DTLS parameters can be exchanged
// without SDP.
type WebRTCTransport struct {
	id     string
	router *Router

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	iceParams  ICEParameters
	candidates []ICECandidate
	dtlsParams DTLSParameters

	state *fsm.FSM

	mu        sync.Mutex
	producers map[string]*Producer
	consumers map[string]*Consumer
}

func newWebRTCTransport(ctx context.Context, r *Router) (*WebRTCTransport, error) {
	api := r.worker.api

	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, fmt.Errorf("new ice gatherer: %w", err)
	}
	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		return nil, fmt.Errorf("new dtls transport: %w", err)
	}

	gatherDone := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gatherDone)
		}
	})
	if err := gatherer.Gather(); err != nil {
		// Failing to gather on loopback means local socket allocation
		// broke; the worker cannot host further media.
		r.worker.reportFault(err)
		return nil, fmt.Errorf("ice gather: %w", err)
	}
	select {
	case <-gatherDone:
	case <-ctx.Done():
		return nil, domain.ErrTimeout
	}

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		return nil, fmt.Errorf("local ice parameters: %w", err)
	}
	localCandidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		return nil, fmt.Errorf("local ice candidates: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		return nil, fmt.Errorf("local dtls parameters: %w", err)
	}

	t := &WebRTCTransport{
		id:         uuid.NewString(),
		router:     r,
		gatherer:   gatherer,
		ice:        ice,
		dtls:       dtls,
		iceParams:  ICEParameters{UsernameFragment: iceParams.UsernameFragment, Password: iceParams.Password},
		candidates: toWireCandidates(localCandidates),
		dtlsParams: toWireDTLS(dtlsParams),
		producers:  make(map[string]*Producer),
		consumers:  make(map[string]*Consumer),
	}
	t.state = fsm.NewFSM(
		"created",
		fsm.Events{
			{Name: evConnect, Src: []string{"created"}, Dst: "connecting"},
			{Name: evConnected, Src: []string{"connecting"}, Dst: "connected"},
			{Name: evClose, Src: []string{"created", "connecting", "connected"}, Dst: "closed"},
		},
		fsm.Callbacks{},
	)
	return t, nil
}

func (t *WebRTCTransport) ID() string { return t.id }

func (t *WebRTCTransport) ICEParameters() ICEParameters { return t.iceParams }

func (t *WebRTCTransport) ICECandidates() []ICECandidate { return t.candidates }

func (t *WebRTCTransport) DTLSParameters() DTLSParameters { return t.dtlsParams }

func (t *WebRTCTransport) State() string { return t.state.Current() }

// Connect performs the ICE/DTLS handshake against the remote side.
// Reconnecting an already-connected transport is a precondition error.
// This implementation runs full ICE, so the remote ICE parameters are
// required alongside the DTLS parameters.
func (t *WebRTCTransport) Connect(ctx context.Context, remoteICE *ICEParameters, remoteDTLS DTLSParameters) error {
	if err := t.state.Event(ctx, evConnect); err != nil {
		return fmt.Errorf("%w: transport is %s", domain.ErrPrecondition, t.state.Current())
	}
	if remoteICE == nil {
		return fmt.Errorf("%w: remote ice parameters required", domain.ErrPrecondition)
	}

	// The ICE/DTLS handshake blocks until pion's own failure timers fire,
	// far longer than the configured op timeout. Run it aside and let the
	// context decide; on timeout the transport is torn down, which also
	// unblocks the handshake goroutine.
	done := make(chan error, 1)
	go func() {
		role := webrtc.ICERoleControlled
		err := t.ice.Start(t.gatherer, webrtc.ICEParameters{
			UsernameFragment: remoteICE.UsernameFragment,
			Password:         remoteICE.Password,
		}, &role)
		if err != nil {
			done <- fmt.Errorf("ice start: %w", err)
			return
		}
		if err := t.dtls.Start(fromWireDTLS(remoteDTLS)); err != nil {
			done <- fmt.Errorf("dtls start: %w", err)
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		t.Close()
		return fmt.Errorf("%w: connect: %v", domain.ErrTimeout, ctx.Err())
	}

	if err := t.state.Event(ctx, evConnected); err != nil {
		return fmt.Errorf("%w: transport is %s", domain.ErrPrecondition, t.state.Current())
	}
	log.Info().Str("module", "engine").Str("transport", t.id).Msg("transport connected")
	return nil
}

// Produce registers an inbound media stream on this transport and starts
// its fan-out loop.
func (t *WebRTCTransport) Produce(ctx context.Context, kind domain.MediaKind, params RTPParameters) (*Producer, error) {
	if t.state.Current() != "connected" {
		return nil, fmt.Errorf("%w: transport is %s", domain.ErrPrecondition, t.state.Current())
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown media kind %q", domain.ErrPrecondition, kind)
	}
	p, err := newProducer(ctx, t, kind, params)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.producers[p.ID()] = p
	t.mu.Unlock()
	t.router.registerProducer(p)
	return p, nil
}

// Consume attaches an outbound copy of the given producer to this
// transport. The consumer starts paused; the owning client resumes it once
// its receive pipeline is ready.
func (t *WebRTCTransport) Consume(ctx context.Context, producerID string, caps RTPCapabilities) (*Consumer, error) {
	if t.state.Current() != "connected" {
		return nil, fmt.Errorf("%w: transport is %s", domain.ErrPrecondition, t.state.Current())
	}
	p, ok := t.router.producer(producerID)
	if !ok {
		return nil, fmt.Errorf("%w: producer %s", domain.ErrNotFound, producerID)
	}
	codec, ok := selectCodec(p.RTPParameters(), caps)
	if !ok {
		return nil, domain.ErrCapabilityMismatch
	}
	c, err := newConsumer(ctx, t, p, codec)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.consumers[c.ID()] = c
	t.mu.Unlock()
	p.attachSink(c.ID(), c)
	return c, nil
}

func (t *WebRTCTransport) removeProducer(id string) {
	t.mu.Lock()
	delete(t.producers, id)
	t.mu.Unlock()
}

func (t *WebRTCTransport) removeConsumer(id string) {
	t.mu.Lock()
	delete(t.consumers, id)
	t.mu.Unlock()
}

// Close releases the transport and everything it hosts. Safe to call
// twice: teardown can be triggered by an explicit close, a disconnect, or
// the routing domain going away.
func (t *WebRTCTransport) Close() {
	if err := t.state.Event(context.Background(), evClose); err != nil {
		return // already closed
	}
	t.mu.Lock()
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.mu.Unlock()

	for _, p := range producers {
		p.Close()
	}
	for _, c := range consumers {
		c.Close()
	}

	if err := t.dtls.Stop(); err != nil {
		log.Error().Err(err).Str("module", "engine").Str("transport", t.id).Msg("dtls stop")
	}
	if err := t.ice.Stop(); err != nil {
		log.Error().Err(err).Str("module", "engine").Str("transport", t.id).Msg("ice stop")
	}
	t.router.removeTransport(t.id)
	log.Info().Str("module", "engine").Str("transport", t.id).Msg("transport closed")
}

func toWireCandidates(in []webrtc.ICECandidate) []ICECandidate {
	out := make([]ICECandidate, 0, len(in))
	for _, c := range in {
		out = append(out, ICECandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			Address:    c.Address,
			Protocol:   c.Protocol.String(),
			Port:       c.Port,
			Type:       c.Typ.String(),
		})
	}
	return out
}

func toWireDTLS(in webrtc.DTLSParameters) DTLSParameters {
	out := DTLSParameters{Role: "auto"}
	for _, f := range in.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out
}

func fromWireDTLS(in DTLSParameters) webrtc.DTLSParameters {
	role := webrtc.DTLSRoleAuto
	switch in.Role {
	case "client":
		role = webrtc.DTLSRoleClient
	case "server":
		role = webrtc.DTLSRoleServer
	}
	out := webrtc.DTLSParameters{Role: role}
	for _, f := range in.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, webrtc.DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out
}
