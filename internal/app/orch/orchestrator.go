// Package orch coordinates signaling operations across the session
// registry, the ownership graph, the media engine and the recording
// bridge. Handlers stay thin; every rule lives here.
package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ABERsara/worldplay-media/internal/app"
	"github.com/ABERsara/worldplay-media/internal/domain"
	"github.com/ABERsara/worldplay-media/internal/engine"
	"github.com/ABERsara/worldplay-media/internal/recording"
)

// StatusStore publishes session lifecycle facts to the external store.
type StatusStore interface {
	SetLive(sessionID domain.SessionID)
	SetFinished(sessionID domain.SessionID)
}

type Orchestrator struct {
	Registry   *app.SessionRegistry
	Graph      *app.Graph
	Recordings *recording.Manager
	Store      StatusStore

	// OpTimeout bounds every call into the media engine so a wedged
	// worker cannot hold a session lock forever.
	OpTimeout time.Duration

	RecordLive bool
}

// RoomInfo answers create_room and join. CurrentProducerID is a pointer
// so a session with nothing playing serializes an explicit null.
type RoomInfo struct {
	Capabilities      engine.RTPCapabilities `json:"capabilities"`
	CurrentProducerID *string                `json:"current_producer_id"`
}

func roomInfo(s *app.Session) RoomInfo {
	info := RoomInfo{Capabilities: s.Router.Capabilities()}
	if id := s.CurrentProducer(); id != "" {
		pid := string(id)
		info.CurrentProducerID = &pid
	}
	return info
}

// TransportInfo carries everything the client needs to connect its side.
type TransportInfo struct {
	ID             string                `json:"transport_id"`
	ICEParameters  engine.ICEParameters  `json:"ice_params"`
	ICECandidates  []engine.ICECandidate `json:"ice_candidates"`
	DTLSParameters engine.DTLSParameters `json:"dtls_params"`
}

// ConsumerInfo answers consume. The consumer starts paused.
type ConsumerInfo struct {
	ID            string               `json:"consumer_id"`
	ProducerID    string               `json:"producer_id"`
	Kind          domain.MediaKind     `json:"kind"`
	RTPParameters engine.RTPParameters `json:"rtp_params"`
}

// CreateRoom creates the session and its routing domain, or returns the
// existing one. The caller becomes a member either way; the first caller
// becomes the host.
func (o *Orchestrator) CreateRoom(ctx context.Context, sessionID domain.SessionID, pid domain.ParticipantID, n app.Notifier) (RoomInfo, error) {
	opCtx, cancel := o.opCtx(ctx)
	defer cancel()
	s, err := o.Registry.GetOrCreate(opCtx, sessionID, pid)
	if err != nil {
		return RoomInfo{}, o.mapErr(err)
	}
	s.AddMember(pid, n) // re-creation keeps the existing membership
	return roomInfo(s), nil
}

// Join adds a viewer to an existing session and tells them what is
// already playing. Joining a session twice is detected and answered with
// a reminder event instead of a second membership.
func (o *Orchestrator) Join(sessionID domain.SessionID, pid domain.ParticipantID, n app.Notifier) (RoomInfo, error) {
	s, ok := o.Registry.Get(sessionID)
	if !ok {
		return RoomInfo{}, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	if !s.AddMember(pid, n) {
		log.Warn().Str("module", "orch").Str("session", string(sessionID)).Str("participant", string(pid)).Msg("duplicate join")
		_ = n.TrySend("joined", map[string]any{"session_id": string(sessionID)})
	}
	return roomInfo(s), nil
}

// CreateTransport creates a media leg in the session's routing domain,
// owned by the calling participant.
func (o *Orchestrator) CreateTransport(ctx context.Context, sessionID domain.SessionID, pid domain.ParticipantID) (TransportInfo, error) {
	s, ok := o.Registry.Get(sessionID)
	if !ok {
		return TransportInfo{}, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	s.Lock()
	defer s.Unlock()
	if s.Ended() {
		return TransportInfo{}, fmt.Errorf("%w: session ended", domain.ErrPrecondition)
	}

	opCtx, cancel := o.opCtx(ctx)
	defer cancel()
	t, err := s.Router.CreateTransport(opCtx)
	if err != nil {
		return TransportInfo{}, o.mapErr(err)
	}
	o.Graph.AddTransport(sessionID, pid, t)
	return TransportInfo{
		ID:             t.ID(),
		ICEParameters:  t.ICEParameters(),
		ICECandidates:  t.ICECandidates(),
		DTLSParameters: t.DTLSParameters(),
	}, nil
}

// ConnectTransport runs the ICE/DTLS handshake with the remote side's
// parameters. Valid exactly once per transport.
func (o *Orchestrator) ConnectTransport(ctx context.Context, transportID domain.TransportID, remoteICE *engine.ICEParameters, remoteDTLS engine.DTLSParameters) error {
	t, sessionID, ok := o.Graph.Transport(transportID)
	if !ok {
		return fmt.Errorf("%w: transport %s", domain.ErrNotFound, transportID)
	}
	s, ok := o.Registry.Get(sessionID)
	if !ok {
		return fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	s.Lock()
	defer s.Unlock()

	opCtx, cancel := o.opCtx(ctx)
	defer cancel()
	if err := t.Connect(opCtx, remoteICE, remoteDTLS); err != nil {
		return o.mapErr(err)
	}
	log.Info().
		Str("module", "orch").
		Str("session", string(sessionID)).
		Str("transport", string(transportID)).
		Msg("transport connected")
	return nil
}

func (o *Orchestrator) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.OpTimeout)
}

// mapErr folds context timeouts into the timeout sentinel so handlers
// can classify them uniformly.
func (o *Orchestrator) mapErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return err
}
