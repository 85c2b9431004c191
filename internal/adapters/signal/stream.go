package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/ABERsara/worldplay-media/internal/domain"
	"github.com/ABERsara/worldplay-media/internal/engine"
	"github.com/ABERsara/worldplay-media/internal/metrics"
)

// envelope is the wire frame for requests. Events reuse Type with no rid.
type envelope struct {
	Type string          `json:"type"`
	RID  string          `json:"rid"`
	Data json.RawMessage `json:"data"`
}

type ackError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// signalError carries a protocol-level failure code to the ack.
type signalError struct {
	code string
	msg  string
}

func (e *signalError) Error() string { return e.msg }

var errUnknownType = &signalError{code: "unknown_type", msg: "unknown request type"}

func badPayload(err error) error {
	return &signalError{code: "bad_payload", msg: err.Error()}
}

func (ctl *Controller) handleSignal(ctx context.Context, pid domain.ParticipantID, c *WsSignalConn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	var (
		res any
		err error
	)
	switch env.Type {
	case "create_room":
		res, err = ctl.handleCreateRoom(ctx, pid, c, env.Data)
	case "join":
		res, err = ctl.handleJoin(pid, c, env.Data)
	case "create_transport":
		res, err = ctl.handleCreateTransport(ctx, pid, env.Data)
	case "connect_transport":
		res, err = ctl.handleConnectTransport(ctx, env.Data)
	case "produce":
		res, err = ctl.handleProduce(ctx, pid, env.Data)
	case "consume":
		res, err = ctl.handleConsume(ctx, env.Data)
	case "resume_consumer":
		res, err = ctl.handleResumeConsumer(env.Data)
	case "ping":
		res = map[string]any{"pong": true}
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		err = errUnknownType
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.SignalRequests.WithLabelValues(env.Type, outcome).Inc()
	ctl.ack(c, env.RID, res, err)
}

func (ctl *Controller) handleCreateRoom(ctx context.Context, pid domain.ParticipantID, c *WsSignalConn, data []byte) (any, error) {
	var p struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.SessionID == "" {
		return nil, badPayload(errors.New("session_id required"))
	}
	if !ctl.Limiter.Allow(pid) {
		return nil, &signalError{code: "rate_limited", msg: "too many rooms created"}
	}
	return ctl.Orch.CreateRoom(ctx, domain.SessionID(p.SessionID), pid, notifier{c})
}

func (ctl *Controller) handleJoin(pid domain.ParticipantID, c *WsSignalConn, data []byte) (any, error) {
	var p struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.SessionID == "" {
		return nil, badPayload(errors.New("session_id required"))
	}
	return ctl.Orch.Join(domain.SessionID(p.SessionID), pid, notifier{c})
}

func (ctl *Controller) handleCreateTransport(ctx context.Context, pid domain.ParticipantID, data []byte) (any, error) {
	var p struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.SessionID == "" {
		return nil, badPayload(errors.New("session_id required"))
	}
	return ctl.Orch.CreateTransport(ctx, domain.SessionID(p.SessionID), pid)
}

func (ctl *Controller) handleConnectTransport(ctx context.Context, data []byte) (any, error) {
	var p struct {
		TransportID string                 `json:"transport_id"`
		ICEParams   *engine.ICEParameters  `json:"ice_params"`
		DTLSParams  *engine.DTLSParameters `json:"dtls_params"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.TransportID == "" || p.DTLSParams == nil {
		return nil, badPayload(errors.New("transport_id and dtls_params required"))
	}
	err := ctl.Orch.ConnectTransport(ctx, domain.TransportID(p.TransportID), p.ICEParams, *p.DTLSParams)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (ctl *Controller) handleProduce(ctx context.Context, pid domain.ParticipantID, data []byte) (any, error) {
	var p struct {
		SessionID   string               `json:"session_id"`
		TransportID string               `json:"transport_id"`
		Kind        domain.MediaKind     `json:"kind"`
		RTPParams   engine.RTPParameters `json:"rtp_params"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.SessionID == "" || p.TransportID == "" {
		return nil, badPayload(errors.New("session_id and transport_id required"))
	}
	if !p.Kind.Valid() {
		return nil, badPayload(errors.New("kind must be audio or video"))
	}
	id, err := ctl.Orch.Produce(ctx, domain.SessionID(p.SessionID), pid, domain.TransportID(p.TransportID), p.Kind, p.RTPParams)
	if err != nil {
		return nil, err
	}
	return map[string]any{"producer_id": id}, nil
}

func (ctl *Controller) handleConsume(ctx context.Context, data []byte) (any, error) {
	var p struct {
		SessionID    string                 `json:"session_id"`
		TransportID  string                 `json:"transport_id"`
		ProducerID   string                 `json:"producer_id"`
		Capabilities engine.RTPCapabilities `json:"capabilities"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.SessionID == "" || p.TransportID == "" || p.ProducerID == "" {
		return nil, badPayload(errors.New("session_id, transport_id and producer_id required"))
	}
	return ctl.Orch.Consume(ctx, domain.SessionID(p.SessionID), domain.TransportID(p.TransportID), domain.ProducerID(p.ProducerID), p.Capabilities)
}

func (ctl *Controller) handleResumeConsumer(data []byte) (any, error) {
	var p struct {
		ConsumerID string `json:"consumer_id"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ConsumerID == "" {
		return nil, badPayload(errors.New("consumer_id required"))
	}
	if err := ctl.Orch.ResumeConsumer(domain.ConsumerID(p.ConsumerID)); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

// ack sends the single reply for a request. Requests without a rid get
// no ack; fire-and-forget is allowed but discouraged.
func (ctl *Controller) ack(c *WsSignalConn, rid string, res any, err error) {
	if rid == "" {
		return
	}
	reply := struct {
		Type  string    `json:"type"`
		RID   string    `json:"rid"`
		Data  any       `json:"data,omitempty"`
		Error *ackError `json:"error,omitempty"`
	}{Type: "ack", RID: rid}
	if err != nil {
		reply.Error = &ackError{Code: errCode(err), Message: err.Error()}
	} else {
		reply.Data = res
	}
	b, mErr := json.Marshal(reply)
	if mErr != nil {
		log.Error().Err(mErr).Str("module", "signal").Msg("ack marshal")
		return
	}
	if sendErr := c.trySendRaw(b); sendErr != nil {
		log.Warn().Err(sendErr).Str("module", "signal").Str("rid", rid).Msg("ack dropped")
	}
}

func errCode(err error) string {
	var se *signalError
	switch {
	case errors.As(err, &se):
		return se.code
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrPrecondition):
		return "precondition_failed"
	case errors.Is(err, domain.ErrCapabilityMismatch):
		return "capability_mismatch"
	case errors.Is(err, domain.ErrRecordingConflict):
		return "recording_conflict"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	default:
		return "internal"
	}
}
