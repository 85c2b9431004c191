package orch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ABERsara/worldplay-media/internal/domain"
	"github.com/ABERsara/worldplay-media/internal/engine"
	"github.com/ABERsara/worldplay-media/internal/recording"
)

// Produce publishes a track on a connected transport. A video producer
// makes the session publicly LIVE: members are notified, the external
// store is updated and, when enabled, a server-side recording tap starts.
func (o *Orchestrator) Produce(ctx context.Context, sessionID domain.SessionID, pid domain.ParticipantID, transportID domain.TransportID, kind domain.MediaKind, params engine.RTPParameters) (string, error) {
	s, ok := o.Registry.Get(sessionID)
	if !ok {
		return "", fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	s.Lock()
	defer s.Unlock()
	if s.Ended() {
		return "", fmt.Errorf("%w: session ended", domain.ErrPrecondition)
	}
	t, owningSession, ok := o.Graph.Transport(transportID)
	if !ok || owningSession != sessionID {
		return "", fmt.Errorf("%w: transport %s", domain.ErrNotFound, transportID)
	}

	opCtx, cancel := o.opCtx(ctx)
	defer cancel()
	p, err := t.Produce(opCtx, kind, params)
	if err != nil {
		return "", o.mapErr(err)
	}
	producerID, err := o.Graph.AddProducer(transportID, p)
	if err != nil {
		p.Close()
		return "", err
	}
	o.Graph.OnProducerClosed(producerID, func(id domain.ProducerID) {
		s.ClearCurrentProducer(id)
		s.Broadcast(pid, "producer_closed", map[string]any{"producer_id": string(id)})
		if kind == domain.MediaVideo {
			o.Recordings.Stop(sessionID)
		}
	})

	s.Broadcast(pid, "new_producer", map[string]any{"producer_id": string(producerID)})
	if kind == domain.MediaVideo {
		s.SetCurrentProducer(producerID)
		o.Store.SetLive(sessionID)
		o.startLiveTap(s.Router, sessionID, producerID, p.MimeType())
	}
	log.Info().
		Str("module", "orch").
		Str("session", string(sessionID)).
		Str("producer", string(producerID)).
		Str("kind", string(kind)).
		Msg("producer created")
	return string(producerID), nil
}

// startLiveTap is best effort: a recording problem never fails produce.
func (o *Orchestrator) startLiveTap(router any, sessionID domain.SessionID, producerID domain.ProducerID, mimeType string) {
	if !o.RecordLive {
		return
	}
	src, ok := router.(recording.TapSource)
	if !ok {
		return
	}
	if err := o.Recordings.StartLiveTap(sessionID, src, string(producerID), mimeType); err != nil {
		log.Warn().Err(err).
			Str("module", "orch").
			Str("session", string(sessionID)).
			Msg("live recording not started")
	}
}

// Consume subscribes a transport to an existing producer. The consumer
// comes back paused; the client resumes it once its side is wired up.
func (o *Orchestrator) Consume(ctx context.Context, sessionID domain.SessionID, transportID domain.TransportID, producerID domain.ProducerID, caps engine.RTPCapabilities) (ConsumerInfo, error) {
	s, ok := o.Registry.Get(sessionID)
	if !ok {
		return ConsumerInfo{}, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	s.Lock()
	defer s.Unlock()
	if s.Ended() {
		return ConsumerInfo{}, fmt.Errorf("%w: session ended", domain.ErrPrecondition)
	}
	t, owningSession, ok := o.Graph.Transport(transportID)
	if !ok || owningSession != sessionID {
		return ConsumerInfo{}, fmt.Errorf("%w: transport %s", domain.ErrNotFound, transportID)
	}
	if _, ok := o.Graph.Producer(producerID); !ok {
		return ConsumerInfo{}, fmt.Errorf("%w: producer %s", domain.ErrNotFound, producerID)
	}
	if !s.Router.CanConsume(string(producerID), caps) {
		return ConsumerInfo{}, fmt.Errorf("%w: producer %s", domain.ErrCapabilityMismatch, producerID)
	}

	opCtx, cancel := o.opCtx(ctx)
	defer cancel()
	c, err := t.Consume(opCtx, string(producerID), caps)
	if err != nil {
		return ConsumerInfo{}, o.mapErr(err)
	}
	consumerID, err := o.Graph.AddConsumer(transportID, producerID, c)
	if err != nil {
		c.Close()
		return ConsumerInfo{}, err
	}
	log.Info().
		Str("module", "orch").
		Str("session", string(sessionID)).
		Str("consumer", string(consumerID)).
		Str("producer", string(producerID)).
		Msg("consumer created")
	return ConsumerInfo{
		ID:            string(consumerID),
		ProducerID:    string(producerID),
		Kind:          c.Kind(),
		RTPParameters: c.RTPParameters(),
	}, nil
}

// ResumeConsumer starts media flow on a paused consumer.
func (o *Orchestrator) ResumeConsumer(consumerID domain.ConsumerID) error {
	c, ok := o.Graph.Consumer(consumerID)
	if !ok {
		return fmt.Errorf("%w: consumer %s", domain.ErrNotFound, consumerID)
	}
	return c.Resume()
}
