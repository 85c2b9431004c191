package engine

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ABERsara/worldplay-media/internal/domain"
)

type consumerState int32

const (
	consumerPaused consumerState = iota
	consumerActive
	consumerClosed
)

// Consumer is one viewer-side copy of a producer's stream, written to a
// local static RTP track behind an RTPSender. It starts paused and drops
// packets until the owning client signals readiness, so nothing is sent
// before the client's receive pipeline exists.
type Consumer struct {
	id         string
	producerID string
	kind       domain.MediaKind
	params     RTPParameters
	transport  *WebRTCTransport
	sender     *webrtc.RTPSender
	local      *webrtc.TrackLocalStaticRTP
	state      atomic.Int32
}

func newConsumer(ctx context.Context, t *WebRTCTransport, p *Producer, codec RTPCodecParameters) (*Consumer, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  codec.MimeType,
		ClockRate: codec.ClockRate,
		Channels:  codec.Channels,
	}, uuid.NewString(), "worldplay")
	if err != nil {
		return nil, err
	}
	sender, err := t.router.worker.api.NewRTPSender(local, t.dtls)
	if err != nil {
		return nil, err
	}
	sendParams := sender.GetParameters()
	if err := sender.Send(sendParams); err != nil {
		return nil, err
	}

	params := RTPParameters{Codecs: []RTPCodecParameters{codec}}
	for _, enc := range sendParams.Encodings {
		params.Encodings = append(params.Encodings, RTPEncodingParameters{SSRC: uint32(enc.SSRC)})
	}

	c := &Consumer{
		id:         uuid.NewString(),
		producerID: p.ID(),
		kind:       p.Kind(),
		params:     params,
		transport:  t,
		sender:     sender,
		local:      local,
	}
	log.Info().
		Str("module", "engine").
		Str("consumer", c.id).
		Str("producer", p.ID()).
		Str("transport", t.id).
		Msg("consumer created (paused)")
	return c, nil
}

func (c *Consumer) ID() string { return c.id }

func (c *Consumer) ProducerID() string { return c.producerID }

func (c *Consumer) Kind() domain.MediaKind { return c.kind }

func (c *Consumer) RTPParameters() RTPParameters { return c.params }

// Resume transitions the consumer from paused to active. Called when the
// owning client acknowledges readiness.
func (c *Consumer) Resume() error {
	if !c.state.CompareAndSwap(int32(consumerPaused), int32(consumerActive)) {
		if consumerState(c.state.Load()) == consumerClosed {
			return domain.ErrNotFound
		}
		return nil // already active
	}
	log.Info().Str("module", "engine").Str("consumer", c.id).Msg("consumer resumed")
	return nil
}

func (c *Consumer) writeRTP(pkt *rtp.Packet) error {
	return c.local.WriteRTP(pkt)
}

func (c *Consumer) active() bool {
	return consumerState(c.state.Load()) == consumerActive
}

func (c *Consumer) dead() bool {
	return consumerState(c.state.Load()) == consumerClosed
}

// Close stops the sender and detaches the consumer from its transport.
// The producer's fan-out prunes dead sinks on the next packet.
func (c *Consumer) Close() {
	if consumerState(c.state.Swap(int32(consumerClosed))) == consumerClosed {
		return
	}
	if err := c.sender.Stop(); err != nil {
		log.Error().Err(err).Str("module", "engine").Str("consumer", c.id).Msg("sender stop")
	}
	c.transport.removeConsumer(c.id)
	log.Info().Str("module", "engine").Str("consumer", c.id).Msg("consumer closed")
}
