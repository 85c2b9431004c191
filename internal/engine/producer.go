package engine

import (
	"context"
	"maps"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ABERsara/worldplay-media/internal/domain"
)

// rtpSink receives a copy of every packet a producer reads. Consumers and
// recording taps both implement it.
type rtpSink interface {
	writeRTP(pkt *rtp.Packet) error
	active() bool
	dead() bool
}

// Producer is one inbound media stream from the broadcaster. It owns the
// single read loop on the remote track and fans packets out to its sinks;
// the remote track supports only one reader.
type Producer struct {
	id        string
	kind      domain.MediaKind
	params    RTPParameters
	transport *WebRTCTransport
	receiver  *webrtc.RTPReceiver
	track     *webrtc.TrackRemote
	cancel    context.CancelFunc

	mu     sync.RWMutex
	closed bool
	sinks  map[string]rtpSink
}

func newProducer(ctx context.Context, t *WebRTCTransport, kind domain.MediaKind, params RTPParameters) (*Producer, error) {
	codecType := webrtc.RTPCodecTypeAudio
	if kind == domain.MediaVideo {
		codecType = webrtc.RTPCodecTypeVideo
	}
	receiver, err := t.router.worker.api.NewRTPReceiver(codecType, t.dtls)
	if err != nil {
		return nil, err
	}

	recv := webrtc.RTPReceiveParameters{}
	for _, enc := range params.Encodings {
		var pt webrtc.PayloadType
		if len(params.Codecs) > 0 {
			pt = webrtc.PayloadType(params.Codecs[0].PayloadType)
		}
		recv.Encodings = append(recv.Encodings, webrtc.RTPDecodingParameters{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(enc.SSRC),
				PayloadType: pt,
			},
		})
	}
	if err := receiver.Receive(recv); err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	p := &Producer{
		id:        uuid.NewString(),
		kind:      kind,
		params:    params,
		transport: t,
		receiver:  receiver,
		track:     receiver.Track(),
		cancel:    cancel,
		sinks:     make(map[string]rtpSink),
	}

	logger := log.With().
		Str("module", "engine").
		Str("producer", p.id).
		Str("kind", string(kind)).
		Logger()
	go p.loop(loopCtx, &logger)

	logger.Info().Str("transport", t.id).Msg("producer created")
	return p, nil
}

func (p *Producer) ID() string { return p.id }

func (p *Producer) Kind() domain.MediaKind { return p.kind }

func (p *Producer) RTPParameters() RTPParameters { return p.params }

// MimeType is the wire codec of the produced stream, used by the
// recording bridge to decide between stream-copy and transcode.
func (p *Producer) MimeType() string {
	if len(p.params.Codecs) == 0 {
		return ""
	}
	return strings.ToLower(p.params.Codecs[0].MimeType)
}

func (p *Producer) attachSink(id string, s rtpSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.sinks[id] = s
}

func (p *Producer) detachSink(id string) {
	p.mu.Lock()
	delete(p.sinks, id)
	p.mu.Unlock()
}

// loop reads RTP from the remote track and forwards it to every active
// sink, pruning the ones that report dead.
func (p *Producer) loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := p.track.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("producer read loop stopped")
			return
		}
		p.forward(pkt, logger)
	}
}

func (p *Producer) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	snapshot := make(map[string]rtpSink, 4)
	p.mu.RLock()
	maps.Copy(snapshot, p.sinks)
	p.mu.RUnlock()

	var dirty []string
	for id, s := range snapshot {
		if s.dead() {
			dirty = append(dirty, id)
			continue
		}
		if !s.active() {
			continue
		}
		if err := s.writeRTP(pkt); err != nil {
			logger.Error().Err(err).Str("sink", id).Msg("forward write error")
			dirty = append(dirty, id)
		}
	}
	if len(dirty) > 0 {
		p.mu.Lock()
		for _, id := range dirty {
			delete(p.sinks, id)
		}
		p.mu.Unlock()
	}
}

// Close stops the read loop and the receiver. Dependent consumers are
// closed by the graph, not here: the engine frees media resources, the
// control plane owns the cascade.
func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.sinks = make(map[string]rtpSink)
	p.mu.Unlock()

	p.cancel()
	if err := p.receiver.Stop(); err != nil {
		log.Error().Err(err).Str("module", "engine").Str("producer", p.id).Msg("receiver stop")
	}
	p.transport.removeProducer(p.id)
	p.transport.router.removeProducer(p.id)
	log.Info().Str("module", "engine").Str("producer", p.id).Msg("producer closed")
}
