package engine

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"

	"github.com/ABERsara/worldplay-media/internal/domain"
)

// Tap is a non-interactive server-side consumer: it copies a producer's
// raw RTP onto a loopback UDP socket where the external transcoder reads
// it. No re-encoding happens here; packets keep the producer's payload
// type and SSRC.
type Tap struct {
	id       string
	producer *Producer
	conn     *net.UDPConn
	port     int
	closed   atomic.Bool
}

// ConsumeToTap attaches a recording tap to the given producer, sending its
// RTP to 127.0.0.1:port.
func (r *Router) ConsumeToTap(producerID string, port int) (*Tap, error) {
	p, ok := r.producer(producerID)
	if !ok {
		return nil, fmt.Errorf("%w: producer %s", domain.ErrNotFound, producerID)
	}
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial tap socket: %w", err)
	}
	t := &Tap{
		id:       uuid.NewString(),
		producer: p,
		conn:     conn,
		port:     port,
	}
	p.attachSink(t.id, t)
	log.Info().
		Str("module", "engine").
		Str("producer", producerID).
		Int("port", port).
		Msg("recording tap attached")
	return t, nil
}

func (t *Tap) Port() int { return t.port }

func (t *Tap) Kind() domain.MediaKind { return t.producer.Kind() }

// Codec returns the wire codec the tap carries, needed to describe the
// stream to the transcoder.
func (t *Tap) Codec() (RTPCodecParameters, bool) {
	params := t.producer.RTPParameters()
	if len(params.Codecs) == 0 {
		return RTPCodecParameters{}, false
	}
	return params.Codecs[0], true
}

func (t *Tap) writeRTP(pkt *rtp.Packet) error {
	buf, err := pkt.Marshal()
	if err != nil {
		return err
	}
	_, err = t.conn.Write(buf)
	return err
}

func (t *Tap) active() bool { return !t.closed.Load() }

func (t *Tap) dead() bool { return t.closed.Load() }

func (t *Tap) Close() {
	if t.closed.Swap(true) {
		return
	}
	t.producer.detachSink(t.id)
	if err := t.conn.Close(); err != nil {
		log.Error().Err(err).Str("module", "engine").Str("tap", t.id).Msg("tap socket close")
	}
	log.Info().Str("module", "engine").Str("tap", t.id).Msg("recording tap closed")
}
