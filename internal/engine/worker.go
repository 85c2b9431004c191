package engine

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ABERsara/worldplay-media/internal/config"
	"github.com/ABERsara/worldplay-media/internal/domain"
)

// Worker is one independent media-engine instance. Each worker owns its own
// pion API (media engine + setting engine) and can host many routing
// domains. A worker that reports a fault is never handed new work; the
// fault is fatal to the hosting process (see WorkerPool.Faults).
type Worker struct {
	id      int
	api     *webrtc.API
	caps    RTPCapabilities
	crashed atomic.Bool
	fault   func(error)

	mu      sync.Mutex
	routers map[domain.SessionID]*Router
}

func newWorker(id int, cfg config.Engine, fault func(error)) (*Worker, error) {
	se := webrtc.SettingEngine{}
	if cfg.RTCMinPort > 0 && cfg.RTCMaxPort >= cfg.RTCMinPort {
		if err := se.SetEphemeralUDPPortRange(uint16(cfg.RTCMinPort), uint16(cfg.RTCMaxPort)); err != nil {
			return nil, fmt.Errorf("set rtc port range: %w", err)
		}
	}
	if cfg.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}

	caps := CapabilitiesFromConfig(cfg.Codecs)
	me := &webrtc.MediaEngine{}
	for _, c := range caps.Codecs {
		typ := webrtc.RTPCodecTypeAudio
		if c.Kind == domain.MediaVideo {
			typ = webrtc.RTPCodecTypeVideo
		}
		err := me.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  c.MimeType,
				ClockRate: c.ClockRate,
				Channels:  c.Channels,
			},
			PayloadType: webrtc.PayloadType(payloadTypeFor(c.MimeType)),
		}, typ)
		if err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
		}
	}

	w := &Worker{
		id:      id,
		api:     webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(se)),
		caps:    caps,
		fault:   fault,
		routers: make(map[domain.SessionID]*Router),
	}
	log.Info().Str("module", "engine").Int("worker", id).Msg("worker started")
	return w, nil
}

func (w *Worker) ID() int { return w.id }

// CreateRouter creates a routing domain for one broadcast session on this
// worker. The caller (SessionRegistry) guarantees at most one router per
// session id.
func (w *Worker) CreateRouter(sessionID domain.SessionID) (*Router, error) {
	if w.crashed.Load() {
		return nil, fmt.Errorf("worker %d has crashed", w.id)
	}
	r := newRouter(w, sessionID, w.caps)
	w.mu.Lock()
	w.routers[sessionID] = r
	w.mu.Unlock()
	log.Info().Str("module", "engine").Int("worker", w.id).Str("session", string(sessionID)).Msg("router created")
	return r, nil
}

func (w *Worker) removeRouter(sessionID domain.SessionID) {
	w.mu.Lock()
	delete(w.routers, sessionID)
	w.mu.Unlock()
}

// reportFault marks the worker crashed and escalates. Engine state is not
// salvageable in place; the supervisor terminates the process.
func (w *Worker) reportFault(err error) {
	if w.crashed.Swap(true) {
		return
	}
	log.Error().Err(err).Str("module", "engine").Int("worker", w.id).Msg("worker fault")
	if w.fault != nil {
		w.fault(fmt.Errorf("worker %d: %w", w.id, err))
	}
}

func (w *Worker) Close() {
	w.mu.Lock()
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.mu.Unlock()
	for _, r := range routers {
		r.Close()
	}
}

// payloadTypeFor maps a mime type to its conventional dynamic payload type.
func payloadTypeFor(mimeType string) uint8 {
	switch strings.ToLower(mimeType) {
	case "audio/opus":
		return 111
	case "video/vp8":
		return 96
	case "video/vp9":
		return 98
	case "video/h264":
		return 102
	default:
		return 127
	}
}
