package engine

import (
	"strings"

	"github.com/ABERsara/worldplay-media/internal/config"
	"github.com/ABERsara/worldplay-media/internal/domain"
)

// DefaultCodecs is the codec set used when the config lists none: Opus for
// audio, VP8 for video (the least-surprising browser pair).
func DefaultCodecs() []RTPCodecCapability {
	return []RTPCodecCapability{
		{Kind: domain.MediaAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: domain.MediaVideo, MimeType: "video/VP8", ClockRate: 90000},
	}
}

// CapabilitiesFromConfig builds the routing-domain capability set from the
// startup codec list.
func CapabilitiesFromConfig(codecs []config.Codec) RTPCapabilities {
	if len(codecs) == 0 {
		return RTPCapabilities{Codecs: DefaultCodecs()}
	}
	out := make([]RTPCodecCapability, 0, len(codecs))
	for _, c := range codecs {
		out = append(out, RTPCodecCapability{
			Kind:      domain.MediaKind(c.Kind),
			MimeType:  c.MimeType,
			ClockRate: c.ClockRate,
			Channels:  c.Channels,
		})
	}
	return RTPCapabilities{Codecs: out}
}

// matchCodec reports whether a receiver capability can accept the given
// wire codec. Mime type comparison is case-insensitive; channels only
// matter for audio.
func matchCodec(cap RTPCodecCapability, mimeType string, clockRate uint32, channels uint16) bool {
	if !strings.EqualFold(cap.MimeType, mimeType) {
		return false
	}
	if cap.ClockRate != clockRate {
		return false
	}
	if cap.Kind == domain.MediaAudio && cap.Channels != 0 && channels != 0 && cap.Channels != channels {
		return false
	}
	return true
}

// CanConsume reports whether the given receiver capabilities can receive a
// stream described by the producer's RTP parameters.
func CanConsume(producerParams RTPParameters, caps RTPCapabilities) bool {
	for _, pc := range producerParams.Codecs {
		for _, cc := range caps.Codecs {
			if matchCodec(cc, pc.MimeType, pc.ClockRate, pc.Channels) {
				return true
			}
		}
	}
	return false
}

// selectCodec picks the consumer-side codec for a producer stream, or
// false when nothing matches.
func selectCodec(producerParams RTPParameters, caps RTPCapabilities) (RTPCodecParameters, bool) {
	for _, pc := range producerParams.Codecs {
		for _, cc := range caps.Codecs {
			if matchCodec(cc, pc.MimeType, pc.ClockRate, pc.Channels) {
				return pc, true
			}
		}
	}
	return RTPCodecParameters{}, false
}
