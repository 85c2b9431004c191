package recording

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/ABERsara/worldplay-media/internal/domain"
	"github.com/ABERsara/worldplay-media/internal/engine"
)

// tapDescription renders the SDP the transcoder needs to read the raw RTP
// stream arriving on the loopback tap port.
func tapDescription(kind domain.MediaKind, codec engine.RTPCodecParameters, port int) (string, error) {
	name := codecName(codec.MimeType)
	if name == "" {
		return "", fmt.Errorf("unrecognized mime type %q", codec.MimeType)
	}

	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      0,
			SessionVersion: 0,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "127.0.0.1",
		},
		SessionName: "WorldPlay Recording",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "127.0.0.1"},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
	}

	// WithCodec appends the payload type to the format list itself.
	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  string(kind),
			Port:   sdp.RangedPort{Value: port},
			Protos: []string{"RTP", "AVP"},
		},
	}
	md = md.WithCodec(codec.PayloadType, name, codec.ClockRate, uint16(codec.Channels), "")
	sd = sd.WithMedia(md)

	b, err := sd.Marshal()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// codecName maps a mime type to the SDP rtpmap encoding name.
func codecName(mimeType string) string {
	parts := strings.SplitN(mimeType, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return ""
	}
	return parts[1]
}
