// Package engine wraps the media-processing capability behind the
// orchestration layer. The control plane configures and observes it
// (create, connect, produce, consume, close); RTP-level processing stays
// inside pion.
package engine

import "github.com/ABERsara/worldplay-media/internal/domain"

// RTPCodecCapability describes one codec a routing domain can negotiate.
type RTPCodecCapability struct {
	Kind      domain.MediaKind `json:"kind"`
	MimeType  string           `json:"mimeType"`
	ClockRate uint32           `json:"clockRate"`
	Channels  uint16           `json:"channels,omitempty"`
}

// RTPCapabilities is the negotiable codec set of a routing domain or a
// receiving client.
type RTPCapabilities struct {
	Codecs []RTPCodecCapability `json:"codecs"`
}

// RTPCodecParameters is a codec as actually used on the wire, with its
// negotiated payload type.
type RTPCodecParameters struct {
	MimeType    string `json:"mimeType"`
	PayloadType uint8  `json:"payloadType"`
	ClockRate   uint32 `json:"clockRate"`
	Channels    uint16 `json:"channels,omitempty"`
}

type RTPEncodingParameters struct {
	SSRC uint32 `json:"ssrc"`
}

// RTPParameters describes a single sending or receiving media stream.
type RTPParameters struct {
	Codecs    []RTPCodecParameters    `json:"codecs"`
	Encodings []RTPEncodingParameters `json:"encodings"`
}

type ICEParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
}

type ICECandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	Address    string `json:"address"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
}

type DTLSFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DTLSParameters struct {
	Role         string            `json:"role"`
	Fingerprints []DTLSFingerprint `json:"fingerprints"`
}
