package domain

// SessionID identifies one broadcast session. It is chosen by the
// application server that created the stream record and is reused as the
// routing-domain id, the recording directory name and the HLS path.
type SessionID string

// ParticipantID identifies one connected signaling participant
// (broadcaster or viewer). It is the client token issued on first contact.
type ParticipantID string

type TransportID string

type ProducerID string

type ConsumerID string

// MediaKind is the media type of a producer or consumer.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaAudio || k == MediaVideo
}
