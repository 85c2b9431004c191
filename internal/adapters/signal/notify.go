package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// notifier adapts a websocket connection to the session broadcast
// interface. Delivery is best effort; a slow client loses events rather
// than stalling the session.
type notifier struct {
	conn *WsSignalConn
}

func (n notifier) TrySend(event string, data any) error {
	frame := struct {
		Type string `json:"type"`
		Data any    `json:"data,omitempty"`
	}{Type: event, Data: data}
	b, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", event).Msg("event marshal")
		return err
	}
	return n.conn.trySendRaw(b)
}
