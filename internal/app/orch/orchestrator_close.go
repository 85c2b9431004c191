package orch

import (
	"github.com/rs/zerolog/log"

	"github.com/ABERsara/worldplay-media/internal/app"
	"github.com/ABERsara/worldplay-media/internal/domain"
)

// Disconnect handles a participant's connection going away, cleanly or
// not. Sessions they host end; legs they own close; memberships drop.
// Safe to call more than once for the same participant.
func (o *Orchestrator) Disconnect(pid domain.ParticipantID) {
	for _, s := range o.Registry.HostedBy(pid) {
		o.EndSession(s, pid)
	}
	o.Graph.CloseOwnedBy(pid)
	for _, s := range o.Registry.All() {
		s.RemoveMember(pid)
	}
	log.Info().Str("module", "orch").Str("participant", string(pid)).Msg("participant disconnected")
}

// EndSession finishes a broadcast exactly once: recording stops, every
// media leg closes, viewers get stream_ended and the external store is
// told the session is over before the in-memory record disappears.
func (o *Orchestrator) EndSession(s *app.Session, by domain.ParticipantID) {
	if !s.MarkEnded() {
		return
	}
	o.Recordings.Stop(s.ID)
	o.Graph.CloseSession(s.ID)
	s.Router.Close()
	s.Broadcast(by, "stream_ended", map[string]any{"session_id": string(s.ID)})
	o.Store.SetFinished(s.ID)
	o.Registry.Remove(s.ID)
	log.Info().
		Str("module", "orch").
		Str("session", string(s.ID)).
		Str("by", string(by)).
		Msg("session ended")
}
