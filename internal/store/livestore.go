// Package store publishes session lifecycle facts to Redis so other
// services (chat, discovery, billing) can see which streams are live.
// Writes are best effort: a dead Redis never blocks signaling.
package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ABERsara/worldplay-media/internal/config"
	"github.com/ABERsara/worldplay-media/internal/domain"
)

// Session statuses as stored.
const (
	StatusLive     = "LIVE"
	StatusFinished = "FINISHED"
)

// LiveStatusStore records the external view of every session. A nil
// client (no address configured) turns every call into a logged no-op.
type LiveStatusStore struct {
	client  *redis.Client
	timeout time.Duration
}

func NewLiveStatusStore(cfg config.Store) *LiveStatusStore {
	s := &LiveStatusStore{timeout: cfg.Timeout}
	if cfg.RedisAddr == "" {
		log.Warn().Str("module", "store").Msg("no redis address configured, session status disabled")
		return s
	}
	s.client = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	return s
}

// SetLive marks the session as broadcasting.
func (s *LiveStatusStore) SetLive(sessionID domain.SessionID) {
	s.set(sessionID, StatusLive)
}

// SetFinished marks the session as over. The fact outlives the session
// object so late readers still see a terminal status.
func (s *LiveStatusStore) SetFinished(sessionID domain.SessionID) {
	s.set(sessionID, StatusFinished)
}

// SetRecordingState stores whether a finished session has a playable
// recording ("completed") or not ("failed").
func (s *LiveStatusStore) SetRecordingState(sessionID domain.SessionID, state string) {
	if s.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.client.HSet(ctx, s.key(sessionID), "recording", state).Err(); err != nil {
		log.Error().Err(err).
			Str("module", "store").
			Str("session", string(sessionID)).
			Msg("store recording state")
	}
}

// Status reads the stored status back, mainly for tests and diagnostics.
func (s *LiveStatusStore) Status(ctx context.Context, sessionID domain.SessionID) (string, error) {
	if s.client == nil {
		return "", nil
	}
	return s.client.HGet(ctx, s.key(sessionID), "status").Result()
}

func (s *LiveStatusStore) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.Error().Err(err).Str("module", "store").Msg("redis close")
		}
	}
}

func (s *LiveStatusStore) set(sessionID domain.SessionID, status string) {
	if s.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	err := s.client.HSet(ctx, s.key(sessionID),
		"status", status,
		"updated_at", time.Now().UTC().Format(time.RFC3339),
	).Err()
	if err != nil {
		log.Error().Err(err).
			Str("module", "store").
			Str("session", string(sessionID)).
			Str("status", status).
			Msg("store session status")
		return
	}
	log.Debug().
		Str("module", "store").
		Str("session", string(sessionID)).
		Str("status", status).
		Msg("session status stored")
}

func (s *LiveStatusStore) key(sessionID domain.SessionID) string {
	return "session:" + string(sessionID)
}
