package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ABERsara/worldplay-media/internal/domain"
	"github.com/ABERsara/worldplay-media/internal/recording"
)

// handleIngest accepts an uploaded media stream for deferred HLS
// conversion. The slot is claimed and the response sent before the body
// is consumed, so uploaders are not left waiting on the transcode.
func handleIngest(recordings *recording.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := domain.SessionID(c.Param("session_id"))
		if sessionID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing session_id"})
			return
		}

		if err := recordings.BeginIngest(sessionID); err != nil {
			if errors.Is(err, domain.ErrRecordingConflict) {
				c.JSON(http.StatusConflict, gin.H{"error": "recording already in progress"})
				return
			}
			log.Error().Err(err).Str("module", "adapters.http").Str("session", string(sessionID)).Msg("ingest begin")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start recording"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message":    "ingestion started",
			"session_id": string(sessionID),
			"watch_url":  "/hls/" + string(sessionID) + "/index.m3u8",
		})
		c.Writer.Flush()

		recordings.RunIngest(sessionID, c.Request.Body)
	}
}
