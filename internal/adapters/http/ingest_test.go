package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ABERsara/worldplay-media/internal/config"
	"github.com/ABERsara/worldplay-media/internal/recording"
)

func ingestRouter(t *testing.T) (*gin.Engine, *recording.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	m := recording.NewManager(config.Recording{
		FFmpegPath: "/nonexistent/ffmpeg",
		MediaPath:  t.TempDir(),
		HLSTime:    2,
		TapPortMin: 5004,
		TapPortMax: 5100,
	})
	r := gin.New()
	r.POST("/api/live/:session_id", handleIngest(m))
	return r, m
}

func TestIngestAcceptsUpload(t *testing.T) {
	r, _ := ingestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/live/sess-1", strings.NewReader("payload"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "ingestion started")
	assert.Contains(t, body, "sess-1")
	assert.Contains(t, body, "/hls/sess-1/index.m3u8")
}

func TestIngestConflict(t *testing.T) {
	r, m := ingestRouter(t)
	require.NoError(t, m.BeginIngest("sess-1"))

	req := httptest.NewRequest(http.MethodPost, "/api/live/sess-1", strings.NewReader("payload"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "recording already in progress")
}
