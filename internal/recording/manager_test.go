package recording

import (
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ABERsara/worldplay-media/internal/domain"
	"github.com/ABERsara/worldplay-media/internal/engine"
)

func TestBeginIngestConflict(t *testing.T) {
	m := NewManager(testCfg(t))

	require.NoError(t, m.BeginIngest("s1"))
	assert.ErrorIs(t, m.BeginIngest("s1"), domain.ErrRecordingConflict)
	// Another session is unaffected.
	assert.NoError(t, m.BeginIngest("s2"))
}

func TestStopUnknownSessionIsNoop(t *testing.T) {
	m := NewManager(testCfg(t))
	m.Stop("never-seen")
}

func TestStopFinishedJobIsNoop(t *testing.T) {
	m := NewManager(testCfg(t))
	require.NoError(t, m.BeginIngest("s1"))
	m.Stop("s1") // no process yet: resolves the job
	j, ok := m.Job("s1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, j.Status())
	m.Stop("s1")
	assert.Equal(t, StatusCompleted, j.Status())
}

func TestFinishedJobFreesSlot(t *testing.T) {
	m := NewManager(testCfg(t))
	require.NoError(t, m.BeginIngest("s1"))
	m.Stop("s1")
	assert.False(t, m.Active("s1"))
	assert.NoError(t, m.BeginIngest("s1"))
}

func TestRunIngestMissingBinaryFailsJob(t *testing.T) {
	cfg := testCfg(t)
	cfg.FFmpegPath = "/nonexistent/ffmpeg"
	m := NewManager(cfg)
	finished := make(chan string, 1)
	m.OnFinished = func(_ domain.SessionID, status string) { finished <- status }

	require.NoError(t, m.BeginIngest("s1"))
	m.RunIngest("s1", strings.NewReader("not really media"))

	select {
	case status := <-finished:
		assert.Equal(t, StatusFailed, status)
	case <-time.After(time.Second):
		t.Fatal("job never resolved")
	}
	j, ok := m.Job("s1")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, j.Status())
	assert.Error(t, j.ExitErr())
	// The failed job no longer blocks the session.
	assert.NoError(t, m.BeginIngest("s1"))
}

func TestStopBeforeTranscoderLaunchWins(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	cfg := testCfg(t)
	cfg.FFmpegPath = "sleep"
	m := NewManager(cfg)
	finished := make(chan string, 2)
	m.OnFinished = func(_ domain.SessionID, status string) { finished <- status }

	j, _, err := m.register("s1", "live")
	require.NoError(t, err)

	// Stop lands while the transcoder is still being spawned.
	m.Stop("s1")
	require.Equal(t, StatusCompleted, j.Status())
	require.NoError(t, m.launch(j, []string{"30"}, func(exitErr error) { m.finish(j, exitErr) }))

	// The late process is reaped instead of outliving the job.
	require.Eventually(t, func() bool {
		return j.cmd.Process.Signal(syscall.Signal(0)) != nil
	}, 5*time.Second, 50*time.Millisecond, "transcoder left running")

	assert.Equal(t, StatusCompleted, j.Status())
	assert.False(t, m.Active("s1"))
	assert.Equal(t, "completed", <-finished)
	select {
	case status := <-finished:
		t.Fatalf("job resolved twice: %s", status)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTapPortAllocationStaysInRange(t *testing.T) {
	cfg := testCfg(t)
	cfg.TapPortMin = 5004
	cfg.TapPortMax = 5008
	m := NewManager(cfg)
	seen := map[int]bool{}
	for i := 0; i < 6; i++ {
		port := m.allocTapPort()
		assert.GreaterOrEqual(t, port, cfg.TapPortMin)
		assert.LessOrEqual(t, port, cfg.TapPortMax)
		seen[port] = true
	}
	assert.True(t, len(seen) >= 2)
}

func TestTapDescription(t *testing.T) {
	codec := engine.RTPCodecParameters{
		MimeType:    "video/VP8",
		ClockRate:   90000,
		PayloadType: 96,
	}
	desc, err := tapDescription(domain.MediaVideo, codec, 5004)
	require.NoError(t, err)
	// Exactly one payload type on the media line.
	assert.Contains(t, desc, "m=video 5004 RTP/AVP 96\r\n")
	assert.Contains(t, desc, "a=rtpmap:96 VP8/90000")
	assert.Contains(t, desc, "c=IN IP4 127.0.0.1")
}

func TestTapDescriptionAudioChannels(t *testing.T) {
	codec := engine.RTPCodecParameters{
		MimeType:    "audio/opus",
		ClockRate:   48000,
		Channels:    2,
		PayloadType: 111,
	}
	desc, err := tapDescription(domain.MediaAudio, codec, 5006)
	require.NoError(t, err)
	assert.Contains(t, desc, "m=audio 5006 RTP/AVP 111\r\n")
	assert.Contains(t, desc, "a=rtpmap:111 opus/48000/2")
}

func TestTapDescriptionBadMime(t *testing.T) {
	_, err := tapDescription(domain.MediaVideo, engine.RTPCodecParameters{MimeType: "garbage"}, 5004)
	assert.Error(t, err)
}
