package recording

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ABERsara/worldplay-media/internal/config"
)

func testCfg(t *testing.T) config.Recording {
	t.Helper()
	return config.Recording{
		Enabled:     true,
		FFmpegPath:  "ffmpeg",
		MediaPath:   t.TempDir(),
		HLSTime:     2,
		HLSListSize: 0,
		TapPortMin:  5004,
		TapPortMax:  5100,
	}
}

func TestLiveTapArgsStreamCopiesH264(t *testing.T) {
	args := liveTapArgs(testCfg(t), "/tmp/input.sdp", "/tmp/out", "video/H264")
	assert.Contains(t, args, "copy")
	assert.NotContains(t, args, "libx264")
}

func TestLiveTapArgsTranscodesOtherCodecs(t *testing.T) {
	args := liveTapArgs(testCfg(t), "/tmp/input.sdp", "/tmp/out", "video/VP8")
	assert.Contains(t, args, "libx264")
	assert.Contains(t, args, "zerolatency")
	assert.NotContains(t, args, "copy")
}

func TestUploadArgsAlwaysTranscode(t *testing.T) {
	args := uploadArgs(testCfg(t), "/tmp/in.bin", "/tmp/out")
	assert.Contains(t, args, "libx264")
	assert.Contains(t, args, "aac")
}

func TestHLSArgsLayout(t *testing.T) {
	args := hlsArgs(testCfg(t), "/tmp/out")
	assert.Contains(t, args, "hls")
	assert.Contains(t, args, "/tmp/out/segment%03d.ts")
	assert.Equal(t, "/tmp/out/index.m3u8", args[len(args)-1])
}

func TestStartTranscoderReportsExit(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	exited := make(chan error, 1)
	_, err := startTranscoder("ffmpeg", []string{"-version"}, "test", func(exitErr error) {
		exited <- exitErr
	})
	require.NoError(t, err)
	select {
	case exitErr := <-exited:
		assert.NoError(t, exitErr)
	case <-time.After(10 * time.Second):
		t.Fatal("transcoder did not exit")
	}
}

func TestStartTranscoderMissingBinary(t *testing.T) {
	_, err := startTranscoder("/nonexistent/ffmpeg", []string{"-version"}, "test", func(error) {})
	assert.Error(t, err)
}
