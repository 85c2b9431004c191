package recording

import (
	"bytes"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ABERsara/worldplay-media/internal/config"
)

// liveTapArgs builds the transcoder invocation for the live RTP tap.
// Streams that are already H264 are stream-copied (zero re-encode cost);
// anything else is transcoded on the fly.
func liveTapArgs(cfg config.Recording, sdpPath, outDir, mimeType string) []string {
	args := []string{
		"-protocol_whitelist", "file,rtp,udp",
		"-i", sdpPath,
	}
	if strings.EqualFold(mimeType, "video/h264") {
		args = append(args, "-c:v", "copy")
	} else {
		args = append(args,
			"-c:v", "libx264",
			"-preset", "ultrafast",
			"-tune", "zerolatency",
		)
	}
	return append(args, hlsArgs(cfg, outDir)...)
}

// uploadArgs builds the transcoder invocation for a buffered upload.
func uploadArgs(cfg config.Recording, inputPath, outDir string) []string {
	args := []string{
		"-i", inputPath,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-c:a", "aac",
	}
	return append(args, hlsArgs(cfg, outDir)...)
}

func hlsArgs(cfg config.Recording, outDir string) []string {
	return []string{
		"-f", "hls",
		"-hls_time", strconv.Itoa(cfg.HLSTime),
		"-hls_list_size", strconv.Itoa(cfg.HLSListSize),
		"-hls_flags", "append_list",
		"-hls_segment_filename", filepath.Join(outDir, "segment%03d.ts"),
		filepath.Join(outDir, "index.m3u8"),
	}
}

// startTranscoder launches the external process with its output folded
// into the log, and reports the exit error on onExit.
func startTranscoder(path string, args []string, sessionID string, onExit func(error)) (*exec.Cmd, error) {
	cmd := exec.Command(path, args...)
	cmd.Stdout = newLogWriter(sessionID, "stdout")
	cmd.Stderr = newLogWriter(sessionID, "stderr")
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go func() {
		err := cmd.Wait()
		onExit(err)
	}()
	return cmd, nil
}

// logWriter splits process output into log lines.
type logWriter struct {
	logger zerolog.Logger
}

func newLogWriter(sessionID, stream string) *logWriter {
	return &logWriter{
		logger: log.With().
			Str("module", "recording.ffmpeg").
			Str("session", sessionID).
			Str("stream", stream).
			Logger(),
	}
}

func (w *logWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		w.logger.Debug().Msg(string(line))
	}
	return total, nil
}
