// Package recording bridges live producers and uploaded media into a
// segmented HLS layout on disk, one directory per session, by driving an
// external ffmpeg process.
package recording

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/ABERsara/worldplay-media/internal/config"
	"github.com/ABERsara/worldplay-media/internal/domain"
	"github.com/ABERsara/worldplay-media/internal/engine"
	"github.com/ABERsara/worldplay-media/internal/metrics"
)

// TapSource is the slice of a routing domain the live tap needs.
type TapSource interface {
	ConsumeToTap(producerID string, port int) (*engine.Tap, error)
}

// Manager tracks at most one recording job per session. Duplicate starts
// are rejected, not queued; stops on unknown or finished jobs are no-ops.
type Manager struct {
	cfg config.Recording

	// OnFinished, when set, is told how each job ended ("completed" or
	// "failed"). Failures never propagate beyond the job itself.
	OnFinished func(sessionID domain.SessionID, status string)

	mu       sync.Mutex
	jobs     map[domain.SessionID]*Job
	nextPort int
}

func NewManager(cfg config.Recording) *Manager {
	return &Manager{
		cfg:      cfg,
		jobs:     make(map[domain.SessionID]*Job),
		nextPort: cfg.TapPortMin,
	}
}

// Job returns the most recent job for a session, finished or not.
func (m *Manager) Job(sessionID domain.SessionID) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[sessionID]
	return j, ok
}

// Active reports whether a job currently blocks a new recording.
func (m *Manager) Active(sessionID domain.SessionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[sessionID]
	return ok && j.Active()
}

// StartLiveTap attaches a server-side tap to a live producer and starts
// transcoding it into the session's HLS directory.
func (m *Manager) StartLiveTap(sessionID domain.SessionID, src TapSource, producerID string, mimeType string) error {
	j, dir, err := m.register(sessionID, "live")
	if err != nil {
		return err
	}

	port := m.allocTapPort()
	tap, err := src.ConsumeToTap(producerID, port)
	if err != nil {
		m.fail(j, fmt.Errorf("attach tap: %w", err))
		return err
	}
	m.mu.Lock()
	j.tap = tap
	m.mu.Unlock()

	codec, ok := tap.Codec()
	if !ok {
		tap.Close()
		err := fmt.Errorf("producer %s has no codec", producerID)
		m.fail(j, err)
		return err
	}
	desc, err := tapDescription(tap.Kind(), codec, port)
	if err != nil {
		tap.Close()
		m.fail(j, err)
		return err
	}
	sdpPath := filepath.Join(dir, "input.sdp")
	if err := os.WriteFile(sdpPath, []byte(desc), 0o644); err != nil {
		tap.Close()
		m.fail(j, err)
		return err
	}

	args := liveTapArgs(m.cfg, sdpPath, dir, mimeType)
	if err := m.launch(j, args, func(exitErr error) {
		m.finish(j, exitErr)
	}); err != nil {
		tap.Close()
		m.fail(j, fmt.Errorf("start transcoder: %w", err))
		return err
	}
	log.Info().
		Str("module", "recording").
		Str("session", string(sessionID)).
		Str("producer", producerID).
		Int("port", port).
		Msg("live recording started")
	return nil
}

// launch hands a prepared job its transcoder process. A Stop that lands
// while the process is being spawned wins: the late process is reaped
// and the job keeps the status Stop gave it.
func (m *Manager) launch(j *Job, args []string, onExit func(error)) error {
	cmd, err := startTranscoder(m.cfg.FFmpegPath, args, string(j.SessionID), onExit)
	if err != nil {
		return err
	}
	m.mu.Lock()
	j.cmd = cmd
	m.mu.Unlock()
	j.event(evStarted)
	if j.Status() == StatusRecording {
		metrics.ActiveRecordings.Inc()
		j.metered.Store(true)
	}
	if j.stopping.Load() || !j.Active() {
		if cmd.Process != nil {
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}
	}
	return nil
}

// BeginIngest reserves the session's recording slot for a deferred
// upload. It returns ErrRecordingConflict while another job is active.
func (m *Manager) BeginIngest(sessionID domain.SessionID) error {
	_, _, err := m.register(sessionID, "upload")
	return err
}

// RunIngest buffers the upload into temporary storage, transcodes the
// completed file into the session directory and deletes the input.
// BeginIngest must have succeeded first.
func (m *Manager) RunIngest(sessionID domain.SessionID, body io.Reader) {
	m.mu.Lock()
	j := m.jobs[sessionID]
	m.mu.Unlock()
	if j == nil || j.Mode != "upload" || j.Status() != StatusStarting {
		return
	}

	tmp, err := os.CreateTemp(m.cfg.MediaPath, "upload-*.bin")
	if err != nil {
		m.fail(j, fmt.Errorf("temp storage: %w", err))
		return
	}
	tmpPath := tmp.Name()
	written, err := io.Copy(tmp, body)
	closeErr := tmp.Close()
	if err != nil || closeErr != nil {
		os.Remove(tmpPath)
		if err == nil {
			err = closeErr
		}
		m.fail(j, fmt.Errorf("buffer upload: %w", err))
		return
	}
	log.Info().
		Str("module", "recording").
		Str("session", string(sessionID)).
		Int64("bytes", written).
		Msg("upload buffered, starting transcode")

	args := uploadArgs(m.cfg, tmpPath, j.Dir)
	if err := m.launch(j, args, func(exitErr error) {
		os.Remove(tmpPath)
		m.finish(j, exitErr)
	}); err != nil {
		os.Remove(tmpPath)
		m.fail(j, fmt.Errorf("start transcoder: %w", err))
	}
}

// Stop gracefully terminates the session's transcoder and marks the job
// completed. Unknown or already-finished jobs are a no-op.
func (m *Manager) Stop(sessionID domain.SessionID) {
	m.mu.Lock()
	j, ok := m.jobs[sessionID]
	if !ok || !j.Active() {
		m.mu.Unlock()
		return
	}
	j.stopping.Store(true)
	cmd := j.cmd
	m.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			log.Warn().Err(err).Str("module", "recording").Str("session", string(sessionID)).Msg("signal transcoder")
		}
		return // finish() runs when the process exits
	}
	// No process yet: stopping is set, so a racing launch reaps its own
	// process and this resolution stands.
	m.finish(j, nil)
}

// StopAll terminates every active job, used on shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := make([]domain.SessionID, 0, len(m.jobs))
	for id, j := range m.jobs {
		if j.Active() {
			sessions = append(sessions, id)
		}
	}
	m.mu.Unlock()
	for _, id := range sessions {
		m.Stop(id)
	}
}

func (m *Manager) register(sessionID domain.SessionID, mode string) (*Job, string, error) {
	m.mu.Lock()
	if j, ok := m.jobs[sessionID]; ok && j.Active() {
		m.mu.Unlock()
		return nil, "", domain.ErrRecordingConflict
	}
	dir := filepath.Join(m.cfg.MediaPath, string(sessionID))
	j := newJob(sessionID, dir, mode)
	m.jobs[sessionID] = j
	m.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		m.fail(j, fmt.Errorf("prepare output dir: %w", err))
		return nil, "", err
	}
	return j, dir, nil
}

func (m *Manager) allocTapPort() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	port := m.nextPort
	m.nextPort += 2 // leave room for RTCP next to each RTP port
	if m.nextPort > m.cfg.TapPortMax {
		m.nextPort = m.cfg.TapPortMin
	}
	return port
}

// finish resolves a job when its process exits. A requested stop counts
// as completed even though SIGTERM makes ffmpeg exit non-zero. Jobs
// resolve at most once; a late process exit after a no-process stop is
// silently reaped.
func (m *Manager) finish(j *Job, exitErr error) {
	if j.resolved.Swap(true) {
		return
	}
	m.mu.Lock()
	tap := j.tap
	m.mu.Unlock()
	if tap != nil {
		tap.Close()
	}
	status := StatusCompleted
	if exitErr != nil && !j.stopping.Load() {
		j.exitErr = exitErr
		status = StatusFailed
	}
	if status == StatusFailed {
		j.event(evFail)
		metrics.RecordingFailures.Inc()
		log.Error().Err(exitErr).
			Str("module", "recording").
			Str("session", string(j.SessionID)).
			Msg("recording failed")
	} else {
		j.event(evComplete)
		log.Info().
			Str("module", "recording").
			Str("session", string(j.SessionID)).
			Str("mode", j.Mode).
			Msg("recording completed")
	}
	if j.metered.Load() {
		metrics.ActiveRecordings.Dec()
	}
	select {
	case <-j.done:
	default:
		close(j.done)
	}
	if m.OnFinished != nil {
		m.OnFinished(j.SessionID, status)
	}
}

// fail resolves a job that never reached a running process.
func (m *Manager) fail(j *Job, err error) {
	if j.resolved.Swap(true) {
		return
	}
	j.exitErr = err
	j.event(evFail)
	metrics.RecordingFailures.Inc()
	log.Error().Err(err).
		Str("module", "recording").
		Str("session", string(j.SessionID)).
		Msg("recording failed to start")
	select {
	case <-j.done:
	default:
		close(j.done)
	}
	if m.OnFinished != nil {
		m.OnFinished(j.SessionID, StatusFailed)
	}
}
