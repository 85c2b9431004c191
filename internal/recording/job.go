package recording

import (
	"context"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"

	"github.com/ABERsara/worldplay-media/internal/domain"
)

// Job statuses.
const (
	StatusStarting  = "starting"
	StatusRecording = "recording"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const (
	evStarted  = "started"
	evComplete = "complete"
	evFail     = "fail"
)

// closer is the live-tap handle a job may own.
type closer interface {
	Close()
}

// Job is one recording of one session. It exclusively owns the external
// transcoder process handle; only Manager.Stop may signal it.
type Job struct {
	SessionID domain.SessionID
	Dir       string
	Mode      string // "live" or "upload"

	state    *fsm.FSM
	cmd      *exec.Cmd
	tap      closer
	done     chan struct{}
	stopping atomic.Bool
	resolved atomic.Bool
	metered  atomic.Bool
	exitErr  error
	started  time.Time
}

func newJob(sessionID domain.SessionID, dir, mode string) *Job {
	return &Job{
		SessionID: sessionID,
		Dir:       dir,
		Mode:      mode,
		done:      make(chan struct{}),
		started:   time.Now(),
		state: fsm.NewFSM(
			StatusStarting,
			fsm.Events{
				{Name: evStarted, Src: []string{StatusStarting}, Dst: StatusRecording},
				{Name: evComplete, Src: []string{StatusStarting, StatusRecording}, Dst: StatusCompleted},
				{Name: evFail, Src: []string{StatusStarting, StatusRecording}, Dst: StatusFailed},
			},
			fsm.Callbacks{},
		),
	}
}

func (j *Job) Status() string { return j.state.Current() }

// Active reports whether the job still blocks a new recording for the
// same session.
func (j *Job) Active() bool {
	s := j.state.Current()
	return s == StatusStarting || s == StatusRecording
}

func (j *Job) ExitErr() error { return j.exitErr }

// Done closes when the transcoder process has exited and the job reached
// a terminal status.
func (j *Job) Done() <-chan struct{} { return j.done }

func (j *Job) event(name string) {
	_ = j.state.Event(context.Background(), name)
}
