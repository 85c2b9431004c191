package domain

import "errors"

// Signaling errors are recovered locally and reported to the caller on the
// acknowledgement; they never terminate the process. Engine faults are not
// errors in this sense, they are delivered to the supervisor as a fatal
// signal (see engine.WorkerPool.Faults).
var (
	// ErrNotFound: a referenced session, transport, producer or consumer id
	// is unknown.
	ErrNotFound = errors.New("not found")

	// ErrPrecondition: the operation was attempted on an object that is not
	// in the required state, e.g. produce before connect.
	ErrPrecondition = errors.New("precondition failed")

	// ErrCapabilityMismatch: a consume call carried RTP capabilities that
	// cannot receive the producer's media.
	ErrCapabilityMismatch = errors.New("incompatible rtp capabilities")

	// ErrRecordingConflict: a recording job is already active for the session.
	ErrRecordingConflict = errors.New("recording already active")

	// ErrTimeout: the engine did not answer within the configured interval.
	ErrTimeout = errors.New("engine operation timed out")
)
