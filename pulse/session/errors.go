package session

import "github.com/teranos/recwake/errors"

// Request errors. Each is returned wrapped with context; match with
// errors.Is.
var (
	// ErrInvalidDuration rejects a duration outside the configured bounds.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrInvalidStartTime rejects a start time that has already passed.
	ErrInvalidStartTime = errors.New("invalid start time")
	// ErrAlreadyActive rejects a schedule while a job is armed or running.
	ErrAlreadyActive = errors.New("a recording job is already active")
	// ErrNothingToCancel is returned by Cancel when no job is armed or running.
	ErrNothingToCancel = errors.New("nothing to cancel")
	// ErrNotRunning is returned by Stop outside a capture session.
	ErrNotRunning = errors.New("no recording is running")
	// ErrNotStarted is returned by requests before Start or after Shutdown.
	ErrNotStarted = errors.New("session controller is not running")
	// ErrArmFailed means the wake backend refused the arming; the job was
	// left idle.
	ErrArmFailed = errors.New("failed to arm wake trigger")
)
