// Package schedule persists the single recording job and the index of
// finished recordings.
package schedule

import (
	"time"

	"github.com/teranos/recwake/errors"
)

// State is the lifecycle position of the recording job.
type State string

// State constants for the recording job
const (
	StateIdle      State = "idle"      // created, not yet armed
	StateArmed     State = "armed"     // waiting for the wake scheduler
	StateRunning   State = "running"   // capturing
	StateCompleted State = "completed" // output written
	StateCancelled State = "cancelled" // user cancelled before or during capture
	StateFailed    State = "failed"    // see LastError
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateIdle, StateArmed, StateRunning, StateCompleted, StateCancelled, StateFailed:
		return true
	}
	return false
}

// Active states block a new schedule request.
func (s State) Active() bool {
	return s == StateArmed || s == StateRunning
}

// Terminal states never change again.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// ErrorKind classifies why a job ended in StateFailed, or why a request
// was rejected.
type ErrorKind string

const (
	ErrorNone                ErrorKind = ""
	ErrorInvalidDuration     ErrorKind = "InvalidDuration"
	ErrorInvalidStartTime    ErrorKind = "InvalidStartTime"
	ErrorAlreadyActive       ErrorKind = "AlreadyActive"
	ErrorResourceBusy        ErrorKind = "ResourceBusy"
	ErrorResourceUnavailable ErrorKind = "ResourceUnavailable"
	ErrorResourceRevoked     ErrorKind = "ResourceRevoked"
	ErrorStorageWriteFailed  ErrorKind = "StorageWriteFailed"
	ErrorInterrupted         ErrorKind = "Interrupted"
	ErrorMissedSchedule      ErrorKind = "MissedSchedule"
)

// Job is the one scheduled recording the orchestrator owns.
type Job struct {
	ID                 string     `json:"id" yaml:"id"`
	ScheduledStartTime time.Time  `json:"scheduled_start_time" yaml:"scheduled_start_time"`
	DurationSeconds    int        `json:"duration_seconds" yaml:"duration_seconds"`
	State              State      `json:"state" yaml:"state"`
	OutputPath         string     `json:"output_path,omitempty" yaml:"output_path,omitempty"`
	StartedAtActual    *time.Time `json:"started_at_actual,omitempty" yaml:"started_at_actual,omitempty"`
	LastError          ErrorKind  `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	LastErrorDetail    string     `json:"last_error_detail,omitempty" yaml:"last_error_detail,omitempty"`
	PartialPath        string     `json:"partial_path,omitempty" yaml:"partial_path,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	OwnerPID           int        `json:"owner_pid,omitempty" yaml:"owner_pid,omitempty"`
	CreatedAt          time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Duration returns DurationSeconds as a time.Duration
func (j *Job) Duration() time.Duration {
	return time.Duration(j.DurationSeconds) * time.Second
}

// Clone returns a deep copy, so callers can mutate without touching a
// record another goroutine may hold.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.StartedAtActual != nil {
		t := *j.StartedAtActual
		c.StartedAtActual = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Fail moves the job to StateFailed with kind and detail. OutputPath is
// cleared; partial, if set, is retained for inspection.
func (j *Job) Fail(kind ErrorKind, detail, partial string, at time.Time) {
	j.State = StateFailed
	j.LastError = kind
	j.LastErrorDetail = detail
	j.OutputPath = ""
	j.PartialPath = partial
	j.CompletedAt = &at
}

// Finish moves the job to a non-failed terminal state.
func (j *Job) Finish(state State, at time.Time) {
	j.State = state
	j.LastError = ErrorNone
	j.LastErrorDetail = ""
	j.PartialPath = ""
	if state != StateCompleted {
		j.OutputPath = ""
	}
	j.CompletedAt = &at
}

// Check verifies the record-level invariants. Stores call it before every
// write so an inconsistent record is never persisted.
func (j *Job) Check() error {
	if j.ID == "" {
		return errors.New("job id is empty")
	}
	if !j.State.Valid() {
		return errors.Newf("job %s has unknown state %q", j.ID, j.State)
	}
	if j.ScheduledStartTime.IsZero() {
		return errors.Newf("job %s has no scheduled start time", j.ID)
	}
	hasOutput := j.State == StateRunning || j.State == StateCompleted
	if hasOutput && j.OutputPath == "" {
		return errors.Newf("job %s is %s without an output path", j.ID, j.State)
	}
	if !hasOutput && j.OutputPath != "" {
		return errors.Newf("job %s is %s but has output path %s", j.ID, j.State, j.OutputPath)
	}
	if hasOutput && j.StartedAtActual == nil {
		return errors.Newf("job %s is %s without an actual start time", j.ID, j.State)
	}
	failed := j.State == StateFailed
	if failed && j.LastError == ErrorNone {
		return errors.Newf("job %s failed without an error kind", j.ID)
	}
	if !failed && (j.LastError != ErrorNone || j.PartialPath != "" || j.LastErrorDetail != "") {
		return errors.Newf("job %s is %s but carries error fields", j.ID, j.State)
	}
	return nil
}
