// Package wake arms a one-shot trigger for the recording job. Two
// backends exist: an in-process Ticker and transient systemd user timers
// that fire even when recwake is not running.
package wake

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/recwake/errors"
)

// FireFunc receives the job id of a due arming. Delivery is at-least-once
// and may be late; receivers must re-check the job before acting.
type FireFunc func(jobID string)

// Scheduler arms and cancels wake triggers.
type Scheduler interface {
	// Arm registers a trigger for jobID at fireAt, replacing any earlier
	// arming for the same id.
	Arm(ctx context.Context, fireAt time.Time, jobID string) error
	// Cancel removes the trigger. Unknown or already fired ids are a no-op.
	Cancel(ctx context.Context, jobID string) error
}

// Backend names
const (
	BackendTimer   = "timer"
	BackendSystemd = "systemd"
)

// Config selects and tunes a backend
type Config struct {
	Backend      string
	TickInterval time.Duration
	FireCommand  string // systemd only: argv prefix, job id is appended
}

// DefaultConfig returns the in-process timer with a half-second tick
func DefaultConfig() Config {
	return Config{
		Backend:      BackendTimer,
		TickInterval: 500 * time.Millisecond,
		FireCommand:  "recwake fire",
	}
}

// ErrUnknownBackend is returned by New for an unrecognised backend name
var ErrUnknownBackend = errors.New("unknown wake backend")

// New builds the configured backend. fire is used by the timer backend
// only; systemd timers call back through the fire command. The returned
// stop function must be called on shutdown.
func New(ctx context.Context, cfg Config, fire FireFunc, log *zap.SugaredLogger) (Scheduler, func(), error) {
	switch cfg.Backend {
	case BackendTimer, "":
		t := NewTickerWithContext(ctx, TickerConfig{Interval: cfg.TickInterval}, fire, log)
		t.Start()
		return t, t.Stop, nil
	case BackendSystemd:
		s, err := NewSystemd(SystemdConfig{FireCommand: cfg.FireCommand}, nil, log)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	default:
		return nil, nil, errors.Wrapf(ErrUnknownBackend, "%q", cfg.Backend)
	}
}
