package session

import (
	"time"

	"github.com/teranos/recwake/am"
)

// Policy holds the tunables the controller reads on every decision.
// SetPolicy swaps it atomically, so a config reload takes effect on the
// next request or event.
type Policy struct {
	MinDurationSeconds int
	MaxDurationSeconds int
	AcquireAttempts    int           // total tries when the input is busy
	AcquireBackoff     time.Duration // pause between tries
	GraceWindow        time.Duration // how late a fire may arrive and still record
	RecordingsDir      string
}

// DefaultPolicy mirrors the am defaults.
func DefaultPolicy() Policy {
	return Policy{
		MinDurationSeconds: 1,
		MaxDurationSeconds: 3 * 60 * 60,
		AcquireAttempts:    3,
		AcquireBackoff:     2 * time.Second,
		GraceWindow:        5 * time.Minute,
		RecordingsDir:      am.ExpandPath("~/VoiceRecordings"),
	}
}

// PolicyFromConfig extracts the controller policy from loaded config.
func PolicyFromConfig(cfg *am.Config) Policy {
	return Policy{
		MinDurationSeconds: cfg.Recording.MinDurationSeconds,
		MaxDurationSeconds: cfg.Recording.MaxDurationSeconds,
		AcquireAttempts:    cfg.Capture.AcquireAttempts,
		AcquireBackoff:     cfg.AcquireBackoff(),
		GraceWindow:        cfg.GraceWindow(),
		RecordingsDir:      cfg.RecordingsDir(),
	}
}

func (p Policy) normalized() Policy {
	if p.AcquireAttempts < 1 {
		p.AcquireAttempts = 1
	}
	if p.MinDurationSeconds < 1 {
		p.MinDurationSeconds = 1
	}
	if p.MaxDurationSeconds < p.MinDurationSeconds {
		p.MaxDurationSeconds = p.MinDurationSeconds
	}
	return p
}
