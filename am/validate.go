package am

import (
	"net"
	"strings"

	"github.com/teranos/recwake/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Database.JobStore {
	case JobStoreSQLite:
		if c.Database.Path == "" {
			return errors.New("database.path cannot be empty with job_store = \"sqlite\"")
		}
	case JobStoreFile:
		if c.Database.JobFile == "" {
			return errors.New("database.job_file cannot be empty with job_store = \"file\"")
		}
	default:
		return errors.Newf("database.job_store must be %q or %q, got %q", JobStoreSQLite, JobStoreFile, c.Database.JobStore)
	}

	r := c.Recording
	if r.Dir == "" {
		return errors.New("recording.dir cannot be empty")
	}
	if r.MinDurationSeconds < 1 {
		return errors.Newf("recording.min_duration_seconds must be >= 1, got %d", r.MinDurationSeconds)
	}
	if r.MaxDurationSeconds < r.MinDurationSeconds {
		return errors.Newf("recording.max_duration_seconds (%d) must be >= min_duration_seconds (%d)",
			r.MaxDurationSeconds, r.MinDurationSeconds)
	}
	if r.SampleRate <= 0 {
		return errors.Newf("recording.sample_rate must be > 0, got %d", r.SampleRate)
	}
	if r.Channels < 1 || r.Channels > 2 {
		return errors.Newf("recording.channels must be 1 or 2, got %d", r.Channels)
	}

	cp := c.Capture
	switch cp.Backend {
	case CaptureExec:
		if strings.TrimSpace(cp.Command) == "" {
			return errors.New("capture.command cannot be empty with backend = \"exec\"")
		}
	case CaptureTone:
	default:
		return errors.Newf("capture.backend must be %q or %q, got %q", CaptureExec, CaptureTone, cp.Backend)
	}
	if cp.LockPath == "" {
		return errors.New("capture.lock_path cannot be empty")
	}
	// zero means zero: at least one attempt is always made
	if cp.AcquireAttempts < 1 {
		return errors.Newf("capture.acquire_attempts must be >= 1, got %d", cp.AcquireAttempts)
	}
	if cp.AcquireBackoffSeconds < 0 {
		return errors.Newf("capture.acquire_backoff_seconds must be >= 0, got %d", cp.AcquireBackoffSeconds)
	}

	w := c.Wake
	switch w.Backend {
	case WakeTimer:
		if w.TickIntervalMS <= 0 {
			return errors.Newf("wake.tick_interval_ms must be > 0, got %d", w.TickIntervalMS)
		}
	case WakeSystemd:
		if strings.TrimSpace(w.FireCommand) == "" {
			return errors.New("wake.fire_command cannot be empty with backend = \"systemd\"")
		}
	default:
		return errors.Newf("wake.backend must be %q or %q, got %q", WakeTimer, WakeSystemd, w.Backend)
	}
	if w.GraceWindowSeconds < 0 {
		return errors.Newf("wake.grace_window_seconds must be >= 0, got %d", w.GraceWindowSeconds)
	}

	if _, _, err := net.SplitHostPort(c.Server.Address); err != nil {
		return errors.Wrapf(err, "server.address %q is not host:port", c.Server.Address)
	}

	return nil
}
