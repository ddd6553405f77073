package wake

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/logger"
)

// CommandRunner runs an external command and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// SystemdConfig configures the systemd backend
type SystemdConfig struct {
	// FireCommand is the argv prefix the timer runs; the job id is appended.
	FireCommand string
	// UnitPrefix names transient units: <prefix><jobID>.timer
	UnitPrefix string
}

// Systemd arms transient user timers with systemd-run. The timer belongs
// to the user manager, so it fires (and with WakeSystem, resumes the
// machine) whether or not recwake is running.
type Systemd struct {
	fireArgv   []string
	unitPrefix string
	runner     CommandRunner
	log        *zap.SugaredLogger
}

// NewSystemd validates the fire command and returns the backend. A nil
// runner executes real commands.
func NewSystemd(cfg SystemdConfig, runner CommandRunner, log *zap.SugaredLogger) (*Systemd, error) {
	argv, err := shellquote.Split(cfg.FireCommand)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse fire command %q", cfg.FireCommand)
	}
	if len(argv) == 0 {
		return nil, errors.New("fire command is empty")
	}
	// systemd-run does not search PATH on older versions
	if !filepath.IsAbs(argv[0]) {
		if resolved, err := exec.LookPath(argv[0]); err == nil {
			if abs, err := filepath.Abs(resolved); err == nil {
				argv[0] = abs
			}
		}
	}
	if cfg.UnitPrefix == "" {
		cfg.UnitPrefix = "recwake-"
	}
	if runner == nil {
		runner = execRunner{}
	}
	if log == nil {
		log = logger.Logger
	}
	return &Systemd{
		fireArgv:   argv,
		unitPrefix: cfg.UnitPrefix,
		runner:     runner,
		log:        logger.AddWakeSymbol(log),
	}, nil
}

func (s *Systemd) unit(jobID string) string {
	return s.unitPrefix + jobID
}

// calendarSpec renders fireAt as an absolute OnCalendar expression in UTC.
func calendarSpec(fireAt time.Time) string {
	return fireAt.UTC().Format("2006-01-02 15:04:05") + " UTC"
}

// Arm creates the transient timer. A unit left from an earlier arming of
// the same job is stopped first, which makes re-arming after a restart
// idempotent.
func (s *Systemd) Arm(ctx context.Context, fireAt time.Time, jobID string) error {
	if err := s.Cancel(ctx, jobID); err != nil {
		return errors.Wrap(err, "failed to clear previous timer")
	}

	args := []string{
		"--user",
		"--unit=" + s.unit(jobID),
		"--on-calendar=" + calendarSpec(fireAt),
		"--timer-property=AccuracySec=1s",
		"--timer-property=WakeSystem=true",
		"--collect",
	}
	args = append(args, s.fireArgv...)
	args = append(args, jobID)

	out, err := s.runner.Run(ctx, "systemd-run", args...)
	if err != nil {
		return errors.WithDetail(
			errors.Wrapf(err, "systemd-run failed for job %s", jobID),
			strings.TrimSpace(string(out)),
		)
	}

	s.log.Infow("Wake armed",
		logger.FieldJobID, jobID,
		logger.FieldBackend, BackendSystemd,
		"unit", s.unit(jobID)+".timer",
		"on_calendar", calendarSpec(fireAt))
	return nil
}

// Cancel stops the timer. A unit that is not loaded has already fired or
// was never armed, which is success. The service a fired timer started is
// left alone; stopping it would kill a running recording.
func (s *Systemd) Cancel(ctx context.Context, jobID string) error {
	timer := s.unit(jobID) + ".timer"
	out, err := s.runner.Run(ctx, "systemctl", "--user", "stop", timer)
	if err == nil {
		return nil
	}
	if notLoaded(string(out)) {
		return nil
	}
	return errors.WithDetail(
		errors.Wrapf(err, "systemctl stop %s failed", timer),
		strings.TrimSpace(string(out)),
	)
}

func notLoaded(output string) bool {
	o := strings.ToLower(output)
	return strings.Contains(o, "not loaded") || strings.Contains(o, "not found")
}
