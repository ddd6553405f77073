package wake

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/recwake/errors"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls   []call
	respond func(name string, args []string) ([]byte, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	if f.respond != nil {
		return f.respond(name, args)
	}
	return nil, nil
}

func notLoadedStop(name string, args []string) ([]byte, error) {
	if name == "systemctl" {
		return []byte("Failed to stop recwake-abc.timer: Unit recwake-abc.timer not loaded."), errors.New("exit status 5")
	}
	return []byte("Running timer as unit: recwake-abc.timer"), nil
}

func TestSystemdArm(t *testing.T) {
	runner := &fakeRunner{respond: notLoadedStop}
	s, err := NewSystemd(SystemdConfig{FireCommand: "/usr/local/bin/recwake --config '/etc/my recwake/am.toml' fire"}, runner, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	fireAt := time.Date(2026, 10, 20, 6, 30, 0, 0, time.FixedZone("CEST", 2*3600))
	require.NoError(t, s.Arm(context.Background(), fireAt, "abc"))

	require.Len(t, runner.calls, 2)
	assert.Equal(t, "systemctl", runner.calls[0].name)
	assert.Equal(t, []string{"--user", "stop", "recwake-abc.timer"}, runner.calls[0].args)

	run := runner.calls[1]
	assert.Equal(t, "systemd-run", run.name)
	assert.Equal(t, []string{
		"--user",
		"--unit=recwake-abc",
		"--on-calendar=2026-10-20 04:30:00 UTC",
		"--timer-property=AccuracySec=1s",
		"--timer-property=WakeSystem=true",
		"--collect",
		"/usr/local/bin/recwake", "--config", "/etc/my recwake/am.toml", "fire",
		"abc",
	}, run.args)
}

func TestSystemdArmFailureCarriesOutput(t *testing.T) {
	runner := &fakeRunner{respond: func(name string, args []string) ([]byte, error) {
		if name == "systemd-run" {
			return []byte("Failed to connect to bus: No medium found\n"), errors.New("exit status 1")
		}
		return nil, nil
	}}
	s, err := NewSystemd(SystemdConfig{FireCommand: "/bin/recwake fire"}, runner, nil)
	require.NoError(t, err)

	err = s.Arm(context.Background(), time.Now().Add(time.Hour), "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "systemd-run failed for job abc")
	assert.Contains(t, strings.Join(errors.GetAllDetails(err), " "), "No medium found")
}

func TestSystemdCancel(t *testing.T) {
	t.Run("not loaded is success", func(t *testing.T) {
		s, err := NewSystemd(SystemdConfig{FireCommand: "/bin/recwake fire"}, &fakeRunner{respond: notLoadedStop}, nil)
		require.NoError(t, err)
		assert.NoError(t, s.Cancel(context.Background(), "abc"))
	})

	t.Run("other failures surface", func(t *testing.T) {
		runner := &fakeRunner{respond: func(string, []string) ([]byte, error) {
			return []byte("Access denied"), errors.New("exit status 1")
		}}
		s, err := NewSystemd(SystemdConfig{FireCommand: "/bin/recwake fire"}, runner, nil)
		require.NoError(t, err)
		assert.Error(t, s.Cancel(context.Background(), "abc"))
	})
}

func TestNewSystemdRejectsBadCommand(t *testing.T) {
	_, err := NewSystemd(SystemdConfig{FireCommand: ""}, &fakeRunner{}, nil)
	assert.Error(t, err)

	_, err = NewSystemd(SystemdConfig{FireCommand: "recwake 'unterminated"}, &fakeRunner{}, nil)
	assert.Error(t, err)
}

func TestNewBackend(t *testing.T) {
	s, stop, err := New(context.Background(), Config{Backend: BackendTimer, TickInterval: time.Hour}, func(string) {}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	_, ok := s.(*Ticker)
	assert.True(t, ok)
	stop()

	_, _, err = New(context.Background(), Config{Backend: "cron"}, nil, nil)
	assert.True(t, errors.Is(err, ErrUnknownBackend))
}
