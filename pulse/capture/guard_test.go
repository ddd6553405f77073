package capture

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/recwake/errors"
)

func newTestGuard(t *testing.T, dev Device, lockPath string) *Guard {
	t.Helper()
	return NewGuard(GuardConfig{Device: dev, LockPath: lockPath}, zaptest.NewLogger(t).Sugar())
}

func TestGuardAcquireRelease(t *testing.T) {
	dev := &FakeDevice{}
	g := newTestGuard(t, dev, filepath.Join(t.TempDir(), "capture.lock"))
	ctx := context.Background()

	h, err := g.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, g.Held())
	assert.Equal(t, "fake", h.Device)

	_, err = g.Acquire(ctx)
	assert.True(t, errors.Is(err, ErrBusy), "second acquire in-process is busy")

	require.NoError(t, g.Release(h))
	assert.False(t, g.Held())
	assert.True(t, dev.Stream().Closed())

	// idempotent
	require.NoError(t, g.Release(h))
	require.NoError(t, g.Release(nil))

	h2, err := g.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, g.Release(h2))
}

func TestGuardLockIsExclusiveAcrossGuards(t *testing.T) {
	lock := filepath.Join(t.TempDir(), "capture.lock")
	a := newTestGuard(t, &FakeDevice{}, lock)
	b := newTestGuard(t, &FakeDevice{}, lock)
	ctx := context.Background()

	h, err := a.Acquire(ctx)
	require.NoError(t, err)

	_, err = b.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBusy))

	elsewhere, _ := b.HeldElsewhere()
	assert.True(t, elsewhere)
	elsewhere, _ = a.HeldElsewhere()
	assert.False(t, elsewhere, "own hold is not elsewhere")

	require.NoError(t, a.Release(h))
	elsewhere, _ = b.HeldElsewhere()
	assert.False(t, elsewhere)

	h, err = b.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Release(h))
}

func TestGuardOpenFailureReleasesLock(t *testing.T) {
	lock := filepath.Join(t.TempDir(), "capture.lock")
	dev := &FakeDevice{OpenErr: errors.New("no such device")}
	g := newTestGuard(t, dev, lock)

	_, err := g.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.False(t, g.Held())

	other := newTestGuard(t, &FakeDevice{}, lock)
	h, err := other.Acquire(context.Background())
	require.NoError(t, err, "lock was dropped on failure")
	require.NoError(t, other.Release(h))
}

func TestGuardKeepsDeviceBusyMark(t *testing.T) {
	dev := &FakeDevice{OpenErr: errors.Mark(errors.New("device busy"), ErrBusy)}
	g := newTestGuard(t, dev, "")

	_, err := g.Acquire(context.Background())
	assert.True(t, errors.Is(err, ErrBusy))
	assert.False(t, errors.Is(err, ErrUnavailable))
}

func TestGuardProbeReportsForeignHolder(t *testing.T) {
	lock := filepath.Join(t.TempDir(), "capture.lock")
	dev := &FakeDevice{}
	g := NewGuard(GuardConfig{
		Device:   dev,
		LockPath: lock,
		Probe:    func(context.Context) (int, bool, error) { return 4242, true, nil },
	}, zaptest.NewLogger(t).Sugar())

	_, err := g.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBusy))
	assert.Contains(t, err.Error(), "4242")
	assert.Zero(t, dev.Opens())

	elsewhere, _ := g.HeldElsewhere()
	assert.False(t, elsewhere, "probe failure path unlocked")
}

func TestGuardProbeErrorIsIgnored(t *testing.T) {
	g := NewGuard(GuardConfig{
		Device: &FakeDevice{},
		Probe:  func(context.Context) (int, bool, error) { return 0, false, errors.New("permission denied") },
	}, zaptest.NewLogger(t).Sugar())

	h, err := g.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, g.Release(h))
}

func TestGuardReleaseAll(t *testing.T) {
	g := newTestGuard(t, &FakeDevice{}, filepath.Join(t.TempDir(), "capture.lock"))
	require.NoError(t, g.ReleaseAll())

	h, err := g.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, g.ReleaseAll())
	assert.False(t, g.Held())
	require.NoError(t, g.Release(h), "release after ReleaseAll is a no-op")
}

func TestIsCaptureNode(t *testing.T) {
	assert.True(t, IsCaptureNode("/dev/snd/pcmC0D0c"))
	assert.True(t, IsCaptureNode("/dev/snd/pcmC1D3c"))
	assert.False(t, IsCaptureNode("/dev/snd/pcmC0D0p"))
	assert.False(t, IsCaptureNode("/dev/snd/controlC0"))
	assert.False(t, IsCaptureNode("/tmp/pcmC0D0c"))
}
