package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/pulse/capture"
	"github.com/teranos/recwake/pulse/schedule"
)

func seedRunning(t *testing.T, h *harness) *schedule.Job {
	t.Helper()
	started := time.Now().Add(-30 * time.Second)
	job := &schedule.Job{
		ID:                 "crashed",
		ScheduledStartTime: started,
		DurationSeconds:    60,
		State:              schedule.StateRunning,
		StartedAtActual:    &started,
		OutputPath:         filepath.Join(h.dir, OutputName(started)),
		OwnerPID:           99999,
	}
	h.store.Seed(job)
	return job
}

func TestReconcileRunningFromDeadProcess(t *testing.T) {
	h := newHarness(t)
	job := seedRunning(t, h)

	// the dead process left a spool with an unpatched header
	spool, err := capture.CreateSpool(job.OutputPath, capture.DefaultFormat())
	require.NoError(t, err)
	_, err = spool.Write(make([]byte, 400))
	require.NoError(t, err)

	res := h.start()
	assert.Equal(t, ActionInterrupted, res.Action)
	assert.Equal(t, schedule.StateRunning, res.PrevState)

	got := h.job()
	assert.Equal(t, schedule.StateFailed, got.State)
	assert.Equal(t, schedule.ErrorInterrupted, got.LastError)
	assert.Empty(t, got.OutputPath)
	assert.Equal(t, capture.SpoolPath(job.OutputPath), got.PartialPath)
	assert.Contains(t, got.LastErrorDetail, "99999")

	f, err := os.Open(got.PartialPath)
	require.NoError(t, err)
	defer f.Close()
	_, dataLen, err := capture.ReadHeader(f)
	require.NoError(t, err)
	assert.Equal(t, uint32(400), dataLen)

	// release stays safe afterwards
	require.NoError(t, h.guard.ReleaseAll())
	require.NoError(t, h.guard.Release(nil))
}

func TestReconcileRunningWithoutPartial(t *testing.T) {
	h := newHarness(t)
	seedRunning(t, h)

	res := h.start()
	assert.Equal(t, ActionInterrupted, res.Action)
	got := h.job()
	assert.Equal(t, schedule.ErrorInterrupted, got.LastError)
	assert.Empty(t, got.PartialPath)
}

func TestReconcileLeavesLiveOwnerAlone(t *testing.T) {
	h := newHarness(t)
	job := seedRunning(t, h)

	owner := capture.NewGuard(capture.GuardConfig{Device: &capture.FakeDevice{}, LockPath: h.lock}, zaptest.NewLogger(t).Sugar())
	handle, err := owner.Acquire(context.Background())
	require.NoError(t, err)
	defer owner.Release(handle)

	res := h.start()
	assert.Equal(t, ActionOwnedElsewhere, res.Action)
	assert.Equal(t, os.Getpid(), res.OwnerPID)
	assert.Equal(t, schedule.StateRunning, h.job().State)
	assert.Equal(t, job.OutputPath, h.job().OutputPath)

	_, err = h.ctrl.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestReconcileMissedFireWithinGrace(t *testing.T) {
	h := newHarness(t)
	h.store.Seed(&schedule.Job{
		ID:                 "late",
		ScheduledStartTime: time.Now().Add(-time.Minute),
		DurationSeconds:    60,
		State:              schedule.StateArmed,
	})

	res := h.start()
	assert.Equal(t, ActionFire, res.Action)
	got := h.waitState(schedule.StateRunning, 2*time.Second)
	assert.Equal(t, "late", got.ID)
}

func TestReconcileMissedFireBeyondGrace(t *testing.T) {
	h := newHarness(t)
	h.store.Seed(&schedule.Job{
		ID:                 "stale",
		ScheduledStartTime: time.Now().Add(-time.Hour),
		DurationSeconds:    60,
		State:              schedule.StateArmed,
	})

	res := h.start()
	assert.Equal(t, ActionMissed, res.Action)
	got := h.job()
	assert.Equal(t, schedule.StateFailed, got.State)
	assert.Equal(t, schedule.ErrorMissedSchedule, got.LastError)
	assert.Zero(t, h.guard.Attempts())
}

func TestReconcileRearmsFutureJob(t *testing.T) {
	h := newHarness(t)
	start := time.Now().Add(time.Hour)
	h.store.Seed(&schedule.Job{
		ID:                 "future",
		ScheduledStartTime: start,
		DurationSeconds:    60,
		State:              schedule.StateArmed,
	})

	res := h.start()
	assert.Equal(t, ActionRearmed, res.Action)
	at, ok := h.wake.Armed("future")
	require.True(t, ok)
	assert.True(t, start.Equal(at))
	assert.Equal(t, schedule.StateArmed, h.job().State)
}

func TestReconcileJobDueWithinToleranceFires(t *testing.T) {
	h := newHarness(t)
	// a systemd timer truncates to the second and fires before the
	// stored sub-second start; re-arming its own unit would fail
	h.wake.armErr = errors.New("Unit recwake-due.service already exists")
	h.store.Seed(&schedule.Job{
		ID:                 "due",
		ScheduledStartTime: time.Now().Add(600 * time.Millisecond),
		DurationSeconds:    60,
		State:              schedule.StateArmed,
	})

	res := h.start()
	assert.Equal(t, ActionFire, res.Action)
	got := h.waitState(schedule.StateRunning, 2*time.Second)
	assert.Equal(t, "due", got.ID)
	assert.Zero(t, h.wake.Arms())
}

func TestReconcileRearmFailureKeepsJobArmed(t *testing.T) {
	h := newHarness(t)
	h.wake.armErr = errors.New("systemd-run: exit status 1")
	h.store.Seed(&schedule.Job{
		ID:                 "future",
		ScheduledStartTime: time.Now().Add(time.Hour),
		DurationSeconds:    60,
		State:              schedule.StateArmed,
	})

	res := h.start()
	assert.Equal(t, ActionRearmed, res.Action)
	assert.Equal(t, schedule.StateArmed, h.job().State)
	assert.Empty(t, h.store.States())

	// the loop is serving requests
	_, err := h.ctrl.Cancel(context.Background())
	require.NoError(t, err)
}

func TestRearmedFireDuringStartIsDelivered(t *testing.T) {
	h := newHarness(t)
	start := time.Now().Add(time.Minute)
	h.store.Seed(&schedule.Job{
		ID:                 "soon",
		ScheduledStartTime: start,
		DurationSeconds:    60,
		State:              schedule.StateArmed,
	})
	// the backend fires as soon as it is armed
	h.wake.onArm = func(jobID string) {
		h.clock.Advance(time.Minute)
		h.ctrl.Fire(jobID)
	}

	res := h.start()
	assert.Equal(t, ActionRearmed, res.Action)
	got := h.waitState(schedule.StateRunning, 2*time.Second)
	assert.Equal(t, "soon", got.ID)
}

func TestReconcileLeavesOtherStatesAlone(t *testing.T) {
	for _, state := range []schedule.State{schedule.StateIdle, schedule.StateCompleted, schedule.StateCancelled} {
		t.Run(string(state), func(t *testing.T) {
			h := newHarness(t)
			job := &schedule.Job{
				ID:                 "x",
				ScheduledStartTime: time.Now().Add(-time.Hour),
				DurationSeconds:    5,
				State:              state,
			}
			if state == schedule.StateCompleted {
				now := time.Now()
				job.StartedAtActual = &now
				job.OutputPath = "/tmp/x.wav"
			}
			h.store.Seed(job)

			res := h.start()
			assert.Equal(t, ActionNone, res.Action)
			assert.Empty(t, h.store.States())
		})
	}
}

func TestReconcileEmptyStore(t *testing.T) {
	h := newHarness(t)
	res := h.start()
	assert.Equal(t, ActionNone, res.Action)
	assert.Empty(t, res.JobID)
}
