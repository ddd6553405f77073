package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/pulse/capture"
	"github.com/teranos/recwake/pulse/schedule"
)

// fakeWake records arm/cancel calls; tests deliver fires by hand, or
// through onArm to simulate a backend that fires right away.
type fakeWake struct {
	mu      sync.Mutex
	armed   map[string]time.Time
	arms    int
	cancels []string
	armErr  error
	onArm   func(jobID string)
}

func newFakeWake() *fakeWake {
	return &fakeWake{armed: make(map[string]time.Time)}
}

func (w *fakeWake) Arm(ctx context.Context, at time.Time, jobID string) error {
	w.mu.Lock()
	if w.armErr != nil {
		w.mu.Unlock()
		return w.armErr
	}
	w.arms++
	w.armed[jobID] = at
	onArm := w.onArm
	w.mu.Unlock()

	if onArm != nil {
		onArm(jobID)
	}
	return nil
}

func (w *fakeWake) Cancel(ctx context.Context, jobID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancels = append(w.cancels, jobID)
	delete(w.armed, jobID)
	return nil
}

func (w *fakeWake) Armed(jobID string) (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	at, ok := w.armed[jobID]
	return at, ok
}

func (w *fakeWake) Arms() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.arms
}

func (w *fakeWake) Cancels() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.cancels...)
}

// countingGuard wraps a real guard and counts acquisitions and effective
// releases. busy makes the first n Acquire calls report ErrBusy.
type countingGuard struct {
	*capture.Guard

	mu       sync.Mutex
	acquired int
	released map[*capture.Handle]int
	busy     int
	attempts int
}

func (g *countingGuard) Acquire(ctx context.Context) (*capture.Handle, error) {
	g.mu.Lock()
	g.attempts++
	if g.busy > 0 {
		g.busy--
		g.mu.Unlock()
		return nil, errors.Mark(errors.New("device or resource busy"), capture.ErrBusy)
	}
	g.mu.Unlock()

	h, err := g.Guard.Acquire(ctx)
	if err == nil {
		g.mu.Lock()
		g.acquired++
		g.mu.Unlock()
	}
	return h, err
}

func (g *countingGuard) Release(h *capture.Handle) error {
	g.mu.Lock()
	if h != nil && g.Guard.Held() {
		g.released[h]++
	}
	g.mu.Unlock()
	return g.Guard.Release(h)
}

func (g *countingGuard) Attempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts
}

// releasedOnce asserts every acquired handle was released exactly once.
func (g *countingGuard) releasedOnce(t *testing.T) {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.Len(t, g.released, g.acquired)
	for _, n := range g.released {
		require.Equal(t, 1, n)
	}
	require.False(t, g.Guard.Held())
}

// clock is an adjustable wall clock.
type clock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.offset += d
	c.mu.Unlock()
}

type harness struct {
	t     *testing.T
	store *schedule.MemoryStore
	wake  *fakeWake
	dev   *capture.FakeDevice
	guard *countingGuard
	clock *clock
	index *memIndex
	dir   string
	lock  string
	cfg   Config
	ctrl  *Controller
}

type memIndex struct {
	mu   sync.Mutex
	recs []schedule.Recording
}

func (m *memIndex) Add(ctx context.Context, r *schedule.Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, *r)
	return nil
}

func (m *memIndex) All() []schedule.Recording {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schedule.Recording(nil), m.recs...)
}

func fastPolicy(dir string) Policy {
	return Policy{
		MinDurationSeconds: 1,
		MaxDurationSeconds: 3600,
		AcquireAttempts:    3,
		AcquireBackoff:     20 * time.Millisecond,
		GraceWindow:        5 * time.Minute,
		RecordingsDir:      dir,
	}
}

// newHarness builds an unstarted controller over in-memory collaborators.
func newHarness(t *testing.T) *harness {
	t.Helper()
	tmp := t.TempDir()
	h := &harness{
		t:     t,
		store: schedule.NewMemoryStore(),
		wake:  newFakeWake(),
		dev:   &capture.FakeDevice{},
		clock: &clock{},
		index: &memIndex{},
		dir:   filepath.Join(tmp, "recordings"),
		lock:  filepath.Join(tmp, "capture.lock"),
	}
	h.guard = &countingGuard{
		Guard:    capture.NewGuard(capture.GuardConfig{Device: h.dev, LockPath: h.lock}, zaptest.NewLogger(t).Sugar()),
		released: make(map[*capture.Handle]int),
	}
	h.cfg = Config{
		Store:      h.store,
		Recordings: h.index,
		Wake:       h.wake,
		Guard:      h.guard,
		Policy:     fastPolicy(h.dir),
		Now:        h.clock.Now,
	}
	return h
}

func (h *harness) start() *ReconcileResult {
	h.t.Helper()
	h.ctrl = NewController(h.cfg, zaptest.NewLogger(h.t).Sugar())
	res, err := h.ctrl.Start(context.Background())
	require.NoError(h.t, err)
	h.t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.ctrl.Shutdown(ctx)
	})
	return res
}

func (h *harness) job() *schedule.Job {
	h.t.Helper()
	job, err := h.store.Get(context.Background())
	require.NoError(h.t, err)
	return job
}

func (h *harness) waitState(want schedule.State, timeout time.Duration) *schedule.Job {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		job, _ := h.store.Get(context.Background())
		return job != nil && job.State == want
	}, timeout, 5*time.Millisecond, "job never reached %s", want)
	return h.job()
}

// running schedules a job and fires it, returning once it is running.
func (h *harness) running(durationSeconds int) *schedule.Job {
	h.t.Helper()
	ctx := context.Background()
	job, err := h.ctrl.Schedule(ctx, h.clock.Now().Add(time.Second), durationSeconds)
	require.NoError(h.t, err)
	h.clock.Advance(time.Second)
	took, err := h.ctrl.FireSync(ctx, job.ID)
	require.NoError(h.t, err)
	require.True(h.t, took)
	return h.waitState(schedule.StateRunning, 2*time.Second)
}
