// Package session drives the recording job through its lifecycle.
//
// A Controller owns one event loop. Schedule, Cancel and Stop requests,
// wake fires, acquire retries, countdown expiry and capture failures are
// all closures run on that loop, one at a time, so a cancel racing a fire
// is decided by queue order and never interleaves. Every handler re-reads
// the job store before acting; the store, not the controller, is the
// source of truth.
package session

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/logger"
	"github.com/teranos/recwake/pulse/capture"
	"github.com/teranos/recwake/pulse/metrics"
	"github.com/teranos/recwake/pulse/schedule"
	"github.com/teranos/recwake/pulse/wake"
)

// Guard grants exclusive use of the capture input. *capture.Guard
// implements it.
type Guard interface {
	Acquire(ctx context.Context) (*capture.Handle, error)
	Release(h *capture.Handle) error
	ReleaseAll() error
	HeldElsewhere() (bool, int)
}

// RecordingIndex receives an entry per completed recording.
type RecordingIndex interface {
	Add(ctx context.Context, r *schedule.Recording) error
}

// Config wires a Controller to its collaborators.
type Config struct {
	Store      schedule.Store
	Recordings RecordingIndex // optional
	Wake       wake.Scheduler
	Guard      Guard
	Sink       capture.Sink // default: capture.FileSink
	Format     capture.Format
	Policy     Policy
	Metrics    *metrics.Collector // optional
	Now        func() time.Time
}

// earlyFireTolerance absorbs the second-granular calendar of systemd timers.
const earlyFireTolerance = 2 * time.Second

// Controller serializes every job transition through one goroutine.
type Controller struct {
	store      schedule.Store
	recordings RecordingIndex
	wake       wake.Scheduler
	guard      Guard
	sink       capture.Sink
	format     capture.Format
	metrics    *metrics.Collector
	now        func() time.Time
	pid        int
	policy     atomic.Pointer[Policy]

	events  chan func()
	started atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	// owned by the loop goroutine
	token    uint64
	active   *activeSession
	retry    *time.Timer
	attempts int

	mu        sync.Mutex
	changed   chan struct{}
	listeners []func(*schedule.Job)

	logger   *zap.SugaredLogger
	pulseLog *zap.SugaredLogger
	recLog   *zap.SugaredLogger
}

// NewController creates a controller. Call Start before issuing requests.
func NewController(cfg Config, log *zap.SugaredLogger) *Controller {
	if log == nil {
		log = logger.Logger
	}
	if cfg.Sink == nil {
		cfg.Sink = capture.FileSink{}
	}
	if cfg.Format == (capture.Format{}) {
		cfg.Format = capture.DefaultFormat()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Policy == (Policy{}) {
		cfg.Policy = DefaultPolicy()
	}

	c := &Controller{
		store:      cfg.Store,
		recordings: cfg.Recordings,
		wake:       cfg.Wake,
		guard:      cfg.Guard,
		sink:       cfg.Sink,
		format:     cfg.Format,
		metrics:    cfg.Metrics,
		now:        cfg.Now,
		pid:        os.Getpid(),
		events:     make(chan func(), 16),
		done:       make(chan struct{}),
		changed:    make(chan struct{}),
		logger:     log,
		pulseLog:   logger.AddPulseSymbol(log),
		recLog:     logger.AddRecSymbol(log),
	}
	c.SetPolicy(cfg.Policy)
	return c
}

// Policy returns the policy in effect.
func (c *Controller) Policy() Policy {
	return *c.policy.Load()
}

// SetPolicy replaces the policy. Safe to call at any time.
func (c *Controller) SetPolicy(p Policy) {
	p = p.normalized()
	c.policy.Store(&p)
}

// OnChange registers fn to receive a copy of every persisted job. fn runs
// on the event loop and must not block.
func (c *Controller) OnChange(fn func(*schedule.Job)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Start reconciles state left by a previous process, then starts the
// event loop.
func (c *Controller) Start(ctx context.Context) (*ReconcileResult, error) {
	if c.started.Load() {
		return nil, errors.New("session controller already started")
	}
	res, err := c.Reconcile(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reconciliation failed")
	}

	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.started.Store(true)
	go c.loop()
	c.pulseLog.Infow("Session controller started", "reconcile", res.Action, logger.FieldJobID, res.JobID)

	switch res.Action {
	case ActionFire:
		c.Fire(res.JobID)
	case ActionRearmed:
		c.rearm(ctx, res.JobID)
	}
	return res, nil
}

// rearm registers a surviving armed job with the wake backend. A failure
// is logged and leaves the job armed; the previous trigger may still be
// pending.
func (c *Controller) rearm(ctx context.Context, jobID string) {
	err := c.do(ctx, func(ctx context.Context) error {
		job, err := c.load(ctx)
		if err != nil {
			return err
		}
		if job == nil || job.ID != jobID || job.State != schedule.StateArmed {
			return nil
		}
		if err := c.wake.Arm(ctx, job.ScheduledStartTime, job.ID); err != nil {
			return errors.Wrapf(err, "failed to re-arm job %s", job.ID)
		}
		logger.AddPulseOpenSymbol(c.logger).Infow("Armed job re-registered",
			logger.FieldJobID, job.ID, logger.FieldScheduledAt, job.ScheduledStartTime)
		return nil
	})
	if err != nil {
		c.pulseLog.Warnw("Re-arm after restart failed; job left armed", logger.FieldJobID, jobID, logger.FieldError, err)
	}
}

// Shutdown stops the loop. A capture in progress ends as failed with
// ErrorInterrupted and its partial file retained; armed jobs stay armed.
func (c *Controller) Shutdown(ctx context.Context) error {
	if !c.started.Load() {
		return nil
	}
	c.cancel()
	select {
	case <-c.done:
		logger.AddPulseCloseSymbol(c.logger).Infow("Session controller stopped")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "session controller did not stop in time")
	}
}

func (c *Controller) loop() {
	defer close(c.done)
	for {
		select {
		case ev := <-c.events:
			ev()
		case <-c.ctx.Done():
			c.interrupt()
			return
		}
	}
}

// do runs fn on the loop and waits for its result. fn runs even if ctx is
// cancelled after it was queued; its store writes are never cut short.
func (c *Controller) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	opCtx := context.WithoutCancel(ctx)
	reply := make(chan error, 1)
	select {
	case c.events <- func() { reply <- fn(opCtx) }:
	case <-c.done:
		return ErrNotStarted
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrNotStarted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues an internal event. It blocks only while the queue is full.
func (c *Controller) post(fn func()) {
	if !c.started.Load() {
		return
	}
	select {
	case c.events <- fn:
	case <-c.done:
	}
}

// Status returns the persisted job, or nil if none was ever scheduled.
// It never mutates.
func (c *Controller) Status(ctx context.Context) (*schedule.Job, error) {
	job, err := c.store.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read job")
	}
	return job, nil
}

// Schedule validates the request, persists an idle job, arms the wake
// trigger and persists it armed.
func (c *Controller) Schedule(ctx context.Context, start time.Time, durationSeconds int) (*schedule.Job, error) {
	p := c.Policy()
	if durationSeconds < p.MinDurationSeconds || durationSeconds > p.MaxDurationSeconds {
		return nil, errors.Wrapf(ErrInvalidDuration, "%d seconds is outside %d..%d",
			durationSeconds, p.MinDurationSeconds, p.MaxDurationSeconds)
	}
	if start.IsZero() || start.Before(c.now().Add(-time.Second)) {
		return nil, errors.Wrapf(ErrInvalidStartTime, "start time %s has passed", start.Format(time.RFC3339))
	}

	var armed *schedule.Job
	err := c.do(ctx, func(ctx context.Context) error {
		cur, err := c.load(ctx)
		if err != nil {
			return err
		}
		if cur != nil && cur.State.Active() {
			return errors.WithDetailf(
				errors.Wrapf(ErrAlreadyActive, "job %s is %s", cur.ID, cur.State),
				"scheduled for %s", cur.ScheduledStartTime.Format(time.RFC3339))
		}

		job := &schedule.Job{
			ID:                 uuid.NewString(),
			ScheduledStartTime: start,
			DurationSeconds:    durationSeconds,
			State:              schedule.StateIdle,
		}
		if err := c.put(ctx, job); err != nil {
			return err
		}
		if err := c.wake.Arm(ctx, start, job.ID); err != nil {
			c.pulseLog.Warnw("Wake arming failed; job left idle", logger.FieldJobID, job.ID, logger.FieldError, err)
			return errors.Mark(errors.Wrap(err, "failed to arm wake trigger"), ErrArmFailed)
		}
		job.State = schedule.StateArmed
		if err := c.put(ctx, job); err != nil {
			if cerr := c.wake.Cancel(ctx, job.ID); cerr != nil {
				c.pulseLog.Warnw("Failed to disarm after store error", logger.FieldJobID, job.ID, logger.FieldError, cerr)
			}
			return err
		}
		c.pulseLog.Infow("Recording armed",
			logger.FieldJobID, job.ID,
			logger.FieldScheduledAt, start,
			logger.FieldDurationSec, durationSeconds)
		armed = job.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return armed, nil
}

// Cancel disarms an armed job or aborts a running one, discarding its
// capture.
func (c *Controller) Cancel(ctx context.Context) (*schedule.Job, error) {
	var out *schedule.Job
	err := c.do(ctx, func(ctx context.Context) error {
		job, err := c.load(ctx)
		if err != nil {
			return err
		}
		if job == nil || !job.State.Active() {
			return ErrNothingToCancel
		}

		switch job.State {
		case schedule.StateArmed:
			c.stopRetry()
			if err := c.wake.Cancel(ctx, job.ID); err != nil {
				// a surviving trigger is harmless: the fire will find the job cancelled
				c.pulseLog.Warnw("Failed to disarm wake trigger", logger.FieldJobID, job.ID, logger.FieldError, err)
			}
		case schedule.StateRunning:
			s := c.detach(job.ID)
			switch {
			case s != nil:
				if err := s.spool.Discard(); err != nil {
					c.recLog.Warnw("Failed to remove spool", logger.FieldPath, s.spool.Path(), logger.FieldError, err)
				}
			case job.OwnerPID != c.pid:
				return errors.WithHintf(errors.Wrap(ErrNothingToCancel, "capture is owned by another process"),
					"pid %d holds the session", job.OwnerPID)
			default:
				// our capture already ended but its final state was never written
				c.pulseLog.Warnw("Clearing running job with no capture", logger.FieldJobID, job.ID)
			}
		}

		job.Finish(schedule.StateCancelled, c.now())
		if err := c.put(ctx, job); err != nil {
			return err
		}
		c.metrics.RecordOutcome(string(schedule.StateCancelled), "")
		c.pulseLog.Infow("Recording cancelled", logger.FieldJobID, job.ID)
		out = job.Clone()
		return nil
	})
	return out, err
}

// Stop ends a running capture early and keeps what was recorded.
func (c *Controller) Stop(ctx context.Context) (*schedule.Job, error) {
	var out *schedule.Job
	err := c.do(ctx, func(ctx context.Context) error {
		job, err := c.load(ctx)
		if err != nil {
			return err
		}
		if job == nil || job.State != schedule.StateRunning {
			return ErrNotRunning
		}
		if c.active == nil || c.active.jobID != job.ID {
			if job.OwnerPID == c.pid {
				return errors.WithHint(errors.Wrap(ErrNotRunning, "capture already ended"),
					"run: recwake cancel to clear the job")
			}
			return errors.WithHintf(errors.Wrap(ErrNotRunning, "capture is owned by another process"),
				"pid %d holds the session", job.OwnerPID)
		}
		out = c.complete(ctx, job)
		return nil
	})
	return out, err
}

// Fire delivers a wake event. It never blocks the caller.
func (c *Controller) Fire(jobID string) {
	go c.post(func() {
		c.onFire(c.ctx, jobID)
	})
}

// FireSync delivers a wake event and reports whether it started (or is
// retrying) a capture for jobID.
func (c *Controller) FireSync(ctx context.Context, jobID string) (bool, error) {
	var took bool
	err := c.do(ctx, func(ctx context.Context) error {
		took = c.onFire(ctx, jobID)
		return nil
	})
	return took, err
}

// Wait blocks until the job is terminal (or there is none).
func (c *Controller) Wait(ctx context.Context) (*schedule.Job, error) {
	for {
		c.mu.Lock()
		ch := c.changed
		c.mu.Unlock()

		job, err := c.store.Get(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read job")
		}
		if job == nil || job.State.Terminal() {
			return job, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return job, ctx.Err()
		}
	}
}

func (c *Controller) onFire(ctx context.Context, jobID string) bool {
	log := c.pulseLog.With(logger.FieldJobID, jobID)
	job, err := c.load(ctx)
	if err != nil {
		log.Errorw("Wake fire dropped: job unreadable", logger.FieldError, err)
		return false
	}
	if job == nil || job.ID != jobID {
		log.Infow("Wake fire for unknown job ignored")
		return false
	}
	if job.State != schedule.StateArmed {
		log.Infow("Wake fire ignored", logger.FieldState, job.State)
		return false
	}
	if c.retry != nil {
		log.Debugw("Duplicate wake fire during acquire backoff")
		return true
	}

	p := c.Policy()
	lateness := c.now().Sub(job.ScheduledStartTime)
	if lateness < -earlyFireTolerance {
		log.Warnw("Wake fire arrived early; re-arming", logger.FieldLateness, lateness)
		if err := c.wake.Arm(ctx, job.ScheduledStartTime, job.ID); err != nil {
			log.Errorw("Re-arm failed", logger.FieldError, err)
		}
		return false
	}
	if lateness > p.GraceWindow {
		c.fail(ctx, job, schedule.ErrorMissedSchedule,
			errors.Newf("fire arrived %s after the scheduled start (grace %s)", lateness.Round(time.Second), p.GraceWindow), "")
		return false
	}

	c.metrics.RecordLateness(lateness.Seconds())
	log.Infow("Wake fire", logger.FieldLateness, lateness)
	c.attempts = 0
	c.acquire(ctx, job)
	return true
}

func (c *Controller) acquire(ctx context.Context, job *schedule.Job) {
	p := c.Policy()
	c.attempts++
	h, err := c.guard.Acquire(ctx)
	switch {
	case err == nil:
		c.metrics.RecordAcquire("ok")
		c.begin(ctx, job, h)

	case errors.Is(err, capture.ErrBusy):
		c.metrics.RecordAcquire("busy")
		if c.attempts < p.AcquireAttempts {
			c.recLog.Infow("Capture input busy; retrying",
				logger.FieldJobID, job.ID,
				logger.FieldAttempt, c.attempts,
				"backoff", p.AcquireBackoff,
				logger.FieldError, err)
			token, jobID := c.token, job.ID
			c.retry = time.AfterFunc(p.AcquireBackoff, func() {
				c.post(func() { c.onRetry(token, jobID) })
			})
			return
		}
		c.fail(ctx, job, schedule.ErrorResourceBusy, err, "")

	default:
		c.metrics.RecordAcquire("unavailable")
		c.fail(ctx, job, schedule.ErrorResourceUnavailable, err, "")
	}
}

func (c *Controller) onRetry(token uint64, jobID string) {
	c.retry = nil
	if token != c.token {
		c.pulseLog.Debugw("Stale acquire retry dropped", logger.FieldJobID, jobID)
		return
	}
	job, err := c.load(c.ctx)
	if err != nil {
		c.pulseLog.Errorw("Acquire retry dropped: job unreadable", logger.FieldJobID, jobID, logger.FieldError, err)
		return
	}
	if job == nil || job.ID != jobID || job.State != schedule.StateArmed {
		return
	}
	c.acquire(c.ctx, job)
}

func (c *Controller) stopRetry() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.token++
}

// begin owns h from here on: every failure path releases it.
func (c *Controller) begin(ctx context.Context, job *schedule.Job, h *capture.Handle) {
	p := c.Policy()
	started := c.now()
	out := OutputPath(p.RecordingsDir, started)

	spool, err := capture.CreateSpool(out, c.format)
	if err != nil {
		c.releaseHandle(h)
		c.fail(ctx, job, schedule.ErrorStorageWriteFailed, err, "")
		return
	}

	job.State = schedule.StateRunning
	job.StartedAtActual = &started
	job.OutputPath = out
	job.OwnerPID = c.pid
	if err := c.put(ctx, job); err != nil {
		c.releaseHandle(h)
		_ = spool.Discard()
		if fresh, lerr := c.load(ctx); lerr == nil && fresh != nil && fresh.ID == job.ID && fresh.State == schedule.StateArmed {
			c.fail(ctx, fresh, schedule.ErrorStorageWriteFailed, err, "")
		}
		return
	}

	c.token++
	s := newActiveSession(c.token, job.ID, h, spool)
	c.active = s
	go c.capture(s)
	s.timer = time.AfterFunc(job.Duration(), func() {
		c.post(func() { c.onCountdown(s.token) })
	})

	c.recLog.Infow("Recording started",
		logger.FieldJobID, job.ID,
		logger.FieldOutputPath, out,
		logger.FieldDevice, h.Device,
		logger.FieldDurationSec, job.DurationSeconds)
}

func (c *Controller) onCountdown(token uint64) {
	if c.active == nil || c.active.token != token {
		c.recLog.Debugw("Stale countdown dropped")
		return
	}
	job, err := c.load(c.ctx)
	if err != nil {
		c.recLog.Errorw("Countdown: job unreadable; finishing capture anyway", logger.FieldError, err)
	}
	if job == nil || job.ID != c.active.jobID || job.State != schedule.StateRunning {
		// the record moved on without us; keep the audio and stand down
		s := c.detach(c.active.jobID)
		partial, _ := s.spool.Retain()
		c.recLog.Warnw("Countdown for a job that is no longer running", logger.FieldPath, partial)
		return
	}
	c.complete(c.ctx, job)
}

// complete finalizes the capture of a running job owned by this loop.
func (c *Controller) complete(ctx context.Context, job *schedule.Job) *schedule.Job {
	s := c.detach(job.ID)
	elapsed := time.Since(s.monoStart)

	n, err := s.spool.Finalize(c.sink, job.OutputPath)
	if err != nil {
		partial, rerr := s.spool.Retain()
		if rerr != nil {
			c.recLog.Warnw("Failed to retain spool", logger.FieldPath, partial, logger.FieldError, rerr)
		}
		c.fail(ctx, job, schedule.ErrorStorageWriteFailed, err, partial)
		return job.Clone()
	}

	saved := job.OutputPath
	job.Finish(schedule.StateCompleted, c.now())
	if err := c.put(ctx, job); err != nil {
		c.recLog.Errorw("Recording saved but job state not persisted",
			logger.FieldJobID, job.ID, logger.FieldOutputPath, saved, logger.FieldError, err)
		// the audio is whole; point at it so the record is not left running
		c.fail(ctx, job, schedule.ErrorStorageWriteFailed,
			errors.Wrapf(err, "recording saved to %s", saved), saved)
		return job.Clone()
	}

	seconds := int(elapsed.Round(time.Second) / time.Second)
	c.metrics.RecordOutcome(string(schedule.StateCompleted), "")
	c.metrics.RecordCaptured(c.format.DurationOf(s.spool.Written()).Seconds())
	if c.recordings != nil {
		rec := &schedule.Recording{
			JobID:           job.ID,
			Path:            job.OutputPath,
			StartedAt:       *job.StartedAtActual,
			DurationSeconds: seconds,
			Bytes:           n,
			Device:          s.handle.Device,
		}
		if err := c.recordings.Add(ctx, rec); err != nil {
			c.recLog.Warnw("Failed to index recording", logger.FieldOutputPath, job.OutputPath, logger.FieldError, err)
		}
	}
	c.recLog.Infow("Recording completed",
		logger.FieldJobID, job.ID,
		logger.FieldOutputPath, job.OutputPath,
		logger.FieldBytes, n,
		logger.FieldElapsed, elapsed.Round(time.Millisecond))
	return job.Clone()
}

func (c *Controller) onCaptureFailed(s *activeSession) {
	if c.active != s {
		return
	}
	job, err := c.load(c.ctx)
	c.detach(s.jobID)
	partial, rerr := s.spool.Retain()
	if rerr != nil {
		c.recLog.Warnw("Failed to retain spool", logger.FieldPath, partial, logger.FieldError, rerr)
	}
	if err != nil {
		c.recLog.Errorw("Capture failed and job is unreadable", logger.FieldJobID, s.jobID, logger.FieldError, err)
		return
	}
	if job == nil || job.ID != s.jobID || job.State != schedule.StateRunning {
		return
	}
	c.fail(c.ctx, job, s.failKind, s.failErr, partial)
}

// interrupt runs as the loop exits.
func (c *Controller) interrupt() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.active == nil {
		return
	}
	ctx := context.Background()
	s := c.active
	job, err := c.load(ctx)
	c.detach(s.jobID)
	partial, _ := s.spool.Retain()
	if err != nil || job == nil || job.ID != s.jobID || job.State != schedule.StateRunning {
		return
	}
	c.fail(ctx, job, schedule.ErrorInterrupted, errors.New("recwake shut down during capture"), partial)
}

// detach stops the countdown and reader and releases the input. The
// returned session's spool is closed to writers but still on disk.
func (c *Controller) detach(jobID string) *activeSession {
	s := c.active
	if s == nil || s.jobID != jobID {
		return nil
	}
	c.active = nil
	c.token++
	if s.timer != nil {
		s.timer.Stop()
	}
	s.stopping.Store(true)
	c.releaseHandle(s.handle)
	<-s.readerDone
	return s
}

func (c *Controller) releaseHandle(h *capture.Handle) {
	if err := c.guard.Release(h); err != nil {
		c.recLog.Warnw("Capture release reported an error", logger.FieldError, err)
	}
}

func (c *Controller) fail(ctx context.Context, job *schedule.Job, kind schedule.ErrorKind, cause error, partial string) error {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	job.Fail(kind, detail, partial, c.now())
	if err := c.put(ctx, job); err != nil {
		c.pulseLog.Errorw("Failed to persist failure", logger.FieldJobID, job.ID, logger.FieldErrorKind, kind, logger.FieldError, err)
		return err
	}
	c.metrics.RecordOutcome(string(schedule.StateFailed), string(kind))
	c.pulseLog.Warnw("Recording failed",
		logger.FieldJobID, job.ID,
		logger.FieldErrorKind, kind,
		logger.FieldError, detail,
		logger.FieldPath, partial)
	return nil
}

func (c *Controller) load(ctx context.Context) (*schedule.Job, error) {
	job, err := c.store.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read job")
	}
	return job, nil
}

func (c *Controller) put(ctx context.Context, job *schedule.Job) error {
	if err := c.store.Put(ctx, job); err != nil {
		return errors.Wrapf(err, "failed to persist job %s as %s", job.ID, job.State)
	}
	c.metrics.SetState(string(job.State))

	c.mu.Lock()
	listeners := c.listeners
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(job.Clone())
	}
	return nil
}
