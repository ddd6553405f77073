package commands

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/recwake/am"
	"github.com/teranos/recwake/db"
	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/logger"
	"github.com/teranos/recwake/pulse/capture"
	"github.com/teranos/recwake/pulse/metrics"
	"github.com/teranos/recwake/pulse/schedule"
	"github.com/teranos/recwake/pulse/session"
	"github.com/teranos/recwake/pulse/wake"
	"github.com/teranos/recwake/server"
)

// runtime is a fully wired controller and the resources behind it. The
// daemon runs one for its lifetime; fire and the offline fallbacks run a
// short-lived one.
type runtime struct {
	cfg        *am.Config
	db         *sql.DB
	store      schedule.Store
	recordings *schedule.RecordingStore
	guard      *capture.Guard
	metrics    *metrics.Collector
	wake       wake.Scheduler
	stopWake   func()
	ctrl       *session.Controller
	log        *zap.SugaredLogger
}

// openStores opens the database and picks the job store. Read-only
// commands use it without building a controller.
func openStores(cfg *am.Config, log *zap.SugaredLogger) (*sql.DB, schedule.Store, *schedule.RecordingStore, error) {
	database, err := db.OpenWithMigrations(cfg.DatabasePath(), log)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed to open database")
	}

	var store schedule.Store
	switch cfg.Database.JobStore {
	case am.JobStoreFile:
		store = schedule.NewFileStore(cfg.JobFilePath())
	default:
		store = schedule.NewSQLStore(database)
	}
	return database, store, schedule.NewRecordingStore(database), nil
}

// newRuntime wires every collaborator. Nothing runs until start.
func newRuntime(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (*runtime, error) {
	database, store, recordings, err := openStores(cfg, log)
	if err != nil {
		return nil, err
	}

	format := capture.Format{
		SampleRate:    cfg.Recording.SampleRate,
		Channels:      cfg.Recording.Channels,
		BitsPerSample: 16,
	}
	dev, err := capture.NewDevice(cfg.Capture.Backend, capture.ExecDeviceConfig{
		Command: cfg.Capture.Command,
		Device:  cfg.Capture.Device,
		Format:  format,
	})
	if err != nil {
		database.Close()
		return nil, errors.WithHint(err, "check capture.backend and capture.command in am.toml")
	}

	var probe capture.HolderProbe
	if cfg.Capture.ProbeForeignHolders && cfg.Capture.Backend != am.CaptureTone {
		probe = capture.ProbeALSACapture
	}
	guard := capture.NewGuard(capture.GuardConfig{
		Device:   dev,
		LockPath: cfg.LockPath(),
		Probe:    probe,
	}, log.Named("guard"))

	rt := &runtime{
		cfg:        cfg,
		db:         database,
		store:      store,
		recordings: recordings,
		guard:      guard,
		metrics:    metrics.NewCollector(),
		log:        log,
	}

	// The timer backend delivers fires in-process; rt.ctrl is assigned
	// before anything is armed.
	scheduler, stop, err := wake.New(ctx, wake.Config{
		Backend:      cfg.Wake.Backend,
		TickInterval: cfg.TickInterval(),
		FireCommand:  cfg.Wake.FireCommand,
	}, func(jobID string) { rt.ctrl.Fire(jobID) }, log.Named("wake"))
	if err != nil {
		database.Close()
		return nil, err
	}
	rt.wake = scheduler
	rt.stopWake = stop

	rt.ctrl = session.NewController(session.Config{
		Store:      store,
		Recordings: recordings,
		Wake:       scheduler,
		Guard:      guard,
		Format:     format,
		Policy:     session.PolicyFromConfig(cfg),
		Metrics:    rt.metrics,
	}, log.Named("session"))
	return rt, nil
}

// start reconciles persisted state and starts the controller loop.
func (rt *runtime) start(ctx context.Context) (*session.ReconcileResult, error) {
	res, err := rt.ctrl.Start(ctx)
	if err != nil {
		return nil, err
	}
	if res.Action != session.ActionNone {
		logger.AddPulseOpenSymbol(rt.log).Infow("Recovered job on startup",
			"action", res.Action,
			logger.FieldJobID, res.JobID,
			logger.FieldPrevState, res.PrevState)
	}
	return res, nil
}

// close shuts the controller down (failing any capture it owns as
// Interrupted) and releases every resource.
func (rt *runtime) close(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := rt.ctrl.Shutdown(ctx)
	rt.stopWake()
	if cerr := rt.db.Close(); cerr != nil && err == nil {
		err = errors.Wrap(cerr, "failed to close database")
	}
	return err
}

// loadConfig loads the cascade and reports which files contributed.
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	return cfg, nil
}

// daemonClient returns a client for a running daemon, or nil if none is
// answering at server.address.
func daemonClient(ctx context.Context, cfg *am.Config) (*server.Client, error) {
	client, err := server.NewClient(cfg.Server.Address)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := client.Health(pingCtx); err != nil {
		if errors.IsServiceUnavailableError(err) {
			return nil, nil
		}
		return nil, err
	}
	return client, nil
}

// offlineAllowed reports whether a mutating command may run its own
// controller when no daemon answers. Only systemd timers outlive the
// process that armed them.
func offlineAllowed(cfg *am.Config) error {
	if cfg.Wake.Backend == am.WakeSystemd {
		return nil
	}
	return errors.WithHint(
		errors.Wrapf(errors.ErrServiceUnavailable, "no recwake daemon at %s", cfg.Server.Address),
		"start it with `recwake daemon`, or set wake.backend = \"systemd\" to schedule without one")
}

// withController runs fn against a short-lived local controller. If
// startup recovery began a capture in this process, it is seen through
// before returning rather than interrupted.
func withController(ctx context.Context, cfg *am.Config, fn func(*session.Controller) error) error {
	rt, err := newRuntime(ctx, cfg, logger.Logger)
	if err != nil {
		return err
	}
	res, err := rt.start(ctx)
	if err != nil {
		_ = rt.close(5 * time.Second)
		return err
	}
	ferr := fn(rt.ctrl)
	if res.Action == session.ActionFire {
		logger.AddPulseSymbol(rt.log).Infow("Recovered job is recording; waiting for it to finish",
			logger.FieldJobID, res.JobID)
		if _, err := rt.ctrl.Wait(ctx); err != nil && ferr == nil {
			ferr = err
		}
	}
	if cerr := rt.close(10 * time.Second); cerr != nil && ferr == nil {
		return cerr
	}
	return ferr
}
