package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/recwake/am"
	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/logger"
	"github.com/teranos/recwake/pulse/session"
	"github.com/teranos/recwake/server"
	"github.com/teranos/recwake/sym"
)

// shutdownTimeout bounds graceful shutdown: finalizing an interrupted
// capture and draining API requests.
const shutdownTimeout = 15 * time.Second

// DaemonCmd runs the controller, wake backend and control API.
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: sym.Pulse + " Run the recording daemon in the foreground",
	Long: sym.Pulse + ` Run the recording daemon in the foreground.

The daemon:
- Recovers the job left by a previous run (interrupted capture, missed fire)
- Arms the wake backend and records when it fires
- Serves the control API and job update stream on server.address
- Reloads policy and allowed origins when am.toml changes
- Runs until interrupted; a capture in progress is kept as a partial file`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.Logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := newRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	res, err := rt.start(ctx)
	if err != nil {
		_ = rt.close(shutdownTimeout)
		return errors.Wrap(err, "failed to start session controller")
	}
	printRecovery(res)

	srv := server.New(server.Config{
		Address:        cfg.Server.Address,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Controller:     rt.ctrl,
		Recordings:     rt.recordings,
		Metrics:        rt.metrics,
	}, log)

	watchers := watchConfig(rt, srv)
	defer func() {
		for _, w := range watchers {
			_ = w.Stop()
		}
	}()

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()

	pterm.Success.Printf("%s recwake daemon listening on %s (wake: %s, capture: %s)\n",
		sym.PulseOpen, cfg.Server.Address, cfg.Wake.Backend, cfg.Capture.Backend)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = rt.close(shutdownTimeout)
		if err != nil {
			return err
		}
		return nil
	case <-sigChan:
		pterm.Info.Printf("\n%s Shutting down gracefully (press Ctrl+C again to force)...\n", sym.PulseClose)

		done := make(chan error, 1)
		go func() {
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			err := srv.Shutdown(sctx)
			if cerr := rt.close(shutdownTimeout); cerr != nil && err == nil {
				err = cerr
			}
			done <- err
		}()

		select {
		case err := <-done:
			if err != nil {
				return errors.Wrap(err, "shutdown error")
			}
			pterm.Success.Println("Daemon stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}

// watchConfig hot-reloads the recording policy and allowed origins. The
// capture backend, wake backend and addresses need a restart.
func watchConfig(rt *runtime, srv *server.Server) []*am.ConfigWatcher {
	files := am.ActiveFiles()
	if len(files) == 0 {
		return nil
	}

	var watchers []*am.ConfigWatcher
	for _, path := range files {
		w, err := am.NewConfigWatcher(path)
		if err != nil {
			rt.log.Warnw("Config hot reload disabled", logger.FieldPath, path, logger.FieldError, err)
			continue
		}
		w.OnReload(func(cfg *am.Config) error {
			rt.ctrl.SetPolicy(session.PolicyFromConfig(cfg))
			srv.SetAllowedOrigins(cfg.Server.AllowedOrigins)
			logger.AddAMSymbol(rt.log).Infow("Recording policy reloaded",
				"max_duration_seconds", cfg.Recording.MaxDurationSeconds,
				"grace_window_seconds", cfg.Wake.GraceWindowSeconds)
			return nil
		})
		w.Start()
		am.SetGlobalWatcher(w)
		watchers = append(watchers, w)
	}
	return watchers
}

func printRecovery(res *session.ReconcileResult) {
	switch res.Action {
	case session.ActionInterrupted:
		msg := "Previous recording " + res.JobID + " was interrupted"
		if res.PartialPath != "" {
			msg += "; partial audio kept at " + res.PartialPath
		}
		pterm.Warning.Println(msg)
	case session.ActionMissed:
		pterm.Warning.Println("Recording " + res.JobID + " missed its start time")
	case session.ActionFire:
		pterm.Info.Println("Recording " + res.JobID + " is late but within the grace window; starting now")
	case session.ActionOwnedElsewhere:
		pterm.Info.Printf("Recording %s is being captured by pid %d\n", res.JobID, res.OwnerPID)
	case session.ActionRearmed:
		pterm.Info.Println("Re-armed recording " + res.JobID)
	}
}
