package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/logger"
	"github.com/teranos/recwake/pulse/schedule"
	"github.com/teranos/recwake/sym"
)

// FireCmd is the wake entry point. systemd timers armed by the daemon
// run `recwake fire <jobID>` at the scheduled time.
var FireCmd = &cobra.Command{
	Use:   "fire <jobID>",
	Short: sym.Wake + " Deliver a wake event for a job",
	Long: sym.Wake + ` Deliver a wake event for a job.

Forwards the event to a running daemon. Without one, runs the session
controller in this process until the recording finishes; SIGINT or
SIGTERM ends it as interrupted and keeps the partial audio.

A fire for a job that is no longer armed does nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: runFire,
}

func runFire(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.AddWakeSymbol(logger.Logger)

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := daemonClient(ctx, cfg)
	if err != nil {
		return err
	}
	if client != nil {
		log.Infow("Forwarding wake to daemon", logger.FieldJobID, jobID, logger.FieldAddress, client.BaseURL())
		return client.Fire(ctx, jobID)
	}

	rt, err := newRuntime(ctx, cfg, logger.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.close(shutdownTimeout); cerr != nil {
			log.Warnw("Shutdown after fire failed", logger.FieldError, cerr)
		}
	}()
	if _, err := rt.start(ctx); err != nil {
		return err
	}

	took, err := rt.ctrl.FireSync(ctx, jobID)
	if err != nil {
		return err
	}
	job, err := rt.ctrl.Status(ctx)
	if err != nil {
		return err
	}
	// Recovery in start may already have begun this capture.
	ours := job != nil && job.ID == jobID && job.State == schedule.StateRunning && job.OwnerPID == os.Getpid()
	if !took && !ours {
		log.Infow("Wake ignored; job is not armed", logger.FieldJobID, jobID)
		return nil
	}

	job, err = rt.ctrl.Wait(ctx)
	if errors.Is(err, context.Canceled) {
		pterm.Warning.Println("Interrupted; the partial recording will be kept")
		return nil
	}
	if err != nil {
		return err
	}
	return reportOutcome(job)
}

// reportOutcome turns a terminal job into the command's result.
func reportOutcome(job *schedule.Job) error {
	if job == nil {
		return nil
	}
	switch job.State {
	case schedule.StateCompleted:
		pterm.Success.Println("Recording saved to " + job.OutputPath)
		return nil
	case schedule.StateFailed:
		err := errors.Newf("recording %s failed: %s", job.ID, job.LastError)
		if job.LastErrorDetail != "" {
			err = errors.WithDetail(err, job.LastErrorDetail)
		}
		if job.PartialPath != "" {
			err = errors.WithHintf(err, "partial audio kept at %s", job.PartialPath)
		}
		return err
	default:
		pterm.Info.Println("Recording " + string(job.State))
		return nil
	}
}
