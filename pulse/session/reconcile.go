package session

import (
	"context"
	"os"
	"time"

	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/logger"
	"github.com/teranos/recwake/pulse/capture"
	"github.com/teranos/recwake/pulse/schedule"
)

// ReconcileAction names what reconciliation did with the stored job.
type ReconcileAction string

const (
	ActionNone           ReconcileAction = "none"
	ActionInterrupted    ReconcileAction = "interrupted"     // running job from a dead process marked failed
	ActionOwnedElsewhere ReconcileAction = "owned_elsewhere" // running job whose process is still alive
	ActionFire           ReconcileAction = "fire"            // missed fire within grace, firing now
	ActionMissed         ReconcileAction = "missed"          // missed fire beyond grace, marked failed
	ActionRearmed        ReconcileAction = "rearmed"         // future job re-registered with the wake backend
)

// ReconcileResult describes the outcome of Reconcile.
type ReconcileResult struct {
	Action      ReconcileAction `json:"action"`
	JobID       string          `json:"job_id,omitempty"`
	PrevState   schedule.State  `json:"prev_state,omitempty"`
	PartialPath string          `json:"partial_path,omitempty"`
	OwnerPID    int             `json:"owner_pid,omitempty"`
}

// Reconcile resolves a job left mid-flight by a previous process. Start
// calls it before the loop accepts requests; it must not run concurrently
// with the loop. A job still in the future is reported as ActionRearmed
// and re-armed by Start after the loop is running. A job within
// earlyFireTolerance of its start counts as due.
func (c *Controller) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	log := logger.AddPulseOpenSymbol(c.logger)
	res := &ReconcileResult{Action: ActionNone}

	job, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return res, nil
	}
	res.JobID, res.PrevState = job.ID, job.State

	switch job.State {
	case schedule.StateRunning:
		if held, pid := c.guard.HeldElsewhere(); held {
			res.Action, res.OwnerPID = ActionOwnedElsewhere, pid
			log.Infow("Running job is owned by a live process", logger.FieldJobID, job.ID, logger.FieldHolderPID, pid)
			return res, nil
		}
		if err := c.guard.ReleaseAll(); err != nil {
			log.Warnw("Defensive release failed", logger.FieldError, err)
		}

		partial := capture.SpoolPath(job.OutputPath)
		if _, err := os.Stat(partial); err == nil {
			if n, err := capture.RepairSpool(partial); err != nil {
				log.Warnw("Partial recording could not be repaired", logger.FieldPath, partial, logger.FieldError, err)
			} else {
				log.Infow("Partial recording repaired", logger.FieldPath, partial, logger.FieldBytes, n)
			}
		} else {
			partial = ""
		}

		detail := errors.Newf("session in pid %d ended without finishing", job.OwnerPID)
		if err := c.fail(ctx, job, schedule.ErrorInterrupted, detail, partial); err != nil {
			return nil, err
		}
		res.Action, res.PartialPath = ActionInterrupted, partial

	case schedule.StateArmed:
		lateness := c.now().Sub(job.ScheduledStartTime)
		switch {
		case lateness < -earlyFireTolerance:
			// Start re-arms once the loop can receive the fire
			res.Action = ActionRearmed
		case lateness <= c.Policy().GraceWindow:
			res.Action = ActionFire
			log.Infow("Armed job is due; firing", logger.FieldJobID, job.ID, logger.FieldLateness, lateness)
		default:
			err := c.fail(ctx, job, schedule.ErrorMissedSchedule,
				errors.Newf("scheduled start passed %s ago while recwake was not running", lateness.Round(time.Second)), "")
			if err != nil {
				return nil, err
			}
			res.Action = ActionMissed
		}
	}
	return res, nil
}
