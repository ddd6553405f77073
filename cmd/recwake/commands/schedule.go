package commands

import (
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/pulse/schedule"
	"github.com/teranos/recwake/pulse/session"
	"github.com/teranos/recwake/sym"
)

// ScheduleCmd schedules the recording.
var ScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: sym.Pulse + " Schedule a recording",
	Long: `Schedule a recording to start at a given time.

--at takes a wall-clock time (HH:MM or HH:MM:SS, meaning its next
occurrence, tomorrow if already past today) or an RFC3339 timestamp.
--in takes a delay from now. Exactly one is required.

Examples:
  recwake schedule --at 07:30 --duration 45m
  recwake schedule --at 2026-10-20T09:00:00+02:00 --duration 1h
  recwake schedule --in 30s --duration 10s`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

func init() {
	ScheduleCmd.Flags().String("at", "", "Start time: HH:MM, HH:MM:SS or RFC3339")
	ScheduleCmd.Flags().Duration("in", 0, "Start after this delay (e.g. 30s, 2h)")
	ScheduleCmd.Flags().Duration("duration", 0, "Recording length (e.g. 90s, 45m); whole seconds")
	ScheduleCmd.Flags().StringP("output", "o", "text", "Output format: text, json, yaml")
	_ = ScheduleCmd.MarkFlagRequired("duration")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	at, _ := cmd.Flags().GetString("at")
	in, _ := cmd.Flags().GetDuration("in")
	dur, _ := cmd.Flags().GetDuration("duration")
	format, _ := cmd.Flags().GetString("output")

	start, err := parseStart(at, in, time.Now())
	if err != nil {
		return err
	}
	seconds, err := durationSeconds(dur)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	var job *schedule.Job
	client, err := daemonClient(ctx, cfg)
	if err != nil {
		return err
	}
	if client != nil {
		job, err = client.Schedule(ctx, start, seconds)
	} else {
		if err := offlineAllowed(cfg); err != nil {
			return err
		}
		err = withController(ctx, cfg, func(c *session.Controller) error {
			var serr error
			job, serr = c.Schedule(ctx, start, seconds)
			return serr
		})
	}
	if err != nil {
		return err
	}

	if format == "text" {
		pterm.Success.Printf("Recording armed for %s (%s)\n",
			job.ScheduledStartTime.Local().Format("Mon 02 Jan 15:04:05"),
			time.Duration(job.DurationSeconds)*time.Second)
	}
	return printJob(cmd.OutOrStdout(), job, format)
}

// parseStart resolves --at / --in against now.
func parseStart(at string, in time.Duration, now time.Time) (time.Time, error) {
	switch {
	case at != "" && in != 0:
		return time.Time{}, errors.Wrap(errors.ErrInvalidRequest, "use either --at or --in, not both")
	case in < 0:
		return time.Time{}, errors.Wrapf(session.ErrInvalidStartTime, "--in %s is negative", in)
	case in > 0:
		return now.Add(in), nil
	case at == "":
		return time.Time{}, errors.Wrap(errors.ErrInvalidRequest, "one of --at or --in is required")
	}

	if t, err := time.Parse(time.RFC3339, at); err == nil {
		return t, nil
	}
	for _, layout := range []string{"15:04:05", "15:04"} {
		clock, err := time.ParseInLocation(layout, at, now.Location())
		if err != nil {
			continue
		}
		t := time.Date(now.Year(), now.Month(), now.Day(),
			clock.Hour(), clock.Minute(), clock.Second(), 0, now.Location())
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	}
	return time.Time{}, errors.WithHint(
		errors.Wrapf(session.ErrInvalidStartTime, "cannot parse %q", at),
		"use HH:MM, HH:MM:SS or RFC3339 such as 2026-10-20T09:00:00+02:00")
}

// durationSeconds converts --duration to whole seconds. Bounds are checked
// by the controller against the configured policy.
func durationSeconds(d time.Duration) (int, error) {
	if d%time.Second != 0 {
		return 0, errors.Wrapf(session.ErrInvalidDuration, "%s is not a whole number of seconds", d)
	}
	return int(d / time.Second), nil
}
