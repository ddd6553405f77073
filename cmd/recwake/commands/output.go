package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"

	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/pulse/schedule"
)

// Output formats accepted by -o
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

const timeLayout = "2006-01-02 15:04:05"

// encode writes v as JSON or YAML.
func encode(w io.Writer, v interface{}, format string) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(v), "failed to encode JSON")
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return errors.Wrap(err, "failed to encode YAML")
		}
		return enc.Close()
	default:
		return errors.Wrapf(errors.ErrInvalidRequest, "unsupported format %q (supported: text, json, yaml)", format)
	}
}

// printJob renders one job. A nil job prints "no job" in text and null
// otherwise.
func printJob(w io.Writer, job *schedule.Job, format string) error {
	if format != formatText {
		return encode(w, job, format)
	}
	if job == nil {
		_, err := fmt.Fprintln(w, "No recording scheduled")
		return err
	}

	rows := pterm.TableData{
		{"Job", job.ID},
		{"State", stateColor(job.State).Sprint(string(job.State))},
		{"Start", job.ScheduledStartTime.Local().Format(timeLayout)},
		{"Duration", (time.Duration(job.DurationSeconds) * time.Second).String()},
	}
	if job.StartedAtActual != nil {
		rows = append(rows, []string{"Started", job.StartedAtActual.Local().Format(timeLayout)})
	}
	if job.OutputPath != "" {
		rows = append(rows, []string{"Output", job.OutputPath})
	}
	if job.State == schedule.StateRunning && job.OwnerPID != 0 {
		rows = append(rows, []string{"Owner", "pid " + strconv.Itoa(job.OwnerPID)})
	}
	if job.LastError != schedule.ErrorNone {
		msg := string(job.LastError)
		if job.LastErrorDetail != "" {
			msg += ": " + job.LastErrorDetail
		}
		rows = append(rows, []string{"Error", pterm.FgRed.Sprint(msg)})
	}
	if job.PartialPath != "" {
		rows = append(rows, []string{"Partial", job.PartialPath})
	}
	if job.CompletedAt != nil {
		rows = append(rows, []string{"Finished", job.CompletedAt.Local().Format(timeLayout)})
	}

	out, err := pterm.DefaultTable.WithData(rows).Srender()
	if err != nil {
		return errors.Wrap(err, "failed to render job")
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

func stateColor(s schedule.State) pterm.Color {
	switch s {
	case schedule.StateArmed:
		return pterm.FgCyan
	case schedule.StateRunning:
		return pterm.FgYellow
	case schedule.StateCompleted:
		return pterm.FgGreen
	case schedule.StateFailed:
		return pterm.FgRed
	default:
		return pterm.FgDefault
	}
}

// printRecordings renders the recordings index, newest first.
func printRecordings(w io.Writer, recs []schedule.Recording, format string) error {
	if format != formatText {
		if recs == nil {
			recs = []schedule.Recording{}
		}
		return encode(w, recs, format)
	}
	if len(recs) == 0 {
		_, err := fmt.Fprintln(w, "No recordings yet")
		return err
	}

	rows := pterm.TableData{{"Started", "Duration", "Size", "Path"}}
	for _, r := range recs {
		rows = append(rows, []string{
			r.StartedAt.Local().Format(timeLayout),
			(time.Duration(r.DurationSeconds) * time.Second).String(),
			humanBytes(r.Bytes),
			r.Path,
		})
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
	if err != nil {
		return errors.Wrap(err, "failed to render recordings")
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
