package commands

import (
	"context"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/recwake/logger"
	"github.com/teranos/recwake/pulse/schedule"
	"github.com/teranos/recwake/pulse/session"
	"github.com/teranos/recwake/sym"
)

// CancelCmd disarms or aborts the job.
var CancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the armed or running recording",
	Long: `Cancel the armed or running recording.

An armed job is disarmed. A running capture is stopped and its audio is
discarded; use 'recwake stop' to keep it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate(cmd, "Recording cancelled",
			func(ctx context.Context, c jobAPI) (*schedule.Job, error) { return c.Cancel(ctx) })
	},
}

// StopCmd ends a running capture early and keeps it.
var StopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running recording early and keep what was captured",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate(cmd, "Recording stopped",
			func(ctx context.Context, c jobAPI) (*schedule.Job, error) { return c.Stop(ctx) })
	},
}

// StatusCmd shows the persisted job.
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: sym.Pulse + " Show the current recording job",
	Long: `Show the current recording job.

Asks the daemon when one is running, otherwise reads the job store
directly. Status never changes the job.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

// LsCmd lists finished recordings.
var LsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recent recordings",
	Args:  cobra.NoArgs,
	RunE:  runLs,
}

func init() {
	for _, c := range []*cobra.Command{CancelCmd, StopCmd, StatusCmd, LsCmd} {
		c.Flags().StringP("output", "o", formatText, "Output format: text, json, yaml")
	}
	LsCmd.Flags().IntP("limit", "n", schedule.DefaultRecordingsLimit, "Number of recordings to show")
}

// jobAPI is what cancel and stop need; both *server.Client and
// *session.Controller satisfy it.
type jobAPI interface {
	Cancel(ctx context.Context) (*schedule.Job, error)
	Stop(ctx context.Context) (*schedule.Job, error)
}

// mutate runs op against the daemon, or a local controller when the
// daemon is down and the wake backend allows it.
func mutate(cmd *cobra.Command, done string, op func(context.Context, jobAPI) (*schedule.Job, error)) error {
	format, _ := cmd.Flags().GetString("output")
	ctx := commandContext(cmd)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := daemonClient(ctx, cfg)
	if err != nil {
		return err
	}

	var job *schedule.Job
	if client != nil {
		job, err = op(ctx, client)
	} else {
		if err := offlineAllowed(cfg); err != nil {
			return err
		}
		err = withController(ctx, cfg, func(c *session.Controller) error {
			var oerr error
			job, oerr = op(ctx, c)
			return oerr
		})
	}
	if err != nil {
		return err
	}
	if format == formatText {
		pterm.Success.Println(done)
	}
	return printJob(cmd.OutOrStdout(), job, format)
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("output")
	ctx := commandContext(cmd)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := daemonClient(ctx, cfg)
	if err != nil {
		return err
	}

	var job *schedule.Job
	if client != nil {
		job, err = client.Status(ctx)
	} else {
		logger.Logger.Debugw("No daemon answering; reading job store directly", logger.FieldAddress, cfg.Server.Address)
		database, store, _, oerr := openStores(cfg, nil)
		if oerr != nil {
			return oerr
		}
		defer database.Close()
		job, err = store.Get(ctx)
	}
	if err != nil {
		return err
	}
	return printJob(cmd.OutOrStdout(), job, format)
}

func runLs(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("output")
	limit, _ := cmd.Flags().GetInt("limit")
	ctx := commandContext(cmd)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := daemonClient(ctx, cfg)
	if err != nil {
		return err
	}

	var recs []schedule.Recording
	if client != nil {
		recs, err = client.Recordings(ctx, limit)
	} else {
		database, _, index, oerr := openStores(cfg, nil)
		if oerr != nil {
			return oerr
		}
		defer database.Close()
		recs, err = index.List(ctx, limit)
	}
	if err != nil {
		return err
	}
	return printRecordings(cmd.OutOrStdout(), recs, format)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
