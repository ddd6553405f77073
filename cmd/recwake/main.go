package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/recwake/am"
	"github.com/teranos/recwake/cmd/recwake/commands"
	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/logger"
)

var rootCmd = &cobra.Command{
	Use:   "recwake",
	Short: "recwake - scheduled voice recording orchestrator",
	Long: `recwake - scheduled voice recording orchestrator.

Schedules one audio recording at a time, wakes at the start time, takes
exclusive use of the capture device, and writes a WAV file when the
duration elapses. Survives restarts: an interrupted session is recovered
and reported on the next start.

Available commands:
  daemon   - Run the session controller, wake backend and control API
  schedule - Schedule a recording
  cancel   - Cancel the armed or running recording
  stop     - Stop the running recording early and keep it
  status   - Show the current job
  ls       - List recent recordings
  fire     - Wake entry point (called by timers)
  am       - Manage configuration ("I am")

Examples:
  recwake daemon                          # Start in the foreground
  recwake schedule --at 07:30 --duration 45m
  recwake schedule --in 10s --duration 5s
  recwake status -o json`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			am.SetConfigFile(path)
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")

		jsonLogs := false
		if cfg, err := am.Load(); err == nil {
			jsonLogs = cfg.Log.JSON
		}
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().String("config", "", "Use this config file instead of the system/user/project cascade")

	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.ScheduleCmd)
	rootCmd.AddCommand(commands.CancelCmd)
	rootCmd.AddCommand(commands.StopCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.LsCmd)
	rootCmd.AddCommand(commands.FireCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		for _, h := range errors.GetAllHints(err) {
			fmt.Fprintln(os.Stderr, "Hint:", h)
		}
		os.Exit(1)
	}
}
