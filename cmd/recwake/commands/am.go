package commands

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/recwake/am"
	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage recwake configuration",
	Long: sym.AM + ` am - Manage recwake configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (RECWAKE_* prefix, e.g. RECWAKE_WAKE_BACKEND)
2. --config file (replaces 3-5 when given)
3. Project config (am.toml in the working directory or a parent)
4. User config (~/.recwake/am.toml)
5. System config (/etc/recwake/am.toml)
6. Default values

Examples:
  recwake am show              # Effective configuration as TOML
  recwake am show -o yaml      # ... or JSON / YAML
  recwake am where             # Which source supplied each setting
  recwake am init              # Write defaults to ~/.recwake/am.toml`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runAmShow,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where each setting comes from",
	Args:  cobra.NoArgs,
	RunE:  runAmWhere,
}

var amInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write the default configuration to ~/.recwake/am.toml (or --path).

An existing file is rotated to .back1 (keeping up to three backups) and
only overwritten with --force.`,
	Args: cobra.NoArgs,
	RunE: runAmInit,
}

func init() {
	amShowCmd.Flags().StringP("output", "o", "toml", "Output format: toml, json, yaml")
	amWhereCmd.Flags().StringP("output", "o", formatText, "Output format: text, json, yaml")
	amInitCmd.Flags().String("path", "", "Config file to write (default ~/.recwake/am.toml)")
	amInitCmd.Flags().Bool("force", false, "Overwrite an existing file")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amInitCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("output")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if format != "toml" {
		return encode(cmd.OutOrStdout(), cfg, format)
	}
	out, err := am.Render(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "# recwake configuration\n%s", out)
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("output")
	settings, err := am.Introspect()
	if err != nil {
		return errors.Wrap(err, "failed to inspect configuration")
	}
	if format != formatText {
		return encode(cmd.OutOrStdout(), settings, format)
	}

	rows := pterm.TableData{{"Key", "Value", "Source"}}
	for _, s := range settings {
		src := string(s.Source)
		if s.SourcePath != "" && s.Source != am.SourceDefault {
			src += " (" + s.SourcePath + ")"
		}
		rows = append(rows, []string{s.Key, fmt.Sprint(s.Value), src})
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
	if err != nil {
		return errors.Wrap(err, "failed to render settings")
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)

	if files := am.ActiveFiles(); len(files) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "\nFiles merged (lowest precedence first):")
		for _, f := range files {
			fmt.Fprintln(cmd.OutOrStdout(), "  "+f)
		}
	}
	return nil
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("path")
	force, _ := cmd.Flags().GetBool("force")
	if path == "" {
		path = am.UserConfigPath()
	}
	path = am.ExpandPath(path)

	if _, err := os.Stat(path); err == nil && !force {
		return errors.WithHint(
			errors.Wrapf(errors.ErrConflict, "%s already exists", path),
			"pass --force to overwrite it; the old file is kept as .back1")
	}
	if err := am.WriteConfig(path, am.Defaults()); err != nil {
		return err
	}
	pterm.Success.Println("Wrote default configuration to " + path)
	return nil
}
