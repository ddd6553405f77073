package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/recwake/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show recwake version information",
	Long:  `Display version, build time, commit hash, and platform information for the recwake binary.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("output")
		info := version.Get()

		if format != formatText {
			return encode(cmd.OutOrStdout(), info, format)
		}
		fmt.Fprintln(cmd.OutOrStdout(), info.String())
		fmt.Fprintf(cmd.OutOrStdout(), "Go: %s\n", info.GoVersion)
		return nil
	},
}

func init() {
	VersionCmd.Flags().StringP("output", "o", formatText, "Output format: text, json, yaml")
}
