package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.4.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "futuresbot version %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
