package cmd

import (
	"fmt"

	"github.com/lukewain/GXG-Bot/gxgbot"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf(
			"version=%s commit=%s built: %s",
			gxgbot.Version,
			gxgbot.CommitSHA,
			gxgbot.BuildTime,
		)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(versionCmd)
}
