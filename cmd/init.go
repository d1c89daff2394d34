package cmd

import (
	"fmt"
	"log"

	"github.com/lukewain/GXG-Bot/gxgbot"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and settings file",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("Environment variable GXG_DATABASE_TYPE not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"Environment variable GXG_DATABASE not set (must be a valid " +
					"database connection string or sqlite file path)",
			)
		}

		if _, err := gxgbot.CreateDB(
			ctx, cfg.DatabaseType, cfg.Database,
		); err != nil {
			log.Fatalf("Error creating database: %v", err)
		}

		if _, err := gxgbot.LoadGuildSettings(
			cfg.SettingsFile, nil,
		); err != nil {
			log.Fatalf("Error creating settings file: %v", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(
			out,
			"Database migrated and settings file ready at %s\n",
			cfg.SettingsFile,
		)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(initCmd)
}
