package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ainative/accounts/internal/db"
)

// migrateCmd performs DB migrations
var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|version]",
	Short:     "Run database migrations",
	Long:      `Apply (up) or roll back (down) the embedded schema migrations, or print the current version.`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "version"},
	RunE: func(cmd *cobra.Command, args []string) error {
		_, database, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer database.Close()

		if args[0] != "version" {
			if err := db.RunMigrations(database.DB, args[0]); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
		}

		version, dirty, err := db.GetMigrationVersion(database.DB)
		if err != nil {
			return err
		}
		fmt.Printf("Schema version: %d (dirty: %v)\n", version, dirty)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
