package main

import (
	"github.com/spf13/cobra"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/db"
)

func newMigrateCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "migrate up|down|status|version N|force N",
		Short: "Manage the node database schema",
		Long: `migrate applies or inspects the embedded schema migrations.

  up          apply all pending migrations
  down        roll back one migration
  status      show current and latest versions
  version N   migrate up or down to version N
  force N     mark version N as applied without running it`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := db.OpenDB(dbPath)
			if err != nil {
				return err
			}
			defer database.Close()
			return db.RunMigrateCommand(cmd.OutOrStdout(), database, args)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db-path", defaultDBPath, "Path to the SQLite database")
	return cmd
}
