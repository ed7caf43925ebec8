package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-wearables/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, dialect, err := openDatabase(databaseDriver, databaseDSN)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		if err := migrations.Apply(cmd.Context(), client, dialect); err != nil {
			return fmt.Errorf("apply %s migrations: %w", dialect, err)
		}
		cmd.Printf("migrations applied (%s)\n", dialect)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
