package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	storagex "github.com/tanpawarit/chative-crm-assistant/agent/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the Postgres tables for credentials, messages and meetings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		db, err := openPostgres(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := storagex.CreateTables(ctx, db); err != nil {
			return err
		}
		log.Info().Msg("tables ready")
		return nil
	},
}
