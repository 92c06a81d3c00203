package main

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/kevin07696/payment-orchestrator/internal/config"
	"github.com/kevin07696/payment-orchestrator/internal/db/migrations"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [command] [args...]",
		Short: "Run the embedded schema migrations",
		Long: `Run a goose command against the embedded migrations. The command defaults to "up".

Examples:
  orchestratorctl migrate
  orchestratorctl migrate status
  orchestratorctl migrate down-to 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) > 0 {
				command, args = args[0], args[1:]
			}

			dbCfg, err := config.LoadDatabaseFromEnv()
			if err != nil {
				return err
			}
			db, err := sql.Open("pgx", dbCfg.ConnectionString())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			return migrations.Run(cmd.Context(), db, command, args...)
		},
	}
}
