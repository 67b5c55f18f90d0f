package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/pcportal/portal-auth/internal/infrastructure/db/postgres"
	"github.com/pcportal/portal-auth/internal/pkg/config"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema, functions and default role grants",
		Long: `Apply the embedded goose migrations to DATABASE_URL.

The MongoDB driver needs no migrations: indexes and role grants are
prepared on startup.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := setup(ctx)
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != config.DriverPostgres {
				return errors.New("migrate: STORAGE_DRIVER is not postgres")
			}

			db, err := postgres.Connect(ctx, postgres.Config{DSN: cfg.Storage.DatabaseURL})
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.RunMigrations(ctx, db.DB); err != nil {
				return err
			}
			log.Info().Msg("migrations applied")
			return nil
		},
	}
}
