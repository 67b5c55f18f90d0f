// Package cli holds the portal command tree.
package cli

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pcportal/portal-auth/internal/pkg/config"
	"github.com/pcportal/portal-auth/pkg/logger"
)

// NewRootCommand returns the portal command with every subcommand attached.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "portal",
		Short: "Membership portal identity, approval and access control",
		Long: `portal runs the identity service of the membership portal.

Available commands:
  serve            - HTTP API and protected views
  shell            - interactive client session against the backend
  migrate          - apply the PostgreSQL schema
  bootstrap-admin  - promote an account to the first administrator`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newServeCommand(),
		newShellCommand(),
		newMigrateCommand(),
		newBootstrapAdminCommand(),
	)
	return root
}

// setup loads the configuration and initialises the process logger.
func setup(ctx context.Context) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, zerolog.Logger{}, err
	}
	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.Pretty(),
		File:    cfg.LogFile,
		Service: "portal",
	})
	return cfg, log, nil
}
