package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pcportal/portal-auth/internal/api"
	"github.com/pcportal/portal-auth/internal/core/service"
	"github.com/pcportal/portal-auth/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

const portFlag = "port"

var serveFlags = map[string]cobraflags.Flag{
	portFlag: &cobraflags.StringFlag{
		Name:  portFlag,
		Value: "",
		Usage: "Port to listen on (overrides PORT)",
	},
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  serveCommand,
	}
	cobraflags.RegisterMap(cmd, serveFlags)
	return cmd
}

func serveCommand(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, log, err := setup(ctx)
	if err != nil {
		return err
	}
	if p := serveFlags[portFlag].GetString(); p != "" {
		cfg.Port = p
	}

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Warn().Err(err).Msg("closing backend")
		}
	}()

	perms := service.NewPermissionEvaluator(b.rpc, nil, log)
	e := api.NewRouter(api.Dependencies{
		Auth:         b.auth,
		Profiles:     service.NewProfileStore(b.profiles, log),
		Workflow:     service.NewApprovalWorkflow(b.profiles, b.rpc, nil, log),
		Guard:        service.NewAccessGuard(nil, perms, log),
		Checks:       b.checks,
		SignInPath:   cfg.Auth.SignInPath,
		CookieSecure: cfg.CookieSecure,
		Log:          logger.For("http"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Str("driver", cfg.Storage.Driver).Msg("http server listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down http server")
		return e.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
