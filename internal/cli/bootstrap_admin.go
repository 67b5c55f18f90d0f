package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"github.com/pcportal/portal-auth/internal/core/domain"
)

const (
	emailFlag    = "email"
	fullNameFlag = "full-name"
)

var bootstrapFlags = map[string]cobraflags.Flag{
	emailFlag: &cobraflags.StringFlag{
		Name:  emailFlag,
		Value: "",
		Usage: "Email of the account to promote (required)",
	},
	fullNameFlag: &cobraflags.StringFlag{
		Name:  fullNameFlag,
		Value: "Administrator",
		Usage: "Full name used when the account has to be created",
	},
}

func newBootstrapAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Promote an account to approved administrator",
		Long: `Promote an account to approved administrator without an acting admin.

The account is created first when the email is unknown; the password is
prompted for in that case. Use this once to seed the first administrator,
who then approves everyone else.`,
		RunE: bootstrapAdminCommand,
	}
	cobraflags.RegisterMap(cmd, bootstrapFlags)
	return cmd
}

func bootstrapAdminCommand(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	email := strings.ToLower(strings.TrimSpace(bootstrapFlags[emailFlag].GetString()))
	if email == "" {
		return errors.New("--email is required")
	}

	cfg, log, err := setup(ctx)
	if err != nil {
		return err
	}
	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	p := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
	userID, err := ensureAccount(ctx, b, p, email, bootstrapFlags[fullNameFlag].GetString())
	if err != nil {
		return err
	}
	if err := b.bootstrap.BootstrapAdmin(ctx, userID); err != nil {
		return err
	}

	log.Info().Str("user_id", userID).Str("email", email).Msg("administrator bootstrapped")
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) is now an approved administrator\n", email, userID)
	return nil
}

// ensureAccount returns the user id for email, registering it when missing.
func ensureAccount(ctx context.Context, b *backend, p *prompter, email, fullName string) (string, error) {
	cred, err := b.creds.FindByEmail(ctx, email)
	if err == nil {
		return cred.UserID, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return "", err
	}

	secret, err := p.secret("Password for new account: ")
	if err != nil {
		return "", err
	}
	user, err := b.auth.SignUp(ctx, email, secret, domain.SignUpAttributes{FullName: fullName})
	if err != nil {
		return "", err
	}
	return user.ID, nil
}
