package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-extras/cobraflags"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pcportal/portal-auth/internal/api"
	"github.com/pcportal/portal-auth/internal/core/domain"
	"github.com/pcportal/portal-auth/internal/core/service"
	"github.com/pcportal/portal-auth/internal/infrastructure/bids"
)

const sessionFileFlag = "session-file"

var shellFlags = map[string]cobraflags.Flag{
	sessionFileFlag: &cobraflags.StringFlag{
		Name:  sessionFileFlag,
		Value: "",
		Usage: "Where the session is kept between runs (overrides SESSION_FILE)",
	},
}

func newShellCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive client session against the backend",
		Long: `Open one client session against the identity backend.

The session survives restarts in the session file and follows sign-outs
made from other processes. Type "help" for the command list.`,
		RunE: shellCommand,
	}
	cobraflags.RegisterMap(cmd, shellFlags)
	return cmd
}

func shellCommand(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, log, err := setup(ctx)
	if err != nil {
		return err
	}
	path := shellFlags[sessionFileFlag].GetString()
	if path == "" {
		path = cfg.Auth.SessionFile
	}

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	client := bids.NewClient(b.auth, b.bus, bids.NewFileTokenStore(path), log)
	sh := newShell(client, b, log, service.WithInitTimeout(cfg.Auth.InitTimeout))
	defer sh.close()

	if err := sh.mgr.Initialize(ctx); err != nil {
		return err
	}
	return sh.run(ctx, newPrompter(cmd.InOrStdin(), cmd.OutOrStdout()))
}

// shell is one client process: a single SessionManager and the services
// reading from it.
type shell struct {
	mgr      *service.SessionManager
	guard    *service.AccessGuard
	perms    *service.PermissionEvaluator
	workflow *service.ApprovalWorkflow
	log      zerolog.Logger
}

func newShell(client *bids.Client, b *backend, log zerolog.Logger, opts ...service.SessionOption) *shell {
	mgr := service.NewSessionManager(client, service.NewProfileStore(b.profiles, log), log, opts...)
	perms := service.NewPermissionEvaluator(b.rpc, mgr, log)
	return &shell{
		mgr:      mgr,
		guard:    service.NewAccessGuard(mgr, perms, log),
		perms:    perms,
		workflow: service.NewApprovalWorkflow(b.profiles, b.rpc, mgr, log),
		log:      log,
	}
}

func (s *shell) close() {
	if err := s.mgr.Close(); err != nil {
		s.log.Warn().Err(err).Msg("closing session manager")
	}
}

var errQuit = errors.New("quit")

func (s *shell) run(ctx context.Context, p *prompter) error {
	fmt.Fprintln(p.out, `portal shell, type "help" for commands`)
	for {
		line, err := p.line("> ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		err = s.exec(ctx, p, line)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(p.out, "error: %v\n", err)
		}
	}
}

const shellHelp = `commands:
  signin <email>                   sign in (password is prompted)
  signup <email> <full name...>    register and sign in
  signout                          end the session
  whoami                           show the current auth state
  open <me|portal|agent|admin>     check access to a view
  can <permission>                 check one permission
  pending                          list profiles awaiting approval
  users                            list every profile
  approve <user_id> <type>         approve as citizen, agent or admin
  reject <user_id> <reason...>     reject with a reason
  edit <field> <value...>          change a field of your profile
  quit`

func (s *shell) exec(ctx context.Context, p *prompter, line string) error {
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	out := p.out

	switch name {
	case "help":
		fmt.Fprintln(out, shellHelp)
	case "quit", "exit":
		return errQuit
	case "signin":
		if len(args) != 1 {
			return errors.New("usage: signin <email>")
		}
		secret, err := p.secret("password: ")
		if err != nil {
			return err
		}
		if _, err := s.mgr.SignIn(ctx, args[0], secret); err != nil {
			return err
		}
		s.whoami(out)
	case "signup":
		if len(args) < 2 {
			return errors.New("usage: signup <email> <full name...>")
		}
		secret, err := p.secret("password: ")
		if err != nil {
			return err
		}
		attrs := domain.SignUpAttributes{FullName: strings.Join(args[1:], " ")}
		if _, err := s.mgr.SignUp(ctx, args[0], secret, attrs); err != nil {
			return err
		}
		s.whoami(out)
	case "signout":
		if err := s.mgr.SignOut(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "signed out")
	case "whoami":
		s.whoami(out)
	case "open":
		if len(args) != 1 {
			return errors.New("usage: open <me|portal|agent|admin>")
		}
		req, ok := api.ViewRequirements[args[0]]
		if !ok {
			return fmt.Errorf("unknown view %q", args[0])
		}
		screen := s.guard.Evaluate(ctx, req).Screen()
		fmt.Fprintf(out, "[%s] %s\n", screen.State, screen.Title)
		if screen.Message != "" {
			fmt.Fprintln(out, screen.Message)
		}
	case "can":
		if len(args) != 1 {
			return errors.New("usage: can <permission>")
		}
		perm, err := domain.ParsePermission(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %t\n", perm, s.perms.HasPermission(ctx, perm))
	case "pending":
		items, err := s.workflow.ListPending(ctx)
		if err != nil {
			return err
		}
		printListings(out, items)
	case "users":
		items, err := s.workflow.ListAll(ctx)
		if err != nil {
			return err
		}
		printListings(out, items)
	case "approve":
		if len(args) != 2 {
			return errors.New("usage: approve <user_id> <citizen|agent|admin>")
		}
		if err := s.workflow.Decide(ctx, args[0], domain.Approve(domain.ProfileType(args[1]))); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s approved as %s\n", args[0], args[1])
	case "reject":
		if len(args) < 2 {
			return errors.New("usage: reject <user_id> <reason...>")
		}
		if err := s.workflow.Decide(ctx, args[0], domain.Reject(strings.Join(args[1:], " "))); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s rejected\n", args[0])
	case "edit":
		if len(args) < 2 {
			return fmt.Errorf("usage: edit <%s> <value...>", strings.Join(editableFields(), "|"))
		}
		patch, err := patchFor(args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		if _, err := s.mgr.UpdateProfile(ctx, patch); err != nil {
			return err
		}
		s.whoami(out)
	default:
		return fmt.Errorf("unknown command %q", name)
	}
	return nil
}

func (s *shell) whoami(out io.Writer) {
	st := s.mgr.State()
	if st.User == nil {
		fmt.Fprintln(out, "not signed in")
		return
	}
	if st.Profile == nil {
		fmt.Fprintf(out, "%s (no profile)\n", st.User.Email)
		return
	}
	p := st.Profile
	fmt.Fprintf(out, "%s  %s  %s/%s\n", st.User.Email, domain.StringValue(p.FullName), p.ProfileType, p.ApprovalStatus)
	if st.IsRejected() && p.RejectionReason != nil {
		fmt.Fprintf(out, "rejected: %s\n", *p.RejectionReason)
	}
}

func printListings(out io.Writer, items []domain.ProfileListing) {
	if len(items) == 0 {
		fmt.Fprintln(out, "no profiles")
		return
	}
	for _, it := range items {
		line := fmt.Sprintf("%s  %-24s %-8s %-8s %s", it.UserID, domain.StringValue(it.FullName),
			it.ProfileType, it.ApprovalStatus, it.CreatedAt.Format("2006-01-02"))
		if it.ApprovedByName != nil {
			line += "  by " + *it.ApprovedByName
		}
		fmt.Fprintln(out, line)
	}
}

var patchSetters = map[string]func(*domain.ProfilePatch, *string){
	"full_name":     func(p *domain.ProfilePatch, v *string) { p.FullName = v },
	"phone":         func(p *domain.ProfilePatch, v *string) { p.Phone = v },
	"cpf":           func(p *domain.ProfilePatch, v *string) { p.CPF = v },
	"date_of_birth": func(p *domain.ProfilePatch, v *string) { p.DateOfBirth = v },
	"badge_number":  func(p *domain.ProfilePatch, v *string) { p.BadgeNumber = v },
	"department":    func(p *domain.ProfilePatch, v *string) { p.Department = v },
	"rank":          func(p *domain.ProfilePatch, v *string) { p.Rank = v },
	"bio":           func(p *domain.ProfilePatch, v *string) { p.Bio = v },
}

func editableFields() []string {
	names := make([]string, 0, len(patchSetters))
	for n := range patchSetters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// patchFor builds a one-field patch. Approval fields are not editable.
func patchFor(field, value string) (domain.ProfilePatch, error) {
	var patch domain.ProfilePatch
	set, ok := patchSetters[field]
	if !ok {
		return patch, fmt.Errorf("field %q cannot be edited", field)
	}
	set(&patch, &value)
	return patch, nil
}
