package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pcportal/portal-auth/internal/core/domain"
	"github.com/pcportal/portal-auth/internal/core/ports"
	"github.com/pcportal/portal-auth/internal/pkg/metrics"
)

const (
	maxGuardAttempts      = 3
	maxParallelPermChecks = 8
)

// GuardFacts is everything the guard decision depends on.
type GuardFacts struct {
	Loading bool
	// PermissionsInFlight is true while checks for this evaluation run.
	PermissionsInFlight bool

	Authenticated   bool
	Admin           bool
	Agent           bool
	Pending         bool
	Rejected        bool
	RejectionReason string

	// Granted holds permission results. A name without an entry is denied.
	Granted map[domain.Permission]bool
}

// FactsFromState derives the role and approval facts of a snapshot.
func FactsFromState(st domain.AuthState) GuardFacts {
	f := GuardFacts{
		Loading:       st.Loading,
		Authenticated: st.IsAuthenticated(),
		Admin:         st.IsAdmin(),
		Agent:         st.IsAgent(),
		Pending:       st.IsPending(),
		Rejected:      st.IsRejected(),
	}
	if f.Rejected {
		f.RejectionReason = domain.StringValue(st.Profile.RejectionReason)
	}
	return f
}

func (f GuardFacts) missing(ps []domain.Permission) []domain.Permission {
	var out []domain.Permission
	for _, p := range ps {
		if !f.Granted[p] {
			out = append(out, p)
		}
	}
	return out
}

func (f GuardFacts) anyGranted(ps []domain.Permission) bool {
	for _, p := range ps {
		if f.Granted[p] {
			return true
		}
	}
	return false
}

// guardRule maps a denial predicate to the state it produces.
type guardRule struct {
	state       domain.GuardState
	mode        domain.PermissionMode
	needsChecks bool
	denies      func(req domain.Requirement, f GuardFacts) bool
}

// guardRules is evaluated top to bottom; the first rule that denies wins.
var guardRules = []guardRule{
	{
		state:  domain.GuardLoading,
		denies: func(_ domain.Requirement, f GuardFacts) bool { return f.Loading || f.PermissionsInFlight },
	},
	{
		state:  domain.GuardUnauthenticated,
		denies: func(r domain.Requirement, f GuardFacts) bool { return r.RequireAuth && !f.Authenticated },
	},
	{
		state:  domain.GuardAdminRequired,
		denies: func(r domain.Requirement, f GuardFacts) bool { return r.RequireAdmin && !f.Admin },
	},
	{
		// Admins satisfy agent-gated views.
		state:  domain.GuardAgentRequired,
		denies: func(r domain.Requirement, f GuardFacts) bool { return r.RequireAgent && !f.Agent && !f.Admin },
	},
	{
		// Admins are exempt whatever their own approval status.
		state:  domain.GuardPendingApproval,
		denies: func(r domain.Requirement, f GuardFacts) bool { return r.RequireApproved && !f.Admin && f.Pending },
	},
	{
		// Applies with or without RequireApproved.
		state:  domain.GuardRejected,
		denies: func(_ domain.Requirement, f GuardFacts) bool { return f.Rejected },
	},
	{
		state:       domain.GuardPermissionDenied,
		mode:        domain.PermissionModeAll,
		needsChecks: true,
		denies: func(r domain.Requirement, f GuardFacts) bool {
			return len(r.Permissions) > 0 && len(f.missing(r.Permissions)) > 0
		},
	},
	{
		state:       domain.GuardPermissionDenied,
		mode:        domain.PermissionModeAny,
		needsChecks: true,
		denies: func(r domain.Requirement, f GuardFacts) bool {
			return len(r.AnyPermission) > 0 && !f.anyGranted(r.AnyPermission)
		},
	},
}

// Decide is the pure guard decision over precomputed facts.
func Decide(req domain.Requirement, f GuardFacts) domain.AccessDecision {
	return decide(req, f, true)
}

func decide(req domain.Requirement, f GuardFacts, withPermissions bool) domain.AccessDecision {
	for _, rule := range guardRules {
		if rule.needsChecks && !withPermissions {
			continue
		}
		if !rule.denies(req, f) {
			continue
		}
		d := domain.AccessDecision{State: rule.state}
		switch rule.state {
		case domain.GuardRejected:
			d.RejectionReason = f.RejectionReason
		case domain.GuardPermissionDenied:
			d.Mode = rule.mode
			if rule.mode == domain.PermissionModeAll {
				d.Missing = f.missing(req.Permissions)
			} else {
				d.Missing = append([]domain.Permission(nil), req.AnyPermission...)
			}
		}
		return d
	}
	return domain.AccessDecision{State: domain.GuardGranted}
}

// AccessGuard gates protected views against the live auth state.
type AccessGuard struct {
	source ports.AuthStateSource
	perms  *PermissionEvaluator
	log    zerolog.Logger
}

// NewAccessGuard returns a guard reading source and asking perms.
func NewAccessGuard(source ports.AuthStateSource, perms *PermissionEvaluator, log zerolog.Logger) *AccessGuard {
	return &AccessGuard{source: source, perms: perms, log: log}
}

// WithSource returns a guard reading a different state source.
func (g *AccessGuard) WithSource(source ports.AuthStateSource) *AccessGuard {
	return &AccessGuard{source: source, perms: g.perms, log: g.log}
}

// Evaluate decides req against the current state. Permission checks only run
// once every role and approval rule has passed. If the state changes while
// they are in flight the result is discarded and the evaluation restarts.
func (g *AccessGuard) Evaluate(ctx context.Context, req domain.Requirement) domain.AccessDecision {
	d := g.evaluate(ctx, req)
	metrics.GuardDecisionsTotal.WithLabelValues(d.State.String()).Inc()
	return d
}

func (g *AccessGuard) evaluate(ctx context.Context, req domain.Requirement) domain.AccessDecision {
	for attempt := 0; attempt < maxGuardAttempts; attempt++ {
		snap := g.source.State()
		facts := FactsFromState(snap)

		if d := decide(req, facts, false); !d.Granted() {
			return d
		}
		if len(req.Permissions) == 0 && len(req.AnyPermission) == 0 {
			return domain.AccessDecision{State: domain.GuardGranted}
		}

		facts.Granted = g.check(ctx, snap.User, req)

		if g.source.State().Version != snap.Version {
			metrics.GuardStaleReevaluationsTotal.Inc()
			g.log.Debug().Int("attempt", attempt+1).Msg("auth state changed during permission checks, re-evaluating")
			continue
		}
		return Decide(req, facts)
	}

	g.log.Warn().Msg("auth state kept changing during guard evaluation")
	return domain.AccessDecision{State: domain.GuardLoading}
}

// check evaluates every distinct permission of req in parallel for user.
func (g *AccessGuard) check(ctx context.Context, user *domain.User, req domain.Requirement) map[domain.Permission]bool {
	perms := g.perms.ForUser(ports.StaticUser{User: user})

	names := make([]domain.Permission, 0, len(req.Permissions)+len(req.AnyPermission))
	seen := make(map[domain.Permission]struct{})
	for _, list := range [][]domain.Permission{req.Permissions, req.AnyPermission} {
		for _, p := range list {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			names = append(names, p)
		}
	}

	var (
		mu      sync.Mutex
		granted = make(map[domain.Permission]bool, len(names))
		eg      errgroup.Group
	)
	eg.SetLimit(maxParallelPermChecks)
	for _, p := range names {
		eg.Go(func() error {
			ok := perms.HasPermission(ctx, p)
			mu.Lock()
			granted[p] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return granted
}
