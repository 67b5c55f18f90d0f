package service

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pcportal/portal-auth/internal/core/domain"
	"github.com/pcportal/portal-auth/internal/core/ports"
)

func TestDecide_Precedence(t *testing.T) {
	cases := []struct {
		name  string
		req   domain.Requirement
		facts GuardFacts
		want  domain.GuardState
	}{
		{
			name:  "loading wins over everything",
			req:   domain.Requirement{RequireAuth: true, RequireAdmin: true},
			facts: GuardFacts{Loading: true},
			want:  domain.GuardLoading,
		},
		{
			name:  "permission checks in flight",
			req:   domain.Requirement{Permissions: []domain.Permission{domain.PermManagePosts}},
			facts: GuardFacts{Authenticated: true, PermissionsInFlight: true},
			want:  domain.GuardLoading,
		},
		{
			name:  "unauthenticated",
			req:   domain.Requirement{RequireAuth: true, RequireAdmin: true},
			facts: GuardFacts{},
			want:  domain.GuardUnauthenticated,
		},
		{
			name:  "admin required",
			req:   domain.Requirement{RequireAuth: true, RequireAdmin: true},
			facts: GuardFacts{Authenticated: true, Agent: true},
			want:  domain.GuardAdminRequired,
		},
		{
			name:  "agent required for citizen",
			req:   domain.Requirement{RequireAuth: true, RequireAgent: true},
			facts: GuardFacts{Authenticated: true},
			want:  domain.GuardAgentRequired,
		},
		{
			name:  "admin satisfies agent views",
			req:   domain.Requirement{RequireAuth: true, RequireAgent: true},
			facts: GuardFacts{Authenticated: true, Admin: true},
			want:  domain.GuardGranted,
		},
		{
			name:  "pending citizen on approved-only view",
			req:   domain.Requirement{RequireAuth: true, RequireApproved: true},
			facts: GuardFacts{Authenticated: true, Pending: true},
			want:  domain.GuardPendingApproval,
		},
		{
			name:  "pending never granted even without permissions",
			req:   domain.Requirement{RequireAuth: true, RequireApproved: true, Permissions: []domain.Permission{}},
			facts: GuardFacts{Authenticated: true, Pending: true},
			want:  domain.GuardPendingApproval,
		},
		{
			name:  "admin exempt from pending",
			req:   domain.Requirement{RequireAuth: true, RequireApproved: true},
			facts: GuardFacts{Authenticated: true, Admin: true, Pending: true},
			want:  domain.GuardGranted,
		},
		{
			name:  "pending passes when approval not required",
			req:   domain.Requirement{RequireAuth: true},
			facts: GuardFacts{Authenticated: true, Pending: true},
			want:  domain.GuardGranted,
		},
		{
			name:  "rejected regardless of requireApproved",
			req:   domain.Requirement{RequireAuth: true},
			facts: GuardFacts{Authenticated: true, Rejected: true},
			want:  domain.GuardRejected,
		},
		{
			name:  "missing specific permission",
			req:   domain.Requirement{RequireAuth: true, Permissions: []domain.Permission{domain.PermManagePosts}},
			facts: GuardFacts{Authenticated: true},
			want:  domain.GuardPermissionDenied,
		},
		{
			name: "any permission satisfied",
			req: domain.Requirement{RequireAuth: true, AnyPermission: []domain.Permission{
				domain.PermManageUsers, domain.PermApproveUsers,
			}},
			facts: GuardFacts{Authenticated: true, Granted: map[domain.Permission]bool{domain.PermApproveUsers: true}},
			want:  domain.GuardGranted,
		},
		{
			name:  "no requirements",
			req:   domain.Requirement{},
			facts: GuardFacts{},
			want:  domain.GuardGranted,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Decide(tc.req, tc.facts)
			if got.State != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got.State)
			}
		})
	}
}

func TestDecide_PermissionDeniedDetails(t *testing.T) {
	req := domain.Requirement{
		RequireAuth: true,
		Permissions: []domain.Permission{domain.PermManagePosts, domain.PermViewReports, domain.PermManageConcursos},
	}
	facts := GuardFacts{Authenticated: true, Granted: map[domain.Permission]bool{domain.PermViewReports: true}}

	d := Decide(req, facts)
	if d.State != domain.GuardPermissionDenied || d.Mode != domain.PermissionModeAll {
		t.Fatalf("unexpected decision %+v", d)
	}
	want := []domain.Permission{domain.PermManagePosts, domain.PermManageConcursos}
	if !reflect.DeepEqual(d.Missing, want) {
		t.Fatalf("expected missing %v, got %v", want, d.Missing)
	}

	anyReq := domain.Requirement{AnyPermission: []domain.Permission{domain.PermManageUsers, domain.PermApproveUsers}}
	d = Decide(anyReq, GuardFacts{Authenticated: true})
	if d.State != domain.GuardPermissionDenied || d.Mode != domain.PermissionModeAny || len(d.Missing) != 2 {
		t.Fatalf("unexpected any decision %+v", d)
	}
}

func TestFactsFromState(t *testing.T) {
	st := domain.AuthState{User: testUser("u1"), Profile: rejectedProfile("u1", "incomplete registration")}
	f := FactsFromState(st)
	if !f.Authenticated || !f.Rejected || f.RejectionReason != "incomplete registration" {
		t.Fatalf("unexpected facts %+v", f)
	}

	// A profile that belongs to someone else does not authenticate.
	st = domain.AuthState{User: testUser("u1"), Profile: approvedProfile("u2", domain.ProfileAdmin)}
	f = FactsFromState(st)
	if f.Authenticated || f.Admin {
		t.Fatalf("mismatched profile must not count, got %+v", f)
	}
}

// seqSource returns the given states in order, repeating the last one.
type seqSource struct {
	mu     sync.Mutex
	states []domain.AuthState
	calls  int
}

func (s *seqSource) State() domain.AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.states) {
		i = len(s.states) - 1
	}
	s.calls++
	return s.states[i]
}

func newGuard(src ports.AuthStateSource, rpc *stubPermissionRPC) *AccessGuard {
	perms := NewPermissionEvaluator(rpc, nil, zerolog.Nop())
	return NewAccessGuard(src, perms, zerolog.Nop())
}

func TestAccessGuard_Evaluate_LoadingSkipsChecks(t *testing.T) {
	rpc := &stubPermissionRPC{}
	src := ports.StaticState{AuthState: domain.AuthState{Loading: true}}
	g := newGuard(src, rpc)

	d := g.Evaluate(context.Background(), domain.Requirement{RequireAuth: true, Permissions: []domain.Permission{domain.PermManagePosts}})
	if d.State != domain.GuardLoading {
		t.Fatalf("expected loading, got %s", d.State)
	}
	if rpc.callCount() != 0 {
		t.Fatalf("no permission check expected while loading")
	}
}

func TestAccessGuard_Evaluate_PendingCitizenScenario(t *testing.T) {
	rpc := &stubPermissionRPC{grants: map[domain.Permission]bool{domain.PermViewMembersArea: true}}
	src := ports.StaticState{AuthState: domain.AuthState{
		User:        testUser("u1"),
		Profile:     pendingProfile("u1", fixedNow),
		Initialized: true,
	}}
	g := newGuard(src, rpc)

	d := g.Evaluate(context.Background(), domain.Requirement{
		RequireAuth:     true,
		RequireApproved: true,
		Permissions:     []domain.Permission{domain.PermViewMembersArea},
	})
	if d.State != domain.GuardPendingApproval {
		t.Fatalf("expected pending screen, got %s", d.State)
	}
	if rpc.callCount() != 0 {
		t.Fatalf("permission checks must not run before role and approval rules pass")
	}
	if d.Screen().Title == "" {
		t.Fatalf("pending decision should carry an explanatory screen")
	}
}

func TestAccessGuard_Evaluate_ParallelChecks(t *testing.T) {
	rpc := &stubPermissionRPC{grants: map[domain.Permission]bool{
		domain.PermManagePosts:     true,
		domain.PermManageConcursos: true,
		domain.PermApproveUsers:    true,
	}}
	src := ports.StaticState{AuthState: domain.AuthState{
		User:        testUser("agent"),
		Profile:     approvedProfile("agent", domain.ProfileAgent),
		Initialized: true,
	}}
	g := newGuard(src, rpc)

	d := g.Evaluate(context.Background(), domain.Requirement{
		RequireAuth:   true,
		RequireAgent:  true,
		Permissions:   []domain.Permission{domain.PermManagePosts, domain.PermManageConcursos},
		AnyPermission: []domain.Permission{domain.PermManagePosts, domain.PermApproveUsers},
	})
	if !d.Granted() {
		t.Fatalf("expected granted, got %+v", d)
	}
	if n := rpc.callCount(); n != 3 {
		t.Fatalf("expected each distinct permission checked once (3), got %d", n)
	}
	for _, u := range rpc.users {
		if u != "agent" {
			t.Fatalf("check issued for %q instead of the snapshot user", u)
		}
	}
}

func TestAccessGuard_Evaluate_DiscardsStaleResults(t *testing.T) {
	rpc := &stubPermissionRPC{grants: map[domain.Permission]bool{domain.PermViewMembersArea: true}}
	approved := domain.AuthState{
		User: testUser("u1"), Profile: approvedProfile("u1", domain.ProfileCitizen), Initialized: true, Version: 4,
	}
	rejected := domain.AuthState{
		User: testUser("u1"), Profile: rejectedProfile("u1", "duplicate account"), Initialized: true, Version: 5,
	}
	src := &seqSource{states: []domain.AuthState{approved, rejected}}
	g := newGuard(src, rpc)

	d := g.Evaluate(context.Background(), domain.Requirement{
		RequireAuth: true,
		Permissions: []domain.Permission{domain.PermViewMembersArea},
	})
	if d.State != domain.GuardRejected {
		t.Fatalf("expected the newer state to win (rejected), got %s", d.State)
	}
	if d.RejectionReason != "duplicate account" {
		t.Fatalf("unexpected reason %q", d.RejectionReason)
	}
}

func TestAccessGuard_Evaluate_CheckErrorDenies(t *testing.T) {
	rpc := &stubPermissionRPC{
		grants: map[domain.Permission]bool{domain.PermViewReports: true},
		errs:   map[domain.Permission]error{domain.PermViewReports: context.DeadlineExceeded},
	}
	src := ports.StaticState{AuthState: domain.AuthState{
		User: testUser("u1"), Profile: approvedProfile("u1", domain.ProfileAgent), Initialized: true,
	}}
	g := newGuard(src, rpc)

	d := g.Evaluate(context.Background(), domain.Requirement{RequireAuth: true, Permissions: []domain.Permission{domain.PermViewReports}})
	if d.State != domain.GuardPermissionDenied {
		t.Fatalf("expected permission denied on backend error, got %s", d.State)
	}
	if s := d.Screen(); s.Message == "" || len(s.Missing) != 1 {
		t.Fatalf("screen must list the missing permission, got %+v", s)
	}
}

func TestAccessGuard_Evaluate_Unauthenticated(t *testing.T) {
	g := newGuard(ports.StaticState{AuthState: domain.AuthState{Initialized: true}}, &stubPermissionRPC{})

	d := g.Evaluate(context.Background(), domain.Requirement{RequireAuth: true})
	loc, ok := d.Redirect("/signin", "/portal")
	if !ok || loc != "/signin?from=%2Fportal" {
		t.Fatalf("unexpected redirect %q ok=%v", loc, ok)
	}
}
