package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pcportal/portal-auth/internal/core/domain"
	"github.com/pcportal/portal-auth/internal/core/ports"
)

// ---------------------------------------------------------------------------
// Profile repository stub
// ---------------------------------------------------------------------------

type stubProfileRepo struct {
	mu       sync.Mutex
	byUser   map[string]*domain.Profile
	findErr  error
	listErr  error
	inserted []string
	// block makes FindByUserID for the given user wait until the channel is
	// closed or ctx is done.
	block map[string]chan struct{}
	finds int
}

func newStubProfileRepo(profiles ...*domain.Profile) *stubProfileRepo {
	r := &stubProfileRepo{byUser: make(map[string]*domain.Profile), block: make(map[string]chan struct{})}
	for _, p := range profiles {
		r.byUser[p.UserID] = p.Clone()
	}
	return r
}

func (r *stubProfileRepo) FindByUserID(ctx context.Context, userID string) (*domain.Profile, error) {
	r.mu.Lock()
	r.finds++
	wait := r.block[userID]
	r.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	p, ok := r.byUser[userID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	return p.Clone(), nil
}

func (r *stubProfileRepo) Insert(_ context.Context, p *domain.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser[p.UserID] = p.Clone()
	r.inserted = append(r.inserted, p.UserID)
	return nil
}

func (r *stubProfileRepo) Update(_ context.Context, userID string, patch domain.ProfilePatch) (*domain.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byUser[userID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	patch.Apply(p, time.Now().UTC())
	return p.Clone(), nil
}

func (r *stubProfileRepo) List(_ context.Context, f ports.ProfileFilter) ([]domain.ProfileListing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []domain.ProfileListing
	for _, p := range r.byUser {
		if f.Status != "" && p.ApprovalStatus != f.Status {
			continue
		}
		l := domain.ProfileListing{Profile: *p.Clone()}
		if p.ApprovedBy != nil {
			if a, ok := r.byUser[*p.ApprovedBy]; ok {
				l.ApprovedByName = a.FullName
			}
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *stubProfileRepo) get(userID string) *domain.Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byUser[userID].Clone()
}

// ---------------------------------------------------------------------------
// RPC stubs
// ---------------------------------------------------------------------------

type stubPermissionRPC struct {
	mu     sync.Mutex
	grants map[domain.Permission]bool
	errs   map[domain.Permission]error
	calls  []domain.Permission
	users  []string
}

func (r *stubPermissionRPC) HasPermission(_ context.Context, userID string, p domain.Permission) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, p)
	r.users = append(r.users, userID)
	if err := r.errs[p]; err != nil {
		return false, err
	}
	return r.grants[p], nil
}

func (r *stubPermissionRPC) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// stubApprovalRPC runs the approval procedure against a stubProfileRepo the
// way the storage drivers do: all fields or nothing.
type stubApprovalRPC struct {
	repo  *stubProfileRepo
	err   error
	calls int
	now   time.Time
}

func (r *stubApprovalRPC) DecideApproval(_ context.Context, actorID, userID string, pt *domain.ProfileType, reason *string) (bool, error) {
	r.calls++
	if r.err != nil {
		return false, r.err
	}
	r.repo.mu.Lock()
	defer r.repo.mu.Unlock()

	if !domain.CanDecideApprovals(r.repo.byUser[actorID]) {
		return false, nil
	}
	target, ok := r.repo.byUser[userID]
	if !ok {
		return false, nil
	}
	var d domain.ApprovalDecision
	if pt != nil {
		d = domain.Approve(*pt)
	} else {
		d = domain.Reject(domain.StringValue(reason))
	}
	next := target.Clone()
	if err := d.ApplyTo(next, actorID, r.now); err != nil {
		return false, nil
	}
	r.repo.byUser[userID] = next
	return true, nil
}

// ---------------------------------------------------------------------------
// Identity provider stub
// ---------------------------------------------------------------------------

type stubSubscription struct {
	events chan ports.AuthEvent
	mu     sync.Mutex
	unsubs int
}

func (s *stubSubscription) Events() <-chan ports.AuthEvent { return s.events }

func (s *stubSubscription) Unsubscribe() error {
	s.mu.Lock()
	s.unsubs++
	s.mu.Unlock()
	return nil
}

type stubProvider struct {
	mu          sync.Mutex
	session     *domain.Session
	sessionErr  error
	sessionWait chan struct{}
	signInErr   error
	signOutErr  error
	subscribes  int
	queries     int
	signUps     int
	signOuts    int
	sub         *stubSubscription
}

func newStubProvider(sess *domain.Session) *stubProvider {
	return &stubProvider{
		session: sess,
		sub:     &stubSubscription{events: make(chan ports.AuthEvent, 8)},
	}
}

func (p *stubProvider) GetCurrentSession(ctx context.Context) (*domain.Session, error) {
	p.mu.Lock()
	p.queries++
	wait := p.sessionWait
	p.mu.Unlock()
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session, p.sessionErr
}

func (p *stubProvider) OnAuthStateChange(context.Context) (ports.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribes++
	return p.sub, nil
}

func (p *stubProvider) SignInWithCredentials(_ context.Context, email, _ string) (*domain.Session, error) {
	if p.signInErr != nil {
		return nil, p.signInErr
	}
	return testSession("u-"+email, email), nil
}

func (p *stubProvider) SignUp(_ context.Context, email, _ string, _ domain.SignUpAttributes) (*domain.Session, error) {
	p.mu.Lock()
	p.signUps++
	p.mu.Unlock()
	return testSession("u-"+email, email), nil
}

func (p *stubProvider) SignOut(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOuts++
	return p.signOutErr
}

func (p *stubProvider) counts() (subscribes, queries int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscribes, p.queries
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testUser(id string) *domain.User {
	return &domain.User{ID: id, Email: id + "@example.com", CreatedAt: fixedNow, UpdatedAt: fixedNow}
}

func testSession(userID, email string) *domain.Session {
	return &domain.Session{
		ID:          "sess-" + userID,
		AccessToken: "token-" + userID,
		User:        domain.User{ID: userID, Email: email},
		ExpiresAt:   fixedNow.Add(time.Hour),
	}
}

func pendingProfile(userID string, created time.Time) *domain.Profile {
	p := domain.NewPendingProfile(domain.User{ID: userID, Email: userID + "@example.com"},
		domain.SignUpAttributes{FullName: "Member " + userID}, created)
	return p
}

func approvedProfile(userID string, pt domain.ProfileType) *domain.Profile {
	p := pendingProfile(userID, fixedNow)
	if err := domain.Approve(pt).ApplyTo(p, "root", fixedNow); err != nil {
		panic(err)
	}
	return p
}

func rejectedProfile(userID, reason string) *domain.Profile {
	p := pendingProfile(userID, fixedNow)
	if err := domain.Reject(reason).ApplyTo(p, "root", fixedNow); err != nil {
		panic(err)
	}
	return p
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
