package bids

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pcportal/portal-auth/internal/core/domain"
	"github.com/pcportal/portal-auth/internal/core/ports"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeAuth struct {
	mu        sync.Mutex
	live      map[string]*domain.Session // by access token
	signUps   int
	verifies  int
	refreshes int
	signOuts  int
	signUpErr error
	outErr    error
	ttl       time.Duration
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{live: map[string]*domain.Session{}, ttl: time.Hour}
}

func (f *fakeAuth) SignUp(_ context.Context, email, _ string, _ domain.SignUpAttributes) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signUps++
	if f.signUpErr != nil {
		return nil, f.signUpErr
	}
	return &domain.User{ID: "user-" + email, Email: email}, nil
}

func (f *fakeAuth) SignIn(_ context.Context, email, secret string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if secret != "secret123" {
		return nil, domain.ErrInvalidCredentials
	}
	s := &domain.Session{
		ID:          "sess-" + email,
		AccessToken: "tok-" + email,
		User:        domain.User{ID: "user-" + email, Email: email},
		ExpiresAt:   fixedNow.Add(f.ttl),
	}
	f.live[s.AccessToken] = s
	return s, nil
}

func (f *fakeAuth) SignOut(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOuts++
	delete(f.live, token)
	return f.outErr
}

func (f *fakeAuth) Verify(_ context.Context, token string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifies++
	s, ok := f.live[token]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	c := *s
	return &c, nil
}

func (f *fakeAuth) Refresh(_ context.Context, token string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	s, ok := f.live[token]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	delete(f.live, token)
	n := *s
	n.AccessToken = token + "-r"
	n.ExpiresAt = fixedNow.Add(time.Hour)
	f.live[n.AccessToken] = &n
	return &n, nil
}

type fakeBus struct {
	mu        sync.Mutex
	ch        chan ports.BusEvent
	stopped   int
	published []ports.BusEvent
	subErr    error
	pubErr    error
}

func (b *fakeBus) Publish(_ context.Context, ev ports.BusEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, ev)
	return b.pubErr
}

func (b *fakeBus) Subscribe(context.Context) (<-chan ports.BusEvent, func() error, error) {
	if b.subErr != nil {
		return nil, nil, b.subErr
	}
	b.mu.Lock()
	b.ch = make(chan ports.BusEvent, 8)
	ch := b.ch
	b.mu.Unlock()
	var once sync.Once
	return ch, func() error {
		once.Do(func() {
			b.mu.Lock()
			b.stopped++
			b.mu.Unlock()
			close(ch)
		})
		return nil
	}, nil
}

func (b *fakeBus) push(ev ports.BusEvent) {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()
	ch <- ev
}

func newTestClient(auth *fakeAuth, bus ports.EventBus) (*Client, *MemoryTokenStore) {
	tokens := NewMemoryTokenStore()
	c := NewClient(auth, bus, tokens, zerolog.Nop())
	c.now = func() time.Time { return fixedNow }
	return c, tokens
}

func nextEvent(t *testing.T, sub ports.Subscription) ports.AuthEvent {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no auth event delivered")
	}
	return ports.AuthEvent{}
}

func TestClient_GetCurrentSession_Empty(t *testing.T) {
	auth := newFakeAuth()
	c, _ := newTestClient(auth, nil)

	sess, err := c.GetCurrentSession(context.Background())
	require.NoError(t, err)
	require.Nil(t, sess)
	require.Zero(t, auth.verifies)
}

func TestClient_SignIn_StoresAndNotifies(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuth()
	c, tokens := newTestClient(auth, nil)

	sub, err := c.OnAuthStateChange(ctx)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	sess, err := c.SignInWithCredentials(ctx, "ana@example.com", "secret123")
	require.NoError(t, err)

	ev := nextEvent(t, sub)
	require.Equal(t, ports.EventSignedIn, ev.Kind)
	require.Equal(t, sess.ID, ev.Session.ID)

	stored, err := tokens.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, sess.AccessToken, stored.AccessToken)

	cur, err := c.GetCurrentSession(ctx)
	require.NoError(t, err)
	require.Equal(t, sess.ID, cur.ID)
}

func TestClient_SignIn_BadCredentials(t *testing.T) {
	auth := newFakeAuth()
	c, tokens := newTestClient(auth, nil)

	_, err := c.SignInWithCredentials(context.Background(), "ana@example.com", "nope")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	stored, _ := tokens.Load(context.Background())
	require.Nil(t, stored)
}

func TestClient_GetCurrentSession_RevokedIsForgotten(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuth()
	c, tokens := newTestClient(auth, nil)

	sess, err := c.SignInWithCredentials(ctx, "ana@example.com", "secret123")
	require.NoError(t, err)
	require.NoError(t, auth.SignOut(ctx, sess.AccessToken))

	cur, err := c.GetCurrentSession(ctx)
	require.NoError(t, err)
	require.Nil(t, cur)

	stored, _ := tokens.Load(ctx)
	require.Nil(t, stored)
}

func TestClient_GetCurrentSession_RefreshesNearExpiry(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuth()
	auth.ttl = time.Minute
	c, tokens := newTestClient(auth, nil)

	sess, err := c.SignInWithCredentials(ctx, "ana@example.com", "secret123")
	require.NoError(t, err)

	sub, err := c.OnAuthStateChange(ctx)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	cur, err := c.GetCurrentSession(ctx)
	require.NoError(t, err)
	require.Equal(t, sess.AccessToken+"-r", cur.AccessToken)
	require.Equal(t, 1, auth.refreshes)

	ev := nextEvent(t, sub)
	require.Equal(t, ports.EventTokenRefreshed, ev.Kind)

	stored, _ := tokens.Load(ctx)
	require.Equal(t, cur.AccessToken, stored.AccessToken)
}

func TestClient_SignOut_ClearsEvenWhenBackendFails(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuth()
	auth.outErr = errors.New("backend down")
	c, tokens := newTestClient(auth, nil)

	_, err := c.SignInWithCredentials(ctx, "ana@example.com", "secret123")
	require.NoError(t, err)

	sub, err := c.OnAuthStateChange(ctx)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	err = c.SignOut(ctx)
	require.ErrorContains(t, err, "backend down")

	ev := nextEvent(t, sub)
	require.Equal(t, ports.EventSignedOut, ev.Kind)
	require.Nil(t, ev.Session)

	stored, _ := tokens.Load(ctx)
	require.Nil(t, stored)
	require.Equal(t, 1, auth.signOuts)
}

func TestClient_SignUp_SignsIn(t *testing.T) {
	auth := newFakeAuth()
	c, _ := newTestClient(auth, nil)

	sess, err := c.SignUp(context.Background(), "bia@example.com", "secret123", domain.SignUpAttributes{FullName: "Bia"})
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Equal(t, 1, auth.signUps)

	auth.signUpErr = domain.ErrUserExists
	_, err = c.SignUp(context.Background(), "bia@example.com", "secret123", domain.SignUpAttributes{FullName: "Bia"})
	require.ErrorIs(t, err, domain.ErrUserExists)
}

func TestClient_RemoteEvents(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuth()
	bus := &fakeBus{}
	c, tokens := newTestClient(auth, bus)

	sub, err := c.OnAuthStateChange(ctx)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	sess, err := c.SignInWithCredentials(ctx, "ana@example.com", "secret123")
	require.NoError(t, err)
	require.Equal(t, ports.EventSignedIn, nextEvent(t, sub).Kind)

	// other sessions and remote sign-ins are not ours to report
	bus.push(ports.BusEvent{Kind: ports.EventSignedOut, SessionID: "someone-else", UserID: "x"})
	bus.push(ports.BusEvent{Kind: ports.EventSignedIn, SessionID: sess.ID, UserID: sess.User.ID})
	bus.push(ports.BusEvent{Kind: ports.EventUserUpdated, UserID: sess.User.ID})

	ev := nextEvent(t, sub)
	require.Equal(t, ports.EventUserUpdated, ev.Kind)
	require.Equal(t, sess.ID, ev.Session.ID)

	bus.push(ports.BusEvent{Kind: ports.EventSignedOut, SessionID: sess.ID, UserID: sess.User.ID})
	ev = nextEvent(t, sub)
	require.Equal(t, ports.EventSignedOut, ev.Kind)
	require.Nil(t, ev.Session)

	stored, _ := tokens.Load(ctx)
	require.Nil(t, stored)
}

func TestClient_BusUnavailable_KeepsLocalEvents(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(newFakeAuth(), &fakeBus{subErr: errors.New("redis down")})

	sub, err := c.OnAuthStateChange(ctx)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_, err = c.SignInWithCredentials(ctx, "ana@example.com", "secret123")
	require.NoError(t, err)
	require.Equal(t, ports.EventSignedIn, nextEvent(t, sub).Kind)
}

func TestSubscription_UnsubscribeOnce(t *testing.T) {
	ctx := context.Background()
	bus := &fakeBus{}
	c, _ := newTestClient(newFakeAuth(), bus)

	sub, err := c.OnAuthStateChange(ctx)
	require.NoError(t, err)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	require.Equal(t, 1, bus.stopped)

	_, open := <-sub.Events()
	require.False(t, open)

	// no subscriber left: local transitions must not block
	_, err = c.SignInWithCredentials(ctx, "ana@example.com", "secret123")
	require.NoError(t, err)
}

func TestFileTokenStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store := NewFileTokenStore(path)

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, got)

	sess := &domain.Session{ID: "s1", AccessToken: "tok", User: domain.User{ID: "u1", Email: "a@example.com"}, ExpiresAt: fixedNow}
	require.NoError(t, store.Save(ctx, sess))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err = store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "tok", got.AccessToken)
	require.True(t, fixedNow.Equal(got.ExpiresAt))

	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Clear(ctx))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, got)
}

type stubDecider struct {
	ok  bool
	err error
}

func (s stubDecider) DecideApproval(context.Context, string, string, *domain.ProfileType, *string) (bool, error) {
	return s.ok, s.err
}

type stubPerms struct{}

func (stubPerms) HasPermission(context.Context, string, domain.Permission) (bool, error) {
	return true, nil
}

func TestRPC_AnnouncesAppliedDecisions(t *testing.T) {
	ctx := context.Background()
	agent := domain.ProfileAgent

	bus := &fakeBus{}
	ok, err := NewRPC(stubPerms{}, stubDecider{ok: true}, bus, zerolog.Nop()).DecideApproval(ctx, "admin", "u1", &agent, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []ports.BusEvent{{Kind: ports.EventUserUpdated, UserID: "u1"}}, bus.published)

	bus = &fakeBus{}
	ok, err = NewRPC(stubPerms{}, stubDecider{ok: false}, bus, zerolog.Nop()).DecideApproval(ctx, "admin", "u1", &agent, nil)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, bus.published)

	bus = &fakeBus{pubErr: errors.New("redis down")}
	ok, err = NewRPC(stubPerms{}, stubDecider{ok: true}, bus, zerolog.Nop()).DecideApproval(ctx, "admin", "u1", &agent, nil)
	require.NoError(t, err)
	require.True(t, ok)

	granted, err := NewRPC(stubPerms{}, stubDecider{}, nil, zerolog.Nop()).HasPermission(ctx, "u1", domain.PermViewReports)
	require.NoError(t, err)
	require.True(t, granted)
}
