package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/pcportal/portal-auth/internal/core/domain"
	"github.com/pcportal/portal-auth/internal/core/ports"
)

type stubCredentialRepo struct {
	byEmail map[string]*domain.Credentials
}

func newStubCredentialRepo() *stubCredentialRepo {
	return &stubCredentialRepo{byEmail: make(map[string]*domain.Credentials)}
}

func (r *stubCredentialRepo) FindByEmail(_ context.Context, email string) (*domain.Credentials, error) {
	c, ok := r.byEmail[email]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	clone := *c
	return &clone, nil
}

func (r *stubCredentialRepo) FindByUserID(_ context.Context, userID string) (*domain.Credentials, error) {
	for _, c := range r.byEmail {
		if c.UserID == userID {
			clone := *c
			return &clone, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *stubCredentialRepo) Create(_ context.Context, c *domain.Credentials) error {
	if _, exists := r.byEmail[c.Email]; exists {
		return domain.ErrUserExists
	}
	clone := *c
	r.byEmail[c.Email] = &clone
	return nil
}

type stubSessionStore struct {
	sessions map[string]*domain.Session
}

func (s *stubSessionStore) Save(_ context.Context, sess *domain.Session) error {
	clone := *sess
	s.sessions[sess.ID] = &clone
	return nil
}

func (s *stubSessionStore) Find(_ context.Context, id string) (*domain.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	clone := *sess
	return &clone, nil
}

func (s *stubSessionStore) Delete(_ context.Context, id string) error {
	delete(s.sessions, id)
	return nil
}

type stubBus struct {
	mu        sync.Mutex
	published []ports.BusEvent
	err       error
}

func (b *stubBus) Publish(_ context.Context, ev ports.BusEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.published = append(b.published, ev)
	return nil
}

func (b *stubBus) Subscribe(context.Context) (<-chan ports.BusEvent, func() error, error) {
	return nil, func() error { return nil }, nil
}

type authFixture struct {
	svc      *AuthService
	creds    *stubCredentialRepo
	profiles *stubProfileRepo
	sessions *stubSessionStore
	bus      *stubBus
}

func newAuthFixture() authFixture {
	f := authFixture{
		creds:    newStubCredentialRepo(),
		profiles: newStubProfileRepo(),
		sessions: &stubSessionStore{sessions: make(map[string]*domain.Session)},
		bus:      &stubBus{},
	}
	f.svc = NewAuthService(f.creds, f.profiles, f.sessions, f.bus, "secret", time.Hour, zerolog.Nop())
	return f
}

func TestAuthService_SignUp_CreatesPendingCitizen(t *testing.T) {
	f := newAuthFixture()

	user, err := f.svc.SignUp(context.Background(), " Alice@Example.com ", "pass123", domain.SignUpAttributes{
		FullName:    "Alice Lima",
		Phone:       "11 91234-5678",
		ProfileType: domain.ProfileAdmin,
	})
	if err != nil {
		t.Fatalf("SignUp returned error: %v", err)
	}
	if user == nil || user.ID == "" {
		t.Fatalf("expected user with id, got %+v", user)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("expected normalised email, got %q", user.Email)
	}

	c := f.creds.byEmail["alice@example.com"]
	if c.PasswordHash == "pass123" {
		t.Fatalf("expected password to be hashed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte("pass123")); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}

	p := f.profiles.get(user.ID)
	if p == nil {
		t.Fatalf("profile not created")
	}
	if p.ProfileType != domain.ProfileCitizen || p.ApprovalStatus != domain.StatusPending || p.IsAdmin {
		t.Fatalf("signup must create a pending citizen, got type=%s status=%s admin=%v", p.ProfileType, p.ApprovalStatus, p.IsAdmin)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("new profile breaks invariants: %v", err)
	}
}

func TestAuthService_SignUp_Validation(t *testing.T) {
	f := newAuthFixture()

	if _, err := f.svc.SignUp(context.Background(), "", "pass123", domain.SignUpAttributes{}); err != domain.ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := f.svc.SignUp(context.Background(), "bob@example.com", "123", domain.SignUpAttributes{}); err != domain.ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials for short secret, got %v", err)
	}
}

func TestAuthService_SignUp_Duplicate(t *testing.T) {
	f := newAuthFixture()

	_, _ = f.svc.SignUp(context.Background(), "bob@example.com", "pass123", domain.SignUpAttributes{FullName: "Bob"})
	_, err := f.svc.SignUp(context.Background(), "bob@example.com", "pass456", domain.SignUpAttributes{FullName: "Bob"})
	if !errors.Is(err, domain.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestAuthService_SignIn_Success(t *testing.T) {
	f := newAuthFixture()
	user, err := f.svc.SignUp(context.Background(), "carol@example.com", "s3cret!", domain.SignUpAttributes{FullName: "Carol"})
	if err != nil {
		t.Fatalf("sign up failed: %v", err)
	}

	sess, err := f.svc.SignIn(context.Background(), "carol@example.com", "s3cret!")
	if err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	if sess.AccessToken == "" || sess.ID == "" {
		t.Fatalf("expected token and session id, got %+v", sess)
	}
	if sess.User.ID != user.ID {
		t.Fatalf("session user mismatch: %s != %s", sess.User.ID, user.ID)
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(sess.AccessToken, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("secret"), nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("token invalid: %v", err)
	}
	if claims["sub"] != user.ID || claims["jti"] != sess.ID {
		t.Fatalf("unexpected claims %v", claims)
	}

	if _, ok := f.sessions.sessions[sess.ID]; !ok {
		t.Fatalf("session not stored")
	}
	if len(f.bus.published) != 1 || f.bus.published[0].Kind != ports.EventSignedIn {
		t.Fatalf("expected SIGNED_IN to be published, got %+v", f.bus.published)
	}
}

func TestAuthService_SignIn_InvalidPassword(t *testing.T) {
	f := newAuthFixture()
	_, _ = f.svc.SignUp(context.Background(), "dave@example.com", "goodpass", domain.SignUpAttributes{FullName: "Dave"})

	if _, err := f.svc.SignIn(context.Background(), "dave@example.com", "badpass"); err != domain.ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthService_SignIn_UnknownEmail(t *testing.T) {
	f := newAuthFixture()

	if _, err := f.svc.SignIn(context.Background(), "ghost@example.com", "pass123"); err != domain.ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthService_SignIn_PublishFailureIsNotFatal(t *testing.T) {
	f := newAuthFixture()
	f.bus.err = errors.New("redis down")
	_, _ = f.svc.SignUp(context.Background(), "erin@example.com", "pass123", domain.SignUpAttributes{FullName: "Erin"})

	if _, err := f.svc.SignIn(context.Background(), "erin@example.com", "pass123"); err != nil {
		t.Fatalf("publish failures must not fail sign in: %v", err)
	}
}

func TestAuthService_VerifyAndSignOut(t *testing.T) {
	f := newAuthFixture()
	_, _ = f.svc.SignUp(context.Background(), "fay@example.com", "pass123", domain.SignUpAttributes{FullName: "Fay"})
	sess, _ := f.svc.SignIn(context.Background(), "fay@example.com", "pass123")

	got, err := f.svc.Verify(context.Background(), sess.AccessToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.ID != sess.ID {
		t.Fatalf("unexpected session %+v", got)
	}

	if err := f.svc.SignOut(context.Background(), sess.AccessToken); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, err := f.svc.Verify(context.Background(), sess.AccessToken); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected revoked session, got %v", err)
	}
	last := f.bus.published[len(f.bus.published)-1]
	if last.Kind != ports.EventSignedOut || last.SessionID != sess.ID {
		t.Fatalf("expected SIGNED_OUT for %s, got %+v", sess.ID, last)
	}
}

func TestAuthService_Verify_RejectsForeignTokens(t *testing.T) {
	f := newAuthFixture()

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1", "jti": "s1"})
	signed, _ := forged.SignedString([]byte("other-secret"))

	if _, err := f.svc.Verify(context.Background(), signed); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if _, err := f.svc.Verify(context.Background(), ""); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated for empty token, got %v", err)
	}
}

func TestAuthService_Refresh(t *testing.T) {
	f := newAuthFixture()
	_, _ = f.svc.SignUp(context.Background(), "gil@example.com", "pass123", domain.SignUpAttributes{FullName: "Gil"})
	sess, _ := f.svc.SignIn(context.Background(), "gil@example.com", "pass123")

	later := time.Now().UTC().Add(10 * time.Minute)
	f.svc.now = func() time.Time { return later }

	refreshed, err := f.svc.Refresh(context.Background(), sess.AccessToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.ID != sess.ID || refreshed.AccessToken == sess.AccessToken {
		t.Fatalf("expected same session with a new token")
	}
	if !refreshed.ExpiresAt.After(sess.ExpiresAt) {
		t.Fatalf("expiry not extended")
	}
	if _, err := f.svc.Verify(context.Background(), sess.AccessToken); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("old token must stop working after refresh, got %v", err)
	}
	last := f.bus.published[len(f.bus.published)-1]
	if last.Kind != ports.EventTokenRefreshed {
		t.Fatalf("expected TOKEN_REFRESHED, got %+v", last)
	}
}
