package ports

import (
	"context"

	"github.com/pcportal/portal-auth/internal/core/domain"
)

// AuthEventKind names a provider-pushed session transition.
type AuthEventKind string

const (
	EventSignedIn       AuthEventKind = "SIGNED_IN"
	EventSignedOut      AuthEventKind = "SIGNED_OUT"
	EventTokenRefreshed AuthEventKind = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEventKind = "USER_UPDATED"
)

// AuthEvent carries the session after the transition. Session is nil when
// nobody is signed in anymore.
type AuthEvent struct {
	Kind    AuthEventKind
	Session *domain.Session
}

// Subscription is a live stream of auth events. Events is closed after
// Unsubscribe returns. Unsubscribe is safe to call more than once.
type Subscription interface {
	Events() <-chan AuthEvent
	Unsubscribe() error
}

// IdentityProvider is the session side of the backend identity service, as
// seen by one client process.
type IdentityProvider interface {
	// GetCurrentSession returns the live session or nil when nobody is signed in.
	GetCurrentSession(ctx context.Context) (*domain.Session, error)
	OnAuthStateChange(ctx context.Context) (Subscription, error)
	SignInWithCredentials(ctx context.Context, email, secret string) (*domain.Session, error)
	// SignUp creates the user and its pending profile. The returned session
	// is nil when the provider requires confirmation before signing in.
	SignUp(ctx context.Context, email, secret string, attrs domain.SignUpAttributes) (*domain.Session, error)
	SignOut(ctx context.Context) error
}

// CurrentUser exposes who is acting. It returns nil when nobody is signed in.
type CurrentUser interface {
	CurrentUser() *domain.User
}

// AuthStateSource exposes the latest auth snapshot.
type AuthStateSource interface {
	State() domain.AuthState
}

// StaticUser is a CurrentUser fixed at construction, used for
// request-scoped evaluation where the caller already resolved the user.
type StaticUser struct {
	User *domain.User
}

func (s StaticUser) CurrentUser() *domain.User { return s.User }

// StaticState is an AuthStateSource frozen at construction. Request handlers
// use it after resolving the caller's user and profile from a token.
type StaticState struct {
	AuthState domain.AuthState
}

func (s StaticState) State() domain.AuthState { return s.AuthState }
