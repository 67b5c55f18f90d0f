package ports

import (
	"context"

	"github.com/pcportal/portal-auth/internal/core/domain"
)

// AuthService is the provider side of the identity service: it owns
// credentials and issues sessions.
type AuthService interface {
	SignUp(ctx context.Context, email, secret string, attrs domain.SignUpAttributes) (*domain.User, error)
	SignIn(ctx context.Context, email, secret string) (*domain.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	// Refresh re-issues the token of a live session with a new expiry.
	Refresh(ctx context.Context, accessToken string) (*domain.Session, error)
	// Verify resolves an access token to its live session.
	Verify(ctx context.Context, accessToken string) (*domain.Session, error)
}
