package ports

import (
	"context"

	"github.com/pcportal/portal-auth/internal/core/domain"
)

// CredentialRepository defines the interface for sign-in credential persistence.
type CredentialRepository interface {
	// FindByEmail returns domain.ErrUserNotFound when no row exists.
	FindByEmail(ctx context.Context, email string) (*domain.Credentials, error)
	FindByUserID(ctx context.Context, userID string) (*domain.Credentials, error)
	// Create returns domain.ErrUserExists on a duplicate email.
	Create(ctx context.Context, c *domain.Credentials) error
}

// SessionStore keeps live sessions so tokens can be revoked before they expire.
type SessionStore interface {
	Save(ctx context.Context, s *domain.Session) error
	// Find returns domain.ErrSessionNotFound for unknown or expired sessions.
	Find(ctx context.Context, sessionID string) (*domain.Session, error)
	Delete(ctx context.Context, sessionID string) error
}

// EventBus distributes auth transitions between the backend and clients.
type EventBus interface {
	Publish(ctx context.Context, ev BusEvent) error
	// Subscribe returns a channel closed when ctx is cancelled or the
	// returned cancel func is called.
	Subscribe(ctx context.Context) (<-chan BusEvent, func() error, error)
}

// BusEvent is the wire form of an auth transition. USER_UPDATED events carry
// only the user id.
type BusEvent struct {
	Kind      AuthEventKind `json:"kind"`
	SessionID string        `json:"session_id"`
	UserID    string        `json:"user_id"`
}
