package ports

import (
	"context"

	"github.com/pcportal/portal-auth/internal/core/domain"
)

// ProfileFilter carries the listing parameters.
type ProfileFilter struct {
	Status domain.ApprovalStatus // empty = all statuses
	Limit  int                   // 0 = no limit
}

// ProfileRepository is the record-store side of the backend for profiles.
type ProfileRepository interface {
	// FindByUserID returns domain.ErrProfileNotFound when no row exists.
	FindByUserID(ctx context.Context, userID string) (*domain.Profile, error)
	Insert(ctx context.Context, p *domain.Profile) error
	// Update applies the self-service patch and returns the stored row.
	Update(ctx context.Context, userID string, patch domain.ProfilePatch) (*domain.Profile, error)
	// List returns rows newest first, joined with the approver's full name.
	List(ctx context.Context, filter ProfileFilter) ([]domain.ProfileListing, error)
}
