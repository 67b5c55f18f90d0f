package ports

import (
	"context"

	"github.com/pcportal/portal-auth/internal/core/domain"
)

// PermissionRPC evaluates one named permission for a user on the backend.
type PermissionRPC interface {
	HasPermission(ctx context.Context, userID string, name domain.Permission) (bool, error)
}

// ApprovalRPC runs the backend approval procedure. The procedure is atomic:
// either every field of the transition is written or none is.
//
// Exactly one of profileType and rejectionReason is non-nil. It returns false
// without error when the backend refused the transition (target not pending,
// actor not an admin).
type ApprovalRPC interface {
	DecideApproval(ctx context.Context, actorID, userID string, profileType *domain.ProfileType, rejectionReason *string) (bool, error)
}

// AdminBootstrapper promotes an account to approved admin with no acting
// admin. Only operator tooling uses it.
type AdminBootstrapper interface {
	BootstrapAdmin(ctx context.Context, userID string) error
}
