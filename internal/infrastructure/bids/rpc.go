package bids

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pcportal/portal-auth/internal/core/domain"
	"github.com/pcportal/portal-auth/internal/core/ports"
)

// RPC exposes the backend procedures of the configured storage driver. A
// decision that was applied is announced on the bus as USER_UPDATED so the
// affected member's sessions reload the profile.
type RPC struct {
	perms     ports.PermissionRPC
	approvals ports.ApprovalRPC
	bus       ports.EventBus
	log       zerolog.Logger
}

func NewRPC(perms ports.PermissionRPC, approvals ports.ApprovalRPC, bus ports.EventBus, log zerolog.Logger) *RPC {
	return &RPC{perms: perms, approvals: approvals, bus: bus, log: log}
}

func (r *RPC) HasPermission(ctx context.Context, userID string, name domain.Permission) (bool, error) {
	return r.perms.HasPermission(ctx, userID, name)
}

func (r *RPC) DecideApproval(ctx context.Context, actorID, userID string, profileType *domain.ProfileType, rejectionReason *string) (bool, error) {
	ok, err := r.approvals.DecideApproval(ctx, actorID, userID, profileType, rejectionReason)
	if err != nil || !ok {
		return ok, err
	}
	if r.bus != nil {
		ev := ports.BusEvent{Kind: ports.EventUserUpdated, UserID: userID}
		if err := r.bus.Publish(ctx, ev); err != nil {
			r.log.Warn().Err(err).Str("user_id", userID).Msg("failed to announce approval decision")
		}
	}
	return true, nil
}
