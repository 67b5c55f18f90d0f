package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/pcportal/portal-auth/internal/core/domain"
)

// RPC calls the has_permission and approve_user database functions. It
// implements ports.PermissionRPC and ports.ApprovalRPC.
//
// approve_user checks the actor, moves a pending profile and writes the audit
// row in one statement, so the transition is atomic.
type RPC struct {
	db  *sqlx.DB
	log zerolog.Logger
}

func NewRPC(db *sqlx.DB, log zerolog.Logger) *RPC {
	return &RPC{db: db, log: log}
}

func (r *RPC) HasPermission(ctx context.Context, userID string, name domain.Permission) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var ok bool
	if err := r.db.GetContext(ctx, &ok, `SELECT has_permission($1, $2)`, userID, string(name)); err != nil {
		return false, fmt.Errorf("has permission: %w", err)
	}
	return ok, nil
}

func (r *RPC) DecideApproval(ctx context.Context, actorID, userID string, profileType *domain.ProfileType, rejectionReason *string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var pt, reason any
	if profileType != nil {
		pt = string(*profileType)
	}
	if rejectionReason != nil {
		reason = *rejectionReason
	}

	var ok bool
	err := r.db.GetContext(ctx, &ok, `SELECT approve_user($1, $2, $3, $4)`, actorID, userID, pt, reason)
	if err != nil {
		return false, fmt.Errorf("decide approval: %w", err)
	}
	if !ok {
		r.log.Debug().Str("actor_id", actorID).Str("user_id", userID).Msg("approve_user refused the transition")
	}
	return ok, nil
}

// Permissions lists every permission name granted to any role. The names are
// fed to the permission registry at startup.
func (r *RPC) Permissions(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var names []string
	if err := r.db.SelectContext(ctx, &names, `SELECT DISTINCT permission FROM role_permissions ORDER BY permission`); err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	return names, nil
}

const bootstrapAdminQuery = `
WITH promoted AS (
    UPDATE profiles
       SET profile_type = 'admin', approval_status = 'approved', is_admin = TRUE,
           approved_by = user_id, approved_at = now(), rejection_reason = NULL, updated_at = now()
     WHERE user_id = $1
    RETURNING user_id
)
INSERT INTO approval_events (user_id, actor_id, outcome, profile_type, reason)
SELECT user_id, user_id, 'approve', 'admin', 'bootstrap' FROM promoted`

// BootstrapAdmin makes userID an approved admin without an acting admin. It
// is the operator's way to seed the first administrator.
func (r *RPC) BootstrapAdmin(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, bootstrapAdminQuery, userID)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("bootstrap admin: %w", domain.ErrProfileNotFound)
	}
	return nil
}
