package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pcportal/portal-auth/internal/core/domain"
	"github.com/pcportal/portal-auth/internal/core/ports"
	"github.com/pcportal/portal-auth/internal/pkg/metrics"
)

// PermissionEvaluator answers permission questions for the current user.
// It fails closed: no user, a transport error or a backend error all mean false.
// Results are never cached.
type PermissionEvaluator struct {
	rpc ports.PermissionRPC
	who ports.CurrentUser
	log zerolog.Logger
}

// NewPermissionEvaluator returns an evaluator asking rpc on behalf of who.
func NewPermissionEvaluator(rpc ports.PermissionRPC, who ports.CurrentUser, log zerolog.Logger) *PermissionEvaluator {
	return &PermissionEvaluator{rpc: rpc, who: who, log: log}
}

// ForUser returns an evaluator bound to a different user source.
func (e *PermissionEvaluator) ForUser(who ports.CurrentUser) *PermissionEvaluator {
	return &PermissionEvaluator{rpc: e.rpc, who: who, log: e.log}
}

// HasPermission reports whether the current user holds p.
func (e *PermissionEvaluator) HasPermission(ctx context.Context, p domain.Permission) bool {
	var user *domain.User
	if e.who != nil {
		user = e.who.CurrentUser()
	}
	if user == nil {
		metrics.PermissionChecksTotal.WithLabelValues("anonymous").Inc()
		return false
	}

	ok, err := e.rpc.HasPermission(ctx, user.ID, p)
	if err != nil {
		metrics.PermissionChecksTotal.WithLabelValues("error").Inc()
		e.log.Warn().Err(err).
			Str("user_id", user.ID).
			Str("permission", string(p)).
			Msg("permission check failed, denying")
		return false
	}
	if ok {
		metrics.PermissionChecksTotal.WithLabelValues("granted").Inc()
	} else {
		metrics.PermissionChecksTotal.WithLabelValues("denied").Inc()
	}
	return ok
}

// HasAnyPermission stops at the first granted name. An empty list is false.
func (e *PermissionEvaluator) HasAnyPermission(ctx context.Context, ps []domain.Permission) bool {
	for _, p := range ps {
		if e.HasPermission(ctx, p) {
			return true
		}
	}
	return false
}

// HasAllPermissions stops at the first denied name. An empty list is true.
func (e *PermissionEvaluator) HasAllPermissions(ctx context.Context, ps []domain.Permission) bool {
	for _, p := range ps {
		if !e.HasPermission(ctx, p) {
			return false
		}
	}
	return true
}
