package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pcportal/portal-auth/internal/core/domain"
	"github.com/pcportal/portal-auth/internal/core/ports"
	"github.com/pcportal/portal-auth/internal/pkg/metrics"
)

// ApprovalWorkflow is the admin mutation surface over approval status.
// It does not authorize callers; routes using it sit behind an admin guard.
type ApprovalWorkflow struct {
	repo ports.ProfileRepository
	rpc  ports.ApprovalRPC
	who  ports.CurrentUser
	log  zerolog.Logger
}

// NewApprovalWorkflow returns a workflow acting as who.
func NewApprovalWorkflow(repo ports.ProfileRepository, rpc ports.ApprovalRPC, who ports.CurrentUser, log zerolog.Logger) *ApprovalWorkflow {
	return &ApprovalWorkflow{repo: repo, rpc: rpc, who: who, log: log}
}

// ForActor returns a workflow acting as a different user source.
func (w *ApprovalWorkflow) ForActor(who ports.CurrentUser) *ApprovalWorkflow {
	return &ApprovalWorkflow{repo: w.repo, rpc: w.rpc, who: who, log: w.log}
}

// ListPending returns pending profiles, newest first.
func (w *ApprovalWorkflow) ListPending(ctx context.Context) ([]domain.ProfileListing, error) {
	out, err := w.repo.List(ctx, ports.ProfileFilter{Status: domain.StatusPending})
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return out, nil
}

// ListAll returns every profile, newest first.
func (w *ApprovalWorkflow) ListAll(ctx context.Context) ([]domain.ProfileListing, error) {
	out, err := w.repo.List(ctx, ports.ProfileFilter{})
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return out, nil
}

// Decide moves the profile of userID out of pending. Malformed decisions are
// refused before the backend is called. The backend applies the transition
// atomically; on any error nothing was written.
func (w *ApprovalWorkflow) Decide(ctx context.Context, userID string, d domain.ApprovalDecision) error {
	outcome := string(d.Outcome)

	if err := d.Validate(); err != nil {
		metrics.ApprovalDecisionsTotal.WithLabelValues(outcome, "invalid").Inc()
		return fmt.Errorf("decide approval: %w", err)
	}
	if userID == "" {
		metrics.ApprovalDecisionsTotal.WithLabelValues(outcome, "invalid").Inc()
		return fmt.Errorf("decide approval: %w", domain.ErrProfileNotFound)
	}

	var actor *domain.User
	if w.who != nil {
		actor = w.who.CurrentUser()
	}
	if actor == nil {
		metrics.ApprovalDecisionsTotal.WithLabelValues(outcome, "invalid").Inc()
		return fmt.Errorf("decide approval: %w", domain.ErrNotAuthenticated)
	}

	var (
		profileType *domain.ProfileType
		reason      *string
	)
	switch d.Outcome {
	case domain.OutcomeApprove:
		pt := d.ProfileType
		profileType = &pt
	case domain.OutcomeReject:
		r := d.Reason
		reason = &r
	}

	applied, err := w.rpc.DecideApproval(ctx, actor.ID, userID, profileType, reason)
	if err != nil {
		metrics.ApprovalDecisionsTotal.WithLabelValues(outcome, "error").Inc()
		return fmt.Errorf("decide approval: %w", err)
	}
	if !applied {
		metrics.ApprovalDecisionsTotal.WithLabelValues(outcome, "refused").Inc()
		w.log.Warn().
			Str("actor_id", actor.ID).
			Str("user_id", userID).
			Str("outcome", outcome).
			Msg("approval decision refused by backend")
		return fmt.Errorf("decide approval: %w", domain.ErrDecisionRejected)
	}

	metrics.ApprovalDecisionsTotal.WithLabelValues(outcome, "applied").Inc()
	w.log.Info().
		Str("actor_id", actor.ID).
		Str("user_id", userID).
		Str("outcome", outcome).
		Str("profile_type", string(d.ProfileType)).
		Msg("approval decision applied")
	return nil
}
