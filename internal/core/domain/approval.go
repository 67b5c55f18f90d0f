package domain

import (
	"strings"
	"time"
)

// ApprovalOutcome is what an admin decided for a pending profile.
type ApprovalOutcome string

const (
	OutcomeApprove ApprovalOutcome = "approve"
	OutcomeReject  ApprovalOutcome = "reject"
)

// ApprovalDecision is the input to the approval transition.
// Build it with Approve or Reject.
type ApprovalDecision struct {
	Outcome     ApprovalOutcome
	ProfileType ProfileType
	Reason      string
}

// Approve grants the profile the given role.
func Approve(pt ProfileType) ApprovalDecision {
	return ApprovalDecision{Outcome: OutcomeApprove, ProfileType: pt}
}

// Reject refuses the profile with a reason shown to the applicant.
func Reject(reason string) ApprovalDecision {
	return ApprovalDecision{Outcome: OutcomeReject, Reason: reason}
}

// Validate rejects malformed decisions before they reach the backend.
func (d ApprovalDecision) Validate() error {
	switch d.Outcome {
	case OutcomeApprove:
		if !d.ProfileType.Valid() {
			return ErrInvalidProfileType
		}
	case OutcomeReject:
		if strings.TrimSpace(d.Reason) == "" {
			return ErrRejectionReasonRequired
		}
	default:
		return ErrInvalidTransition
	}
	return nil
}

// TargetStatus is the status the decision moves the profile to.
func (d ApprovalDecision) TargetStatus() ApprovalStatus {
	if d.Outcome == OutcomeApprove {
		return StatusApproved
	}
	return StatusRejected
}

// ApplyTo performs the transition on p in memory. Backends that cannot run
// the transition server-side use it inside their atomic update.
func (d ApprovalDecision) ApplyTo(p *Profile, actorID string, now time.Time) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if !p.ApprovalStatus.CanTransitionTo(d.TargetStatus()) {
		return ErrInvalidTransition
	}
	switch d.Outcome {
	case OutcomeApprove:
		actor := actorID
		at := now
		p.ApprovalStatus = StatusApproved
		p.ProfileType = d.ProfileType
		p.IsAdmin = d.ProfileType == ProfileAdmin
		p.ApprovedBy = &actor
		p.ApprovedAt = &at
		p.RejectionReason = nil
	case OutcomeReject:
		reason := strings.TrimSpace(d.Reason)
		p.ApprovalStatus = StatusRejected
		p.RejectionReason = &reason
	}
	p.UpdatedAt = now
	return nil
}

// ApprovalAuditEntry records one applied approval transition.
type ApprovalAuditEntry struct {
	UserID      string          `json:"user_id"`
	ActorID     string          `json:"actor_id"`
	Outcome     ApprovalOutcome `json:"outcome"`
	ProfileType ProfileType     `json:"profile_type,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	DecidedAt   time.Time       `json:"decided_at"`
}
