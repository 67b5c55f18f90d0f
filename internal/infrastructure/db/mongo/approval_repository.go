package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/pcportal/portal-auth/internal/core/domain"
)

// ApprovalRepository implements ports.ApprovalRPC using MongoDB.
//
// The transition is one conditional update filtered on the pending status,
// so two admins deciding the same profile cannot both succeed.
type ApprovalRepository struct {
	profiles *ProfileRepository
	audit    *mongo.Collection
	log      zerolog.Logger
	now      func() time.Time
}

func NewApprovalRepository(db *mongo.Database, profiles *ProfileRepository, log zerolog.Logger) *ApprovalRepository {
	return &ApprovalRepository{
		profiles: profiles,
		audit:    db.Collection(collectionApprovals),
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// DecideApproval returns false when the actor is not an admin, the target
// does not exist, the decision is malformed or the target already left pending.
func (r *ApprovalRepository) DecideApproval(ctx context.Context, actorID, userID string, profileType *domain.ProfileType, rejectionReason *string) (bool, error) {
	d, ok := decisionFrom(profileType, rejectionReason)
	if !ok || d.Validate() != nil {
		return false, nil
	}

	actor, err := r.profiles.FindByUserID(ctx, actorID)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("decide approval: actor: %w", err)
	}
	if !domain.CanDecideApprovals(actor) {
		return false, nil
	}

	target, err := r.profiles.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("decide approval: target: %w", err)
	}

	now := r.now()
	if err := d.ApplyTo(target, actorID, now); err != nil {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	filter := bson.M{"user_id": userID, "approval_status": string(domain.StatusPending)}
	res, err := r.profiles.col.UpdateOne(ctx, filter, bson.M{"$set": decisionSet(target)})
	if err != nil {
		return false, fmt.Errorf("decide approval: %w", err)
	}
	if res.MatchedCount == 0 {
		// decided concurrently by someone else
		return false, nil
	}

	// Audit trail (non-fatal on failure).
	entry := bson.M{
		"user_id":      userID,
		"actor_id":     actorID,
		"outcome":      string(d.Outcome),
		"profile_type": string(d.ProfileType),
		"reason":       d.Reason,
		"decided_at":   now,
	}
	if _, err := r.audit.InsertOne(ctx, entry); err != nil {
		r.log.Warn().Err(err).Str("user_id", userID).Msg("failed to insert approval audit event")
	}
	return true, nil
}

func decisionFrom(profileType *domain.ProfileType, reason *string) (domain.ApprovalDecision, bool) {
	switch {
	case profileType != nil && reason == nil:
		return domain.Approve(*profileType), true
	case profileType == nil && reason != nil:
		return domain.Reject(*reason), true
	}
	return domain.ApprovalDecision{}, false
}

// decisionSet is the full set of fields an approval transition writes.
func decisionSet(p *domain.Profile) bson.M {
	return bson.M{
		"approval_status":  string(p.ApprovalStatus),
		"profile_type":     string(p.ProfileType),
		"is_admin":         p.IsAdmin,
		"approved_by":      p.ApprovedBy,
		"approved_at":      p.ApprovedAt,
		"rejection_reason": p.RejectionReason,
		"updated_at":       p.UpdatedAt,
	}
}

// BootstrapAdmin makes userID an approved admin without an acting admin. It
// is the operator's way to seed the first administrator.
func (r *ApprovalRepository) BootstrapAdmin(ctx context.Context, userID string) error {
	target, err := r.profiles.FindByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	now := r.now()
	target.ProfileType = domain.ProfileAdmin
	target.ApprovalStatus = domain.StatusApproved
	target.IsAdmin = true
	target.ApprovedBy = &userID
	target.ApprovedAt = &now
	target.RejectionReason = nil
	target.UpdatedAt = now

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := r.profiles.col.UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{"$set": decisionSet(target)})
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("bootstrap admin: %w", domain.ErrProfileNotFound)
	}

	entry := bson.M{
		"user_id":      userID,
		"actor_id":     userID,
		"outcome":      string(domain.OutcomeApprove),
		"profile_type": string(domain.ProfileAdmin),
		"reason":       "bootstrap",
		"decided_at":   now,
	}
	if _, err := r.audit.InsertOne(ctx, entry); err != nil {
		r.log.Warn().Err(err).Str("user_id", userID).Msg("failed to insert approval audit event")
	}
	return nil
}
