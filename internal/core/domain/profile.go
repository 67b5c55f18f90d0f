package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProfileType is the member role.
type ProfileType string

const (
	ProfileCitizen ProfileType = "citizen"
	ProfileAgent   ProfileType = "agent"
	ProfileAdmin   ProfileType = "admin"
)

// Valid reports whether t is one of the known profile types.
func (t ProfileType) Valid() bool {
	switch t {
	case ProfileCitizen, ProfileAgent, ProfileAdmin:
		return true
	}
	return false
}

// ApprovalStatus represents the review state of a profile.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
)

// validTransitions defines the approval state machine. Approved and rejected
// are terminal: there is no resubmission path.
var validTransitions = map[ApprovalStatus][]ApprovalStatus{
	StatusPending: {StatusApproved, StatusRejected},
}

var (
	ErrInvalidTransition       = errors.New("invalid approval transition")
	ErrProfileNotFound         = errors.New("profile not found")
	ErrInvalidProfileType      = errors.New("invalid profile type")
	ErrRejectionReasonRequired = errors.New("rejection reason is required")
	ErrForbidden               = errors.New("access forbidden")
	ErrDecisionRejected        = errors.New("approval decision was not applied")
	ErrInvalidProfile          = errors.New("profile violates approval invariants")
)

// CanTransitionTo reports whether a transition from the current status to next is valid.
func (s ApprovalStatus) CanTransitionTo(next ApprovalStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Profile is the portal-owned record describing a member's role and approval state.
// Exactly one exists per User.
type Profile struct {
	UserID          string         `json:"user_id"`
	FullName        *string        `json:"full_name"`
	Email           *string        `json:"email"`
	Phone           *string        `json:"phone,omitempty"`
	CPF             *string        `json:"cpf,omitempty"`
	DateOfBirth     *string        `json:"date_of_birth,omitempty"`
	BadgeNumber     *string        `json:"badge_number,omitempty"`
	Department      *string        `json:"department,omitempty"`
	Rank            *string        `json:"rank,omitempty"`
	Bio             *string        `json:"bio,omitempty"`
	ProfileType     ProfileType    `json:"profile_type"`
	ApprovalStatus  ApprovalStatus `json:"approval_status"`
	ApprovedBy      *string        `json:"approved_by"`
	ApprovedAt      *time.Time     `json:"approved_at"`
	RejectionReason *string        `json:"rejection_reason"`
	IsAdmin         bool           `json:"is_admin"`
	IsActive        bool           `json:"is_active"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewPendingProfile builds the row created at signup: pending citizen, active.
// The requested profile type in attrs is deliberately not applied.
func NewPendingProfile(user User, attrs SignUpAttributes, now time.Time) *Profile {
	email := user.Email
	return &Profile{
		UserID:         user.ID,
		FullName:       optional(attrs.FullName),
		Email:          &email,
		Phone:          optional(attrs.Phone),
		CPF:            optional(attrs.CPF),
		DateOfBirth:    optional(attrs.DateOfBirth),
		ProfileType:    ProfileCitizen,
		ApprovalStatus: StatusPending,
		IsAdmin:        false,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Validate checks the approval invariants of the row.
func (p *Profile) Validate() error {
	if !p.ProfileType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidProfileType, p.ProfileType)
	}
	switch p.ApprovalStatus {
	case StatusPending:
		if p.ApprovedBy != nil || p.ApprovedAt != nil || p.RejectionReason != nil {
			return fmt.Errorf("%w: pending profile carries decision fields", ErrInvalidProfile)
		}
	case StatusApproved:
		if p.ApprovedBy == nil || *p.ApprovedBy == "" || p.ApprovedAt == nil {
			return fmt.Errorf("%w: approved profile without approver", ErrInvalidProfile)
		}
	case StatusRejected:
		if p.RejectionReason == nil || strings.TrimSpace(*p.RejectionReason) == "" {
			return fmt.Errorf("%w: rejected profile without reason", ErrInvalidProfile)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidProfile, p.ApprovalStatus)
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate cached state.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.FullName = cloneString(p.FullName)
	c.Email = cloneString(p.Email)
	c.Phone = cloneString(p.Phone)
	c.CPF = cloneString(p.CPF)
	c.DateOfBirth = cloneString(p.DateOfBirth)
	c.BadgeNumber = cloneString(p.BadgeNumber)
	c.Department = cloneString(p.Department)
	c.Rank = cloneString(p.Rank)
	c.Bio = cloneString(p.Bio)
	c.ApprovedBy = cloneString(p.ApprovedBy)
	c.RejectionReason = cloneString(p.RejectionReason)
	if p.ApprovedAt != nil {
		t := *p.ApprovedAt
		c.ApprovedAt = &t
	}
	return &c
}

// ProfilePatch is the self-service edit surface. It cannot express changes to
// approval_status, profile_type or is_admin.
type ProfilePatch struct {
	FullName    *string `json:"full_name,omitempty"     validate:"omitempty,min=2"`
	Phone       *string `json:"phone,omitempty"`
	CPF         *string `json:"cpf,omitempty"`
	DateOfBirth *string `json:"date_of_birth,omitempty"`
	BadgeNumber *string `json:"badge_number,omitempty"`
	Department  *string `json:"department,omitempty"`
	Rank        *string `json:"rank,omitempty"`
	Bio         *string `json:"bio,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ProfilePatch) Empty() bool {
	return p.FullName == nil && p.Phone == nil && p.CPF == nil && p.DateOfBirth == nil &&
		p.BadgeNumber == nil && p.Department == nil && p.Rank == nil && p.Bio == nil
}

// Apply writes the patch fields onto p.
func (p ProfilePatch) Apply(dst *Profile, now time.Time) {
	set := func(to **string, from *string) {
		if from != nil {
			*to = cloneString(from)
		}
	}
	set(&dst.FullName, p.FullName)
	set(&dst.Phone, p.Phone)
	set(&dst.CPF, p.CPF)
	set(&dst.DateOfBirth, p.DateOfBirth)
	set(&dst.BadgeNumber, p.BadgeNumber)
	set(&dst.Department, p.Department)
	set(&dst.Rank, p.Rank)
	set(&dst.Bio, p.Bio)
	dst.UpdatedAt = now
}

// ProfileListing is a profile row joined with its approver's name.
type ProfileListing struct {
	Profile
	ApprovedByName *string `json:"approved_by_name,omitempty"`
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringValue dereferences s, returning "" for nil.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
