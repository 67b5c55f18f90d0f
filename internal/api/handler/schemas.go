package handler

import "time"

type signUpRequest struct {
	Email       string `json:"email"         validate:"required,email"`
	Password    string `json:"password"      validate:"required,min=6"`
	FullName    string `json:"full_name"     validate:"required,min=2"`
	Phone       string `json:"phone"`
	CPF         string `json:"cpf"`
	DateOfBirth string `json:"date_of_birth"`
	ProfileType string `json:"profile_type"  validate:"omitempty,oneof=citizen agent admin"`
}

type signInRequest struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type sessionResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresAt   time.Time   `json:"expires_at"`
	User        userPayload `json:"user"`
}

type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// authStateResponse mirrors what the session manager exposes to views.
type authStateResponse struct {
	User            *userPayload     `json:"user"`
	Profile         *profileResponse `json:"profile"`
	IsAuthenticated bool             `json:"is_authenticated"`
	IsAdmin         bool             `json:"is_admin"`
	IsAgent         bool             `json:"is_agent"`
	IsCitizen       bool             `json:"is_citizen"`
	IsApproved      bool             `json:"is_approved"`
	IsPending       bool             `json:"is_pending"`
	IsRejected      bool             `json:"is_rejected"`
}

type profileResponse struct {
	UserID          string  `json:"user_id"`
	FullName        *string `json:"full_name"`
	Email           *string `json:"email"`
	Phone           *string `json:"phone,omitempty"`
	CPF             *string `json:"cpf,omitempty"`
	DateOfBirth     *string `json:"date_of_birth,omitempty"`
	BadgeNumber     *string `json:"badge_number,omitempty"`
	Department      *string `json:"department,omitempty"`
	Rank            *string `json:"rank,omitempty"`
	Bio             *string `json:"bio,omitempty"`
	ProfileType     string  `json:"profile_type"`
	ApprovalStatus  string  `json:"approval_status"`
	ApprovedBy      *string `json:"approved_by"`
	ApprovedByName  *string `json:"approved_by_name,omitempty"`
	ApprovedAt      *string `json:"approved_at"`
	RejectionReason *string `json:"rejection_reason"`
	IsAdmin         bool    `json:"is_admin"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

type updateProfileRequest struct {
	FullName    *string `json:"full_name"     validate:"omitempty,min=2"`
	Phone       *string `json:"phone"`
	CPF         *string `json:"cpf"`
	DateOfBirth *string `json:"date_of_birth"`
	BadgeNumber *string `json:"badge_number"`
	Department  *string `json:"department"`
	Rank        *string `json:"rank"`
	Bio         *string `json:"bio"          validate:"omitempty,max=500"`
}

type approveRequest struct {
	ProfileType string `json:"profile_type" validate:"required,oneof=citizen agent admin"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type listProfilesResponse struct {
	Items []profileResponse `json:"items"`
	Count int               `json:"count"`
}

type viewResponse struct {
	View    string          `json:"view"`
	Title   string          `json:"title"`
	Profile profileResponse `json:"profile"`
}
