package domain

import (
	"errors"
	"time"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionNotFound    = errors.New("session not found")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrInvalidSignUp      = errors.New("invalid sign-up data")
)

// User is the identity issued by the auth provider. The portal only mirrors it.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session is a live provider session for one user.
type Session struct {
	ID          string    `json:"id"`
	AccessToken string    `json:"access_token"`
	User        User      `json:"user"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at t.
func (s *Session) Expired(t time.Time) bool {
	return !s.ExpiresAt.IsZero() && !t.Before(s.ExpiresAt)
}

// SignUpAttributes are the profile fields collected at registration.
type SignUpAttributes struct {
	FullName    string `json:"full_name"     validate:"required,min=2"`
	Phone       string `json:"phone,omitempty"`
	CPF         string `json:"cpf,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	// ProfileType is what the applicant asked for. It is recorded nowhere:
	// every new profile starts as a citizen until an admin decides otherwise.
	ProfileType ProfileType `json:"profile_type,omitempty"`
}

// Credentials is the stored secret for a user.
type Credentials struct {
	UserID       string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
