package domain

// AuthState is an immutable snapshot of who is signed in and what their
// profile says. Version increases on every change so readers can detect
// that a result computed from an older snapshot is stale.
type AuthState struct {
	User        *User
	Profile     *Profile
	Loading     bool
	Initialized bool
	Version     uint64
}

// IsAuthenticated is true only when both the user and their profile are known.
// A signed-in user without a profile row is treated as unauthenticated.
func (s AuthState) IsAuthenticated() bool {
	return s.User != nil && s.Profile != nil && s.Profile.UserID == s.User.ID
}

func (s AuthState) profile() *Profile {
	if !s.IsAuthenticated() {
		return nil
	}
	return s.Profile
}

func (s AuthState) IsAdmin() bool   { return s.hasType(ProfileAdmin) }
func (s AuthState) IsAgent() bool   { return s.hasType(ProfileAgent) }
func (s AuthState) IsCitizen() bool { return s.hasType(ProfileCitizen) }

func (s AuthState) IsApproved() bool { return s.hasStatus(StatusApproved) }
func (s AuthState) IsPending() bool  { return s.hasStatus(StatusPending) }
func (s AuthState) IsRejected() bool { return s.hasStatus(StatusRejected) }

func (s AuthState) hasType(t ProfileType) bool {
	p := s.profile()
	return p != nil && p.ProfileType == t
}

func (s AuthState) hasStatus(st ApprovalStatus) bool {
	p := s.profile()
	return p != nil && p.ApprovalStatus == st
}

// UserID returns the signed-in user's id or "".
func (s AuthState) UserID() string {
	if s.User == nil {
		return ""
	}
	return s.User.ID
}
