package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// Requirement is the declarative access rule attached to a protected view.
type Requirement struct {
	RequireAuth     bool
	RequireAdmin    bool
	RequireAgent    bool
	RequireApproved bool
	// Permissions must all be granted.
	Permissions []Permission
	// AnyPermission needs at least one granted.
	AnyPermission []Permission
}

// GuardState is the outcome of evaluating a Requirement.
type GuardState int

const (
	GuardLoading GuardState = iota
	GuardUnauthenticated
	GuardAdminRequired
	GuardAgentRequired
	GuardPendingApproval
	GuardRejected
	GuardPermissionDenied
	GuardGranted
)

var guardStateNames = map[GuardState]string{
	GuardLoading:          "loading",
	GuardUnauthenticated:  "unauthenticated",
	GuardAdminRequired:    "admin_required",
	GuardAgentRequired:    "agent_required",
	GuardPendingApproval:  "pending_approval",
	GuardRejected:         "rejected",
	GuardPermissionDenied: "permission_denied",
	GuardGranted:          "granted",
}

func (s GuardState) String() string {
	if n, ok := guardStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("guard_state(%d)", int(s))
}

// PermissionMode tells which permission list denied access.
type PermissionMode string

const (
	PermissionModeAll PermissionMode = "all"
	PermissionModeAny PermissionMode = "any"
)

// AccessDecision is what the guard concluded.
type AccessDecision struct {
	State GuardState
	// Mode and Missing are set for GuardPermissionDenied.
	Mode    PermissionMode
	Missing []Permission
	// RejectionReason is copied from the profile for GuardRejected.
	RejectionReason string
}

// Granted reports whether protected content may render.
func (d AccessDecision) Granted() bool { return d.State == GuardGranted }

// Screen is the explanatory view shown instead of protected content.
type Screen struct {
	State   string   `json:"state"`
	Title   string   `json:"title"`
	Message string   `json:"message"`
	Missing []string `json:"missing,omitempty"`
}

// Screen describes why access was refused. Backend errors never appear here.
func (d AccessDecision) Screen() Screen {
	s := Screen{State: d.State.String()}
	switch d.State {
	case GuardLoading:
		s.Title = "Checking authentication"
		s.Message = "Your session is still being verified."
	case GuardUnauthenticated:
		s.Title = "Sign in required"
		s.Message = "You need to sign in to access this page."
	case GuardAdminRequired:
		s.Title = "Administrators only"
		s.Message = "This page is restricted to administrators."
	case GuardAgentRequired:
		s.Title = "Agents only"
		s.Message = "This page is restricted to agents and administrators."
	case GuardPendingApproval:
		s.Title = "Account awaiting approval"
		s.Message = "Your account is being reviewed by an administrator. You will be notified once it is approved."
	case GuardRejected:
		s.Title = "Account rejected"
		s.Message = d.RejectionReason
		if strings.TrimSpace(s.Message) == "" {
			s.Message = "Your account was rejected. Contact an administrator for more information."
		}
	case GuardPermissionDenied:
		s.Title = "Missing permission"
		names := make([]string, len(d.Missing))
		for i, p := range d.Missing {
			names[i] = string(p)
		}
		s.Missing = names
		if d.Mode == PermissionModeAny {
			s.Message = "You need at least one of: " + strings.Join(names, ", ")
		} else {
			s.Message = "You are missing: " + strings.Join(names, ", ")
		}
	case GuardGranted:
		s.Title = "OK"
	}
	return s
}

// Redirect returns the sign-in location for an unauthenticated decision.
// Every other state renders a screen instead, so ok is false.
func (d AccessDecision) Redirect(signInPath, from string) (location string, ok bool) {
	if d.State != GuardUnauthenticated {
		return "", false
	}
	return SignInRedirect(signInPath, from), true
}

// SignInRedirect builds the sign-in location carrying the originally
// requested path so the user returns there after login.
func SignInRedirect(signInPath, from string) string {
	if from == "" {
		return signInPath
	}
	sep := "?"
	if strings.Contains(signInPath, "?") {
		sep = "&"
	}
	return signInPath + sep + "from=" + url.QueryEscape(from)
}
