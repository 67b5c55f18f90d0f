package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Permission is a named capability checked by the backend.
type Permission string

const (
	PermManagePosts      Permission = "manage_posts"
	PermManageCategories Permission = "manage_categories"
	PermManageConcursos  Permission = "manage_concursos"
	PermManageUsers      Permission = "manage_users"
	PermApproveUsers     Permission = "approve_users"
	PermViewReports      Permission = "view_reports"
	PermViewMembersArea  Permission = "view_members_area"
)

var ErrUnknownPermission = errors.New("unknown permission")

// PermissionRegistry is the set of permission names the portal accepts.
// Names coming from configuration or the backend are validated against it.
type PermissionRegistry struct {
	mu    sync.RWMutex
	names map[Permission]struct{}
}

// NewPermissionRegistry returns a registry holding the given names.
func NewPermissionRegistry(names ...Permission) *PermissionRegistry {
	r := &PermissionRegistry{names: make(map[Permission]struct{}, len(names))}
	for _, n := range names {
		r.names[n] = struct{}{}
	}
	return r
}

// DefaultPermissions is the built-in registry.
var DefaultPermissions = NewPermissionRegistry(
	PermManagePosts,
	PermManageCategories,
	PermManageConcursos,
	PermManageUsers,
	PermApproveUsers,
	PermViewReports,
	PermViewMembersArea,
)

// Register adds names announced by the backend. Names must be lower snake case.
func (r *PermissionRegistry) Register(names ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		if !validPermissionName(n) {
			return fmt.Errorf("%w: %q", ErrUnknownPermission, n)
		}
		r.names[Permission(n)] = struct{}{}
	}
	return nil
}

// Parse validates name against the registry.
func (r *PermissionRegistry) Parse(name string) (Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := Permission(strings.TrimSpace(name))
	if _, ok := r.names[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPermission, name)
	}
	return p, nil
}

// MustParse is Parse for static route tables.
func (r *PermissionRegistry) MustParse(names ...string) []Permission {
	out := make([]Permission, 0, len(names))
	for _, n := range names {
		p, err := r.Parse(n)
		if err != nil {
			panic(err)
		}
		out = append(out, p)
	}
	return out
}

// Names returns the registered names sorted.
func (r *PermissionRegistry) Names() []Permission {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Permission, 0, len(r.names))
	for n := range r.names {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParsePermission validates name against DefaultPermissions.
func ParsePermission(name string) (Permission, error) {
	return DefaultPermissions.Parse(name)
}

func validPermissionName(n string) bool {
	if n == "" {
		return false
	}
	for _, c := range n {
		if (c < 'a' || c > 'z') && c != '_' && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// DefaultRoleGrants is the seed role → permission mapping used by the backends.
var DefaultRoleGrants = map[ProfileType][]Permission{
	ProfileCitizen: {PermViewMembersArea},
	ProfileAgent:   {PermViewMembersArea, PermManagePosts, PermManageConcursos, PermViewReports},
	ProfileAdmin: {
		PermViewMembersArea, PermManagePosts, PermManageCategories, PermManageConcursos,
		PermManageUsers, PermApproveUsers, PermViewReports,
	},
}

// Holds reports whether profile p is granted perm by its role. Only approved
// profiles hold permissions, except admins, whose role always applies.
func Holds(p *Profile, grants map[ProfileType][]Permission, perm Permission) bool {
	if p == nil {
		return false
	}
	if p.ApprovalStatus != StatusApproved && p.ProfileType != ProfileAdmin {
		return false
	}
	for _, g := range grants[p.ProfileType] {
		if g == perm {
			return true
		}
	}
	return false
}

// CanDecideApprovals reports whether actor may approve or reject profiles.
func CanDecideApprovals(actor *Profile) bool {
	return actor != nil && actor.ProfileType == ProfileAdmin
}
