// Package rbac implements role and permission management with the privilege
// hierarchy: only superadmins may grant or revoke the superadmin and admin
// roles, and the four core roles are immutable.
package rbac

import (
	"guardcore/internal/guard"
	"guardcore/internal/models"
)

// Capability names used by the admin surface.
const (
	CapViewUsers         = "view users"
	CapManageUsers       = "manage users"
	CapManageRoles       = "manage roles"
	CapManagePermissions = "manage permissions"
	CapViewLoginHistory  = "view login history"
)

// CoreRoles cannot be deleted and superadmin cannot be edited.
var CoreRoles = []string{guard.RoleSuperadmin, guard.RoleAdmin, guard.RoleVendor, guard.RoleUser}

func IsCoreRole(name string) bool {
	for _, r := range CoreRoles {
		if r == name {
			return true
		}
	}
	return false
}

// CapabilitySet is the flattened permission set of a user, computed once per
// request.
type CapabilitySet map[string]struct{}

func (s CapabilitySet) Has(name string) bool {
	if _, ok := s["*"]; ok {
		return true
	}
	_, ok := s[name]
	return ok
}

func (s CapabilitySet) Names() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	return out
}

// Capabilities unions the user's role permissions with their direct
// permissions. Superadmins implicitly hold every capability.
func Capabilities(u *models.User) CapabilitySet {
	set := CapabilitySet{}
	if u == nil {
		return set
	}
	if u.HasRole(guard.RoleSuperadmin) {
		set["*"] = struct{}{}
	}
	for _, r := range u.Roles {
		for _, p := range r.Permissions {
			set[p.Name] = struct{}{}
		}
	}
	for _, p := range u.Permissions {
		set[p.Name] = struct{}{}
	}
	return set
}

// HasCapability is the pure per-user capability check.
func HasCapability(u *models.User, name string) bool {
	return Capabilities(u).Has(name)
}
