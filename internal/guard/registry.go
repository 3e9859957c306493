// Package guard holds the static authentication-guard configuration: which
// users may log in through a given guard and under what security policy.
package guard

import (
	"strings"
	"time"

	"guardcore/internal/models"
)

const (
	Web           = "web"
	API           = "api"
	Admin         = "admin"
	APIAdmin      = "api_admin"
	Vendor        = "vendor"
	APIVendor     = "api_vendor"
	Superadmin    = "superadmin"
	APISuperadmin = "api_superadmin"
)

// Names lists every known guard in canonical order. Eligibility listings and
// responses always follow this order.
var Names = []string{Web, API, Admin, APIAdmin, Vendor, APIVendor, Superadmin, APISuperadmin}

const (
	RoleSuperadmin = "superadmin"
	RoleAdmin      = "admin"
	RoleVendor     = "vendor"
	RoleUser       = "user"
)

// Policy is the per-guard security policy. Policies are built once at process
// start and treated as read-only afterwards.
type Policy struct {
	MaxAttempts      int
	DecaySeconds     int
	LockoutDuration  time.Duration
	SessionLifetime  time.Duration
	TokenLifetime    time.Duration
	Requires2FA      bool
	MaxTokensPerUser int
	IPWhitelist      []string
}

// IsAPI reports whether the guard issues opaque bearer tokens rather than a
// JWT session.
func IsAPI(name string) bool {
	return name == API || strings.HasPrefix(name, "api_")
}

type Registry struct {
	policies map[string]Policy
}

func NewRegistry(policies map[string]Policy) *Registry {
	if policies == nil {
		panic("guard: nil policy map")
	}
	return &Registry{policies: policies}
}

func (r *Registry) Known(name string) bool {
	_, ok := r.policies[name]
	return ok
}

func (r *Registry) Policy(name string) (Policy, bool) {
	p, ok := r.policies[name]
	return p, ok
}

// Eligible applies the guard-family eligibility rules. It is pure over the
// user's role and flag state; lockout and rate limiting are checked elsewhere.
func (r *Registry) Eligible(u *models.User, name string) bool {
	if !r.Known(name) {
		return false
	}
	switch name {
	case Superadmin, APISuperadmin:
		return u.HasRole(RoleSuperadmin) && u.IsAdmin && u.IsActive
	case Admin, APIAdmin:
		return (u.HasRole(RoleAdmin) || u.HasRole(RoleSuperadmin)) && u.IsAdmin && u.IsActive
	case Vendor, APIVendor:
		return u.HasRole(RoleVendor) && u.IsVendor && u.IsActive
	case Web, API:
		return u.IsActive
	default:
		return false
	}
}

// Available returns the guards the user is eligible for, in canonical order.
func (r *Registry) Available(u *models.User) []string {
	out := make([]string, 0, len(Names))
	for _, name := range Names {
		if r.Eligible(u, name) {
			out = append(out, name)
		}
	}
	return out
}

// WhitelistAllows reports whether the client IP passes the guard's whitelist.
// An empty whitelist allows everyone.
func (p Policy) WhitelistAllows(ip string) bool {
	if len(p.IPWhitelist) == 0 {
		return true
	}
	for _, allowed := range p.IPWhitelist {
		if allowed == ip {
			return true
		}
	}
	return false
}
