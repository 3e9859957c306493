package auth

import (
	"context"

	"guardcore/internal/models"
	"guardcore/internal/rbac"
)

type ctxKey int

const principalKey ctxKey = 0

// Principal is the authenticated caller, passed explicitly through the
// request context. Capabilities are resolved once when the principal is
// built.
type Principal struct {
	User         *models.User
	Guard        string
	Capabilities rbac.CapabilitySet

	// Token is set when the request authenticated with an opaque bearer
	// token; SessionJTI when it authenticated with a session JWT. Exactly one
	// of the two is set.
	Token      *models.AccessToken
	SessionJTI string
}

func (p *Principal) HasCapability(name string) bool {
	return p != nil && p.Capabilities.Has(name)
}

// Allows reports whether the credential used for this request authorizes the
// named ability. Session-authenticated requests are unrestricted; token
// requests are bounded by the token's ability list.
func (p *Principal) Allows(ability string) bool {
	if p == nil {
		return false
	}
	if p.Token == nil {
		return true
	}
	return p.Token.Can(ability)
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFrom(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalKey).(*Principal); ok {
		return p
	}
	return nil
}
