package auth

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"guardcore/internal/rbac"
	"guardcore/internal/store"
)

// Middleware authenticates bearer credentials. Session JWTs (two dots) are
// verified against the secret and their jti checked against the sessions
// table; anything else is treated as an opaque access token and resolved by
// hash.
func Middleware(users store.UserStore, sessions store.SessionStore, tokens *TokenService, jwtSecret string, lg *zap.SugaredLogger) func(http.Handler) http.Handler {
	secret := []byte(jwtSecret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			raw := strings.TrimPrefix(h, "Bearer ")

			p := &Principal{}
			if strings.Count(raw, ".") == 2 {
				claims, err := verifySessionToken(secret, raw)
				if err != nil {
					http.Error(w, "invalid token", http.StatusUnauthorized)
					return
				}
				sess, err := sessions.FindSession(r.Context(), claims.JTI)
				if err != nil {
					http.Error(w, "session not found", http.StatusUnauthorized)
					return
				}
				if sess.RevokedAt != nil || time.Now().After(sess.ExpiresAt) {
					http.Error(w, "session expired or revoked", http.StatusUnauthorized)
					return
				}
				p.Guard = claims.Guard
				p.SessionJTI = claims.JTI
				user, err := users.FindByID(r.Context(), claims.UserID)
				if err != nil {
					http.Error(w, "unknown principal", http.StatusUnauthorized)
					return
				}
				p.User = user
			} else {
				tok, err := tokens.Authenticate(r.Context(), raw)
				if err != nil {
					http.Error(w, "invalid token", http.StatusUnauthorized)
					return
				}
				user, err := users.FindByID(r.Context(), tok.UserID)
				if err != nil {
					http.Error(w, "unknown principal", http.StatusUnauthorized)
					return
				}
				p.User = user
				p.Guard = tok.Guard
				p.Token = tok
			}

			if !p.User.IsActive {
				http.Error(w, "account inactive", http.StatusForbidden)
				return
			}
			p.Capabilities = rbac.Capabilities(p.User)
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireRole gates a route on any of the given roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFrom(r.Context())
			if p == nil {
				http.Error(w, "unauthenticated", http.StatusUnauthorized)
				return
			}
			for _, role := range roles {
				if p.User.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "forbidden", http.StatusForbidden)
		})
	}
}

// RequireCapability gates a route on a capability; the credential used must
// also carry a matching ability when it is an access token.
func RequireCapability(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFrom(r.Context())
			if p == nil {
				http.Error(w, "unauthenticated", http.StatusUnauthorized)
				return
			}
			if !p.HasCapability(name) || !p.Allows(name) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
