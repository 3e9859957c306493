package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"guardcore/internal/auth"
	"guardcore/internal/config"
	"guardcore/internal/guard"
	"guardcore/internal/httpserver/handlers"
	"guardcore/internal/rbac"
	"guardcore/internal/store"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Cfg     *config.Config
	Store   store.Store
	Auth    *auth.Engine
	RBAC    *rbac.Engine
	Tokens  *auth.TokenService
	Metrics http.Handler
	LG      *zap.SugaredLogger
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Logger)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   d.Cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler)
	r.Use(newThrottle(d.Cfg.RequestRPM).Handler)

	r.Post("/v1/auth/login/{guard}", handlers.Login(d.Auth, d.LG))

	r.Group(func(protected chi.Router) {
		protected.Use(auth.Middleware(d.Store, d.Store, d.Tokens, d.Cfg.JWTSecret, d.LG))
		protected.Get("/v1/me", handlers.Me(d.LG))
		protected.Post("/v1/auth/logout", handlers.Logout(d.Auth, d.LG))
		protected.Post("/v1/auth/switch-guard", handlers.SwitchGuard(d.Auth, d.LG))
		protected.Post("/v1/auth/password", handlers.ChangePassword(d.Auth, d.LG))
		protected.Get("/v1/auth/login-history", handlers.LoginHistory(d.Store, d.Cfg.HistoryLimit, d.LG))

		protected.Group(func(admin chi.Router) {
			admin.Use(auth.RequireRole(guard.RoleAdmin, guard.RoleSuperadmin))
			admin.With(auth.RequireCapability(rbac.CapViewUsers)).
				Get("/v1/admin/users", handlers.ListUsers(d.Store, d.LG))
			admin.With(auth.RequireCapability(rbac.CapManageUsers)).
				Post("/v1/admin/users", handlers.CreateUser(d.Store, d.LG))
			admin.With(auth.RequireCapability(rbac.CapManageUsers)).
				Patch("/v1/admin/users/{id}", handlers.UpdateUser(d.Store, d.Auth, d.LG))
			admin.With(auth.RequireCapability(rbac.CapManageUsers)).
				Delete("/v1/admin/users/{id}", handlers.DeleteUser(d.Store, d.Auth, d.LG))

			admin.Post("/v1/admin/users/{id}/assign-role", handlers.AssignRole(d.RBAC, d.LG))
			admin.Post("/v1/admin/users/{id}/remove-role", handlers.RemoveRole(d.RBAC, d.LG))
			admin.Post("/v1/admin/users/{id}/give-permission", handlers.GivePermission(d.RBAC, d.LG))
			admin.Post("/v1/admin/users/{id}/revoke-permission", handlers.RevokePermission(d.RBAC, d.LG))

			admin.With(auth.RequireCapability(rbac.CapManageRoles)).
				Get("/v1/admin/roles", handlers.ListRoles(d.Store, d.LG))
			admin.With(auth.RequireCapability(rbac.CapManageRoles)).
				Post("/v1/admin/roles", handlers.CreateRole(d.RBAC, d.LG))
			admin.With(auth.RequireCapability(rbac.CapManageRoles)).
				Delete("/v1/admin/roles/{name}", handlers.DeleteRole(d.RBAC, d.LG))
			admin.With(auth.RequireCapability(rbac.CapManagePermissions)).
				Get("/v1/admin/permissions", handlers.ListPermissions(d.Store, d.LG))
		})
	})

	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return r
}
