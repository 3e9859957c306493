package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"guardcore/internal/auth"
	"guardcore/internal/rbac"
	"guardcore/internal/store"
)

func AssignRole(eng *rbac.Engine, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Role             string `json:"role"`
			RemoveOtherRoles bool   `json:"remove_other_roles"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
			return
		}
		p := auth.PrincipalFrom(r.Context())
		user, err := eng.AssignRole(r.Context(), p.User, chi.URLParam(r, "id"), req.Role, req.RemoveOtherRoles)
		if err != nil {
			respondFailure(w, lg, err)
			return
		}
		respondJSON(w, map[string]any{"user": user})
	}
}

func RemoveRole(eng *rbac.Engine, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Role string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
			return
		}
		p := auth.PrincipalFrom(r.Context())
		user, err := eng.RemoveRole(r.Context(), p.User, chi.URLParam(r, "id"), req.Role)
		if err != nil {
			respondFailure(w, lg, err)
			return
		}
		respondJSON(w, map[string]any{"user": user})
	}
}

func GivePermission(eng *rbac.Engine, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Permission string `json:"permission"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
			return
		}
		p := auth.PrincipalFrom(r.Context())
		user, err := eng.GivePermission(r.Context(), p.User, chi.URLParam(r, "id"), req.Permission)
		if err != nil {
			respondFailure(w, lg, err)
			return
		}
		respondJSON(w, map[string]any{"user": user})
	}
}

func RevokePermission(eng *rbac.Engine, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Permission string `json:"permission"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
			return
		}
		p := auth.PrincipalFrom(r.Context())
		user, err := eng.RevokePermission(r.Context(), p.User, chi.URLParam(r, "id"), req.Permission)
		if err != nil {
			respondFailure(w, lg, err)
			return
		}
		respondJSON(w, map[string]any{"user": user})
	}
}

func ListRoles(roles store.RoleStore, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := roles.ListRoles(r.Context())
		if err != nil {
			respondFailure(w, lg, err)
			return
		}
		respondJSON(w, out)
	}
}

func CreateRole(eng *rbac.Engine, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name        string   `json:"name"`
			GuardName   string   `json:"guard_name"`
			Permissions []string `json:"permissions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
			return
		}
		p := auth.PrincipalFrom(r.Context())
		role, err := eng.CreateRole(r.Context(), p.User, req.Name, req.GuardName, req.Permissions)
		if err != nil {
			respondFailure(w, lg, err)
			return
		}
		respondJSON(w, map[string]any{"role": role})
	}
}

func DeleteRole(eng *rbac.Engine, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := auth.PrincipalFrom(r.Context())
		name := strings.TrimSpace(chi.URLParam(r, "name"))
		if err := eng.DeleteRole(r.Context(), p.User, name); err != nil {
			respondFailure(w, lg, err)
			return
		}
		respondJSON(w, map[string]any{"deleted": true})
	}
}

func ListPermissions(roles store.RoleStore, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := roles.ListPermissions(r.Context())
		if err != nil {
			respondFailure(w, lg, err)
			return
		}
		respondJSON(w, out)
	}
}
