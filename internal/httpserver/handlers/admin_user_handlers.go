package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"guardcore/internal/auth"
	"guardcore/internal/models"
	"guardcore/internal/store"
)

func ListUsers(users store.UserStore, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := users.List(r.Context())
		if err != nil {
			respondFailure(w, lg, err)
			return
		}
		respondJSON(w, out)
	}
}

func CreateUser(users store.UserStore, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string   `json:"email"`
			Username string   `json:"username"`
			Password string   `json:"password"`
			IsAdmin  bool     `json:"is_admin"`
			IsVendor bool     `json:"is_vendor"`
			Roles    []string `json:"roles"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
			return
		}
		req.Email = strings.TrimSpace(strings.ToLower(req.Email))
		req.Username = strings.TrimSpace(req.Username)
		if req.Email == "" || req.Username == "" || req.Password == "" {
			respondError(w, http.StatusUnprocessableEntity, "validation_failed", "email, username and password are required")
			return
		}
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			respondFailure(w, lg, err)
			return
		}
		if len(req.Roles) == 0 {
			req.Roles = []string{"user"}
		}
		u := models.User{
			Email:        req.Email,
			Username:     req.Username,
			PasswordHash: hash,
			IsAdmin:      req.IsAdmin,
			IsVendor:     req.IsVendor,
			IsActive:     true,
		}
		if err := users.Create(r.Context(), &u, req.Roles); err != nil {
			respondFailure(w, lg, err)
			return
		}
		respondJSON(w, map[string]any{"id": u.ID})
	}
}

// UpdateUser mutates exactly the fields listed in the typed update struct.
// Deactivating a user revokes their outstanding credentials.
func UpdateUser(users store.UserStore, eng *auth.Engine, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req struct {
			Email    *string `json:"email"`
			Username *string `json:"username"`
			Password *string `json:"password"`
			IsActive *bool   `json:"is_active"`
			IsAdmin  *bool   `json:"is_admin"`
			IsVendor *bool   `json:"is_vendor"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
			return
		}
		upd := store.UserUpdate{
			Email:    req.Email,
			Username: req.Username,
			IsActive: req.IsActive,
			IsAdmin:  req.IsAdmin,
			IsVendor: req.IsVendor,
		}
		if req.Password != nil && *req.Password != "" {
			hash, err := auth.HashPassword(*req.Password)
			if err != nil {
				respondFailure(w, lg, err)
				return
			}
			upd.PasswordHash = &hash
		}
		u, err := users.Update(r.Context(), id, upd)
		if err != nil {
			respondFailure(w, lg, err)
			return
		}
		if req.IsActive != nil && !*req.IsActive {
			eng.RevokeUserCredentials(r.Context(), id)
		}
		respondJSON(w, map[string]any{"user": u})
	}
}

func DeleteUser(users store.UserStore, eng *auth.Engine, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := users.Delete(r.Context(), id); err != nil {
			respondFailure(w, lg, err)
			return
		}
		eng.RevokeUserCredentials(r.Context(), id)
		respondJSON(w, map[string]any{"deleted": true})
	}
}
