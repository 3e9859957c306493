package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"guardcore/internal/auth"
	"guardcore/internal/rbac"
	"guardcore/internal/store"
)

func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

type errorBody struct {
	Code            string   `json:"code"`
	Message         string   `json:"message"`
	RetryAfter      int      `json:"retry_after,omitempty"`
	UnlockAt        string   `json:"unlock_at,omitempty"`
	AvailableGuards []string `json:"available_guards,omitempty"`
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]errorBody{"error": {Code: code, Message: message}})
}

// respondFailure maps engine and store errors onto the HTTP error taxonomy.
// Unexpected errors surface as a generic 500; the cause is logged, never
// leaked.
func respondFailure(w http.ResponseWriter, lg *zap.SugaredLogger, err error) {
	var ae *auth.Error
	if errors.As(err, &ae) {
		body := errorBody{
			Code:            ae.Code,
			Message:         ae.Message,
			RetryAfter:      ae.RetryAfter,
			AvailableGuards: ae.AvailableGuards,
		}
		if ae.UnlockAt != nil {
			body.UnlockAt = ae.UnlockAt.UTC().Format(time.RFC3339)
		}
		w.Header().Set("Content-Type", "application/json")
		if ae.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(ae.RetryAfter))
		}
		w.WriteHeader(ae.Status)
		_ = json.NewEncoder(w).Encode(map[string]errorBody{"error": body})
		return
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, store.ErrConflict):
		respondError(w, http.StatusConflict, "conflict", "resource already exists")
	case errors.Is(err, rbac.ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden", "you are not allowed to do that")
	case errors.Is(err, rbac.ErrCoreRole):
		respondError(w, http.StatusForbidden, "core_role", "core roles cannot be modified")
	case errors.Is(err, rbac.ErrRoleInUse):
		respondError(w, http.StatusConflict, "role_in_use", "role is still assigned to users")
	case errors.Is(err, rbac.ErrInvalidRole):
		respondError(w, http.StatusUnprocessableEntity, "validation_failed", "a role name is required")
	case errors.Is(err, auth.ErrTokenInvalid):
		respondError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
	default:
		lg.Errorw("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
	}
}
