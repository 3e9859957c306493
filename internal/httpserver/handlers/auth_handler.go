package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"guardcore/internal/auth"
	"guardcore/internal/rbac"
	"guardcore/internal/store"
)

// clientIP assumes chi's RealIP middleware already resolved forwarding
// headers into RemoteAddr.
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if addr == "" {
		return "unknown"
	}
	return addr
}

type loginReq struct {
	Login         string `json:"login"`
	Password      string `json:"password"`
	RememberMe    bool   `json:"remember_me,omitempty"`
	TwoFactorCode string `json:"two_factor_code,omitempty"`
	DeviceName    string `json:"device_name,omitempty"`
}

func Login(eng *auth.Engine, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
			return
		}
		result, err := eng.LoginWithGuard(r.Context(), auth.LoginInput{
			Guard:         chi.URLParam(r, "guard"),
			Login:         req.Login,
			Password:      req.Password,
			ClientIP:      clientIP(r),
			UserAgent:     r.UserAgent(),
			RememberMe:    req.RememberMe,
			TwoFactorCode: req.TwoFactorCode,
			DeviceName:    req.DeviceName,
		})
		if err != nil {
			respondFailure(w, lg, err)
			return
		}
		resp := map[string]any{
			"user":             result.User,
			"guard":            result.Guard,
			"available_guards": result.AvailableGuards,
			"security_info":    result.Security,
		}
		if result.Token != "" {
			resp["token"] = result.Token
		}
		if result.SessionToken != "" {
			resp["session_token"] = result.SessionToken
		}
		respondJSON(w, resp)
	}
}

func Logout(eng *auth.Engine, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := auth.PrincipalFrom(r.Context())
		if err := eng.Logout(r.Context(), p, clientIP(r), r.UserAgent()); err != nil {
			respondFailure(w, lg, err)
			return
		}
		respondJSON(w, map[string]any{"logged_out": true})
	}
}

func SwitchGuard(eng *auth.Engine, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Guard string `json:"guard"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
			return
		}
		p := auth.PrincipalFrom(r.Context())
		result, err := eng.SwitchGuard(r.Context(), p, strings.TrimSpace(req.Guard), clientIP(r), r.UserAgent())
		if err != nil {
			respondFailure(w, lg, err)
			return
		}
		resp := map[string]any{
			"previous_guard": result.PreviousGuard,
			"current_guard":  result.CurrentGuard,
			"user":           result.User,
			"security_info":  result.Security,
		}
		if result.Token != "" {
			resp["token"] = result.Token
		}
		if result.SessionToken != "" {
			resp["session_token"] = result.SessionToken
		}
		respondJSON(w, resp)
	}
}

func Me(lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := auth.PrincipalFrom(r.Context())
		respondJSON(w, map[string]any{
			"user":         p.User,
			"guard":        p.Guard,
			"capabilities": p.Capabilities.Names(),
		})
	}
}

func ChangePassword(eng *auth.Engine, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			CurrentPassword string `json:"current_password"`
			NewPassword     string `json:"new_password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
			return
		}
		p := auth.PrincipalFrom(r.Context())
		if err := eng.ChangePassword(r.Context(), p, req.CurrentPassword, req.NewPassword); err != nil {
			respondFailure(w, lg, err)
			return
		}
		respondJSON(w, map[string]any{"changed": true})
	}
}

// LoginHistory returns the caller's recent authentication events. Holders of
// the "view login history" capability can pass ?all=1 for everyone's.
func LoginHistory(hs store.HistoryStore, limit int, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := auth.PrincipalFrom(r.Context())
		all := r.URL.Query().Get("all") == "1"
		if all && p.HasCapability(rbac.CapViewLoginHistory) {
			rows, err := hs.HistoryAll(r.Context(), limit)
			if err != nil {
				respondFailure(w, lg, err)
				return
			}
			respondJSON(w, rows)
			return
		}
		rows, err := hs.HistoryForUser(r.Context(), p.User.ID, limit)
		if err != nil {
			respondFailure(w, lg, err)
			return
		}
		respondJSON(w, rows)
	}
}
