package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"guardcore/internal/auth"
	"guardcore/internal/config"
	"guardcore/internal/guard"
	"guardcore/internal/history"
	"guardcore/internal/models"
	"guardcore/internal/ratelimit"
	"guardcore/internal/rbac"
	"guardcore/internal/store"
)

func testConfig() *config.Config {
	base := guard.Policy{
		MaxAttempts:     5,
		DecaySeconds:    300,
		LockoutDuration: 15 * time.Minute,
		SessionLifetime: time.Hour,
		TokenLifetime:   time.Hour,
	}
	guards := map[string]guard.Policy{}
	for _, name := range guard.Names {
		guards[name] = base
	}
	return &config.Config{
		HTTPPort:     "0",
		JWTSecret:    "router-test-secret",
		CORSOrigins:  []string{"*"},
		RequestRPM:   60000,
		HistoryLimit: 200,
		Guards:       guards,
	}
}

type apiEnv struct {
	router http.Handler
	store  *store.Memory
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	cfg := testConfig()
	mem := store.NewMemory()
	lg := zap.NewNop().Sugar()

	for _, name := range rbac.CoreRoles {
		_, err := mem.CreateRole(context.Background(), name, guard.Web, nil)
		require.NoError(t, err)
	}
	for _, name := range []string{rbac.CapViewUsers, rbac.CapManageUsers, rbac.CapManageRoles, rbac.CapManagePermissions, rbac.CapViewLoginHistory} {
		mem.CreatePermission(name, guard.Web)
	}

	tokens := auth.NewTokenService(mem)
	recorder := history.NewRecorder(mem, lg)
	t.Cleanup(recorder.Close)
	engine := auth.NewEngine(mem, mem, tokens, guard.NewRegistry(cfg.Guards), ratelimit.New(), recorder, cfg.JWTSecret, lg)

	router := NewRouter(Deps{
		Cfg:    cfg,
		Store:  mem,
		Auth:   engine,
		RBAC:   rbac.NewEngine(mem, mem, lg),
		Tokens: tokens,
		LG:     lg,
	})
	return &apiEnv{router: router, store: mem}
}

func (e *apiEnv) addUser(t *testing.T, email, username, password string, roles []string, isAdmin bool) *models.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	u := &models.User{Email: email, Username: username, PasswordHash: hash, IsAdmin: isAdmin, IsActive: true}
	require.NoError(t, e.store.Create(context.Background(), u, roles))
	return u
}

func (e *apiEnv) do(t *testing.T, method, path, bearer, remoteAddr string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var decoded map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	return rec, decoded
}

func (e *apiEnv) login(t *testing.T, guardName, login, password string) string {
	t.Helper()
	rec, body := e.do(t, http.MethodPost, "/v1/auth/login/"+guardName, "", "", map[string]any{
		"login": login, "password": password,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	if tok, ok := body["token"].(string); ok {
		return tok
	}
	tok, _ := body["session_token"].(string)
	require.NotEmpty(t, tok)
	return tok
}

func errBody(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %v", body)
	return e
}

func TestLoginEndpointIssuesToken(t *testing.T) {
	env := newAPIEnv(t)
	env.addUser(t, "joe@example.com", "joe", "s3cret", []string{guard.RoleUser}, false)

	rec, body := env.do(t, http.MethodPost, "/v1/auth/login/api", "", "", map[string]any{
		"login": "joe@example.com", "password": "s3cret",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "api", body["guard"])
	assert.NotEmpty(t, body["token"])
	assert.Nil(t, body["session_token"])
	assert.ElementsMatch(t, []any{"web", "api"}, body["available_guards"])
	assert.Contains(t, body, "security_info")

	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "joe@example.com", user["email"])
	// the hash never serializes
	assert.NotContains(t, rec.Body.String(), "$2a$")
}

func TestLoginEndpointWebSession(t *testing.T) {
	env := newAPIEnv(t)
	env.addUser(t, "joe@example.com", "joe", "s3cret", []string{guard.RoleUser}, false)

	rec, body := env.do(t, http.MethodPost, "/v1/auth/login/web", "", "", map[string]any{
		"login": "joe", "password": "s3cret",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, body["session_token"])
	assert.Nil(t, body["token"])
}

func TestLoginEndpointInvalidGuard(t *testing.T) {
	env := newAPIEnv(t)
	rec, body := env.do(t, http.MethodPost, "/v1/auth/login/backoffice", "", "", map[string]any{
		"login": "joe", "password": "s3cret",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_guard", errBody(t, body)["code"])
}

func TestLoginEndpointBadCredentials(t *testing.T) {
	env := newAPIEnv(t)
	env.addUser(t, "joe@example.com", "joe", "s3cret", []string{guard.RoleUser}, false)

	rec, body := env.do(t, http.MethodPost, "/v1/auth/login/api", "", "", map[string]any{
		"login": "joe@example.com", "password": "nope",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credentials", errBody(t, body)["code"])
}

func TestLoginEndpointRateLimited(t *testing.T) {
	env := newAPIEnv(t)
	env.addUser(t, "joe@example.com", "joe", "s3cret", []string{guard.RoleUser}, false)

	addr := "203.0.113.9:4567"
	for i := 0; i < 5; i++ {
		rec, _ := env.do(t, http.MethodPost, "/v1/auth/login/api", "", addr, map[string]any{
			"login": "joe@example.com", "password": "nope",
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec, body := env.do(t, http.MethodPost, "/v1/auth/login/api", "", addr, map[string]any{
		"login": "joe@example.com", "password": "s3cret",
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	e := errBody(t, body)
	assert.Equal(t, "too_many_attempts", e["code"])
	assert.Greater(t, e["retry_after"], float64(0))
}

func TestLoginEndpointIneligibleGuard(t *testing.T) {
	env := newAPIEnv(t)
	env.addUser(t, "joe@example.com", "joe", "s3cret", []string{guard.RoleUser}, false)

	rec, body := env.do(t, http.MethodPost, "/v1/auth/login/api_admin", "", "", map[string]any{
		"login": "joe@example.com", "password": "s3cret",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	e := errBody(t, body)
	assert.Equal(t, "access_denied", e["code"])
	assert.ElementsMatch(t, []any{"web", "api"}, e["available_guards"])
}

func TestMeRequiresAuth(t *testing.T) {
	env := newAPIEnv(t)
	rec, _ := env.do(t, http.MethodGet, "/v1/me", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/v1/me", "garbage-token", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeWithTokenAndSession(t *testing.T) {
	env := newAPIEnv(t)
	env.addUser(t, "joe@example.com", "joe", "s3cret", []string{guard.RoleUser}, false)

	token := env.login(t, "api", "joe@example.com", "s3cret")
	rec, body := env.do(t, http.MethodGet, "/v1/me", token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "api", body["guard"])

	session := env.login(t, "web", "joe@example.com", "s3cret")
	rec, body = env.do(t, http.MethodGet, "/v1/me", session, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "web", body["guard"])
}

func TestLogoutInvalidatesToken(t *testing.T) {
	env := newAPIEnv(t)
	env.addUser(t, "joe@example.com", "joe", "s3cret", []string{guard.RoleUser}, false)

	token := env.login(t, "api", "joe@example.com", "s3cret")
	rec, _ := env.do(t, http.MethodPost, "/v1/auth/logout", token, "", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/v1/me", token, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSwitchGuardEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.addUser(t, "boss@example.com", "boss", "s3cret", []string{guard.RoleAdmin}, true)

	token := env.login(t, "api", "boss@example.com", "s3cret")
	rec, body := env.do(t, http.MethodPost, "/v1/auth/switch-guard", token, "", map[string]any{"guard": "api_admin"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "api", body["previous_guard"])
	assert.Equal(t, "api_admin", body["current_guard"])
	newToken, _ := body["token"].(string)
	require.NotEmpty(t, newToken)

	// the presented credential is gone, the fresh one works
	rec, _ = env.do(t, http.MethodGet, "/v1/me", token, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, body = env.do(t, http.MethodGet, "/v1/me", newToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "api_admin", body["guard"])
}

func TestAdminSurfaceForbiddenForPlainUser(t *testing.T) {
	env := newAPIEnv(t)
	env.addUser(t, "joe@example.com", "joe", "s3cret", []string{guard.RoleUser}, false)

	token := env.login(t, "api", "joe@example.com", "s3cret")
	rec, _ := env.do(t, http.MethodGet, "/v1/admin/users", token, "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminUserLifecycle(t *testing.T) {
	env := newAPIEnv(t)
	env.addUser(t, "root@example.com", "root", "s3cret", []string{guard.RoleSuperadmin}, true)
	token := env.login(t, "api_superadmin", "root@example.com", "s3cret")

	rec, body := env.do(t, http.MethodPost, "/v1/admin/users", token, "", map[string]any{
		"email": "new@example.com", "username": "newbie",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, body = env.do(t, http.MethodPost, "/v1/admin/users", token, "", map[string]any{
		"email": "new@example.com", "username": "newbie", "password": "s3cret",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	// duplicate email is a conflict, not a generic bad request
	rec, body = env.do(t, http.MethodPost, "/v1/admin/users", token, "", map[string]any{
		"email": "new@example.com", "username": "someone-else", "password": "s3cret",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", errBody(t, body)["code"])

	// the created user can log in with the default role
	env.login(t, "api", "new@example.com", "s3cret")

	// deactivation revokes credentials
	created := env.login(t, "api", "newbie", "s3cret")
	rec, _ = env.do(t, http.MethodPatch, "/v1/admin/users/"+id, token, "", map[string]any{"is_active": false})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = env.do(t, http.MethodGet, "/v1/me", created, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodDelete, "/v1/admin/users/"+id, token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = env.do(t, http.MethodGet, "/v1/admin/users/"+id, token, "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAssignRoleEndpointHierarchy(t *testing.T) {
	env := newAPIEnv(t)
	env.addUser(t, "root@example.com", "root", "s3cret", []string{guard.RoleSuperadmin}, true)
	env.addUser(t, "boss@example.com", "boss", "s3cret", []string{guard.RoleAdmin}, true)
	target := env.addUser(t, "joe@example.com", "joe", "s3cret", []string{guard.RoleUser}, false)

	adminToken := env.login(t, "api_admin", "boss@example.com", "s3cret")
	rec, body := env.do(t, http.MethodPost, "/v1/admin/users/"+target.ID+"/assign-role", adminToken, "", map[string]any{"role": "superadmin"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", errBody(t, body)["code"])

	superToken := env.login(t, "api_superadmin", "root@example.com", "s3cret")
	rec, body = env.do(t, http.MethodPost, "/v1/admin/users/"+target.ID+"/assign-role", superToken, "", map[string]any{"role": "admin"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRoleLifecycleEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	env.addUser(t, "root@example.com", "root", "s3cret", []string{guard.RoleSuperadmin}, true)
	token := env.login(t, "api_superadmin", "root@example.com", "s3cret")

	rec, body := env.do(t, http.MethodPost, "/v1/admin/roles", token, "", map[string]any{
		"name": "support", "permissions": []string{rbac.CapViewUsers},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	role, _ := body["role"].(map[string]any)
	assert.Equal(t, "support", role["name"])

	rec, body = env.do(t, http.MethodDelete, "/v1/admin/roles/admin", token, "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "core_role", errBody(t, body)["code"])

	rec, _ = env.do(t, http.MethodDelete, "/v1/admin/roles/support", token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginHistoryEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.addUser(t, "joe@example.com", "joe", "s3cret", []string{guard.RoleUser}, false)
	token := env.login(t, "api", "joe@example.com", "s3cret")

	// the recorder is async; poll briefly for the row to land
	var rows []any
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, _ := env.do(t, http.MethodGet, "/v1/auth/login-history", token, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		_ = json.Unmarshal(rec.Body.Bytes(), &rows)
		if len(rows) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotEmpty(t, rows)
	first, _ := rows[0].(map[string]any)
	assert.Equal(t, "login_success", first["action"])
}

func TestHealthz(t *testing.T) {
	env := newAPIEnv(t)
	rec, _ := env.do(t, http.MethodGet, "/healthz", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRouteIs404(t *testing.T) {
	env := newAPIEnv(t)
	rec, _ := env.do(t, http.MethodGet, fmt.Sprintf("/v1/%s", "nope"), "", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
