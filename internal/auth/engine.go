package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"guardcore/internal/guard"
	"guardcore/internal/history"
	"guardcore/internal/models"
	"guardcore/internal/obs"
	"guardcore/internal/ratelimit"
	"guardcore/internal/store"
)

// rememberLifetime replaces the guard session lifetime when the client asks
// to be remembered.
const rememberLifetime = 30 * 24 * time.Hour

// Engine orchestrates guard validation, rate limiting, credential
// verification, lockout enforcement and credential issuance.
type Engine struct {
	users    store.UserStore
	sessions store.SessionStore
	tokens   *TokenService
	guards   *guard.Registry
	limiter  *ratelimit.Limiter
	history  *history.Recorder
	secret   []byte
	lg       *zap.SugaredLogger
	now      func() time.Time
}

func NewEngine(
	users store.UserStore,
	sessions store.SessionStore,
	tokens *TokenService,
	guards *guard.Registry,
	limiter *ratelimit.Limiter,
	recorder *history.Recorder,
	jwtSecret string,
	lg *zap.SugaredLogger,
) *Engine {
	if guards == nil || limiter == nil || tokens == nil {
		panic("auth: engine wired without guards, limiter or token service")
	}
	return &Engine{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		guards:   guards,
		limiter:  limiter,
		history:  recorder,
		secret:   []byte(jwtSecret),
		lg:       lg,
		now:      time.Now,
	}
}

// SetClock overrides the engine clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

type LoginInput struct {
	Guard         string
	Login         string
	Password      string
	ClientIP      string
	UserAgent     string
	RememberMe    bool
	TwoFactorCode string
	DeviceName    string
}

// SecurityInfo is the guard metadata returned with a successful login.
type SecurityInfo struct {
	Requires2FA            bool `json:"requires_2fa"`
	SessionLifetimeMinutes int  `json:"session_lifetime_minutes"`
	TokenLifetimeMinutes   int  `json:"token_lifetime_minutes"`
	MaxTokensPerUser       int  `json:"max_tokens_per_user"`
}

type LoginResult struct {
	User            *models.User
	Guard           string
	AvailableGuards []string
	Security        SecurityInfo

	// Token is the plaintext bearer token, set only for API guards. It is
	// returned exactly once and never stored or logged.
	Token string
	// SessionToken is the JWT for non-API guards.
	SessionToken string
}

func securityInfo(p guard.Policy) SecurityInfo {
	return SecurityInfo{
		Requires2FA:            p.Requires2FA,
		SessionLifetimeMinutes: int(p.SessionLifetime.Minutes()),
		TokenLifetimeMinutes:   int(p.TokenLifetime.Minutes()),
		MaxTokensPerUser:       p.MaxTokensPerUser,
	}
}

// isEmail classifies the login identifier. Anything that parses as a bare
// address routes through the email column, everything else through username.
func isEmail(login string) bool {
	addr, err := mail.ParseAddress(login)
	return err == nil && addr.Address == login
}

// LoginWithGuard runs the ordered login pipeline. Every check is an early
// exit; failed checks count against the IP rate limit except invalid guards
// (rejected before any state is touched) and lockouts (independent of rate
// limiting).
func (e *Engine) LoginWithGuard(ctx context.Context, in LoginInput) (*LoginResult, error) {
	policy, ok := e.guards.Policy(in.Guard)
	if !ok {
		obs.ObserveLogin(in.Guard, "invalid_guard")
		return nil, invalidGuardError(in.Guard)
	}

	key := ratelimit.LoginKey(in.Guard, in.ClientIP)
	decay := time.Duration(policy.DecaySeconds) * time.Second

	if e.limiter.TooManyAttempts(key, policy.MaxAttempts) {
		obs.ObserveLogin(in.Guard, "too_many_attempts")
		return nil, tooManyAttemptsError(e.limiter.AvailableIn(key))
	}

	if !policy.WhitelistAllows(in.ClientIP) {
		e.limiter.Hit(key, decay)
		obs.ObserveLogin(in.Guard, "access_denied")
		return nil, accessDeniedError(nil)
	}

	in.Login = strings.TrimSpace(in.Login)
	if in.Login == "" || in.Password == "" {
		e.limiter.Hit(key, decay)
		obs.ObserveLogin(in.Guard, "validation_failed")
		return nil, validationError("login and password are required")
	}
	if policy.Requires2FA && strings.TrimSpace(in.TwoFactorCode) == "" {
		e.limiter.Hit(key, decay)
		obs.ObserveLogin(in.Guard, "two_factor_required")
		return nil, twoFactorRequiredError()
	}

	var user *models.User
	var err error
	if isEmail(in.Login) {
		user, err = e.users.FindByEmail(ctx, in.Login)
	} else {
		user, err = e.users.FindByUsername(ctx, in.Login)
	}
	if err != nil {
		// Only an absent user is a credential failure. Anything else is a
		// store outage and must surface as an internal error, without
		// consuming rate-limit budget.
		if !errors.Is(err, store.ErrNotFound) {
			e.lg.Errorw("user lookup failed", "guard", in.Guard, "error", err)
			return nil, err
		}
		e.limiter.Hit(key, decay)
		obs.ObserveLogin(in.Guard, "invalid_credentials")
		e.record(history.Event{
			Guard: in.Guard, Action: history.ActionLoginFailed,
			IP: in.ClientIP, UserAgent: in.UserAgent,
			Metadata: map[string]any{"reason": "unknown_login"},
		})
		return nil, invalidCredentialsError()
	}

	if !e.guards.Eligible(user, in.Guard) {
		e.limiter.Hit(key, decay)
		e.record(history.Event{
			UserID: user.ID, Guard: in.Guard, Action: history.ActionLoginFailed,
			IP: in.ClientIP, UserAgent: in.UserAgent,
			Metadata: map[string]any{"reason": "guard_ineligible"},
		})
		// An inactive account fails eligibility for every guard; report that
		// more specific condition instead of a bare denial.
		if !user.IsActive {
			obs.ObserveLogin(in.Guard, "account_inactive")
			return nil, accountInactiveError()
		}
		obs.ObserveLogin(in.Guard, "access_denied")
		return nil, accessDeniedError(e.guards.Available(user))
	}

	if user.LockedAt(e.now()) {
		obs.ObserveLogin(in.Guard, "account_locked")
		e.record(history.Event{
			UserID: user.ID, Guard: in.Guard, Action: history.ActionLoginFailed,
			IP: in.ClientIP, UserAgent: in.UserAgent,
			Metadata: map[string]any{"reason": "locked"},
		})
		return nil, accountLockedError(*user.LockedUntil)
	}

	if err := CheckPassword(user.PasswordHash, in.Password); err != nil {
		wasLocked := user.LockedUntil != nil
		attempts, lockedUntil, ferr := e.users.RecordLoginFailure(ctx, user.ID, policy.MaxAttempts, policy.LockoutDuration)
		if ferr != nil {
			e.lg.Errorw("login failure bookkeeping failed", "user", user.ID, "error", ferr)
		}
		e.limiter.Hit(key, decay)
		obs.ObserveLogin(in.Guard, "invalid_credentials")
		meta := map[string]any{"reason": "bad_password", "attempts": attempts}
		action := history.ActionLoginFailed
		if lockedUntil != nil && !wasLocked {
			obs.ObserveLockout(in.Guard)
			action = history.ActionLockout
			meta["locked_until"] = lockedUntil.UTC().Format(time.RFC3339)
		}
		e.record(history.Event{
			UserID: user.ID, Guard: in.Guard, Action: action,
			IP: in.ClientIP, UserAgent: in.UserAgent, Metadata: meta,
		})
		return nil, invalidCredentialsError()
	}

	now := e.now()
	if err := e.users.RecordLoginSuccess(ctx, user.ID, now); err != nil {
		e.lg.Errorw("login success bookkeeping failed", "user", user.ID, "error", err)
		return nil, err
	}
	e.limiter.Clear(key)
	user.LoginAttempts = 0
	user.LockedUntil = nil
	user.LastLoginAt = &now

	result := &LoginResult{
		User:            user,
		Guard:           in.Guard,
		AvailableGuards: e.guards.Available(user),
		Security:        securityInfo(policy),
	}

	if guard.IsAPI(in.Guard) {
		name := strings.TrimSpace(in.DeviceName)
		if name == "" {
			name = "auth_token"
		}
		plaintext, _, err := e.tokens.Issue(ctx, user, in.Guard, name, []string{"*"}, policy)
		if err != nil {
			return nil, err
		}
		result.Token = plaintext
		obs.ObserveTokenIssued(in.Guard)
	} else {
		sessionToken, err := e.openSession(ctx, user.ID, in.Guard, policy, in.RememberMe)
		if err != nil {
			return nil, err
		}
		result.SessionToken = sessionToken
	}

	obs.ObserveLogin(in.Guard, "success")
	e.record(history.Event{
		UserID: user.ID, Guard: in.Guard, Action: history.ActionLoginSuccess,
		IP: in.ClientIP, UserAgent: in.UserAgent,
		Metadata: map[string]any{"remember": in.RememberMe},
	})
	return result, nil
}

func (e *Engine) openSession(ctx context.Context, userID, guardName string, policy guard.Policy, remember bool) (string, error) {
	lifetime := policy.SessionLifetime
	if remember && rememberLifetime > lifetime {
		lifetime = rememberLifetime
	}
	jti := uuid.NewString()
	sess := &models.Session{
		JTI:       jti,
		UserID:    userID,
		Guard:     guardName,
		ExpiresAt: e.now().Add(lifetime),
		CreatedAt: e.now(),
	}
	if err := e.sessions.CreateSession(ctx, sess); err != nil {
		return "", err
	}
	return signSessionToken(e.secret, userID, guardName, jti, lifetime)
}

// Logout revokes the credential the request authenticated with.
func (e *Engine) Logout(ctx context.Context, p *Principal, clientIP, userAgent string) error {
	if p == nil {
		return ErrTokenInvalid
	}
	if p.Token != nil {
		if err := e.tokens.RevokeRecord(ctx, p.Token); err != nil && err != store.ErrNotFound {
			return err
		}
	} else if p.SessionJTI != "" {
		if err := e.sessions.RevokeSession(ctx, p.SessionJTI, e.now()); err != nil && err != store.ErrNotFound {
			return err
		}
	}
	e.record(history.Event{
		UserID: p.User.ID, Guard: p.Guard, Action: history.ActionLogout,
		IP: clientIP, UserAgent: userAgent,
	})
	return nil
}

type SwitchResult struct {
	PreviousGuard string
	CurrentGuard  string
	User          *models.User
	Security      SecurityInfo
	Token         string
	SessionToken  string
}

// SwitchGuard moves an authenticated principal to another guard it is
// eligible for, issuing a fresh credential and revoking the presented one.
func (e *Engine) SwitchGuard(ctx context.Context, p *Principal, target, clientIP, userAgent string) (*SwitchResult, error) {
	policy, ok := e.guards.Policy(target)
	if !ok {
		return nil, invalidGuardError(target)
	}
	if !e.guards.Eligible(p.User, target) {
		return nil, accessDeniedError(e.guards.Available(p.User))
	}

	result := &SwitchResult{
		PreviousGuard: p.Guard,
		CurrentGuard:  target,
		User:          p.User,
		Security:      securityInfo(policy),
	}
	if guard.IsAPI(target) {
		plaintext, _, err := e.tokens.Issue(ctx, p.User, target, "guard_switch", []string{"*"}, policy)
		if err != nil {
			return nil, err
		}
		result.Token = plaintext
		obs.ObserveTokenIssued(target)
	} else {
		sessionToken, err := e.openSession(ctx, p.User.ID, target, policy, false)
		if err != nil {
			return nil, err
		}
		result.SessionToken = sessionToken
	}

	if p.Token != nil {
		_ = e.tokens.RevokeRecord(ctx, p.Token)
	} else if p.SessionJTI != "" {
		_ = e.sessions.RevokeSession(ctx, p.SessionJTI, e.now())
	}

	e.record(history.Event{
		UserID: p.User.ID, Guard: target, Action: history.ActionGuardSwitch,
		IP: clientIP, UserAgent: userAgent,
		Metadata: map[string]any{"from": p.Guard, "to": target},
	})
	return result, nil
}

// ChangePassword re-verifies the current password, stores the new hash and
// revokes every outstanding credential of the user.
func (e *Engine) ChangePassword(ctx context.Context, p *Principal, current, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return validationError("new password is required")
	}
	if err := CheckPassword(p.User.PasswordHash, current); err != nil {
		return invalidCredentialsError()
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if _, err := e.users.Update(ctx, p.User.ID, store.UserUpdate{PasswordHash: &hash}); err != nil {
		return err
	}
	if _, err := e.tokens.RevokeAllForUser(ctx, p.User.ID); err != nil {
		e.lg.Warnw("token revocation after password change failed", "user", p.User.ID, "error", err)
	}
	if _, err := e.sessions.RevokeSessionsForUser(ctx, p.User.ID, e.now()); err != nil {
		e.lg.Warnw("session revocation after password change failed", "user", p.User.ID, "error", err)
	}
	e.record(history.Event{
		UserID: p.User.ID, Guard: p.Guard, Action: history.ActionPasswordChange,
	})
	return nil
}

// RevokeUserCredentials drops every token and session of a user. Used when an
// account is deleted or deactivated.
func (e *Engine) RevokeUserCredentials(ctx context.Context, userID string) {
	if _, err := e.tokens.RevokeAllForUser(ctx, userID); err != nil {
		e.lg.Warnw("token revocation failed", "user", userID, "error", err)
	}
	if _, err := e.sessions.RevokeSessionsForUser(ctx, userID, e.now()); err != nil {
		e.lg.Warnw("session revocation failed", "user", userID, "error", err)
	}
}

func (e *Engine) record(ev history.Event) {
	if e.history != nil {
		e.history.Record(ev)
	}
}
