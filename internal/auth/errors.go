package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrInvalidGuard       = errors.New("unknown guard")
	ErrValidation         = errors.New("validation failed")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccessDenied       = errors.New("access denied")
	ErrAccountInactive    = errors.New("account inactive")
	ErrAccountLocked      = errors.New("account locked")
	ErrTooManyAttempts    = errors.New("too many attempts")
	ErrTokenInvalid       = errors.New("invalid token")
)

// Error is the structured failure returned by the authentication engine.
// Code is stable and machine-readable; Message is safe to show to clients.
type Error struct {
	Code    string
	Message string
	Status  int

	// RetryAfter is set on rate-limit failures, in seconds.
	RetryAfter int
	// UnlockAt is set on lockout failures.
	UnlockAt *time.Time
	// AvailableGuards is set on guard-ineligibility failures.
	AvailableGuards []string

	err error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.err }

func invalidGuardError(name string) *Error {
	return &Error{
		Code:    "invalid_guard",
		Message: fmt.Sprintf("unknown guard %q", name),
		Status:  http.StatusBadRequest,
		err:     ErrInvalidGuard,
	}
}

func validationError(message string) *Error {
	return &Error{
		Code:    "validation_failed",
		Message: message,
		Status:  http.StatusUnprocessableEntity,
		err:     ErrValidation,
	}
}

func twoFactorRequiredError() *Error {
	return &Error{
		Code:    "two_factor_required",
		Message: "a two-factor code is required for this guard",
		Status:  http.StatusUnprocessableEntity,
		err:     ErrValidation,
	}
}

// invalidCredentialsError carries one generic message regardless of whether
// the login, the password, or the account itself was wrong. This prevents
// account enumeration.
func invalidCredentialsError() *Error {
	return &Error{
		Code:    "invalid_credentials",
		Message: "the provided credentials are incorrect",
		Status:  http.StatusUnauthorized,
		err:     ErrInvalidCredentials,
	}
}

func accessDeniedError(available []string) *Error {
	return &Error{
		Code:            "access_denied",
		Message:         "you are not allowed to authenticate through this guard",
		Status:          http.StatusForbidden,
		AvailableGuards: available,
		err:             ErrAccessDenied,
	}
}

func accountInactiveError() *Error {
	return &Error{
		Code:    "account_inactive",
		Message: "this account has been deactivated",
		Status:  http.StatusForbidden,
		err:     ErrAccountInactive,
	}
}

func accountLockedError(unlockAt time.Time) *Error {
	return &Error{
		Code:     "account_locked",
		Message:  "this account is temporarily locked after repeated failures",
		Status:   http.StatusLocked,
		UnlockAt: &unlockAt,
		err:      ErrAccountLocked,
	}
}

func tooManyAttemptsError(retryAfter time.Duration) *Error {
	secs := int(retryAfter.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return &Error{
		Code:       "too_many_attempts",
		Message:    "too many login attempts, slow down",
		Status:     http.StatusTooManyRequests,
		RetryAfter: secs,
		err:        ErrTooManyAttempts,
	}
}
