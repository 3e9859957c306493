// Package store defines the persistence contracts consumed by the auth and
// RBAC engines, plus the GORM-backed and in-memory implementations.
package store

import (
	"context"
	"errors"
	"time"

	"guardcore/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict reports a uniqueness violation, e.g. a duplicate email,
	// username or role name.
	ErrConflict = errors.New("record already exists")
)

// UserUpdate lists exactly the mutable fields of an admin user update. Nil
// fields are left untouched.
type UserUpdate struct {
	Email        *string
	Username     *string
	PasswordHash *string
	IsActive     *bool
	IsAdmin      *bool
	IsVendor     *bool
}

type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	Create(ctx context.Context, u *models.User, roleNames []string) error
	Update(ctx context.Context, id string, upd UserUpdate) (*models.User, error)
	Delete(ctx context.Context, id string) error

	// RecordLoginFailure increments the user's attempt counter and, once the
	// counter reaches maxAttempts, arms the lockout. The whole mutation is
	// serialized per user so concurrent logins cannot lose updates.
	RecordLoginFailure(ctx context.Context, id string, maxAttempts int, lockout time.Duration) (attempts int, lockedUntil *time.Time, err error)

	// RecordLoginSuccess resets the attempt counter, clears any lockout and
	// stamps last_login_at, under the same per-user serialization.
	RecordLoginSuccess(ctx context.Context, id string, at time.Time) error
}

type RoleStore interface {
	FindRole(ctx context.Context, name string) (*models.Role, error)
	ListRoles(ctx context.Context) ([]models.Role, error)
	CreateRole(ctx context.Context, name, guardName string, permissionNames []string) (*models.Role, error)
	DeleteRole(ctx context.Context, id int) error
	RoleUserCount(ctx context.Context, roleID int) (int64, error)

	AssignRole(ctx context.Context, userID string, role *models.Role, removeOthers bool) error
	RemoveRole(ctx context.Context, userID string, role *models.Role) error

	FindPermission(ctx context.Context, name string) (*models.Permission, error)
	ListPermissions(ctx context.Context) ([]models.Permission, error)
	GivePermission(ctx context.Context, userID string, perm *models.Permission) error
	RevokePermission(ctx context.Context, userID string, perm *models.Permission) error
}

type TokenStore interface {
	CreateToken(ctx context.Context, t *models.AccessToken) error
	FindTokenByHash(ctx context.Context, hash string) (*models.AccessToken, error)
	DeleteTokenByHash(ctx context.Context, hash string) error
	DeleteTokensForUser(ctx context.Context, userID string) (int64, error)
	CountTokensForUser(ctx context.Context, userID string) (int64, error)

	// PruneTokensForUser deletes the user's oldest tokens so at most keep
	// remain.
	PruneTokensForUser(ctx context.Context, userID string, keep int) error
	TouchToken(ctx context.Context, id int64, at time.Time) error
}

type SessionStore interface {
	CreateSession(ctx context.Context, s *models.Session) error
	FindSession(ctx context.Context, jti string) (*models.Session, error)
	RevokeSession(ctx context.Context, jti string, at time.Time) error
	RevokeSessionsForUser(ctx context.Context, userID string, at time.Time) (int64, error)
}

type HistoryStore interface {
	AppendHistory(ctx context.Context, h *models.LoginHistory) error
	HistoryForUser(ctx context.Context, userID string, limit int) ([]models.LoginHistory, error)
	HistoryAll(ctx context.Context, limit int) ([]models.LoginHistory, error)
}

// Store bundles every persistence contract. Both the GORM and the in-memory
// implementations satisfy it.
type Store interface {
	UserStore
	RoleStore
	TokenStore
	SessionStore
	HistoryStore
}
