package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"guardcore/internal/models"
)

// Gorm is the Postgres-backed store.
type Gorm struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

var _ Store = (*Gorm)(nil)

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	// requires gorm.Config{TranslateError: true} at open time
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	return err
}

func (g *Gorm) preloadUsers(db *gorm.DB) *gorm.DB {
	return db.Preload("Roles.Permissions").Preload("Permissions")
}

func (g *Gorm) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := g.preloadUsers(g.db.WithContext(ctx)).
		First(&u, "LOWER(email) = ?", strings.ToLower(email)).Error
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (g *Gorm) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := g.preloadUsers(g.db.WithContext(ctx)).
		First(&u, "username = ?", username).Error
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (g *Gorm) FindByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := g.preloadUsers(g.db.WithContext(ctx)).First(&u, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (g *Gorm) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := g.preloadUsers(g.db.WithContext(ctx)).
		Order("created_at desc").Find(&users).Error
	return users, err
}

func (g *Gorm) Create(ctx context.Context, u *models.User, roleNames []string) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if len(roleNames) > 0 {
		var roles []models.Role
		if err := g.db.WithContext(ctx).Where("name IN ?", roleNames).Find(&roles).Error; err != nil {
			return err
		}
		u.Roles = roles
	}
	return translate(g.db.WithContext(ctx).Create(u).Error)
}

func (g *Gorm) Update(ctx context.Context, id string, upd UserUpdate) (*models.User, error) {
	var u models.User
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&u, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		if upd.Email != nil {
			u.Email = strings.ToLower(strings.TrimSpace(*upd.Email))
		}
		if upd.Username != nil {
			u.Username = strings.TrimSpace(*upd.Username)
		}
		if upd.PasswordHash != nil {
			u.PasswordHash = *upd.PasswordHash
		}
		if upd.IsActive != nil {
			u.IsActive = *upd.IsActive
		}
		if upd.IsAdmin != nil {
			u.IsAdmin = *upd.IsAdmin
		}
		if upd.IsVendor != nil {
			u.IsVendor = *upd.IsVendor
		}
		u.UpdatedAt = time.Now()
		return tx.Save(&u).Error
	})
	if err != nil {
		return nil, err
	}
	return g.FindByID(ctx, id)
}

func (g *Gorm) Delete(ctx context.Context, id string) error {
	res := g.db.WithContext(ctx).Select(clause.Associations).
		Delete(&models.User{ID: id})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *Gorm) RecordLoginFailure(ctx context.Context, id string, maxAttempts int, lockout time.Duration) (int, *time.Time, error) {
	var attempts int
	var lockedUntil *time.Time
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&u, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		u.LoginAttempts++
		if maxAttempts > 0 && u.LoginAttempts >= maxAttempts {
			until := time.Now().Add(lockout)
			u.LockedUntil = &until
		}
		attempts = u.LoginAttempts
		lockedUntil = u.LockedUntil
		return tx.Model(&u).Select("login_attempts", "locked_until", "updated_at").
			Updates(map[string]any{
				"login_attempts": u.LoginAttempts,
				"locked_until":   u.LockedUntil,
				"updated_at":     time.Now(),
			}).Error
	})
	return attempts, lockedUntil, err
}

func (g *Gorm) RecordLoginSuccess(ctx context.Context, id string, at time.Time) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&u, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		return tx.Model(&u).Select("login_attempts", "locked_until", "last_login_at", "updated_at").
			Updates(map[string]any{
				"login_attempts": 0,
				"locked_until":   nil,
				"last_login_at":  at,
				"updated_at":     at,
			}).Error
	})
}

func (g *Gorm) FindRole(ctx context.Context, name string) (*models.Role, error) {
	var r models.Role
	err := g.db.WithContext(ctx).Preload("Permissions").
		First(&r, "name = ?", name).Error
	if err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (g *Gorm) ListRoles(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	err := g.db.WithContext(ctx).Preload("Permissions").Order("id").Find(&roles).Error
	return roles, err
}

func (g *Gorm) CreateRole(ctx context.Context, name, guardName string, permissionNames []string) (*models.Role, error) {
	r := models.Role{Name: name, GuardName: guardName}
	if len(permissionNames) > 0 {
		var perms []models.Permission
		if err := g.db.WithContext(ctx).Where("name IN ?", permissionNames).Find(&perms).Error; err != nil {
			return nil, err
		}
		r.Permissions = perms
	}
	if err := g.db.WithContext(ctx).Create(&r).Error; err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (g *Gorm) DeleteRole(ctx context.Context, id int) error {
	res := g.db.WithContext(ctx).Select(clause.Associations).
		Delete(&models.Role{ID: id})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *Gorm) RoleUserCount(ctx context.Context, roleID int) (int64, error) {
	var count int64
	err := g.db.WithContext(ctx).Table("user_roles").
		Where("role_id = ?", roleID).Count(&count).Error
	return count, err
}

func (g *Gorm) AssignRole(ctx context.Context, userID string, role *models.Role, removeOthers bool) error {
	u := models.User{ID: userID}
	assoc := g.db.WithContext(ctx).Model(&u).Association("Roles")
	if removeOthers {
		return assoc.Replace(role)
	}
	return assoc.Append(role)
}

func (g *Gorm) RemoveRole(ctx context.Context, userID string, role *models.Role) error {
	u := models.User{ID: userID}
	return g.db.WithContext(ctx).Model(&u).Association("Roles").Delete(role)
}

func (g *Gorm) FindPermission(ctx context.Context, name string) (*models.Permission, error) {
	var p models.Permission
	err := g.db.WithContext(ctx).First(&p, "name = ?", name).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (g *Gorm) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	var perms []models.Permission
	err := g.db.WithContext(ctx).Order("id").Find(&perms).Error
	return perms, err
}

func (g *Gorm) GivePermission(ctx context.Context, userID string, perm *models.Permission) error {
	u := models.User{ID: userID}
	return g.db.WithContext(ctx).Model(&u).Association("Permissions").Append(perm)
}

func (g *Gorm) RevokePermission(ctx context.Context, userID string, perm *models.Permission) error {
	u := models.User{ID: userID}
	return g.db.WithContext(ctx).Model(&u).Association("Permissions").Delete(perm)
}

func (g *Gorm) CreateToken(ctx context.Context, t *models.AccessToken) error {
	return g.db.WithContext(ctx).Create(t).Error
}

func (g *Gorm) FindTokenByHash(ctx context.Context, hash string) (*models.AccessToken, error) {
	var t models.AccessToken
	err := g.db.WithContext(ctx).First(&t, "token_hash = ?", hash).Error
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (g *Gorm) DeleteTokenByHash(ctx context.Context, hash string) error {
	res := g.db.WithContext(ctx).Delete(&models.AccessToken{}, "token_hash = ?", hash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *Gorm) DeleteTokensForUser(ctx context.Context, userID string) (int64, error) {
	res := g.db.WithContext(ctx).Delete(&models.AccessToken{}, "user_id = ?", userID)
	return res.RowsAffected, res.Error
}

func (g *Gorm) CountTokensForUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&models.AccessToken{}).
		Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

func (g *Gorm) PruneTokensForUser(ctx context.Context, userID string, keep int) error {
	if keep < 0 {
		return nil
	}
	sub := g.db.WithContext(ctx).Model(&models.AccessToken{}).Select("id").
		Where("user_id = ?", userID).Order("created_at desc").Limit(keep)
	return g.db.WithContext(ctx).
		Where("user_id = ? AND id NOT IN (?)", userID, sub).
		Delete(&models.AccessToken{}).Error
}

func (g *Gorm) TouchToken(ctx context.Context, id int64, at time.Time) error {
	return g.db.WithContext(ctx).Model(&models.AccessToken{ID: id}).
		Update("last_used_at", at).Error
}

func (g *Gorm) CreateSession(ctx context.Context, s *models.Session) error {
	return g.db.WithContext(ctx).Create(s).Error
}

func (g *Gorm) FindSession(ctx context.Context, jti string) (*models.Session, error) {
	var s models.Session
	err := g.db.WithContext(ctx).First(&s, "jti = ?", jti).Error
	if err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

func (g *Gorm) RevokeSession(ctx context.Context, jti string, at time.Time) error {
	res := g.db.WithContext(ctx).Model(&models.Session{}).
		Where("jti = ? AND revoked_at IS NULL", jti).
		Update("revoked_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *Gorm) RevokeSessionsForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	res := g.db.WithContext(ctx).Model(&models.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", at)
	return res.RowsAffected, res.Error
}

func (g *Gorm) AppendHistory(ctx context.Context, h *models.LoginHistory) error {
	return g.db.WithContext(ctx).Create(h).Error
}

func (g *Gorm) HistoryForUser(ctx context.Context, userID string, limit int) ([]models.LoginHistory, error) {
	var out []models.LoginHistory
	err := g.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at desc").Limit(limit).Find(&out).Error
	return out, err
}

func (g *Gorm) HistoryAll(ctx context.Context, limit int) ([]models.LoginHistory, error) {
	var out []models.LoginHistory
	err := g.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&out).Error
	return out, err
}
