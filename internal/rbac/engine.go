package rbac

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"guardcore/internal/guard"
	"guardcore/internal/models"
	"guardcore/internal/store"
)

var (
	// ErrForbidden signals a privilege-hierarchy violation.
	ErrForbidden = errors.New("forbidden")
	// ErrCoreRole signals an attempt to delete or rename a core role.
	ErrCoreRole = errors.New("core role is immutable")
	// ErrRoleInUse signals an attempt to delete a role still held by users.
	ErrRoleInUse = errors.New("role is still assigned to users")
	// ErrInvalidRole signals a missing or malformed role name.
	ErrInvalidRole = errors.New("invalid role name")
)

type Engine struct {
	users store.UserStore
	roles store.RoleStore
	lg    *zap.SugaredLogger
}

func NewEngine(users store.UserStore, roles store.RoleStore, lg *zap.SugaredLogger) *Engine {
	return &Engine{users: users, roles: roles, lg: lg}
}

// privileged roles may only be granted or revoked by a superadmin.
func privilegedRole(name string) bool {
	return name == guard.RoleSuperadmin || name == guard.RoleAdmin
}

// AssignRole grants roleName to the target user. With removeOthers the
// target's whole role set is replaced. Assigning an already-held role is a
// no-op success.
func (e *Engine) AssignRole(ctx context.Context, actor *models.User, targetID, roleName string, removeOthers bool) (*models.User, error) {
	roleName = strings.TrimSpace(roleName)
	if privilegedRole(roleName) && !actor.HasRole(guard.RoleSuperadmin) {
		return nil, ErrForbidden
	}
	role, err := e.roles.FindRole(ctx, roleName)
	if err != nil {
		return nil, err
	}
	target, err := e.users.FindByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.HasRole(roleName) && !removeOthers {
		return target, nil
	}
	if err := e.roles.AssignRole(ctx, target.ID, role, removeOthers); err != nil {
		return nil, err
	}
	e.lg.Infow("role assigned", "actor", actor.ID, "target", target.ID, "role", roleName, "replace", removeOthers)
	return e.users.FindByID(ctx, targetID)
}

func (e *Engine) RemoveRole(ctx context.Context, actor *models.User, targetID, roleName string) (*models.User, error) {
	roleName = strings.TrimSpace(roleName)
	if privilegedRole(roleName) && !actor.HasRole(guard.RoleSuperadmin) {
		return nil, ErrForbidden
	}
	role, err := e.roles.FindRole(ctx, roleName)
	if err != nil {
		return nil, err
	}
	target, err := e.users.FindByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if !target.HasRole(roleName) {
		return target, nil
	}
	if err := e.roles.RemoveRole(ctx, target.ID, role); err != nil {
		return nil, err
	}
	e.lg.Infow("role removed", "actor", actor.ID, "target", target.ID, "role", roleName)
	return e.users.FindByID(ctx, targetID)
}

// GivePermission grants a direct permission. Requires the actor to hold the
// "manage permissions" capability. Idempotent.
func (e *Engine) GivePermission(ctx context.Context, actor *models.User, targetID, permissionName string) (*models.User, error) {
	if !HasCapability(actor, CapManagePermissions) {
		return nil, ErrForbidden
	}
	perm, err := e.roles.FindPermission(ctx, strings.TrimSpace(permissionName))
	if err != nil {
		return nil, err
	}
	target, err := e.users.FindByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if err := e.roles.GivePermission(ctx, target.ID, perm); err != nil {
		return nil, err
	}
	return e.users.FindByID(ctx, targetID)
}

func (e *Engine) RevokePermission(ctx context.Context, actor *models.User, targetID, permissionName string) (*models.User, error) {
	if !HasCapability(actor, CapManagePermissions) {
		return nil, ErrForbidden
	}
	perm, err := e.roles.FindPermission(ctx, strings.TrimSpace(permissionName))
	if err != nil {
		return nil, err
	}
	target, err := e.users.FindByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if err := e.roles.RevokePermission(ctx, target.ID, perm); err != nil {
		return nil, err
	}
	return e.users.FindByID(ctx, targetID)
}

func (e *Engine) CreateRole(ctx context.Context, actor *models.User, name, guardName string, permissionNames []string) (*models.Role, error) {
	if !HasCapability(actor, CapManageRoles) {
		return nil, ErrForbidden
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidRole
	}
	if guardName == "" {
		guardName = guard.Web
	}
	return e.roles.CreateRole(ctx, name, guardName, permissionNames)
}

// DeleteRole removes a role. Core roles and roles still held by any user are
// protected.
func (e *Engine) DeleteRole(ctx context.Context, actor *models.User, roleName string) error {
	if !HasCapability(actor, CapManageRoles) {
		return ErrForbidden
	}
	roleName = strings.TrimSpace(roleName)
	if IsCoreRole(roleName) {
		return ErrCoreRole
	}
	role, err := e.roles.FindRole(ctx, roleName)
	if err != nil {
		return err
	}
	count, err := e.roles.RoleUserCount(ctx, role.ID)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrRoleInUse
	}
	if err := e.roles.DeleteRole(ctx, role.ID); err != nil {
		return err
	}
	e.lg.Infow("role deleted", "actor", actor.ID, "role", roleName)
	return nil
}
