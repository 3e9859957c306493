package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"guardcore/internal/guard"
	"guardcore/internal/models"
	"guardcore/internal/store"
)

type rbacEnv struct {
	engine *Engine
	store  *store.Memory
}

func newRBACEnv(t *testing.T) *rbacEnv {
	t.Helper()
	mem := store.NewMemory()
	for _, name := range CoreRoles {
		_, err := mem.CreateRole(context.Background(), name, guard.Web, nil)
		require.NoError(t, err)
	}
	for _, name := range []string{CapViewUsers, CapManageUsers, CapManageRoles, CapManagePermissions, CapViewLoginHistory} {
		mem.CreatePermission(name, guard.Web)
	}
	return &rbacEnv{engine: NewEngine(mem, mem, zap.NewNop().Sugar()), store: mem}
}

func (e *rbacEnv) addUser(t *testing.T, username string, roles []string) *models.User {
	t.Helper()
	u := &models.User{Email: username + "@example.com", Username: username, IsActive: true}
	require.NoError(t, e.store.Create(context.Background(), u, roles))
	return u
}

func TestCapabilitiesSuperadminWildcard(t *testing.T) {
	u := &models.User{Roles: []models.Role{{ID: 1, Name: guard.RoleSuperadmin}}}
	set := Capabilities(u)
	assert.True(t, set.Has(CapManageUsers))
	assert.True(t, set.Has("some permission that does not exist"))
}

func TestCapabilitiesUnionRolesAndDirect(t *testing.T) {
	u := &models.User{
		Roles: []models.Role{{
			ID: 1, Name: "support",
			Permissions: []models.Permission{{ID: 1, Name: CapViewUsers}},
		}},
		Permissions: []models.Permission{{ID: 2, Name: CapViewLoginHistory}},
	}
	set := Capabilities(u)
	assert.True(t, set.Has(CapViewUsers))
	assert.True(t, set.Has(CapViewLoginHistory))
	assert.False(t, set.Has(CapManageUsers))
}

func TestAssignPrivilegedRoleRequiresSuperadmin(t *testing.T) {
	env := newRBACEnv(t)
	admin := env.addUser(t, "admin", []string{guard.RoleAdmin})
	target := env.addUser(t, "joe", []string{guard.RoleUser})

	_, err := env.engine.AssignRole(context.Background(), admin, target.ID, guard.RoleSuperadmin, false)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = env.engine.AssignRole(context.Background(), admin, target.ID, guard.RoleAdmin, false)
	assert.ErrorIs(t, err, ErrForbidden)

	super := env.addUser(t, "root", []string{guard.RoleSuperadmin})
	updated, err := env.engine.AssignRole(context.Background(), super, target.ID, guard.RoleAdmin, false)
	require.NoError(t, err)
	assert.True(t, updated.HasRole(guard.RoleAdmin))
	assert.True(t, updated.HasRole(guard.RoleUser))
}

func TestAssignRoleIdempotent(t *testing.T) {
	env := newRBACEnv(t)
	super := env.addUser(t, "root", []string{guard.RoleSuperadmin})
	target := env.addUser(t, "joe", []string{guard.RoleUser})

	updated, err := env.engine.AssignRole(context.Background(), super, target.ID, guard.RoleUser, false)
	require.NoError(t, err)
	assert.Len(t, updated.Roles, 1)
}

func TestAssignRoleReplacesOthers(t *testing.T) {
	env := newRBACEnv(t)
	super := env.addUser(t, "root", []string{guard.RoleSuperadmin})
	target := env.addUser(t, "joe", []string{guard.RoleUser, guard.RoleVendor})

	updated, err := env.engine.AssignRole(context.Background(), super, target.ID, guard.RoleVendor, true)
	require.NoError(t, err)
	require.Len(t, updated.Roles, 1)
	assert.Equal(t, guard.RoleVendor, updated.Roles[0].Name)
}

func TestAssignUnknownRole(t *testing.T) {
	env := newRBACEnv(t)
	super := env.addUser(t, "root", []string{guard.RoleSuperadmin})
	target := env.addUser(t, "joe", []string{guard.RoleUser})

	_, err := env.engine.AssignRole(context.Background(), super, target.ID, "wizard", false)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRemovePrivilegedRoleRequiresSuperadmin(t *testing.T) {
	env := newRBACEnv(t)
	admin := env.addUser(t, "admin", []string{guard.RoleAdmin})
	other := env.addUser(t, "boss", []string{guard.RoleAdmin})

	_, err := env.engine.RemoveRole(context.Background(), admin, other.ID, guard.RoleAdmin)
	assert.ErrorIs(t, err, ErrForbidden)

	super := env.addUser(t, "root", []string{guard.RoleSuperadmin})
	updated, err := env.engine.RemoveRole(context.Background(), super, other.ID, guard.RoleAdmin)
	require.NoError(t, err)
	assert.False(t, updated.HasRole(guard.RoleAdmin))
}

func TestGivePermissionRequiresCapability(t *testing.T) {
	env := newRBACEnv(t)
	plain := env.addUser(t, "joe", []string{guard.RoleUser})
	target := env.addUser(t, "amy", []string{guard.RoleUser})

	_, err := env.engine.GivePermission(context.Background(), plain, target.ID, CapViewUsers)
	assert.ErrorIs(t, err, ErrForbidden)

	super := env.addUser(t, "root", []string{guard.RoleSuperadmin})
	updated, err := env.engine.GivePermission(context.Background(), super, target.ID, CapViewUsers)
	require.NoError(t, err)
	assert.True(t, HasCapability(updated, CapViewUsers))

	updated, err = env.engine.RevokePermission(context.Background(), super, target.ID, CapViewUsers)
	require.NoError(t, err)
	assert.False(t, HasCapability(updated, CapViewUsers))
}

func TestCreateRoleValidation(t *testing.T) {
	env := newRBACEnv(t)
	super := env.addUser(t, "root", []string{guard.RoleSuperadmin})

	_, err := env.engine.CreateRole(context.Background(), super, "  ", "", nil)
	assert.ErrorIs(t, err, ErrInvalidRole)

	role, err := env.engine.CreateRole(context.Background(), super, "support", "", []string{CapViewUsers})
	require.NoError(t, err)
	assert.Equal(t, guard.Web, role.GuardName)
	require.Len(t, role.Permissions, 1)
	assert.Equal(t, CapViewUsers, role.Permissions[0].Name)

	_, err = env.engine.CreateRole(context.Background(), super, "support", "", nil)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestDeleteRoleProtections(t *testing.T) {
	env := newRBACEnv(t)
	super := env.addUser(t, "root", []string{guard.RoleSuperadmin})
	plain := env.addUser(t, "joe", []string{guard.RoleUser})

	assert.ErrorIs(t, env.engine.DeleteRole(context.Background(), plain, "support"), ErrForbidden)
	assert.ErrorIs(t, env.engine.DeleteRole(context.Background(), super, guard.RoleAdmin), ErrCoreRole)

	_, err := env.engine.CreateRole(context.Background(), super, "support", "", nil)
	require.NoError(t, err)
	_, err = env.engine.AssignRole(context.Background(), super, plain.ID, "support", false)
	require.NoError(t, err)

	assert.ErrorIs(t, env.engine.DeleteRole(context.Background(), super, "support"), ErrRoleInUse)

	_, err = env.engine.RemoveRole(context.Background(), super, plain.ID, "support")
	require.NoError(t, err)
	require.NoError(t, env.engine.DeleteRole(context.Background(), super, "support"))
	_, err = env.store.FindRole(context.Background(), "support")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
