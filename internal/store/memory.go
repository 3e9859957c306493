package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"guardcore/internal/models"
)

// Memory is an in-memory Store used by tests and local development. It mirrors
// the semantics of the GORM store, including per-user serialization of login
// state updates.
type Memory struct {
	mu          sync.Mutex
	users       map[string]*models.User
	roles       map[string]*models.Role
	permissions map[string]*models.Permission
	tokens      map[string]*models.AccessToken
	sessions    map[string]*models.Session
	history     []models.LoginHistory
	nextRoleID  int
	nextPermID  int
	nextTokenID int64
	nextHistID  int64
}

func NewMemory() *Memory {
	return &Memory{
		users:       map[string]*models.User{},
		roles:       map[string]*models.Role{},
		permissions: map[string]*models.Permission{},
		tokens:      map[string]*models.AccessToken{},
		sessions:    map[string]*models.Session{},
	}
}

var _ Store = (*Memory)(nil)

func cloneUser(u *models.User) *models.User {
	cp := *u
	cp.Roles = append([]models.Role(nil), u.Roles...)
	cp.Permissions = append([]models.Permission(nil), u.Permissions...)
	return &cp
}

func (m *Memory) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) FindByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *Memory) List(ctx context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Create(ctx context.Context, u *models.User, roleNames []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) || existing.Username == u.Username {
			return ErrConflict
		}
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.UpdatedAt = u.CreatedAt
	for _, name := range roleNames {
		if r, ok := m.roles[name]; ok {
			u.Roles = append(u.Roles, *r)
		}
	}
	m.users[u.ID] = cloneUser(u)
	return nil
}

func (m *Memory) Update(ctx context.Context, id string, upd UserUpdate) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
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
	return cloneUser(u), nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *Memory) RecordLoginFailure(ctx context.Context, id string, maxAttempts int, lockout time.Duration) (int, *time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return 0, nil, ErrNotFound
	}
	u.LoginAttempts++
	if maxAttempts > 0 && u.LoginAttempts >= maxAttempts {
		until := time.Now().Add(lockout)
		u.LockedUntil = &until
	}
	u.UpdatedAt = time.Now()
	return u.LoginAttempts, u.LockedUntil, nil
}

func (m *Memory) RecordLoginSuccess(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LoginAttempts = 0
	u.LockedUntil = nil
	last := at
	u.LastLoginAt = &last
	u.UpdatedAt = at
	return nil
}

func (m *Memory) FindRole(ctx context.Context, name string) (*models.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	cp.Permissions = append([]models.Permission(nil), r.Permissions...)
	return &cp, nil
}

func (m *Memory) ListRoles(ctx context.Context) ([]models.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateRole(ctx context.Context, name, guardName string, permissionNames []string) (*models.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[name]; ok {
		return nil, ErrConflict
	}
	m.nextRoleID++
	r := &models.Role{ID: m.nextRoleID, Name: name, GuardName: guardName}
	for _, pn := range permissionNames {
		if p, ok := m.permissions[pn]; ok {
			r.Permissions = append(r.Permissions, *p)
		}
	}
	m.roles[name] = r
	cp := *r
	return &cp, nil
}

func (m *Memory) DeleteRole(ctx context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, r := range m.roles {
		if r.ID == id {
			delete(m.roles, name)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) RoleUserCount(ctx context.Context, roleID int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, u := range m.users {
		for _, r := range u.Roles {
			if r.ID == roleID {
				count++
				break
			}
		}
	}
	return count, nil
}

func (m *Memory) AssignRole(ctx context.Context, userID string, role *models.Role, removeOthers bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	if removeOthers {
		u.Roles = []models.Role{*role}
		return nil
	}
	for _, r := range u.Roles {
		if r.ID == role.ID {
			return nil
		}
	}
	u.Roles = append(u.Roles, *role)
	return nil
}

func (m *Memory) RemoveRole(ctx context.Context, userID string, role *models.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	kept := u.Roles[:0]
	for _, r := range u.Roles {
		if r.ID != role.ID {
			kept = append(kept, r)
		}
	}
	u.Roles = kept
	return nil
}

func (m *Memory) FindPermission(ctx context.Context, name string) (*models.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.permissions[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Permission, 0, len(m.permissions))
	for _, p := range m.permissions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreatePermission exists so tests and seeding can register permissions; the
// GORM store seeds them through AutoMigrate plus boot seeding instead.
func (m *Memory) CreatePermission(name, guardName string) *models.Permission {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.permissions[name]; ok {
		return p
	}
	m.nextPermID++
	p := &models.Permission{ID: m.nextPermID, Name: name, GuardName: guardName}
	m.permissions[name] = p
	return p
}

func (m *Memory) GivePermission(ctx context.Context, userID string, perm *models.Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	for _, p := range u.Permissions {
		if p.ID == perm.ID {
			return nil
		}
	}
	u.Permissions = append(u.Permissions, *perm)
	return nil
}

func (m *Memory) RevokePermission(ctx context.Context, userID string, perm *models.Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	kept := u.Permissions[:0]
	for _, p := range u.Permissions {
		if p.ID != perm.ID {
			kept = append(kept, p)
		}
	}
	u.Permissions = kept
	return nil
}

func (m *Memory) CreateToken(ctx context.Context, t *models.AccessToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTokenID++
	t.ID = m.nextTokenID
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	cp := *t
	m.tokens[t.TokenHash] = &cp
	return nil
}

func (m *Memory) FindTokenByHash(ctx context.Context, hash string) (*models.AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) DeleteTokenByHash(ctx context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[hash]; !ok {
		return ErrNotFound
	}
	delete(m.tokens, hash)
	return nil
}

func (m *Memory) DeleteTokensForUser(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for hash, t := range m.tokens {
		if t.UserID == userID {
			delete(m.tokens, hash)
			n++
		}
	}
	return n, nil
}

func (m *Memory) CountTokensForUser(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.tokens {
		if t.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) PruneTokensForUser(ctx context.Context, userID string, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if keep < 0 {
		return nil
	}
	var owned []*models.AccessToken
	for _, t := range m.tokens {
		if t.UserID == userID {
			owned = append(owned, t)
		}
	}
	if len(owned) <= keep {
		return nil
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].CreatedAt.Before(owned[j].CreatedAt) })
	for _, t := range owned[:len(owned)-keep] {
		delete(m.tokens, t.TokenHash)
	}
	return nil
}

func (m *Memory) TouchToken(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.ID == id {
			used := at
			t.LastUsedAt = &used
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) CreateSession(ctx context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	cp := *s
	m.sessions[s.JTI] = &cp
	return nil
}

func (m *Memory) FindSession(ctx context.Context, jti string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[jti]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) RevokeSession(ctx context.Context, jti string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[jti]
	if !ok || s.RevokedAt != nil {
		return ErrNotFound
	}
	rev := at
	s.RevokedAt = &rev
	return nil
}

func (m *Memory) RevokeSessionsForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			rev := at
			s.RevokedAt = &rev
			n++
		}
	}
	return n, nil
}

func (m *Memory) AppendHistory(ctx context.Context, h *models.LoginHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextHistID++
	h.ID = m.nextHistID
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	m.history = append(m.history, *h)
	return nil
}

func (m *Memory) HistoryForUser(ctx context.Context, userID string, limit int) ([]models.LoginHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LoginHistory
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		h := m.history[i]
		if h.UserID != nil && *h.UserID == userID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *Memory) HistoryAll(ctx context.Context, limit int) ([]models.LoginHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LoginHistory
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.history[i])
	}
	return out, nil
}
