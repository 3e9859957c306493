package models

import (
	"encoding/json"
	"time"
)

type Permission struct {
	ID        int    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string `gorm:"uniqueIndex;not null" json:"name"`
	GuardName string `gorm:"not null;default:web" json:"guard_name"`
}

type Role struct {
	ID          int          `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string       `gorm:"uniqueIndex;not null" json:"name"`
	GuardName   string       `gorm:"not null;default:web" json:"guard_name"`
	Permissions []Permission `gorm:"many2many:role_permissions" json:"permissions,omitempty"`
}

type User struct {
	ID            string       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Email         string       `gorm:"uniqueIndex;not null" json:"email"`
	Username      string       `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash  string       `gorm:"not null" json:"-"`
	IsAdmin       bool         `gorm:"not null;default:false" json:"is_admin"`
	IsVendor      bool         `gorm:"not null;default:false" json:"is_vendor"`
	IsActive      bool         `gorm:"not null;default:true" json:"is_active"`
	LoginAttempts int          `gorm:"not null;default:0" json:"-"`
	LockedUntil   *time.Time   `json:"locked_until,omitempty"`
	LastLoginAt   *time.Time   `json:"last_login_at,omitempty"`
	Roles         []Role       `gorm:"many2many:user_roles" json:"roles"`
	Permissions   []Permission `gorm:"many2many:user_permissions" json:"permissions,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (u *User) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return names
}

// LockedAt reports whether the account lockout is still in effect at the
// given instant.
func (u *User) LockedAt(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// AccessToken is an opaque bearer credential. Only the SHA-256 hash of the
// plaintext is ever stored.
type AccessToken struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     string     `gorm:"type:uuid;index;not null" json:"user_id"`
	Name       string     `gorm:"not null" json:"name"`
	TokenHash  string     `gorm:"uniqueIndex;size:64;not null" json:"-"`
	Abilities  JSONB      `gorm:"type:jsonb;default:'[]'::jsonb" json:"abilities"`
	Guard      string     `gorm:"not null;default:api" json:"guard"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (t *AccessToken) SetAbilities(abilities []string) {
	if len(abilities) == 0 {
		abilities = []string{"*"}
	}
	b, _ := json.Marshal(abilities)
	t.Abilities = JSONB(b)
}

func (t *AccessToken) AbilityList() []string {
	var out []string
	if err := json.Unmarshal([]byte(t.Abilities), &out); err != nil {
		return nil
	}
	return out
}

// Can reports whether the token authorizes the named ability. A stored "*"
// ability authorizes everything.
func (t *AccessToken) Can(ability string) bool {
	for _, a := range t.AbilityList() {
		if a == "*" || a == ability {
			return true
		}
	}
	return false
}

// Session backs the JWT-based guards. The jti claim of every issued session
// token must resolve to a live row here.
type Session struct {
	JTI       string     `gorm:"primaryKey;size:64" json:"jti"`
	UserID    string     `gorm:"type:uuid;index;not null" json:"user_id"`
	Guard     string     `gorm:"not null;default:web" json:"guard"`
	ExpiresAt time.Time  `gorm:"not null" json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type LoginHistory struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    *string   `gorm:"type:uuid;index" json:"user_id,omitempty"`
	Guard     string    `gorm:"not null" json:"guard"`
	Action    string    `gorm:"not null" json:"action"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Metadata  JSONB     `gorm:"type:jsonb;default:'{}'::jsonb" json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

func (LoginHistory) TableName() string { return "login_history" }
