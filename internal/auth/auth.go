// Package auth provides user sessions for the platform.
//
// Authentication model:
//   - Users log in with username and password and receive a signed access
//     token plus a refresh token (JWT, HS256).
//   - Tokens are stateless. Logout is recorded in the audit log only.
//   - A session is bound to one tenant. A user with a stored tenant can only
//     act inside it; a user without one is a cross-tenant administrator.
package auth

import (
	"errors"
	"slices"
	"time"
)

// Errors
var (
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenMalformed     = errors.New("auth: token malformed")
	ErrSignatureInvalid   = errors.New("auth: token signature invalid")
	ErrWrongTokenType     = errors.New("auth: wrong token type")
	ErrInvalidCredentials = errors.New("auth: invalid username or password")
	ErrUserNotFound       = errors.New("auth: user not found")
	ErrUserExists         = errors.New("auth: username or email already exists")
	ErrUserInactive       = errors.New("auth: user is inactive")
	ErrTenantMismatch     = errors.New("auth: user does not belong to tenant")
	ErrTenantUnavailable  = errors.New("auth: tenant is not active or has expired")
	ErrInvalidUser        = errors.New("auth: invalid user")
	ErrUserLimit          = errors.New("auth: tenant user limit reached")
)

// Roles
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User is a platform account.
type User struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	TenantID      string     `json:"tenant_id,omitempty"`
	Roles         []string   `json:"roles"`
	IsActive      bool       `json:"is_active"`
	IsTenantAdmin bool       `json:"is_tenant_admin"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}

// HasRole reports whether the user carries role.
func (u *User) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// IsAdmin reports whether the user is a platform administrator.
func (u *User) IsAdmin() bool {
	return u.HasRole(RoleAdmin)
}

func (u *User) clone() *User {
	cp := *u
	cp.Roles = append([]string(nil), u.Roles...)
	if u.LastLoginAt != nil {
		ts := *u.LastLoginAt
		cp.LastLoginAt = &ts
	}
	return &cp
}

// Principal is the verified identity attached to a request.
type Principal struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	TenantID string   `json:"tenant_id,omitempty"`
	Roles    []string `json:"roles"`
	TokenID  string   `json:"-"`
}

// IsAdmin reports whether the principal carries the admin role.
func (p *Principal) IsAdmin() bool {
	return p != nil && slices.Contains(p.Roles, RoleAdmin)
}
