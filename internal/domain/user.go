package domain

import (
	"sort"
	"strings"
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents a registered account of the banking application.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Roles        []string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Public returns a copy of the user with the password hash stripped.
func (u *User) Public() *User {
	if u == nil {
		return nil
	}
	return &User{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Roles:     append([]string(nil), u.Roles...),
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// UserPatch carries the mutable account fields. Nil fields are left untouched.
type UserPatch struct {
	Roles    []string
	IsActive *bool
}

// Empty reports whether the patch changes nothing.
func (p UserPatch) Empty() bool {
	return p.Roles == nil && p.IsActive == nil
}

// NormalizeRoles trims, lower-cases, de-duplicates and sorts roles.
// An empty result falls back to the default user role.
func NormalizeRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	if len(out) == 0 {
		return []string{RoleUser}
	}
	sort.Strings(out)
	return out
}

// HasAnyRole reports whether held and required share at least one role.
func HasAnyRole(held, required []string) bool {
	for _, r := range required {
		for _, h := range held {
			if h == r {
				return true
			}
		}
	}
	return false
}
