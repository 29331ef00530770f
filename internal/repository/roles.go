package repository

import (
	"strings"

	"bank-auth/internal/domain"
)

// JoinRoles encodes roles for a single text column. Role names never contain commas.
func JoinRoles(roles []string) string {
	return strings.Join(roles, ",")
}

// SplitRoles decodes a column written by JoinRoles.
func SplitRoles(s string) []string {
	if s == "" {
		return []string{domain.RoleUser}
	}
	return strings.Split(s, ",")
}
