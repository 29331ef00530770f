package repository

import (
	"context"

	"bank-auth/internal/domain"
)

// UserRepository is the credential store. Implementations must enforce
// username and email uniqueness inside Insert itself and report a violation
// as domain.ErrConflict.
type UserRepository interface {
	Init(ctx context.Context) error
	Insert(ctx context.Context, user *domain.User) (*domain.User, error)
	// FindByUsernameOrEmail returns domain.ErrNotFound when no user matches.
	FindByUsernameOrEmail(ctx context.Context, identifier string) (*domain.User, error)
	Exists(ctx context.Context, username, email string) (bool, error)
	UpdateRolesOrStatus(ctx context.Context, id string, patch domain.UserPatch) (*domain.User, error)
}
