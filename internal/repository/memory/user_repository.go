// Package memory provides an in-process credential store used by tests and
// by the "memory" database driver.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"bank-auth/internal/domain"
	"bank-auth/internal/repository"
)

type UserRepository struct {
	mu      sync.RWMutex
	byID    map[string]*domain.User
	byName  map[string]string
	byEmail map[string]string
	now     func() time.Time
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:    make(map[string]*domain.User),
		byName:  make(map[string]string),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

var _ repository.UserRepository = (*UserRepository)(nil)

func (r *UserRepository) Init(context.Context) error { return nil }

func (r *UserRepository) Insert(_ context.Context, user *domain.User) (*domain.User, error) {
	name := strings.ToLower(user.Username)
	email := strings.ToLower(user.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return nil, domain.ErrConflict
	}
	if _, ok := r.byEmail[email]; ok {
		return nil, domain.ErrConflict
	}
	if _, ok := r.byID[user.ID]; ok {
		return nil, domain.ErrConflict
	}

	stored := clone(user)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now().UTC()
	}
	if stored.UpdatedAt.Before(stored.CreatedAt) {
		stored.UpdatedAt = stored.CreatedAt
	}
	r.byID[stored.ID] = stored
	r.byName[name] = stored.ID
	r.byEmail[email] = stored.ID
	return clone(stored), nil
}

func (r *UserRepository) FindByUsernameOrEmail(_ context.Context, identifier string) (*domain.User, error) {
	key := strings.ToLower(strings.TrimSpace(identifier))

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byName[key]
	if !ok {
		id, ok = r.byEmail[key]
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(r.byID[id]), nil
}

func (r *UserRepository) Exists(_ context.Context, username, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.byName[strings.ToLower(username)]; ok {
		return true, nil
	}
	_, ok := r.byEmail[strings.ToLower(email)]
	return ok, nil
}

func (r *UserRepository) UpdateRolesOrStatus(_ context.Context, id string, patch domain.UserPatch) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if patch.Roles != nil {
		user.Roles = domain.NormalizeRoles(patch.Roles)
	}
	if patch.IsActive != nil {
		user.IsActive = *patch.IsActive
	}
	now := r.now().UTC()
	if now.Before(user.CreatedAt) {
		now = user.CreatedAt
	}
	user.UpdatedAt = now
	return clone(user), nil
}

// Len returns the number of stored users.
func (r *UserRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func clone(u *domain.User) *domain.User {
	c := *u
	c.Roles = append([]string(nil), u.Roles...)
	return &c
}
