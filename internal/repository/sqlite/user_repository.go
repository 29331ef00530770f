package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"bank-auth/internal/domain"
	"bank-auth/internal/repository"
)

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	roles TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
`

const selectUser = `
SELECT id, username, email, password_hash, roles, is_active, created_at, updated_at
FROM users
`

type UserRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewUserRepository(db *sql.DB) repository.UserRepository {
	return &UserRepository{db: db, now: time.Now}
}

func (r *UserRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createUsersTable); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return nil
}

// Insert relies on the UNIQUE constraints, so the uniqueness check and the
// write are one statement.
func (r *UserRepository) Insert(ctx context.Context, user *domain.User) (*domain.User, error) {
	stored := *user
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now().UTC()
	}
	if stored.UpdatedAt.Before(stored.CreatedAt) {
		stored.UpdatedAt = stored.CreatedAt
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO users (id, username, email, password_hash, roles, is_active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID,
		strings.ToLower(stored.Username),
		strings.ToLower(stored.Email),
		stored.PasswordHash,
		repository.JoinRoles(stored.Roles),
		stored.IsActive,
		stored.CreatedAt,
		stored.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.Wrap(domain.KindConflict, domain.ErrConflict.Message, err)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &stored, nil
}

func (r *UserRepository) FindByUsernameOrEmail(ctx context.Context, identifier string) (*domain.User, error) {
	key := strings.ToLower(strings.TrimSpace(identifier))
	row := r.db.QueryRowContext(ctx, selectUser+`WHERE username = ? OR email = ? LIMIT 1`, key, key)
	return scanUser(row)
}

func (r *UserRepository) Exists(ctx context.Context, username, email string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM users WHERE username = ? OR email = ?`,
		strings.ToLower(username), strings.ToLower(email),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return n > 0, nil
}

func (r *UserRepository) UpdateRolesOrStatus(ctx context.Context, id string, patch domain.UserPatch) (*domain.User, error) {
	var roles, active any
	if patch.Roles != nil {
		roles = repository.JoinRoles(domain.NormalizeRoles(patch.Roles))
	}
	if patch.IsActive != nil {
		active = *patch.IsActive
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE users
SET roles = COALESCE(?, roles),
	is_active = COALESCE(?, is_active),
	updated_at = ?
WHERE id = ?`,
		roles, active, r.now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update user rows affected: %w", err)
	}
	if n == 0 {
		return nil, domain.ErrNotFound
	}

	return scanUser(r.db.QueryRowContext(ctx, selectUser+`WHERE id = ?`, id))
}

func isUniqueViolation(err error) bool {
	var sqliteErr *moderncsqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

func scanUser(row interface {
	Scan(dest ...any) error
}) (*domain.User, error) {
	var (
		user  domain.User
		roles string
	)
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&roles,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	user.Roles = repository.SplitRoles(roles)
	return &user, nil
}
