package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"bank-auth/internal/domain"
	"bank-auth/internal/repository"
)

const uniqueViolation = "23505"

const selectUser = `
SELECT id, username, email, password_hash, roles, is_active, created_at, updated_at
FROM users
`

type UserRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db, now: time.Now}
}

var _ repository.UserRepository = (*UserRepository)(nil)

func (r *UserRepository) Init(ctx context.Context) error {
	return migrate(ctx, r.db)
}

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
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
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
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, domain.Wrap(domain.KindConflict, domain.ErrConflict.Message, err)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &stored, nil
}

func (r *UserRepository) FindByUsernameOrEmail(ctx context.Context, identifier string) (*domain.User, error) {
	key := strings.ToLower(strings.TrimSpace(identifier))
	row := r.db.QueryRowContext(ctx, selectUser+`WHERE username = $1 OR email = $1 LIMIT 1`, key)
	return scanUser(row)
}

func (r *UserRepository) Exists(ctx context.Context, username, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1 OR email = $2)`,
		strings.ToLower(username), strings.ToLower(email),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return exists, nil
}

func (r *UserRepository) UpdateRolesOrStatus(ctx context.Context, id string, patch domain.UserPatch) (*domain.User, error) {
	var (
		roles  sql.NullString
		active sql.NullBool
	)
	if patch.Roles != nil {
		roles = sql.NullString{String: repository.JoinRoles(domain.NormalizeRoles(patch.Roles)), Valid: true}
	}
	if patch.IsActive != nil {
		active = sql.NullBool{Bool: *patch.IsActive, Valid: true}
	}

	row := r.db.QueryRowContext(ctx, `
UPDATE users
SET roles = COALESCE($1::text, roles),
	is_active = COALESCE($2::boolean, is_active),
	updated_at = GREATEST($3, created_at)
WHERE id = $4
RETURNING id, username, email, password_hash, roles, is_active, created_at, updated_at`,
		roles, active, r.now().UTC(), id,
	)
	return scanUser(row)
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
