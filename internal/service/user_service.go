package service

import (
	"context"
	"errors"
	"io"
	"net/mail"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bank-auth/internal/domain"
	"bank-auth/internal/repository"
	"bank-auth/internal/security"
	"bank-auth/internal/token"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 50
	minPasswordLen = 8
)

var (
	usernamePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)
	rolePattern     = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)
)

// RegisterInput is a self-registration request.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Roles    []string
}

// Tokens is the token service surface the account flows use.
type Tokens interface {
	IssuePair(subject string, roles []string, now time.Time) (*token.Pair, error)
	Refresh(ctx context.Context, raw string, now time.Time) (*token.Pair, error)
	Authenticate(ctx context.Context, raw string, expected token.Type, now time.Time) (*token.Claims, error)
	Revoke(ctx context.Context, claims *token.Claims) error
}

// UserService describes user lifecycle operations.
type UserService interface {
	Register(ctx context.Context, in RegisterInput) (*domain.User, error)
	Login(ctx context.Context, identifier, password string) (*token.Pair, error)
	Refresh(ctx context.Context, refreshToken string) (*token.Pair, error)
	Logout(ctx context.Context, access *token.Claims, refreshToken string) error
	Me(ctx context.Context, subject string) (*domain.User, error)
	UpdateUser(ctx context.Context, username string, patch domain.UserPatch) (*domain.User, error)
}

type Options struct {
	Hasher *security.Hasher
	Tokens Tokens
	Logger logrus.FieldLogger
	Now    func() time.Time
	NewID  func() string

	// AllowRoleSelection lets self-registration request roles other than
	// the default user role.
	AllowRoleSelection bool
}

type userService struct {
	users      repository.UserRepository
	hasher     *security.Hasher
	tokens     Tokens
	logger     logrus.FieldLogger
	now        func() time.Time
	newID      func() string
	allowRoles bool
	dummyOnce  sync.Once
	dummyHash  string
}

func NewUserService(users repository.UserRepository, opts Options) UserService {
	if opts.Hasher == nil {
		opts.Hasher = security.NewHasher(0)
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Logger = l
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &userService{
		users:      users,
		hasher:     opts.Hasher,
		tokens:     opts.Tokens,
		logger:     opts.Logger,
		now:        opts.Now,
		newID:      opts.NewID,
		allowRoles: opts.AllowRoleSelection,
	}
}

func (s *userService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	username := strings.ToLower(strings.TrimSpace(in.Username))
	email := strings.ToLower(strings.TrimSpace(in.Email))

	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	roles, err := validateRoles(in.Roles)
	if err != nil {
		return nil, err
	}
	if !s.allowRoles && (len(roles) != 1 || roles[0] != domain.RoleUser) {
		return nil, domain.E(domain.KindValidation, "roles cannot be self-assigned")
	}

	// cheap pre-check; Insert still decides races
	exists, err := s.users.Exists(ctx, username, email)
	if err != nil {
		s.logger.WithError(err).Error("check user existence")
		return nil, domain.Wrap(domain.KindInternal, "check user existence", err)
	}
	if exists {
		return nil, domain.ErrConflict
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "hash password", err)
	}

	now := s.now().UTC()
	user, err := s.users.Insert(ctx, &domain.User{
		ID:           s.newID(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Roles:        roles,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.ErrConflict
		}
		s.logger.WithError(err).Error("insert user")
		return nil, domain.Wrap(domain.KindInternal, "insert user", err)
	}

	s.logger.WithField("username", user.Username).Info("user registered")
	return user.Public(), nil
}

// Login accepts a username or an email address as identifier.
func (s *userService) Login(ctx context.Context, identifier, password string) (*token.Pair, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, domain.ErrUnauthenticated
	}

	user, err := s.users.FindByUsernameOrEmail(ctx, identifier)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// keep unknown users as slow as wrong passwords
			s.hasher.Verify(password, s.dummy())
			s.logger.WithField("identifier", identifier).Info("login failed")
			return nil, domain.ErrUnauthenticated
		}
		s.logger.WithError(err).Error("load user")
		return nil, domain.Wrap(domain.KindInternal, "load user", err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		s.logger.WithField("identifier", identifier).Info("login failed")
		return nil, domain.ErrUnauthenticated
	}
	if !user.IsActive {
		return nil, domain.ErrInactive
	}

	pair, err := s.tokens.IssuePair(user.Username, user.Roles, s.now())
	if err != nil {
		s.logger.WithError(err).Error("issue tokens")
		return nil, err
	}
	return pair, nil
}

func (s *userService) Refresh(ctx context.Context, refreshToken string) (*token.Pair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, domain.E(domain.KindValidation, "refresh_token is required")
	}
	pair, err := s.tokens.Refresh(ctx, refreshToken, s.now())
	if err != nil {
		if domain.KindOf(err) == domain.KindInternal {
			s.logger.WithError(err).Error("refresh tokens")
		}
		return nil, err
	}
	return pair, nil
}

// Logout revokes the caller's access token and, when given, a refresh token
// belonging to the same subject. Already expired or revoked refresh tokens
// are ignored.
func (s *userService) Logout(ctx context.Context, access *token.Claims, refreshToken string) error {
	if access == nil {
		return domain.ErrUnauthenticated
	}
	if err := s.tokens.Revoke(ctx, access); err != nil {
		s.logger.WithError(err).Error("revoke access token")
		return err
	}

	if strings.TrimSpace(refreshToken) != "" {
		claims, err := s.tokens.Authenticate(ctx, refreshToken, token.Refresh, s.now())
		switch {
		case errors.Is(err, domain.ErrExpired), errors.Is(err, domain.ErrRevoked):
		case err != nil:
			return err
		case claims.Subject != access.Subject:
			return domain.ErrForbidden
		default:
			if err := s.tokens.Revoke(ctx, claims); err != nil {
				s.logger.WithError(err).Error("revoke refresh token")
				return err
			}
		}
	}

	s.logger.WithField("username", access.Subject).Info("user logged out")
	return nil
}

// Me returns the stored account behind an authenticated subject.
func (s *userService) Me(ctx context.Context, subject string) (*domain.User, error) {
	user, err := s.users.FindByUsernameOrEmail(ctx, subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrSubjectNotFound
		}
		return nil, domain.Wrap(domain.KindInternal, "load user", err)
	}
	if !user.IsActive {
		return nil, domain.ErrSubjectInactive
	}
	return user.Public(), nil
}

func (s *userService) UpdateUser(ctx context.Context, username string, patch domain.UserPatch) (*domain.User, error) {
	if patch.Empty() {
		return nil, domain.E(domain.KindValidation, "nothing to update")
	}
	if patch.Roles != nil {
		if len(patch.Roles) == 0 {
			return nil, domain.E(domain.KindValidation, "roles must not be empty")
		}
		roles, err := validateRoles(patch.Roles)
		if err != nil {
			return nil, err
		}
		patch.Roles = roles
	}

	user, err := s.users.FindByUsernameOrEmail(ctx, strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.E(domain.KindNotFound, "user not found")
		}
		return nil, domain.Wrap(domain.KindInternal, "load user", err)
	}

	updated, err := s.users.UpdateRolesOrStatus(ctx, user.ID, patch)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.E(domain.KindNotFound, "user not found")
		}
		s.logger.WithError(err).Error("update user")
		return nil, domain.Wrap(domain.KindInternal, "update user", err)
	}

	s.logger.WithFields(logrus.Fields{
		"username": updated.Username,
		"roles":    strings.Join(updated.Roles, ","),
		"active":   updated.IsActive,
	}).Info("user updated")
	return updated.Public(), nil
}

func (s *userService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("not-a-real-password-0A")
	})
	return s.dummyHash
}

func validateUsername(username string) error {
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return domain.E(domain.KindValidation, "username must be between 3 and 50 characters")
	}
	if !usernamePattern.MatchString(username) {
		return domain.E(domain.KindValidation, "username may only contain a-z, 0-9, '_' and '-'")
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return domain.E(domain.KindValidation, "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return domain.E(domain.KindValidation, "email is not a valid address")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLen {
		return domain.E(domain.KindValidation, "password must be at least 8 characters")
	}
	if len(password) > security.MaxPasswordBytes {
		return domain.E(domain.KindValidation, "password must be at most 72 bytes")
	}
	var digit, upper, lower bool
	for _, r := range password {
		switch {
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		}
	}
	if !digit || !upper || !lower {
		return domain.E(domain.KindValidation, "password needs an upper-case letter, a lower-case letter and a digit")
	}
	return nil
}

func validateRoles(roles []string) ([]string, error) {
	out := domain.NormalizeRoles(roles)
	for _, r := range out {
		if !rolePattern.MatchString(r) {
			return nil, domain.E(domain.KindValidation, "invalid role "+r)
		}
	}
	return out, nil
}
