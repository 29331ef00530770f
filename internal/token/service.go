// Package token issues and validates the signed access and refresh tokens
// that carry a session. Tokens are self-contained JWTs; the only server-side
// state is the optional revocation list.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"bank-auth/internal/domain"
	"bank-auth/internal/revocation"
)

// Type distinguishes access tokens from refresh tokens.
type Type string

const (
	Access  Type = "access"
	Refresh Type = "refresh"
)

const (
	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims is the signed payload. Subject is the username.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
	Type  Type     `json:"type"`
}

// Pair is what login and refresh hand back to the client.
type Pair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    time.Duration
}

// UserLookup is the slice of the credential store the refresh flow needs.
type UserLookup interface {
	FindByUsernameOrEmail(ctx context.Context, identifier string) (*domain.User, error)
}

type Config struct {
	Algorithm  string
	Key        []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Revocations defaults to revocation.Nop.
	Revocations revocation.List
	Users       UserLookup
	NewID       func() string
}

type Service struct {
	method      jwt.SigningMethod
	signKey     any
	verifyKey   any
	issuer      string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	revocations revocation.List
	users       UserLookup
	newID       func() string
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = jwt.SigningMethodHS256.Alg()
	}
	method, signKey, verifyKey, err := signingKeys(cfg.Algorithm, cfg.Key)
	if err != nil {
		return nil, err
	}
	if cfg.Users == nil {
		return nil, errors.New("token service requires a user lookup")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.Revocations == nil {
		cfg.Revocations = revocation.Nop{}
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	return &Service{
		method:      method,
		signKey:     signKey,
		verifyKey:   verifyKey,
		issuer:      cfg.Issuer,
		accessTTL:   cfg.AccessTTL,
		refreshTTL:  cfg.RefreshTTL,
		revocations: cfg.Revocations,
		users:       cfg.Users,
		newID:       cfg.NewID,
	}, nil
}

func (s *Service) IssueAccessToken(subject string, roles []string, now time.Time) (string, error) {
	return s.sign(subject, append([]string(nil), roles...), Access, now, s.accessTTL)
}

func (s *Service) IssueRefreshToken(subject string, now time.Time) (string, error) {
	return s.sign(subject, nil, Refresh, now, s.refreshTTL)
}

// IssuePair mints a fresh access and refresh token for subject.
func (s *Service) IssuePair(subject string, roles []string, now time.Time) (*Pair, error) {
	access, err := s.IssueAccessToken(subject, roles, now)
	if err != nil {
		return nil, err
	}
	refresh, err := s.IssueRefreshToken(subject, now)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    s.accessTTL,
	}, nil
}

func (s *Service) sign(subject string, roles []string, typ Type, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.newID(),
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roles,
		Type:  typ,
	}
	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.signKey)
	if err != nil {
		return "", domain.Wrap(domain.KindInternal, "sign token", err)
	}
	return signed, nil
}

// Verify checks signature, expiry against now and the type claim. A token is
// valid while now is before exp; at now == exp it is already expired. Verify
// never consults the revocation list or the credential store.
func (s *Service) Verify(raw string, expected Type, now time.Time) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.verifyKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrExpired
		}
		return nil, domain.Wrap(domain.KindMalformed, domain.ErrMalformed.Message, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, domain.ErrMalformed
	}
	switch claims.Type {
	case expected:
	case Access, Refresh:
		return nil, domain.ErrWrongType
	default:
		return nil, domain.ErrMalformed
	}
	return claims, nil
}

// Authenticate is Verify plus the revocation check.
func (s *Service) Authenticate(ctx context.Context, raw string, expected Type, now time.Time) (*Claims, error) {
	claims, err := s.Verify(raw, expected, now)
	if err != nil {
		return nil, err
	}
	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "check revocation", err)
	}
	if revoked {
		return nil, domain.ErrRevoked
	}
	return claims, nil
}

// Revoke puts the token behind claims on the deny-list until it expires.
func (s *Service) Revoke(ctx context.Context, claims *Claims) error {
	if claims == nil || claims.ExpiresAt == nil {
		return nil
	}
	if _, err := s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return domain.Wrap(domain.KindInternal, "revoke token", err)
	}
	return nil
}

// Refresh rotates a refresh token into a new pair. The subject is re-read so
// the new access token carries the user's current roles, and the presented
// refresh token is revoked so it cannot be replayed.
func (s *Service) Refresh(ctx context.Context, raw string, now time.Time) (*Pair, error) {
	claims, err := s.Authenticate(ctx, raw, Refresh, now)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByUsernameOrEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrSubjectNotFound
		}
		return nil, domain.Wrap(domain.KindInternal, "load token subject", err)
	}
	if !user.IsActive {
		return nil, domain.ErrSubjectInactive
	}

	first, err := s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "revoke refresh token", err)
	}
	if !first {
		return nil, domain.ErrRevoked
	}

	pair, err := s.IssuePair(user.Username, user.Roles, now)
	if err != nil {
		return nil, fmt.Errorf("refresh tokens: %w", err)
	}
	return pair, nil
}
