package token

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bank-auth/internal/domain"
	"bank-auth/internal/repository/memory"
	"bank-auth/internal/revocation"
)

var (
	testSecret = []byte("0123456789abcdef0123456789abcdef")
	testNow    = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
)

func newTestService(t *testing.T, users UserLookup, revocations revocation.List) *Service {
	t.Helper()
	if users == nil {
		users = memory.NewUserRepository()
	}
	svc, err := NewService(Config{
		Algorithm:   "HS256",
		Key:         testSecret,
		Issuer:      "bank-auth",
		Users:       users,
		Revocations: revocations,
	})
	require.NoError(t, err)
	return svc
}

func seedUser(t *testing.T, repo *memory.UserRepository, username string, roles ...string) *domain.User {
	t.Helper()
	u, err := repo.Insert(context.Background(), &domain.User{
		ID:           "id-" + username,
		Username:     username,
		Email:        username + "@bank.com",
		PasswordHash: "x",
		Roles:        roles,
		IsActive:     true,
	})
	require.NoError(t, err)
	return u
}

func TestAccessTokenRoundTrip(t *testing.T) {
	svc := newTestService(t, nil, nil)

	raw, err := svc.IssueAccessToken("alice", []string{"admin", "user"}, testNow)
	require.NoError(t, err)

	claims, err := svc.Verify(raw, Access, testNow)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, []string{"admin", "user"}, claims.Roles)
	assert.Equal(t, Access, claims.Type)
	assert.NotEmpty(t, claims.ID)
	assert.True(t, testNow.Add(DefaultAccessTTL).Equal(claims.ExpiresAt.Time))
	assert.True(t, testNow.Equal(claims.IssuedAt.Time))
}

func TestRefreshTokenCarriesNoRoles(t *testing.T) {
	svc := newTestService(t, nil, nil)

	raw, err := svc.IssueRefreshToken("alice", testNow)
	require.NoError(t, err)

	claims, err := svc.Verify(raw, Refresh, testNow.Add(6*24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, claims.Roles)
	assert.True(t, testNow.Add(DefaultRefreshTTL).Equal(claims.ExpiresAt.Time))
}

func TestVerifyExpired(t *testing.T) {
	svc := newTestService(t, nil, nil)

	access, err := svc.IssueAccessToken("alice", []string{"user"}, testNow)
	require.NoError(t, err)
	_, err = svc.Verify(access, Access, testNow.Add(DefaultAccessTTL+time.Second))
	assert.ErrorIs(t, err, domain.ErrExpired)

	refresh, err := svc.IssueRefreshToken("alice", testNow)
	require.NoError(t, err)
	_, err = svc.Verify(refresh, Refresh, testNow.Add(DefaultRefreshTTL+time.Second))
	assert.ErrorIs(t, err, domain.ErrExpired)
}

func TestVerifyExpiryBoundary(t *testing.T) {
	svc := newTestService(t, nil, nil)

	access, err := svc.IssueAccessToken("alice", []string{"user"}, testNow)
	require.NoError(t, err)

	_, err = svc.Verify(access, Access, testNow.Add(DefaultAccessTTL-time.Second))
	assert.NoError(t, err)

	_, err = svc.Verify(access, Access, testNow.Add(DefaultAccessTTL))
	assert.ErrorIs(t, err, domain.ErrExpired)
}

func TestVerifyWrongType(t *testing.T) {
	svc := newTestService(t, nil, nil)

	refresh, err := svc.IssueRefreshToken("alice", testNow)
	require.NoError(t, err)
	_, err = svc.Verify(refresh, Access, testNow)
	assert.ErrorIs(t, err, domain.ErrWrongType)

	access, err := svc.IssueAccessToken("alice", nil, testNow)
	require.NoError(t, err)
	_, err = svc.Verify(access, Refresh, testNow)
	assert.ErrorIs(t, err, domain.ErrWrongType)
}

func TestVerifyMalformed(t *testing.T) {
	svc := newTestService(t, nil, nil)
	access, err := svc.IssueAccessToken("alice", []string{"user"}, testNow)
	require.NoError(t, err)

	parts := strings.Split(access, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	other, err := NewService(Config{Key: []byte("ffffffffffffffffffffffffffffffff"), Issuer: "bank-auth", Users: memory.NewUserRepository()})
	require.NoError(t, err)
	foreign, err := other.IssueAccessToken("alice", []string{"admin"}, testNow)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "x",
			Subject:   "alice",
			Issuer:    "bank-auth",
			ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
		},
		Roles: []string{"admin"},
		Type:  Access,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	hs384, err := jwt.NewWithClaims(jwt.SigningMethodHS384, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "x",
			Subject:   "alice",
			Issuer:    "bank-auth",
			ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
		},
		Type: Access,
	}).SignedString(testSecret)
	require.NoError(t, err)

	for name, raw := range map[string]string{
		"empty":         "",
		"garbage":       "not.a.jwt",
		"tampered":      tampered,
		"foreign key":   foreign,
		"alg none":      unsigned,
		"other hmac":    hs384,
		"missing parts": parts[0] + "." + parts[1],
	} {
		_, err := svc.Verify(raw, Access, testNow)
		assert.ErrorIs(t, err, domain.ErrMalformed, name)
	}
}

func TestVerifyRejectsForeignIssuer(t *testing.T) {
	svc := newTestService(t, nil, nil)
	other, err := NewService(Config{Key: testSecret, Issuer: "someone-else", Users: memory.NewUserRepository()})
	require.NoError(t, err)

	raw, err := other.IssueAccessToken("alice", nil, testNow)
	require.NoError(t, err)
	_, err = svc.Verify(raw, Access, testNow)
	assert.ErrorIs(t, err, domain.ErrMalformed)
}

func TestRefreshUsesCurrentRoles(t *testing.T) {
	repo := memory.NewUserRepository()
	user := seedUser(t, repo, "alice", "user")
	svc := newTestService(t, repo, revocation.NewMemoryList(func() time.Time { return testNow }))

	pair, err := svc.IssuePair(user.Username, user.Roles, testNow)
	require.NoError(t, err)

	_, err = repo.UpdateRolesOrStatus(context.Background(), user.ID, domain.UserPatch{Roles: []string{"admin", "user"}})
	require.NoError(t, err)

	later := testNow.Add(time.Hour)
	next, err := svc.Refresh(context.Background(), pair.RefreshToken, later)
	require.NoError(t, err)
	assert.Equal(t, "bearer", next.TokenType)

	claims, err := svc.Verify(next.AccessToken, Access, later)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "user"}, claims.Roles)

	_, err = svc.Verify(next.RefreshToken, Refresh, later)
	require.NoError(t, err)
}

func TestRefreshRotationRejectsReplay(t *testing.T) {
	repo := memory.NewUserRepository()
	seedUser(t, repo, "alice", "user")
	svc := newTestService(t, repo, revocation.NewMemoryList(func() time.Time { return testNow }))

	pair, err := svc.IssuePair("alice", []string{"user"}, testNow)
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), pair.RefreshToken, testNow)
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), pair.RefreshToken, testNow)
	assert.ErrorIs(t, err, domain.ErrRevoked)
}

func TestRefreshWithoutRevocationListIsStateless(t *testing.T) {
	repo := memory.NewUserRepository()
	seedUser(t, repo, "alice", "user")
	svc := newTestService(t, repo, nil)

	pair, err := svc.IssuePair("alice", []string{"user"}, testNow)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = svc.Refresh(context.Background(), pair.RefreshToken, testNow)
		require.NoError(t, err)
	}
}

func TestRefreshFailures(t *testing.T) {
	repo := memory.NewUserRepository()
	inactive := seedUser(t, repo, "bob", "user")
	off := false
	_, err := repo.UpdateRolesOrStatus(context.Background(), inactive.ID, domain.UserPatch{IsActive: &off})
	require.NoError(t, err)
	svc := newTestService(t, repo, nil)
	ctx := context.Background()

	ghost, err := svc.IssueRefreshToken("ghost", testNow)
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, ghost, testNow)
	assert.ErrorIs(t, err, domain.ErrSubjectNotFound)

	bob, err := svc.IssueRefreshToken("bob", testNow)
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, bob, testNow)
	assert.ErrorIs(t, err, domain.ErrSubjectInactive)

	access, err := svc.IssueAccessToken("bob", nil, testNow)
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, access, testNow)
	assert.ErrorIs(t, err, domain.ErrWrongType)

	_, err = svc.Refresh(ctx, bob, testNow.Add(DefaultRefreshTTL+time.Second))
	assert.ErrorIs(t, err, domain.ErrExpired)
}

func TestAuthenticateRevoked(t *testing.T) {
	list := revocation.NewMemoryList(func() time.Time { return testNow })
	svc := newTestService(t, nil, list)
	ctx := context.Background()

	raw, err := svc.IssueAccessToken("alice", []string{"user"}, testNow)
	require.NoError(t, err)

	claims, err := svc.Authenticate(ctx, raw, Access, testNow)
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, claims))

	_, err = svc.Authenticate(ctx, raw, Access, testNow)
	assert.ErrorIs(t, err, domain.ErrRevoked)

	// Verify alone stays purely cryptographic.
	_, err = svc.Verify(raw, Access, testNow)
	assert.NoError(t, err)
}

func TestNewServiceValidation(t *testing.T) {
	users := memory.NewUserRepository()

	_, err := NewService(Config{Key: []byte("short"), Users: users})
	assert.Error(t, err)

	_, err = NewService(Config{Algorithm: "none", Key: testSecret, Users: users})
	assert.Error(t, err)

	_, err = NewService(Config{Algorithm: "RS256", Key: testSecret, Users: users})
	assert.Error(t, err)

	_, err = NewService(Config{Key: testSecret})
	assert.Error(t, err)
}

func TestAsymmetricAlgorithms(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	rsaPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)})

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ecDER, err := x509.MarshalECPrivateKey(ecKey)
	require.NoError(t, err)
	ecPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: ecDER})

	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	edDER, err := x509.MarshalPKCS8PrivateKey(edKey)
	require.NoError(t, err)
	edPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: edDER})

	cases := map[string][]byte{
		"RS256": rsaPEM,
		"ES256": ecPEM,
		"EdDSA": edPEM,
	}
	for alg, key := range cases {
		svc, err := NewService(Config{Algorithm: alg, Key: key, Users: memory.NewUserRepository()})
		require.NoError(t, err, alg)

		raw, err := svc.IssueAccessToken("alice", []string{"user"}, testNow)
		require.NoError(t, err, alg)

		claims, err := svc.Verify(raw, Access, testNow)
		require.NoError(t, err, alg)
		assert.Equal(t, "alice", claims.Subject, alg)
	}
}
