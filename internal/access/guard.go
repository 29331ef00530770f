// Package access decides, per request, whether a bearer token may reach a
// route. Routes describe their requirements as data through Policy.
package access

import (
	"context"
	"time"

	"bank-auth/internal/domain"
	"bank-auth/internal/token"
)

// Mode is the route class a Policy belongs to.
type Mode int

const (
	// Public routes pass straight to the handler.
	Public Mode = iota
	// Bearer routes need a valid access token and, optionally, one of Roles.
	Bearer
	// APIKey routes need a configured static key and never look at tokens.
	APIKey
)

// Policy is the access requirement declared by a route.
type Policy struct {
	Mode  Mode
	Roles []string
}

func PublicRoute() Policy { return Policy{Mode: Public} }

func APIKeyRoute() Policy { return Policy{Mode: APIKey} }

// BearerRoute requires an access token holding any one of roles; no roles
// means any authenticated caller.
func BearerRoute(roles ...string) Policy { return Policy{Mode: Bearer, Roles: roles} }

// AuthContext is the resolved caller handed to handlers.
type AuthContext struct {
	Subject string
	Roles   []string
	TokenID string
	Claims  *token.Claims
}

// Verifier is the token service surface the guard needs.
type Verifier interface {
	Authenticate(ctx context.Context, raw string, expected token.Type, now time.Time) (*token.Claims, error)
}

type Guard struct {
	tokens Verifier
	now    func() time.Time
}

func NewGuard(tokens Verifier, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{tokens: tokens, now: now}
}

// Authorize validates raw as an access token and checks that it holds at
// least one of required. Token failures keep their kind.
func (g *Guard) Authorize(ctx context.Context, raw string, required []string) (*AuthContext, error) {
	if raw == "" {
		return nil, domain.ErrUnauthenticated
	}
	claims, err := g.tokens.Authenticate(ctx, raw, token.Access, g.now())
	if err != nil {
		return nil, err
	}
	if len(required) > 0 && !domain.HasAnyRole(claims.Roles, required) {
		return nil, domain.ErrForbidden
	}
	return &AuthContext{
		Subject: claims.Subject,
		Roles:   claims.Roles,
		TokenID: claims.ID,
		Claims:  claims,
	}, nil
}
