// Package auth turns bearer tokens into an actor and its capabilities.
// Token issuance belongs to the identity provider; Issue exists for local
// development and tests.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/BuzzLyutic/taskboard/internal/model"
)

var (
	ErrMissingToken = errors.New("missing authorization header")
	ErrBadToken     = errors.New("bad auth header")
)

// Claims is the token payload. managed_projects lists the projects the
// subject has full management capability over.
type Claims struct {
	ManagedProjects []int64 `json:"managed_projects,omitempty"`
	jwt.RegisteredClaims
}

type Identity struct {
	Actor        model.Actor
	Capabilities model.Capabilities
}

type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(secret []byte) *Verifier {
	return &Verifier{
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

// FromHeader parses an "Authorization: Bearer <token>" value.
func (v *Verifier) FromHeader(h string) (Identity, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return Identity{}, ErrMissingToken
	}
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || strings.Count(token, ".") != 2 {
		return Identity{}, ErrBadToken
	}
	return v.Verify(token)
}

func (v *Verifier) Verify(token string) (Identity, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, err
	}
	if claims.Subject == "" {
		return Identity{}, errors.New("missing sub")
	}
	return Identity{
		Actor:        model.Actor{ID: claims.Subject},
		Capabilities: model.Capabilities{ManagedProjects: claims.ManagedProjects},
	}, nil
}

func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		ManagedProjects: id.Capabilities.ManagedProjects,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// ClaimsProvider serves capabilities from the identity attached to the
// request context by the HTTP middleware.
type ClaimsProvider struct{}

func (ClaimsProvider) Capabilities(ctx context.Context, actor model.Actor) (model.Capabilities, error) {
	id, ok := IdentityFrom(ctx)
	if !ok || id.Actor.ID != actor.ID {
		return model.Capabilities{}, nil
	}
	return id.Capabilities, nil
}

// StaticProvider is a fixed actor -> capabilities table.
type StaticProvider map[string]model.Capabilities

func (s StaticProvider) Capabilities(ctx context.Context, actor model.Actor) (model.Capabilities, error) {
	return s[actor.ID], nil
}
