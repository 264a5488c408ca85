// Package auth validates bearer JWTs issued by the Ekaya auth server and
// exposes the owner they were issued for.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
)

// ErrNoClaims is returned when a request context carries no validated claims.
var ErrNoClaims = errors.New("authentication required: no claims in context")

// Claims is the token payload. OwnerID is the tenant every fact, entity and
// queue row belongs to.
type Claims struct {
	jwt.RegisteredClaims
	OwnerID string   `json:"oid,omitempty"`
	Email   string   `json:"email,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

// Owner parses OwnerID.
func (c *Claims) Owner() (uuid.UUID, error) {
	if c.OwnerID == "" {
		return uuid.Nil, ErrMissingOwnerID
	}
	id, err := uuid.Parse(c.OwnerID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid owner ID format: %w", err)
	}
	return id, nil
}

// GetClaims retrieves JWT claims from the request context.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok && claims != nil
}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// RequireOwnerID returns the owner and subject of the authenticated caller.
func RequireOwnerID(ctx context.Context) (uuid.UUID, string, error) {
	claims, ok := GetClaims(ctx)
	if !ok {
		return uuid.Nil, "", ErrNoClaims
	}
	ownerID, err := claims.Owner()
	if err != nil {
		return uuid.Nil, "", err
	}
	return ownerID, claims.Subject, nil
}
