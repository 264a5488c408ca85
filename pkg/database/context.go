package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type contextKey string

const (
	// OwnerScopeKey is the context key for storing the owner-scoped database connection.
	OwnerScopeKey contextKey = "ownerScope"
)

// ErrNoScope is returned by repositories called without a scope in context.
var ErrNoScope = errors.New("no database scope in context")

// GetOwnerScope retrieves the owner-scoped database connection from context.
// Returns nil and false if not present.
func GetOwnerScope(ctx context.Context) (*OwnerScope, bool) {
	scope, ok := ctx.Value(OwnerScopeKey).(*OwnerScope)
	return scope, ok && scope != nil
}

// SetOwnerScope stores the owner-scoped database connection in context.
func SetOwnerScope(ctx context.Context, scope *OwnerScope) context.Context {
	return context.WithValue(ctx, OwnerScopeKey, scope)
}

// ScopeProvider creates owner-scoped contexts for HTTP requests (through
// WithOwnerContext), schedulers and CLI commands.
type ScopeProvider interface {
	WithOwnerScope(ctx context.Context, ownerID uuid.UUID) (context.Context, func(), error)
	WithSystemScope(ctx context.Context) (context.Context, func(), error)
}

type scopeProvider struct {
	db *DB
}

// NewScopeProvider creates a ScopeProvider for the given database.
func NewScopeProvider(db *DB) ScopeProvider {
	return &scopeProvider{db: db}
}

// WithOwnerScope returns a context with owner scope set.
// The cleanup function must be called when the scope is no longer needed.
func (p *scopeProvider) WithOwnerScope(ctx context.Context, ownerID uuid.UUID) (context.Context, func(), error) {
	scope, err := p.db.WithOwner(ctx, ownerID)
	if err != nil {
		return nil, nil, err
	}
	return SetOwnerScope(ctx, scope), scope.Close, nil
}

// WithSystemScope returns a context whose connection carries no owner.
func (p *scopeProvider) WithSystemScope(ctx context.Context) (context.Context, func(), error) {
	scope, err := p.db.WithoutOwner(ctx)
	if err != nil {
		return nil, nil, err
	}
	return SetOwnerScope(ctx, scope), scope.Close, nil
}
