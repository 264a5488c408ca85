package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by pooled connections and transactions.
// Repositories only ever talk to a Querier, so the same code runs inside or
// outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Begin(ctx context.Context) (pgx.Tx, error)
}

var (
	_ Querier = (*pgxpool.Conn)(nil)
	_ Querier = (pgx.Tx)(nil)
)

// OwnerScope wraps a connection with owner context and ensures cleanup.
// The connection has app.current_owner_id set for RLS policy evaluation.
type OwnerScope struct {
	Conn    Querier
	OwnerID uuid.UUID

	pooled *pgxpool.Conn
}

// Close resets owner context and releases connection to pool.
// This MUST be called to prevent owner context from leaking to the next request.
// Scopes derived from a transaction have nothing to release.
func (s *OwnerScope) Close() {
	if s.pooled == nil {
		return
	}
	_, _ = s.pooled.Exec(context.Background(), "RESET app.current_owner_id")
	s.pooled.Release()
	s.pooled = nil
}

// WithOwner acquires a connection and sets the owner context for RLS.
// The returned OwnerScope MUST be closed with defer scope.Close().
func (db *DB) WithOwner(ctx context.Context, ownerID uuid.UUID) (*OwnerScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.current_owner_id', $1, false)", ownerID.String())
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &OwnerScope{Conn: conn, OwnerID: ownerID, pooled: conn}, nil
}

// WithoutOwner acquires a connection without owner context.
// Use this for maintenance sweeps (expiry, purge) that span every owner.
// The returned OwnerScope MUST be closed with defer scope.Close().
func (db *DB) WithoutOwner(ctx context.Context) (*OwnerScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &OwnerScope{Conn: conn, pooled: conn}, nil
}
