package database

import (
	"context"
	"fmt"
)

// TxRunner runs fn inside a single transaction on the scope held by ctx.
// fn receives a context whose scope points at the transaction, so repository
// calls made with it join the transaction. Any error rolls everything back.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txRunner struct{}

// NewTxRunner returns the pgx backed TxRunner.
func NewTxRunner() TxRunner {
	return txRunner{}
}

func (txRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	scope, ok := GetOwnerScope(ctx)
	if !ok {
		return ErrNoScope
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	txCtx := SetOwnerScope(ctx, &OwnerScope{Conn: tx, OwnerID: scope.OwnerID})
	if err := fn(txCtx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
