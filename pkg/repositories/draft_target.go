package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DraftTarget is the lifecycle a pending approval drives on its target row.
// Facts, activities and commitments all implement it.
type DraftTarget interface {
	// Activate turns a draft into an active record. Returns false when no live draft exists.
	Activate(ctx context.Context, id uuid.UUID) (bool, error)
	// SoftDelete stamps deleted_at. Returns false when the row is missing or already deleted.
	SoftDelete(ctx context.Context, id uuid.UUID) (bool, error)
	// HardDelete removes the row. Returns false when the row is missing.
	HardDelete(ctx context.Context, id uuid.UUID) (bool, error)
	// PurgeDeleted hard-deletes rows soft-deleted before cutoff.
	PurgeDeleted(ctx context.Context, cutoff time.Time) (int64, error)
}

// draftTable implements DraftTarget for one table with the shared
// status / deleted_at columns.
type draftTable struct {
	table string
}

func (d draftTable) Activate(ctx context.Context, id uuid.UUID) (bool, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'active', updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, d.table)

	result, err := scope.Conn.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to activate %s row: %w", d.table, err)
	}
	return result.RowsAffected() > 0, nil
}

func (d draftTable) SoftDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, d.table)

	result, err := scope.Conn.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to soft delete %s row: %w", d.table, err)
	}
	return result.RowsAffected() > 0, nil
}

func (d draftTable) HardDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return false, err
	}

	result, err := scope.Conn.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, d.table), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s row: %w", d.table, err)
	}
	return result.RowsAffected() > 0, nil
}

func (d draftTable) PurgeDeleted(ctx context.Context, cutoff time.Time) (int64, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE deleted_at IS NOT NULL AND deleted_at < $1`, d.table)
	result, err := scope.Conn.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge %s rows: %w", d.table, err)
	}
	return result.RowsAffected(), nil
}
