package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-fusion/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fusion/pkg/models"
)

// PendingApprovalRepository provides data access for pending approvals.
type PendingApprovalRepository interface {
	Create(ctx context.Context, a *models.PendingApproval) error

	// CreateBatch inserts approvals in one round trip.
	CreateBatch(ctx context.Context, approvals []*models.PendingApproval) error

	// GetByID returns an approval. Missing rows return apperrors.ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*models.PendingApproval, error)

	// MarkReviewed moves a PENDING approval to status. Returns false when it was not PENDING.
	MarkReviewed(ctx context.Context, id uuid.UUID, status models.ApprovalStatus, at time.Time) (bool, error)

	Delete(ctx context.Context, id uuid.UUID) error

	// ListPending returns PENDING approvals oldest first, optionally limited to a batch.
	ListPending(ctx context.Context, ownerID uuid.UUID, batchID *uuid.UUID, limit, offset int) ([]*models.PendingApproval, error)

	// CountByStatus returns counts of a batch's approvals grouped by status.
	CountByStatus(ctx context.Context, batchID uuid.UUID) (map[models.ApprovalStatus]int, error)
}

type pendingApprovalRepository struct{}

// NewPendingApprovalRepository creates a new PendingApprovalRepository.
func NewPendingApprovalRepository() PendingApprovalRepository {
	return &pendingApprovalRepository{}
}

var _ PendingApprovalRepository = (*pendingApprovalRepository)(nil)

const approvalColumns = `id, owner_id, item_type, target_id, batch_id, status, confidence, source_quote,
	source_interaction_id, message_ref, reviewed_at, created_at, updated_at`

const insertApproval = `
	INSERT INTO fusion_pending_approvals (
		owner_id, item_type, target_id, batch_id, status, confidence,
		source_quote, source_interaction_id, message_ref
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING id, created_at, updated_at`

func approvalArgs(a *models.PendingApproval) []any {
	if a.Status == "" {
		a.Status = models.ApprovalStatusPending
	}
	return []any{
		a.OwnerID, string(a.ItemType), a.TargetID, a.BatchID, string(a.Status), a.Confidence,
		a.SourceQuote, a.SourceInteractionID, a.MessageRef,
	}
}

func (r *pendingApprovalRepository) Create(ctx context.Context, a *models.PendingApproval) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}

	if err := scope.Conn.QueryRow(ctx, insertApproval, approvalArgs(a)...).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create pending approval: %w", err)
	}
	return nil
}

func (r *pendingApprovalRepository) CreateBatch(ctx context.Context, approvals []*models.PendingApproval) error {
	if len(approvals) == 0 {
		return nil
	}

	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, a := range approvals {
		batch.Queue(insertApproval, approvalArgs(a)...)
	}

	br := scope.Conn.SendBatch(ctx, batch)
	defer br.Close()

	for _, a := range approvals {
		if err := br.QueryRow().Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return fmt.Errorf("failed to create pending approval in batch: %w", err)
		}
	}
	return nil
}

func (r *pendingApprovalRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PendingApproval, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	a, err := scanApproval(scope.Conn.QueryRow(ctx, `SELECT `+approvalColumns+` FROM fusion_pending_approvals WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("pending approval %s: %w", id, apperrors.ErrNotFound)
	}
	return a, nil
}

func (r *pendingApprovalRepository) MarkReviewed(ctx context.Context, id uuid.UUID, status models.ApprovalStatus, at time.Time) (bool, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return false, err
	}

	result, err := scope.Conn.Exec(ctx, `
		UPDATE fusion_pending_approvals
		SET status = $2, reviewed_at = $3, updated_at = now()
		WHERE id = $1 AND status = 'PENDING'`, id, string(status), at)
	if err != nil {
		return false, fmt.Errorf("failed to update pending approval status: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *pendingApprovalRepository) Delete(ctx context.Context, id uuid.UUID) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}

	result, err := scope.Conn.Exec(ctx, `DELETE FROM fusion_pending_approvals WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete pending approval: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("pending approval %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *pendingApprovalRepository) ListPending(ctx context.Context, ownerID uuid.UUID, batchID *uuid.UUID, limit, offset int) ([]*models.PendingApproval, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := scope.Conn.Query(ctx, `SELECT `+approvalColumns+`
		FROM fusion_pending_approvals
		WHERE owner_id = $1
		  AND status = 'PENDING'
		  AND ($2::uuid IS NULL OR batch_id = $2)
		ORDER BY created_at
		LIMIT $3 OFFSET $4`, ownerID, batchID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer rows.Close()

	var out []*models.PendingApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending approvals: %w", err)
	}
	return out, nil
}

func (r *pendingApprovalRepository) CountByStatus(ctx context.Context, batchID uuid.UUID) (map[models.ApprovalStatus]int, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT status, COUNT(*) as count
		FROM fusion_pending_approvals
		WHERE batch_id = $1
		GROUP BY status`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending approvals: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.ApprovalStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[models.ApprovalStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}
	return counts, nil
}

func scanApproval(row pgx.Row) (*models.PendingApproval, error) {
	var a models.PendingApproval
	var itemType, status string

	err := row.Scan(
		&a.ID, &a.OwnerID, &itemType, &a.TargetID, &a.BatchID, &status, &a.Confidence,
		&a.SourceQuote, &a.SourceInteractionID, &a.MessageRef, &a.ReviewedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan pending approval: %w", err)
	}

	a.ItemType = models.ApprovalItemType(itemType)
	a.Status = models.ApprovalStatus(status)
	return &a, nil
}
