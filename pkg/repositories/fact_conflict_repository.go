package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-fusion/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fusion/pkg/models"
)

// FactConflictRepository provides data access for stored fact conflicts.
type FactConflictRepository interface {
	Create(ctx context.Context, c *models.FactConflict) error

	// GetByToken returns a conflict. Unknown tokens return apperrors.ErrNotFound.
	GetByToken(ctx context.Context, token string) (*models.FactConflict, error)

	// MarkResolved records the choice on a pending conflict. Returns false when it
	// was already resolved.
	MarkResolved(ctx context.Context, id uuid.UUID, choice models.ConflictChoice, resultFactID *uuid.UUID, at time.Time) (bool, error)

	// ListPending returns unresolved conflicts, oldest first.
	ListPending(ctx context.Context, ownerID uuid.UUID, limit int) ([]*models.FactConflict, error)
}

type factConflictRepository struct{}

// NewFactConflictRepository creates a new FactConflictRepository.
func NewFactConflictRepository() FactConflictRepository {
	return &factConflictRepository{}
}

var _ FactConflictRepository = (*factConflictRepository)(nil)

const conflictColumns = `id, owner_id, token, existing_fact_id, new_fact_data, explanation, status,
	choice, result_fact_id, resolved_at, created_at`

func (r *factConflictRepository) Create(ctx context.Context, c *models.FactConflict) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}
	if c.Status == "" {
		c.Status = models.ConflictStatusPending
	}

	newData, err := json.Marshal(c.NewFactData)
	if err != nil {
		return fmt.Errorf("failed to marshal new fact data: %w", err)
	}

	err = scope.Conn.QueryRow(ctx, `
		INSERT INTO fusion_fact_conflicts (owner_id, token, existing_fact_id, new_fact_data, explanation, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		c.OwnerID, c.Token, c.ExistingFactID, newData, c.Explanation, c.Status,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create fact conflict: %w", err)
	}
	return nil
}

func (r *factConflictRepository) GetByToken(ctx context.Context, token string) (*models.FactConflict, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	c, err := scanConflict(scope.Conn.QueryRow(ctx, `SELECT `+conflictColumns+` FROM fusion_fact_conflicts WHERE token = $1`, token))
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("conflict %q: %w", token, apperrors.ErrNotFound)
	}
	return c, nil
}

func (r *factConflictRepository) MarkResolved(ctx context.Context, id uuid.UUID, choice models.ConflictChoice, resultFactID *uuid.UUID, at time.Time) (bool, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return false, err
	}

	result, err := scope.Conn.Exec(ctx, `
		UPDATE fusion_fact_conflicts
		SET status = 'resolved', choice = $2, result_fact_id = $3, resolved_at = $4
		WHERE id = $1 AND status = 'pending'`, id, string(choice), resultFactID, at)
	if err != nil {
		return false, fmt.Errorf("failed to resolve fact conflict: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *factConflictRepository) ListPending(ctx context.Context, ownerID uuid.UUID, limit int) ([]*models.FactConflict, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := scope.Conn.Query(ctx, `SELECT `+conflictColumns+`
		FROM fusion_fact_conflicts
		WHERE owner_id = $1 AND status = 'pending'
		ORDER BY created_at
		LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list fact conflicts: %w", err)
	}
	defer rows.Close()

	var out []*models.FactConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fact conflicts: %w", err)
	}
	return out, nil
}

func scanConflict(row pgx.Row) (*models.FactConflict, error) {
	var c models.FactConflict
	var newData []byte
	var choice *string

	err := row.Scan(
		&c.ID, &c.OwnerID, &c.Token, &c.ExistingFactID, &newData, &c.Explanation, &c.Status,
		&choice, &c.ResultFactID, &c.ResolvedAt, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan fact conflict: %w", err)
	}

	if choice != nil {
		cc := models.ConflictChoice(*choice)
		c.Choice = &cc
	}
	if err := unmarshalJSONB(newData, &c.NewFactData, "new_fact_data"); err != nil {
		return nil, err
	}
	return &c, nil
}
