package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-fusion/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fusion/pkg/models"
)

// ScoredCommitment is a commitment with its cosine similarity to a query embedding.
type ScoredCommitment struct {
	Commitment *models.Commitment
	Similarity float64
}

// CommitmentRepository provides data access for commitments (tasks).
type CommitmentRepository interface {
	DraftTarget

	Create(ctx context.Context, c *models.Commitment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Commitment, error)

	// FindExactTitle returns the live commitment whose normalized title equals title, or nil.
	FindExactTitle(ctx context.Context, ownerID uuid.UUID, title string) (*models.Commitment, error)

	// FindSimilar returns open commitments ordered by cosine similarity to embedding.
	FindSimilar(ctx context.Context, ownerID uuid.UUID, embedding []float32, minSimilarity float64, limit int) ([]ScoredCommitment, error)

	ReassignEntity(ctx context.Context, fromEntityID, toEntityID uuid.UUID) (int64, error)
}

type commitmentRepository struct {
	draftTable
}

// NewCommitmentRepository creates a new CommitmentRepository.
func NewCommitmentRepository() CommitmentRepository {
	return &commitmentRepository{draftTable: draftTable{table: "fusion_commitments"}}
}

var _ CommitmentRepository = (*commitmentRepository)(nil)

const commitmentColumns = `id, owner_id, entity_id, title, description, due_date, status,
	completed_at, source_interaction_id, created_at, updated_at, deleted_at`

func (r *commitmentRepository) Create(ctx context.Context, c *models.Commitment) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}
	if c.Status == "" {
		c.Status = models.RecordStatusActive
	}

	err = scope.Conn.QueryRow(ctx, `
		INSERT INTO fusion_commitments (
			owner_id, entity_id, title, description, due_date, embedding, status, source_interaction_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`,
		c.OwnerID, c.EntityID, c.Title, c.Description, c.DueDate,
		vectorValue(c.Embedding), c.Status, c.SourceInteractionID,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create commitment: %w", err)
	}
	return nil
}

func (r *commitmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Commitment, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	c, err := scanCommitment(scope.Conn.QueryRow(ctx, `SELECT `+commitmentColumns+` FROM fusion_commitments WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("commitment %s: %w", id, apperrors.ErrNotFound)
	}
	return c, nil
}

func (r *commitmentRepository) FindExactTitle(ctx context.Context, ownerID uuid.UUID, title string) (*models.Commitment, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + commitmentColumns + `
		FROM fusion_commitments
		WHERE owner_id = $1
		  AND ` + normalizedColumn("title") + ` = $2
		  AND deleted_at IS NULL
		ORDER BY created_at
		LIMIT 1`

	return scanCommitment(scope.Conn.QueryRow(ctx, query, ownerID, NormalizeText(title)))
}

func (r *commitmentRepository) FindSimilar(ctx context.Context, ownerID uuid.UUID, embedding []float32, minSimilarity float64, limit int) ([]ScoredCommitment, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := scope.Conn.Query(ctx, `SELECT `+commitmentColumns+`, 1 - (embedding <=> $2) AS similarity
		FROM fusion_commitments
		WHERE owner_id = $1
		  AND embedding IS NOT NULL
		  AND deleted_at IS NULL
		  AND completed_at IS NULL
		  AND 1 - (embedding <=> $2) >= $3
		ORDER BY embedding <=> $2
		LIMIT $4`, ownerID, vectorValue(embedding), minSimilarity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar commitments: %w", err)
	}
	defer rows.Close()

	var out []ScoredCommitment
	for rows.Next() {
		var similarity float64
		c, err := scanCommitmentWith(rows, &similarity)
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredCommitment{Commitment: c, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating similar commitments: %w", err)
	}
	return out, nil
}

func (r *commitmentRepository) ReassignEntity(ctx context.Context, fromEntityID, toEntityID uuid.UUID) (int64, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return 0, err
	}

	result, err := scope.Conn.Exec(ctx, `
		UPDATE fusion_commitments SET entity_id = $2, updated_at = now()
		WHERE entity_id = $1`, fromEntityID, toEntityID)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign commitments: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanCommitment(row pgx.Row) (*models.Commitment, error) {
	return scanCommitmentWith(row)
}

func scanCommitmentWith(row pgx.Row, extra ...any) (*models.Commitment, error) {
	var c models.Commitment
	dest := []any{
		&c.ID, &c.OwnerID, &c.EntityID, &c.Title, &c.Description, &c.DueDate, &c.Status,
		&c.CompletedAt, &c.SourceInteractionID, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan commitment: %w", err)
	}
	return &c, nil
}
