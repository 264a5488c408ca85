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

// ScoredActivity is an activity with its cosine similarity to a query embedding.
type ScoredActivity struct {
	Activity   *models.Activity
	Similarity float64
}

// ActivityRepository provides data access for activities.
type ActivityRepository interface {
	DraftTarget

	Create(ctx context.Context, activity *models.Activity) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Activity, error)

	// FindExact returns the live activity of activityType whose normalized name equals name, or nil.
	FindExact(ctx context.Context, ownerID uuid.UUID, activityType, name string) (*models.Activity, error)

	// FindSimilar returns live activities ordered by cosine similarity to embedding.
	FindSimilar(ctx context.Context, ownerID uuid.UUID, embedding []float32, minSimilarity float64, limit int) ([]ScoredActivity, error)

	ReassignEntity(ctx context.Context, fromEntityID, toEntityID uuid.UUID) (int64, error)
}

type activityRepository struct {
	draftTable
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository() ActivityRepository {
	return &activityRepository{draftTable: draftTable{table: "fusion_activities"}}
}

var _ ActivityRepository = (*activityRepository)(nil)

const activityColumns = `id, owner_id, entity_id, activity_type, name, description, occurred_at,
	status, source_interaction_id, created_at, updated_at, deleted_at`

func (r *activityRepository) Create(ctx context.Context, a *models.Activity) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}
	if a.Status == "" {
		a.Status = models.RecordStatusActive
	}

	err = scope.Conn.QueryRow(ctx, `
		INSERT INTO fusion_activities (
			owner_id, entity_id, activity_type, name, description, occurred_at,
			embedding, status, source_interaction_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`,
		a.OwnerID, a.EntityID, a.ActivityType, a.Name, a.Description, a.OccurredAt,
		vectorValue(a.Embedding), a.Status, a.SourceInteractionID,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create activity: %w", err)
	}
	return nil
}

func (r *activityRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Activity, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	a, err := scanActivity(scope.Conn.QueryRow(ctx, `SELECT `+activityColumns+` FROM fusion_activities WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("activity %s: %w", id, apperrors.ErrNotFound)
	}
	return a, nil
}

func (r *activityRepository) FindExact(ctx context.Context, ownerID uuid.UUID, activityType, name string) (*models.Activity, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + activityColumns + `
		FROM fusion_activities
		WHERE owner_id = $1
		  AND activity_type = $2
		  AND ` + normalizedColumn("name") + ` = $3
		  AND deleted_at IS NULL
		ORDER BY created_at
		LIMIT 1`

	return scanActivity(scope.Conn.QueryRow(ctx, query, ownerID, activityType, NormalizeText(name)))
}

func (r *activityRepository) FindSimilar(ctx context.Context, ownerID uuid.UUID, embedding []float32, minSimilarity float64, limit int) ([]ScoredActivity, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := scope.Conn.Query(ctx, `SELECT `+activityColumns+`, 1 - (embedding <=> $2) AS similarity
		FROM fusion_activities
		WHERE owner_id = $1
		  AND embedding IS NOT NULL
		  AND deleted_at IS NULL
		  AND 1 - (embedding <=> $2) >= $3
		ORDER BY embedding <=> $2
		LIMIT $4`, ownerID, vectorValue(embedding), minSimilarity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar activities: %w", err)
	}
	defer rows.Close()

	var out []ScoredActivity
	for rows.Next() {
		var similarity float64
		a, err := scanActivityWith(rows, &similarity)
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredActivity{Activity: a, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating similar activities: %w", err)
	}
	return out, nil
}

func (r *activityRepository) ReassignEntity(ctx context.Context, fromEntityID, toEntityID uuid.UUID) (int64, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return 0, err
	}

	result, err := scope.Conn.Exec(ctx, `
		UPDATE fusion_activities SET entity_id = $2, updated_at = now()
		WHERE entity_id = $1`, fromEntityID, toEntityID)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign activities: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanActivity(row pgx.Row) (*models.Activity, error) {
	return scanActivityWith(row)
}

func scanActivityWith(row pgx.Row, extra ...any) (*models.Activity, error) {
	var a models.Activity
	dest := []any{
		&a.ID, &a.OwnerID, &a.EntityID, &a.ActivityType, &a.Name, &a.Description, &a.OccurredAt,
		&a.Status, &a.SourceInteractionID, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan activity: %w", err)
	}
	return &a, nil
}
