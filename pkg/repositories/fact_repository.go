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

// ScoredFact is a fact with its cosine similarity to a query embedding.
type ScoredFact struct {
	Fact       *models.Fact
	Similarity float64
}

// ConfidenceBump raises a stored confidence by Boost, capped at 1. Default
// stands in for a fact with no recorded confidence. The row's current value is
// read in the same statement, so concurrent bumps accumulate.
type ConfidenceBump struct {
	Boost   float64
	Default float64
}

// FactRepository provides data access for facts.
type FactRepository interface {
	DraftTarget

	// Create inserts a fact and fills in its generated fields.
	Create(ctx context.Context, fact *models.Fact) error

	// GetByID returns a fact regardless of state. Missing facts return apperrors.ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Fact, error)

	// FindExactCurrent returns the current fact whose normalized value equals value
	// for the same subject and type, or nil when none exists.
	FindExactCurrent(ctx context.Context, ownerID uuid.UUID, entityID *uuid.UUID, factType, value string) (*models.Fact, error)

	// ListCurrent returns the current facts for a subject and type, newest first.
	ListCurrent(ctx context.Context, ownerID uuid.UUID, entityID *uuid.UUID, factType string) ([]*models.Fact, error)

	// FindSimilar returns current facts of factType ordered by cosine similarity.
	FindSimilar(ctx context.Context, ownerID uuid.UUID, factType string, embedding []float32, minSimilarity float64, limit int) ([]ScoredFact, error)

	// Confirm counts a restatement and raises confidence by bump.
	Confirm(ctx context.Context, id uuid.UUID, bump ConfidenceBump) (*models.Fact, error)

	// Enrich replaces the value with a merged one, counts a confirmation and raises confidence by bump.
	Enrich(ctx context.Context, id uuid.UUID, mergedValue string, bump ConfidenceBump) (*models.Fact, error)

	// Supersede closes a current fact and links it to its replacement.
	// Returns apperrors.ErrConflict when the fact is no longer current.
	Supersede(ctx context.Context, oldID, newID uuid.UUID, at time.Time) error

	// MarkNeedsReview flags a current fact with a reason.
	MarkNeedsReview(ctx context.Context, id uuid.UUID, reason string) (*models.Fact, error)

	// ClearReview removes the review flag, optionally counting a confirmation.
	ClearReview(ctx context.Context, id uuid.UUID, countConfirmation bool) error

	// SetValue records a user supplied value and clears review.
	SetValue(ctx context.Context, id uuid.UUID, value string) error

	// SetEntity moves a fact to another subject.
	SetEntity(ctx context.Context, id, entityID uuid.UUID) error

	// ReassignEntity moves every fact of one entity to another. Returns the number moved.
	ReassignEntity(ctx context.Context, fromEntityID, toEntityID uuid.UUID) (int64, error)
}

type factRepository struct {
	draftTable
}

// NewFactRepository creates a new FactRepository.
func NewFactRepository() FactRepository {
	return &factRepository{draftTable: draftTable{table: "fusion_facts"}}
}

var _ FactRepository = (*factRepository)(nil)

const factColumns = `
	id, owner_id, entity_id, fact_type, category, value, value_json, value_date,
	source, confidence, confirmation_count, rank, valid_from, valid_until,
	superseded_by_id, supersedes_id, needs_review, review_reason, status,
	source_interaction_id, created_at, updated_at, deleted_at`

func (r *factRepository) Create(ctx context.Context, fact *models.Fact) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}

	if fact.ConfirmationCount < 1 {
		fact.ConfirmationCount = 1
	}
	if fact.Rank == "" {
		fact.Rank = models.FactRankNormal
	}
	if fact.Status == "" {
		fact.Status = models.RecordStatusActive
	}
	if fact.Source == "" {
		fact.Source = models.FactSourceExtracted
	}
	if fact.ValidFrom.IsZero() {
		fact.ValidFrom = time.Now()
	}

	query := `
		INSERT INTO fusion_facts (
			owner_id, entity_id, fact_type, category, value, value_json, value_date,
			source, confidence, confirmation_count, rank, valid_from, valid_until,
			superseded_by_id, supersedes_id, needs_review, review_reason, embedding,
			status, source_interaction_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id, created_at, updated_at`

	err = scope.Conn.QueryRow(ctx, query,
		fact.OwnerID,
		fact.EntityID,
		fact.FactType,
		fact.Category,
		fact.Value,
		jsonbValueMap(fact.ValueJSON),
		fact.ValueDate,
		string(fact.Source),
		fact.Confidence,
		fact.ConfirmationCount,
		string(fact.Rank),
		fact.ValidFrom,
		fact.ValidUntil,
		fact.SupersededByID,
		fact.SupersedesID,
		fact.NeedsReview,
		fact.ReviewReason,
		vectorValue(fact.Embedding),
		fact.Status,
		fact.SourceInteractionID,
	).Scan(&fact.ID, &fact.CreatedAt, &fact.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create fact: %w", err)
	}

	return nil
}

func (r *factRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Fact, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	row := scope.Conn.QueryRow(ctx, `SELECT `+factColumns+` FROM fusion_facts WHERE id = $1`, id)
	fact, err := scanFact(row)
	if err != nil {
		return nil, err
	}
	if fact == nil {
		return nil, fmt.Errorf("fact %s: %w", id, apperrors.ErrNotFound)
	}
	return fact, nil
}

// currentFactPredicate selects live facts: not superseded, not deleted, not awaiting approval.
const currentFactPredicate = `valid_until IS NULL AND deleted_at IS NULL AND status = 'active'`

func (r *factRepository) FindExactCurrent(ctx context.Context, ownerID uuid.UUID, entityID *uuid.UUID, factType, value string) (*models.Fact, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + factColumns + `
		FROM fusion_facts
		WHERE owner_id = $1
		  AND entity_id IS NOT DISTINCT FROM $2
		  AND fact_type = $3
		  AND ` + normalizedColumn("value") + ` = $4
		  AND ` + currentFactPredicate + `
		ORDER BY created_at
		LIMIT 1`

	row := scope.Conn.QueryRow(ctx, query, ownerID, entityID, factType, NormalizeText(value))
	return scanFact(row)
}

func (r *factRepository) ListCurrent(ctx context.Context, ownerID uuid.UUID, entityID *uuid.UUID, factType string) ([]*models.Fact, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + factColumns + `
		FROM fusion_facts
		WHERE owner_id = $1
		  AND entity_id IS NOT DISTINCT FROM $2
		  AND fact_type = $3
		  AND ` + currentFactPredicate + `
		ORDER BY created_at DESC`

	rows, err := scope.Conn.Query(ctx, query, ownerID, entityID, factType)
	if err != nil {
		return nil, fmt.Errorf("failed to list current facts: %w", err)
	}
	defer rows.Close()

	var facts []*models.Fact
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, fact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating facts: %w", err)
	}
	return facts, nil
}

func (r *factRepository) FindSimilar(ctx context.Context, ownerID uuid.UUID, factType string, embedding []float32, minSimilarity float64, limit int) ([]ScoredFact, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + factColumns + `, 1 - (embedding <=> $3) AS similarity
		FROM fusion_facts
		WHERE owner_id = $1
		  AND fact_type = $2
		  AND embedding IS NOT NULL
		  AND ` + currentFactPredicate + `
		  AND 1 - (embedding <=> $3) >= $4
		ORDER BY embedding <=> $3
		LIMIT $5`

	rows, err := scope.Conn.Query(ctx, query, ownerID, factType, vectorValue(embedding), minSimilarity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar facts: %w", err)
	}
	defer rows.Close()

	var out []ScoredFact
	for rows.Next() {
		var similarity float64
		fact, err := scanFactWith(rows, &similarity)
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredFact{Fact: fact, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating similar facts: %w", err)
	}
	return out, nil
}

func (r *factRepository) Confirm(ctx context.Context, id uuid.UUID, bump ConfidenceBump) (*models.Fact, error) {
	return r.updateReturning(ctx, "confirm", `
		UPDATE fusion_facts
		SET confirmation_count = confirmation_count + 1,
		    confidence = LEAST(1, COALESCE(confidence, $3) + $2),
		    updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+factColumns, id, bump.Boost, bump.Default)
}

func (r *factRepository) Enrich(ctx context.Context, id uuid.UUID, mergedValue string, bump ConfidenceBump) (*models.Fact, error) {
	return r.updateReturning(ctx, "enrich", `
		UPDATE fusion_facts
		SET value = $2,
		    confirmation_count = confirmation_count + 1,
		    confidence = LEAST(1, COALESCE(confidence, $4) + $3),
		    updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+factColumns, id, mergedValue, bump.Boost, bump.Default)
}

func (r *factRepository) MarkNeedsReview(ctx context.Context, id uuid.UUID, reason string) (*models.Fact, error) {
	return r.updateReturning(ctx, "flag", `
		UPDATE fusion_facts
		SET needs_review = true,
		    review_reason = $2,
		    updated_at = now()
		WHERE id = $1 AND valid_until IS NULL AND deleted_at IS NULL
		RETURNING `+factColumns, id, reason)
}

func (r *factRepository) updateReturning(ctx context.Context, op, query string, args ...any) (*models.Fact, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	fact, err := scanFact(scope.Conn.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to %s fact: %w", op, err)
	}
	if fact == nil {
		return nil, fmt.Errorf("failed to %s fact %v: %w", op, args[0], apperrors.ErrNotFound)
	}
	return fact, nil
}

func (r *factRepository) Supersede(ctx context.Context, oldID, newID uuid.UUID, at time.Time) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}

	result, err := scope.Conn.Exec(ctx, `
		UPDATE fusion_facts
		SET valid_until = $3,
		    superseded_by_id = $2,
		    rank = 'deprecated',
		    needs_review = false,
		    review_reason = NULL,
		    updated_at = now()
		WHERE id = $1 AND valid_until IS NULL AND deleted_at IS NULL`, oldID, newID, at)
	if err != nil {
		return fmt.Errorf("failed to supersede fact: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("fact %s is not current: %w", oldID, apperrors.ErrConflict)
	}
	return nil
}

func (r *factRepository) ClearReview(ctx context.Context, id uuid.UUID, countConfirmation bool) error {
	increment := 0
	if countConfirmation {
		increment = 1
	}
	return r.exec(ctx, "clear review on", `
		UPDATE fusion_facts
		SET needs_review = false,
		    review_reason = NULL,
		    confirmation_count = confirmation_count + $2,
		    updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id, increment)
}

func (r *factRepository) SetValue(ctx context.Context, id uuid.UUID, value string) error {
	return r.exec(ctx, "set value on", `
		UPDATE fusion_facts
		SET value = $2,
		    needs_review = false,
		    review_reason = NULL,
		    confirmation_count = confirmation_count + 1,
		    updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id, value)
}

func (r *factRepository) SetEntity(ctx context.Context, id, entityID uuid.UUID) error {
	return r.exec(ctx, "set entity on", `
		UPDATE fusion_facts
		SET entity_id = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id, entityID)
}

func (r *factRepository) exec(ctx context.Context, op, query string, id uuid.UUID, args ...any) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}

	result, err := scope.Conn.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to %s fact: %w", op, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("fact %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *factRepository) ReassignEntity(ctx context.Context, fromEntityID, toEntityID uuid.UUID) (int64, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return 0, err
	}

	result, err := scope.Conn.Exec(ctx, `
		UPDATE fusion_facts SET entity_id = $2, updated_at = now()
		WHERE entity_id = $1`, fromEntityID, toEntityID)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign facts: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanFact(row pgx.Row) (*models.Fact, error) {
	return scanFactWith(row)
}

// scanFactWith scans factColumns followed by any extra destinations.
// Returns nil, nil when the row does not exist.
func scanFactWith(row pgx.Row, extra ...any) (*models.Fact, error) {
	var f models.Fact
	var source, rank string
	var valueJSON []byte

	dest := []any{
		&f.ID,
		&f.OwnerID,
		&f.EntityID,
		&f.FactType,
		&f.Category,
		&f.Value,
		&valueJSON,
		&f.ValueDate,
		&source,
		&f.Confidence,
		&f.ConfirmationCount,
		&rank,
		&f.ValidFrom,
		&f.ValidUntil,
		&f.SupersededByID,
		&f.SupersedesID,
		&f.NeedsReview,
		&f.ReviewReason,
		&f.Status,
		&f.SourceInteractionID,
		&f.CreatedAt,
		&f.UpdatedAt,
		&f.DeletedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan fact: %w", err)
	}

	f.Source = models.FactSource(source)
	f.Rank = models.FactRank(rank)
	if err := unmarshalJSONB(valueJSON, &f.ValueJSON, "value_json"); err != nil {
		return nil, err
	}
	return &f, nil
}
