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

// ScoredEntity is an entity with its similarity to a query.
type ScoredEntity struct {
	Entity     *models.Entity
	Similarity float64
}

// EntityRepository provides data access for entities and their identifiers.
type EntityRepository interface {
	Create(ctx context.Context, entity *models.Entity) error

	// GetByID returns a live entity. Missing or deleted entities return apperrors.ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Entity, error)

	// FindExact returns the live entity whose normalized name equals name, or nil.
	// An empty entityType matches any type.
	FindExact(ctx context.Context, ownerID uuid.UUID, entityType, name string) (*models.Entity, error)

	// FindSimilar returns live entities ordered by cosine similarity to embedding.
	FindSimilar(ctx context.Context, ownerID uuid.UUID, entityType string, embedding []float32, minSimilarity float64, limit int) ([]ScoredEntity, error)

	// FindByPartialName returns live entities whose name contains name (case-insensitive).
	FindByPartialName(ctx context.Context, ownerID uuid.UUID, entityType, name string, limit int) ([]*models.Entity, error)

	// FindByIdentifier returns live entities that carry the identifier.
	FindByIdentifier(ctx context.Context, ownerID uuid.UUID, identifierType, value string) ([]*models.Entity, error)

	// AddIdentifier attaches an identifier. Attaching an existing identifier is a no-op.
	AddIdentifier(ctx context.Context, identifier *models.EntityIdentifier) error

	ListIdentifiers(ctx context.Context, entityID uuid.UUID) ([]*models.EntityIdentifier, error)

	// MoveIdentifiers copies identifiers from one entity to another and removes
	// them from the source. Duplicates already present on the target are dropped.
	MoveIdentifiers(ctx context.Context, fromEntityID, toEntityID uuid.UUID) error

	// MarkMerged points source at target and soft-deletes source.
	MarkMerged(ctx context.Context, sourceID, targetID uuid.UUID) error
}

type entityRepository struct{}

// NewEntityRepository creates a new EntityRepository.
func NewEntityRepository() EntityRepository {
	return &entityRepository{}
}

var _ EntityRepository = (*entityRepository)(nil)

const entityColumns = `id, owner_id, name, entity_type, description, merged_into_id, created_at, updated_at, deleted_at`

func (r *entityRepository) Create(ctx context.Context, entity *models.Entity) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}

	err = scope.Conn.QueryRow(ctx, `
		INSERT INTO fusion_entities (owner_id, name, entity_type, description, embedding)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		entity.OwnerID, entity.Name, entity.EntityType, entity.Description, vectorValue(entity.Embedding),
	).Scan(&entity.ID, &entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create entity: %w", err)
	}
	return nil
}

func (r *entityRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	entity, err := scanEntity(scope.Conn.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM fusion_entities WHERE id = $1 AND deleted_at IS NULL`, id))
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, fmt.Errorf("entity %s: %w", id, apperrors.ErrNotFound)
	}
	return entity, nil
}

func (r *entityRepository) FindExact(ctx context.Context, ownerID uuid.UUID, entityType, name string) (*models.Entity, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + entityColumns + `
		FROM fusion_entities
		WHERE owner_id = $1
		  AND ($2 = '' OR entity_type = $2)
		  AND ` + normalizedColumn("name") + ` = $3
		  AND deleted_at IS NULL
		ORDER BY created_at
		LIMIT 1`

	return scanEntity(scope.Conn.QueryRow(ctx, query, ownerID, entityType, NormalizeText(name)))
}

func (r *entityRepository) FindSimilar(ctx context.Context, ownerID uuid.UUID, entityType string, embedding []float32, minSimilarity float64, limit int) ([]ScoredEntity, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + entityColumns + `, 1 - (embedding <=> $3) AS similarity
		FROM fusion_entities
		WHERE owner_id = $1
		  AND ($2 = '' OR entity_type = $2)
		  AND embedding IS NOT NULL
		  AND deleted_at IS NULL
		  AND 1 - (embedding <=> $3) >= $4
		ORDER BY embedding <=> $3
		LIMIT $5`

	rows, err := scope.Conn.Query(ctx, query, ownerID, entityType, vectorValue(embedding), minSimilarity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar entities: %w", err)
	}
	defer rows.Close()

	var out []ScoredEntity
	for rows.Next() {
		var similarity float64
		entity, err := scanEntityWith(rows, &similarity)
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredEntity{Entity: entity, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating similar entities: %w", err)
	}
	return out, nil
}

func (r *entityRepository) FindByPartialName(ctx context.Context, ownerID uuid.UUID, entityType, name string, limit int) ([]*models.Entity, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := scope.Conn.Query(ctx, `SELECT `+entityColumns+`
		FROM fusion_entities
		WHERE owner_id = $1
		  AND ($2 = '' OR entity_type = $2)
		  AND (name ILIKE '%' || $3 || '%' OR $3 ILIKE '%' || name || '%')
		  AND deleted_at IS NULL
		ORDER BY length(name)
		LIMIT $4`, ownerID, entityType, name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search entities by name: %w", err)
	}
	return collectEntities(rows)
}

func (r *entityRepository) FindByIdentifier(ctx context.Context, ownerID uuid.UUID, identifierType, value string) ([]*models.Entity, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := scope.Conn.Query(ctx, `SELECT DISTINCT e.id, e.owner_id, e.name, e.entity_type, e.description,
		       e.merged_into_id, e.created_at, e.updated_at, e.deleted_at
		FROM fusion_entities e
		JOIN fusion_entity_identifiers i ON i.entity_id = e.id
		WHERE e.owner_id = $1
		  AND i.identifier_type = $2
		  AND lower(i.value) = lower($3)
		  AND e.deleted_at IS NULL`, ownerID, identifierType, value)
	if err != nil {
		return nil, fmt.Errorf("failed to search entities by identifier: %w", err)
	}
	return collectEntities(rows)
}

func (r *entityRepository) AddIdentifier(ctx context.Context, identifier *models.EntityIdentifier) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}

	err = scope.Conn.QueryRow(ctx, `
		INSERT INTO fusion_entity_identifiers (owner_id, entity_id, identifier_type, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (entity_id, identifier_type, value) DO UPDATE SET value = EXCLUDED.value
		RETURNING id, created_at`,
		identifier.OwnerID, identifier.EntityID, identifier.IdentifierType, identifier.Value,
	).Scan(&identifier.ID, &identifier.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add identifier: %w", err)
	}
	return nil
}

func (r *entityRepository) ListIdentifiers(ctx context.Context, entityID uuid.UUID) ([]*models.EntityIdentifier, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id, owner_id, entity_id, identifier_type, value, created_at
		FROM fusion_entity_identifiers
		WHERE entity_id = $1
		ORDER BY created_at`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list identifiers: %w", err)
	}
	defer rows.Close()

	var out []*models.EntityIdentifier
	for rows.Next() {
		var i models.EntityIdentifier
		if err := rows.Scan(&i.ID, &i.OwnerID, &i.EntityID, &i.IdentifierType, &i.Value, &i.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan identifier: %w", err)
		}
		out = append(out, &i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating identifiers: %w", err)
	}
	return out, nil
}

func (r *entityRepository) MoveIdentifiers(ctx context.Context, fromEntityID, toEntityID uuid.UUID) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO fusion_entity_identifiers (owner_id, entity_id, identifier_type, value, created_at)
		SELECT owner_id, $2, identifier_type, value, created_at
		FROM fusion_entity_identifiers
		WHERE entity_id = $1
		ON CONFLICT (entity_id, identifier_type, value) DO NOTHING`, fromEntityID, toEntityID)
	batch.Queue(`DELETE FROM fusion_entity_identifiers WHERE entity_id = $1`, fromEntityID)

	br := scope.Conn.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to move identifiers: %w", err)
		}
	}
	return nil
}

func (r *entityRepository) MarkMerged(ctx context.Context, sourceID, targetID uuid.UUID) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}

	result, err := scope.Conn.Exec(ctx, `
		UPDATE fusion_entities
		SET merged_into_id = $2, deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, sourceID, targetID)
	if err != nil {
		return fmt.Errorf("failed to mark entity merged: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("entity %s: %w", sourceID, apperrors.ErrNotFound)
	}
	return nil
}

func collectEntities(rows pgx.Rows) ([]*models.Entity, error) {
	defer rows.Close()

	var out []*models.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}
	return out, nil
}

func scanEntity(row pgx.Row) (*models.Entity, error) {
	return scanEntityWith(row)
}

func scanEntityWith(row pgx.Row, extra ...any) (*models.Entity, error) {
	var e models.Entity
	dest := []any{
		&e.ID, &e.OwnerID, &e.Name, &e.EntityType, &e.Description,
		&e.MergedIntoID, &e.CreatedAt, &e.UpdatedAt, &e.DeletedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}
	return &e, nil
}
