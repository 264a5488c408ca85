package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-fusion/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fusion/pkg/models"
)

// ConfirmationMatch describes an existing PENDING confirmation to look for.
// Every non-empty field must match.
type ConfirmationMatch struct {
	OwnerID          uuid.UUID
	Type             models.ConfirmationType
	PendingFactID    *uuid.UUID
	ExtractedEventID *string
	SourceEntityID   *uuid.UUID
	SourceMessageID  *string
	// ContextKey and ContextValue match a top-level string in the context JSONB.
	ContextKey   string
	ContextValue string
}

// ConfirmationResolution is the terminal state written by a resolve.
type ConfirmationResolution struct {
	Status           models.ConfirmationStatus
	SelectedOptionID *string
	Resolution       map[string]any
	ResolvedBy       string
	ResolvedAt       time.Time
}

// PendingConfirmationRepository provides data access for pending confirmations.
type PendingConfirmationRepository interface {
	Create(ctx context.Context, c *models.PendingConfirmation) error

	// GetByID returns a confirmation. Missing rows return apperrors.ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*models.PendingConfirmation, error)

	// FindPending returns the oldest PENDING confirmation matching m, or nil.
	FindPending(ctx context.Context, m ConfirmationMatch) (*models.PendingConfirmation, error)

	// Resolve moves a PENDING confirmation to a terminal state. It returns false
	// when the confirmation was no longer PENDING, in which case nothing changed.
	Resolve(ctx context.Context, id uuid.UUID, res ConfirmationResolution) (bool, error)

	// MergeResolution adds keys to the resolution JSONB of a resolved confirmation.
	MergeResolution(ctx context.Context, id uuid.UUID, extra map[string]any) error

	// ListPending returns PENDING confirmations least confident first.
	ListPending(ctx context.Context, ownerID uuid.UUID, filter models.PendingConfirmationFilter) ([]*models.PendingConfirmation, error)

	// ExpireBefore flips every PENDING confirmation whose expiry is before now to EXPIRED.
	ExpireBefore(ctx context.Context, now time.Time) (int64, error)
}

type pendingConfirmationRepository struct{}

// NewPendingConfirmationRepository creates a new PendingConfirmationRepository.
func NewPendingConfirmationRepository() PendingConfirmationRepository {
	return &pendingConfirmationRepository{}
}

var _ PendingConfirmationRepository = (*pendingConfirmationRepository)(nil)

const confirmationColumns = `
	id, owner_id, confirmation_type, context, options, confidence, source_message_id,
	source_entity_id, pending_fact_id, extracted_event_id, status, selected_option_id,
	resolution, resolved_at, resolved_by, expires_at, created_at, updated_at`

func (r *pendingConfirmationRepository) Create(ctx context.Context, c *models.PendingConfirmation) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}

	if c.Status == "" {
		c.Status = models.ConfirmationStatusPending
	}
	if c.Context == nil {
		c.Context = map[string]any{}
	}
	if c.Options == nil {
		c.Options = []models.ConfirmationOption{}
	}

	err = scope.Conn.QueryRow(ctx, `
		INSERT INTO fusion_pending_confirmations (
			owner_id, confirmation_type, context, options, confidence, source_message_id,
			source_entity_id, pending_fact_id, extracted_event_id, status, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`,
		c.OwnerID,
		string(c.Type),
		c.Context,
		c.Options,
		c.Confidence,
		c.SourceMessageID,
		c.SourceEntityID,
		c.PendingFactID,
		c.ExtractedEventID,
		string(c.Status),
		c.ExpiresAt,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create pending confirmation: %w", err)
	}
	return nil
}

func (r *pendingConfirmationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PendingConfirmation, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	c, err := scanConfirmation(scope.Conn.QueryRow(ctx,
		`SELECT `+confirmationColumns+` FROM fusion_pending_confirmations WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("pending confirmation %s: %w", id, apperrors.ErrNotFound)
	}
	return c, nil
}

func (r *pendingConfirmationRepository) FindPending(ctx context.Context, m ConfirmationMatch) (*models.PendingConfirmation, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	conds := []string{"owner_id = $1", "confirmation_type = $2", "status = 'PENDING'"}
	args := []any{m.OwnerID, string(m.Type)}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if m.PendingFactID != nil {
		add("pending_fact_id = $%d", *m.PendingFactID)
	}
	if m.ExtractedEventID != nil {
		add("extracted_event_id = $%d", *m.ExtractedEventID)
	}
	if m.SourceEntityID != nil {
		add("source_entity_id = $%d", *m.SourceEntityID)
	}
	if m.SourceMessageID != nil {
		add("source_message_id = $%d", *m.SourceMessageID)
	}
	if m.ContextKey != "" {
		args = append(args, m.ContextKey, m.ContextValue)
		conds = append(conds, fmt.Sprintf("context->>$%d = $%d", len(args)-1, len(args)))
	}

	query := `SELECT ` + confirmationColumns + `
		FROM fusion_pending_confirmations
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY created_at
		LIMIT 1`

	return scanConfirmation(scope.Conn.QueryRow(ctx, query, args...))
}

func (r *pendingConfirmationRepository) Resolve(ctx context.Context, id uuid.UUID, res ConfirmationResolution) (bool, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return false, err
	}

	result, err := scope.Conn.Exec(ctx, `
		UPDATE fusion_pending_confirmations
		SET status = $2,
		    selected_option_id = $3,
		    resolution = $4,
		    resolved_by = $5,
		    resolved_at = $6,
		    updated_at = now()
		WHERE id = $1 AND status = 'PENDING'`,
		id,
		string(res.Status),
		res.SelectedOptionID,
		jsonbValueMap(res.Resolution),
		res.ResolvedBy,
		res.ResolvedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to resolve pending confirmation: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *pendingConfirmationRepository) MergeResolution(ctx context.Context, id uuid.UUID, extra map[string]any) error {
	scope, err := ownerScope(ctx)
	if err != nil {
		return err
	}

	result, err := scope.Conn.Exec(ctx, `
		UPDATE fusion_pending_confirmations
		SET resolution = COALESCE(resolution, '{}'::jsonb) || $2::jsonb,
		    updated_at = now()
		WHERE id = $1`, id, extra)
	if err != nil {
		return fmt.Errorf("failed to update resolution: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("pending confirmation %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *pendingConfirmationRepository) ListPending(ctx context.Context, ownerID uuid.UUID, filter models.PendingConfirmationFilter) ([]*models.PendingConfirmation, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return nil, err
	}

	conds := []string{"owner_id = $1", "status = 'PENDING'"}
	args := []any{ownerID}
	if filter.Type != nil {
		args = append(args, string(*filter.Type))
		conds = append(conds, fmt.Sprintf("confirmation_type = $%d", len(args)))
	}
	if filter.EntityID != nil {
		args = append(args, *filter.EntityID)
		conds = append(conds, fmt.Sprintf("source_entity_id = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	query := fmt.Sprintf(`SELECT %s
		FROM fusion_pending_confirmations
		WHERE %s
		ORDER BY confidence ASC NULLS FIRST, created_at ASC
		LIMIT $%d OFFSET $%d`, confirmationColumns, strings.Join(conds, " AND "), len(args)-1, len(args))

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending confirmations: %w", err)
	}
	defer rows.Close()

	var out []*models.PendingConfirmation
	for rows.Next() {
		c, err := scanConfirmation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending confirmations: %w", err)
	}
	return out, nil
}

func (r *pendingConfirmationRepository) ExpireBefore(ctx context.Context, now time.Time) (int64, error) {
	scope, err := ownerScope(ctx)
	if err != nil {
		return 0, err
	}

	result, err := scope.Conn.Exec(ctx, `
		UPDATE fusion_pending_confirmations
		SET status = 'EXPIRED',
		    resolved_by = 'expired',
		    resolved_at = $1,
		    updated_at = now()
		WHERE status = 'PENDING' AND expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending confirmations: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanConfirmation(row pgx.Row) (*models.PendingConfirmation, error) {
	var c models.PendingConfirmation
	var confirmationType, status string
	var contextJSON, optionsJSON, resolutionJSON []byte

	err := row.Scan(
		&c.ID,
		&c.OwnerID,
		&confirmationType,
		&contextJSON,
		&optionsJSON,
		&c.Confidence,
		&c.SourceMessageID,
		&c.SourceEntityID,
		&c.PendingFactID,
		&c.ExtractedEventID,
		&status,
		&c.SelectedOptionID,
		&resolutionJSON,
		&c.ResolvedAt,
		&c.ResolvedBy,
		&c.ExpiresAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan pending confirmation: %w", err)
	}

	c.Type = models.ConfirmationType(confirmationType)
	c.Status = models.ConfirmationStatus(status)

	if err := unmarshalJSONB(contextJSON, &c.Context, "context"); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(optionsJSON, &c.Options, "options"); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(resolutionJSON, &c.Resolution, "resolution"); err != nil {
		return nil, err
	}
	return &c, nil
}
