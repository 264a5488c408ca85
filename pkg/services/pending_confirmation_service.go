package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fusion/pkg/config"
	"github.com/ekaya-inc/ekaya-fusion/pkg/models"
	"github.com/ekaya-inc/ekaya-fusion/pkg/repositories"
)

// Context keys with meaning to deduplication and handlers.
const (
	ContextKeyDescription     = "description"
	ContextKeyTitle           = "title"
	ContextKeyIdentifierType  = "identifierType"
	ContextKeyIdentifierValue = "identifierValue"
	ContextKeyEntityType      = "entityType"
)

// Resolution payload keys read by handlers.
const (
	ResolutionKeyName  = "name"
	ResolutionKeyValue = "value"
)

// CreateConfirmationInput is a question to put to the user.
type CreateConfirmationInput struct {
	OwnerID          uuid.UUID                   `json:"owner_id"`
	Type             models.ConfirmationType     `json:"type"`
	Context          map[string]any              `json:"context"`
	Options          []models.ConfirmationOption `json:"options"`
	Confidence       *float64                    `json:"confidence,omitempty"`
	SourceMessageID  *string                     `json:"source_message_id,omitempty"`
	SourceEntityID   *uuid.UUID                  `json:"source_entity_id,omitempty"`
	PendingFactID    *uuid.UUID                  `json:"pending_fact_id,omitempty"`
	ExtractedEventID *string                     `json:"extracted_event_id,omitempty"`
	// ExpiresAt overrides the default expiry for the type.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// PendingConfirmationService manages questions that need a user answer.
type PendingConfirmationService interface {
	// Create stores a confirmation, or returns the PENDING one it duplicates.
	Create(ctx context.Context, in CreateConfirmationInput) (*models.PendingConfirmation, error)

	GetByID(ctx context.Context, id uuid.UUID) (*models.PendingConfirmation, error)

	// Resolve answers a confirmation exactly once. Resolving an already
	// resolved confirmation returns it unchanged. Handler failures are
	// recorded on the confirmation, never returned.
	Resolve(ctx context.Context, id uuid.UUID, optionID string, resolution map[string]any) (*models.PendingConfirmation, error)

	// GetPending lists PENDING confirmations least confident and oldest first.
	GetPending(ctx context.Context, ownerID uuid.UUID, filter models.PendingConfirmationFilter) ([]*models.PendingConfirmation, error)

	// ExpireOld flips overdue PENDING confirmations to EXPIRED.
	ExpireOld(ctx context.Context) (int64, error)
}

type pendingConfirmationService struct {
	repo     repositories.PendingConfirmationRepository
	handlers *HandlerRegistry
	cfg      config.ConfirmationConfig
	now      func() time.Time
	logger   *zap.Logger
}

// NewPendingConfirmationService creates a PendingConfirmationService.
func NewPendingConfirmationService(
	repo repositories.PendingConfirmationRepository,
	handlers *HandlerRegistry,
	cfg config.ConfirmationConfig,
	logger *zap.Logger,
) PendingConfirmationService {
	return &pendingConfirmationService{
		repo:     repo,
		handlers: handlers,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.Named("pending-confirmation"),
	}
}

var _ PendingConfirmationService = (*pendingConfirmationService)(nil)

func (s *pendingConfirmationService) Create(ctx context.Context, in CreateConfirmationInput) (*models.PendingConfirmation, error) {
	if err := validateConfirmationInput(in); err != nil {
		return nil, err
	}

	if match, ok := dedupMatch(in); ok {
		existing, err := s.repo.FindPending(ctx, match)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			s.logger.Debug("Reusing pending confirmation",
				zap.String("confirmation_id", existing.ID.String()),
				zap.String("type", string(in.Type)))
			return existing, nil
		}
	}

	expiresAt := in.ExpiresAt
	if expiresAt == nil {
		t := s.now().Add(s.expiryFor(in.Type))
		expiresAt = &t
	}

	c := &models.PendingConfirmation{
		OwnerID:          in.OwnerID,
		Type:             in.Type,
		Context:          in.Context,
		Options:          in.Options,
		Confidence:       in.Confidence,
		SourceMessageID:  in.SourceMessageID,
		SourceEntityID:   in.SourceEntityID,
		PendingFactID:    in.PendingFactID,
		ExtractedEventID: in.ExtractedEventID,
		Status:           models.ConfirmationStatusPending,
		ExpiresAt:        expiresAt,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info("Created pending confirmation",
		zap.String("confirmation_id", c.ID.String()),
		zap.String("type", string(c.Type)),
		zap.Int("options", len(c.Options)))
	return c, nil
}

func (s *pendingConfirmationService) GetByID(ctx context.Context, id uuid.UUID) (*models.PendingConfirmation, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *pendingConfirmationService) Resolve(ctx context.Context, id uuid.UUID, optionID string, resolution map[string]any) (*models.PendingConfirmation, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != models.ConfirmationStatusPending {
		return c, nil
	}

	status := models.ConfirmationStatusConfirmed
	if optionID == models.DeclineOptionID {
		status = models.ConfirmationStatusDeclined
	} else {
		opt, ok := c.Option(optionID)
		if !ok {
			return nil, fmt.Errorf("%w: confirmation %s has no option %q", apperrors.ErrInvalidInput, id, optionID)
		}
		if opt.IsDecline {
			status = models.ConfirmationStatusDeclined
		}
	}

	now := s.now()
	won, err := s.repo.Resolve(ctx, id, repositories.ConfirmationResolution{
		Status:           status,
		SelectedOptionID: &optionID,
		Resolution:       resolution,
		ResolvedBy:       models.ResolvedByUser,
		ResolvedAt:       now,
	})
	if err != nil {
		return nil, err
	}
	if !won {
		s.logger.Debug("Confirmation resolved concurrently, returning current state",
			zap.String("confirmation_id", id.String()))
		return s.repo.GetByID(ctx, id)
	}

	resolvedBy := models.ResolvedByUser
	c.Status = status
	c.SelectedOptionID = &optionID
	c.Resolution = resolution
	c.ResolvedAt = &now
	c.ResolvedBy = &resolvedBy

	if status == models.ConfirmationStatusConfirmed {
		s.dispatch(ctx, c)
	}

	s.logger.Info("Resolved pending confirmation",
		zap.String("confirmation_id", c.ID.String()),
		zap.String("type", string(c.Type)),
		zap.String("status", string(c.Status)))
	return c, nil
}

// dispatch runs the type handler. Failures are logged and merged into the
// resolution payload.
func (s *pendingConfirmationService) dispatch(ctx context.Context, c *models.PendingConfirmation) {
	err := s.handlers.Handle(ctx, c)
	if err == nil {
		return
	}

	failedAt := s.now().UTC().Format(time.RFC3339)
	s.logger.Error("Confirmation handler failed",
		zap.String("confirmation_id", c.ID.String()),
		zap.String("type", string(c.Type)),
		zap.Error(err))

	extra := map[string]any{
		models.ResolutionKeyHandlerError:    err.Error(),
		models.ResolutionKeyHandlerFailedAt: failedAt,
	}
	if mergeErr := s.repo.MergeResolution(ctx, c.ID, extra); mergeErr != nil {
		s.logger.Error("Failed to record handler error",
			zap.String("confirmation_id", c.ID.String()),
			zap.Error(mergeErr))
	}

	if c.Resolution == nil {
		c.Resolution = map[string]any{}
	}
	for k, v := range extra {
		c.Resolution[k] = v
	}
}

func (s *pendingConfirmationService) GetPending(ctx context.Context, ownerID uuid.UUID, filter models.PendingConfirmationFilter) ([]*models.PendingConfirmation, error) {
	return s.repo.ListPending(ctx, ownerID, filter)
}

func (s *pendingConfirmationService) ExpireOld(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireBefore(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("Expired pending confirmations", zap.Int64("count", n))
	}
	return n, nil
}

func (s *pendingConfirmationService) expiryFor(t models.ConfirmationType) time.Duration {
	switch t {
	case models.ConfirmationTypeIdentifierAttribution:
		return s.cfg.IdentifierAttributionExpiry
	case models.ConfirmationTypeEntityMerge:
		return s.cfg.EntityMergeExpiry
	case models.ConfirmationTypeFactSubject:
		return s.cfg.FactSubjectExpiry
	case models.ConfirmationTypeFactValue:
		return s.cfg.FactValueExpiry
	}
	return config.DefaultConfirmationConfig().FactValueExpiry
}

// dedupMatch picks the keys that identify an equivalent PENDING confirmation.
// False means the input carries nothing to deduplicate on.
func dedupMatch(in CreateConfirmationInput) (repositories.ConfirmationMatch, bool) {
	m := repositories.ConfirmationMatch{OwnerID: in.OwnerID, Type: in.Type}

	if in.Type == models.ConfirmationTypeFactSubject {
		if desc, _ := in.Context[ContextKeyDescription].(string); desc != "" {
			m.ContextKey, m.ContextValue = ContextKeyDescription, desc
			return m, true
		}
	}

	switch {
	case in.PendingFactID != nil:
		m.PendingFactID = in.PendingFactID
	case in.ExtractedEventID != nil:
		m.ExtractedEventID = in.ExtractedEventID
	case in.Type == models.ConfirmationTypeFactSubject:
		return m, false
	case in.SourceEntityID != nil && in.SourceMessageID != nil:
		m.SourceEntityID = in.SourceEntityID
		m.SourceMessageID = in.SourceMessageID
	case in.SourceEntityID != nil:
		title, _ := in.Context[ContextKeyTitle].(string)
		if title == "" {
			return m, false
		}
		m.SourceEntityID = in.SourceEntityID
		m.ContextKey, m.ContextValue = ContextKeyTitle, title
	default:
		return m, false
	}
	return m, true
}

func validateConfirmationInput(in CreateConfirmationInput) error {
	if in.OwnerID == uuid.Nil {
		return fmt.Errorf("%w: owner_id is required", apperrors.ErrInvalidInput)
	}
	if !in.Type.IsValid() {
		return fmt.Errorf("%w: unknown confirmation type %q", apperrors.ErrInvalidInput, in.Type)
	}
	if len(in.Options) == 0 {
		return fmt.Errorf("%w: at least one option is required", apperrors.ErrInvalidInput)
	}
	seen := make(map[string]bool, len(in.Options))
	for _, opt := range in.Options {
		if opt.ID == "" {
			return fmt.Errorf("%w: option id is required", apperrors.ErrInvalidInput)
		}
		if seen[opt.ID] {
			return fmt.Errorf("%w: duplicate option id %q", apperrors.ErrInvalidInput, opt.ID)
		}
		seen[opt.ID] = true
	}
	if in.Confidence != nil && (*in.Confidence < 0 || *in.Confidence > 1) {
		return fmt.Errorf("%w: confidence must be between 0 and 1", apperrors.ErrInvalidInput)
	}
	return nil
}
