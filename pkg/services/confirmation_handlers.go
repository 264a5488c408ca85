package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fusion/pkg/models"
	"github.com/ekaya-inc/ekaya-fusion/pkg/repositories"
)

// DefaultEntityType is used when a confirmation creates an entity without saying what kind.
const DefaultEntityType = "person"

// ConfirmationHandler applies the side effect of a CONFIRMED confirmation.
type ConfirmationHandler interface {
	Handle(ctx context.Context, c *models.PendingConfirmation) error
}

// ConfirmationHandlerFunc adapts a function to ConfirmationHandler.
type ConfirmationHandlerFunc func(ctx context.Context, c *models.PendingConfirmation) error

func (f ConfirmationHandlerFunc) Handle(ctx context.Context, c *models.PendingConfirmation) error {
	return f(ctx, c)
}

// HandlerRegistry maps every confirmation type to its handler.
type HandlerRegistry struct {
	handlers map[models.ConfirmationType]ConfirmationHandler
}

// NewHandlerRegistry fails unless every confirmation type has a handler.
func NewHandlerRegistry(handlers map[models.ConfirmationType]ConfirmationHandler) (*HandlerRegistry, error) {
	var missing []string
	for _, t := range models.ConfirmationTypes {
		if handlers[t] == nil {
			missing = append(missing, string(t))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w for %s", apperrors.ErrNoHandler, strings.Join(missing, ", "))
	}

	copied := make(map[models.ConfirmationType]ConfirmationHandler, len(handlers))
	for t, h := range handlers {
		copied[t] = h
	}
	return &HandlerRegistry{handlers: copied}, nil
}

// Handle dispatches c to the handler for its type.
func (r *HandlerRegistry) Handle(ctx context.Context, c *models.PendingConfirmation) error {
	h, ok := r.handlers[c.Type]
	if !ok {
		return fmt.Errorf("%w for %s", apperrors.ErrNoHandler, c.Type)
	}
	return h.Handle(ctx, c)
}

// NewDefaultHandlerRegistry wires the built-in handlers for every type.
func NewDefaultHandlerRegistry(
	entityRepo repositories.EntityRepository,
	factRepo repositories.FactRepository,
	merger EntityMergeService,
	logger *zap.Logger,
) (*HandlerRegistry, error) {
	h := &confirmationHandlers{
		entityRepo: entityRepo,
		factRepo:   factRepo,
		merger:     merger,
		logger:     logger.Named("confirmation-handlers"),
	}
	return NewHandlerRegistry(map[models.ConfirmationType]ConfirmationHandler{
		models.ConfirmationTypeIdentifierAttribution: ConfirmationHandlerFunc(h.identifierAttribution),
		models.ConfirmationTypeEntityMerge:           ConfirmationHandlerFunc(h.entityMerge),
		models.ConfirmationTypeFactSubject:           ConfirmationHandlerFunc(h.factSubject),
		models.ConfirmationTypeFactValue:             ConfirmationHandlerFunc(h.factValue),
	})
}

var errNoSelection = errors.New("confirmation has no selected option")

type confirmationHandlers struct {
	entityRepo repositories.EntityRepository
	factRepo   repositories.FactRepository
	merger     EntityMergeService
	logger     *zap.Logger
}

func (h *confirmationHandlers) identifierAttribution(ctx context.Context, c *models.PendingConfirmation) error {
	identifierType := c.ContextString(ContextKeyIdentifierType)
	identifierValue := c.ContextString(ContextKeyIdentifierValue)
	if identifierType == "" || identifierValue == "" {
		return fmt.Errorf("confirmation %s context lacks %s/%s", c.ID, ContextKeyIdentifierType, ContextKeyIdentifierValue)
	}

	entityID, err := h.selectedEntity(ctx, c)
	if err != nil {
		return err
	}

	if err := h.entityRepo.AddIdentifier(ctx, &models.EntityIdentifier{
		OwnerID:        c.OwnerID,
		EntityID:       entityID,
		IdentifierType: identifierType,
		Value:          identifierValue,
	}); err != nil {
		return err
	}

	h.logger.Info("Attributed identifier",
		zap.String("confirmation_id", c.ID.String()),
		zap.String("entity_id", entityID.String()),
		zap.String("identifier_type", identifierType))
	return nil
}

func (h *confirmationHandlers) entityMerge(ctx context.Context, c *models.PendingConfirmation) error {
	if c.SourceEntityID == nil {
		return fmt.Errorf("confirmation %s has no source entity", c.ID)
	}
	opt, err := selectedOption(c)
	if err != nil {
		return err
	}
	if opt.TargetEntityID == nil {
		return fmt.Errorf("option %q of confirmation %s has no target entity", opt.ID, c.ID)
	}
	return h.merger.MergeEntities(ctx, *c.SourceEntityID, *opt.TargetEntityID)
}

func (h *confirmationHandlers) factSubject(ctx context.Context, c *models.PendingConfirmation) error {
	if c.PendingFactID == nil {
		return fmt.Errorf("confirmation %s has no pending fact", c.ID)
	}
	entityID, err := h.selectedEntity(ctx, c)
	if err != nil {
		return err
	}
	return h.factRepo.SetEntity(ctx, *c.PendingFactID, entityID)
}

func (h *confirmationHandlers) factValue(ctx context.Context, c *models.PendingConfirmation) error {
	if c.PendingFactID == nil {
		return fmt.Errorf("confirmation %s has no pending fact", c.ID)
	}
	opt, err := selectedOption(c)
	if err != nil {
		return err
	}

	value, _ := c.Resolution[ResolutionKeyValue].(string)
	if strings.TrimSpace(value) == "" {
		value = opt.Label
	}
	return h.factRepo.SetValue(ctx, *c.PendingFactID, value)
}

// selectedEntity returns the option's target entity, creating one for a
// create-new option.
func (h *confirmationHandlers) selectedEntity(ctx context.Context, c *models.PendingConfirmation) (uuid.UUID, error) {
	opt, err := selectedOption(c)
	if err != nil {
		return uuid.Nil, err
	}

	if !opt.IsCreateNew {
		if opt.TargetEntityID == nil {
			return uuid.Nil, fmt.Errorf("option %q of confirmation %s has no target entity", opt.ID, c.ID)
		}
		return *opt.TargetEntityID, nil
	}

	name, _ := c.Resolution[ResolutionKeyName].(string)
	if strings.TrimSpace(name) == "" {
		name = opt.Label
	}
	entityType := c.ContextString(ContextKeyEntityType)
	if entityType == "" {
		entityType = DefaultEntityType
	}

	entity := &models.Entity{OwnerID: c.OwnerID, Name: strings.TrimSpace(name), EntityType: entityType}
	if err := h.entityRepo.Create(ctx, entity); err != nil {
		return uuid.Nil, err
	}
	h.logger.Info("Created entity from confirmation",
		zap.String("confirmation_id", c.ID.String()),
		zap.String("entity_id", entity.ID.String()))
	return entity.ID, nil
}

func selectedOption(c *models.PendingConfirmation) (*models.ConfirmationOption, error) {
	if c.SelectedOptionID == nil {
		return nil, errNoSelection
	}
	opt, ok := c.Option(*c.SelectedOptionID)
	if !ok {
		return nil, fmt.Errorf("confirmation %s has no option %q", c.ID, *c.SelectedOptionID)
	}
	return opt, nil
}
