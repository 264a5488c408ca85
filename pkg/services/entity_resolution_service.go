package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fusion/pkg/config"
	"github.com/ekaya-inc/ekaya-fusion/pkg/models"
	"github.com/ekaya-inc/ekaya-fusion/pkg/repositories"
)

// CreateNewOptionID is the option that creates a new entity.
const CreateNewOptionID = "create_new"

// Attribution is the outcome of a resolver call. Exactly one of EntityID and
// Confirmation is set when the resolver had anything to act on.
type Attribution struct {
	EntityID     *uuid.UUID                  `json:"entity_id,omitempty"`
	Confirmation *models.PendingConfirmation `json:"confirmation,omitempty"`
	// Created is set when the resolver created a new entity.
	Created bool `json:"created"`
}

// SubjectInput names the entity a pending fact is about.
type SubjectInput struct {
	PendingFactID uuid.UUID `json:"pending_fact_id"`
	SubjectName   string    `json:"subject_name"`
	EntityType    string    `json:"entity_type,omitempty"`
	// Description is the question shown to the user and deduplicates it.
	Description string  `json:"description,omitempty"`
	MessageID   *string `json:"message_id,omitempty"`
}

// IdentifierInput is an identifier seen in a message.
type IdentifierInput struct {
	IdentifierType string  `json:"identifier_type"`
	Value          string  `json:"value"`
	CandidateName  string  `json:"candidate_name,omitempty"`
	EntityType     string  `json:"entity_type,omitempty"`
	MessageID      *string `json:"message_id,omitempty"`
}

// EntityResolutionService attributes facts and identifiers to entities, and
// asks the user when it cannot tell.
type EntityResolutionService interface {
	AttributeFact(ctx context.Context, ownerID uuid.UUID, in SubjectInput) (*Attribution, error)
	AttributeIdentifier(ctx context.Context, ownerID uuid.UUID, in IdentifierInput) (*Attribution, error)
	ProposeMerge(ctx context.Context, ownerID, sourceID, targetID uuid.UUID, confidence float64) (*models.PendingConfirmation, error)
}

type entityResolutionService struct {
	entityRepo    repositories.EntityRepository
	factRepo      repositories.FactRepository
	finder        DuplicateFinder
	confirmations PendingConfirmationService
	cfg           config.DedupConfig
	logger        *zap.Logger
}

// NewEntityResolutionService creates an EntityResolutionService.
func NewEntityResolutionService(
	entityRepo repositories.EntityRepository,
	factRepo repositories.FactRepository,
	finder DuplicateFinder,
	confirmations PendingConfirmationService,
	cfg config.DedupConfig,
	logger *zap.Logger,
) EntityResolutionService {
	return &entityResolutionService{
		entityRepo:    entityRepo,
		factRepo:      factRepo,
		finder:        finder,
		confirmations: confirmations,
		cfg:           cfg,
		logger:        logger.Named("entity-resolution"),
	}
}

var _ EntityResolutionService = (*entityResolutionService)(nil)

func (s *entityResolutionService) AttributeFact(ctx context.Context, ownerID uuid.UUID, in SubjectInput) (*Attribution, error) {
	name := strings.TrimSpace(in.SubjectName)
	if name == "" {
		return nil, fmt.Errorf("%w: subject_name is required", apperrors.ErrInvalidInput)
	}

	candidates, err := s.finder.FindEntityCandidates(ctx, ownerID, EntityQuery{Name: name, EntityType: in.EntityType})
	if err != nil {
		return nil, err
	}

	if entity, created, ok, err := s.decide(ctx, ownerID, name, in.EntityType, candidates); err != nil {
		return nil, err
	} else if ok {
		if err := s.factRepo.SetEntity(ctx, in.PendingFactID, entity.ID); err != nil {
			return nil, err
		}
		return &Attribution{EntityID: &entity.ID, Created: created}, nil
	}

	description := in.Description
	if description == "" {
		description = fmt.Sprintf("Which %s is %q?", entityTypeOrDefault(in.EntityType), name)
	}
	pendingFactID := in.PendingFactID

	c, err := s.confirmations.Create(ctx, CreateConfirmationInput{
		OwnerID: ownerID,
		Type:    models.ConfirmationTypeFactSubject,
		Context: map[string]any{
			ContextKeyDescription: description,
			ContextKeyEntityType:  entityTypeOrDefault(in.EntityType),
			"subjectName":         name,
		},
		Options:         candidateOptions(candidates, name, "None of these"),
		Confidence:      &candidates[0].Similarity,
		SourceMessageID: in.MessageID,
		PendingFactID:   &pendingFactID,
	})
	if err != nil {
		return nil, err
	}
	return &Attribution{Confirmation: c}, nil
}

func (s *entityResolutionService) AttributeIdentifier(ctx context.Context, ownerID uuid.UUID, in IdentifierInput) (*Attribution, error) {
	if in.IdentifierType == "" || strings.TrimSpace(in.Value) == "" {
		return nil, fmt.Errorf("%w: identifier_type and value are required", apperrors.ErrInvalidInput)
	}

	owners, err := s.entityRepo.FindByIdentifier(ctx, ownerID, in.IdentifierType, in.Value)
	if err != nil {
		return nil, err
	}
	if len(owners) == 1 {
		return &Attribution{EntityID: &owners[0].ID}, nil
	}

	var candidates []models.Candidate[*models.Entity]
	if len(owners) > 1 {
		for _, e := range owners {
			candidates = append(candidates, models.Candidate[*models.Entity]{Record: e, Similarity: 0.5, MatchKind: models.MatchKindExact})
		}
	} else {
		name := strings.TrimSpace(in.CandidateName)
		if name == "" {
			return &Attribution{}, nil
		}
		candidates, err = s.finder.FindEntityCandidates(ctx, ownerID, EntityQuery{Name: name, EntityType: in.EntityType})
		if err != nil {
			return nil, err
		}

		entity, created, ok, err := s.decide(ctx, ownerID, name, in.EntityType, candidates)
		if err != nil {
			return nil, err
		}
		if ok {
			if err := s.entityRepo.AddIdentifier(ctx, &models.EntityIdentifier{
				OwnerID:        ownerID,
				EntityID:       entity.ID,
				IdentifierType: in.IdentifierType,
				Value:          in.Value,
			}); err != nil {
				return nil, err
			}
			return &Attribution{EntityID: &entity.ID, Created: created}, nil
		}
	}

	best := candidates[0]
	c, err := s.confirmations.Create(ctx, CreateConfirmationInput{
		OwnerID: ownerID,
		Type:    models.ConfirmationTypeIdentifierAttribution,
		Context: map[string]any{
			ContextKeyTitle:           fmt.Sprintf("Who uses %s %s?", in.IdentifierType, in.Value),
			ContextKeyIdentifierType:  in.IdentifierType,
			ContextKeyIdentifierValue: in.Value,
			ContextKeyEntityType:      entityTypeOrDefault(in.EntityType),
		},
		Options:         candidateOptions(candidates, in.CandidateName, "Ignore"),
		Confidence:      &best.Similarity,
		SourceMessageID: in.MessageID,
		SourceEntityID:  &best.Record.ID,
	})
	if err != nil {
		return nil, err
	}
	return &Attribution{Confirmation: c}, nil
}

func (s *entityResolutionService) ProposeMerge(ctx context.Context, ownerID, sourceID, targetID uuid.UUID, confidence float64) (*models.PendingConfirmation, error) {
	if sourceID == targetID {
		return nil, fmt.Errorf("%w: cannot merge entity with itself", apperrors.ErrInvalidInput)
	}
	source, err := s.entityRepo.GetByID(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	target, err := s.entityRepo.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}

	return s.confirmations.Create(ctx, CreateConfirmationInput{
		OwnerID: ownerID,
		Type:    models.ConfirmationTypeEntityMerge,
		Context: map[string]any{
			ContextKeyTitle: fmt.Sprintf("Is %q the same as %q?", source.Name, target.Name),
		},
		Options: []models.ConfirmationOption{
			{ID: target.ID.String(), Label: "Merge into " + target.Name, Sublabel: target.EntityType, TargetEntityID: &target.ID},
			{ID: models.DeclineOptionID, Label: "Keep separate", IsDecline: true},
		},
		Confidence:     &confidence,
		SourceEntityID: &source.ID,
	})
}

// decide attributes without asking when the answer is clear: an exact match,
// a single confident candidate, or no candidates at all (a new entity).
func (s *entityResolutionService) decide(ctx context.Context, ownerID uuid.UUID, name, entityType string, candidates []models.Candidate[*models.Entity]) (*models.Entity, bool, bool, error) {
	if len(candidates) == 0 {
		entity := &models.Entity{OwnerID: ownerID, Name: name, EntityType: entityTypeOrDefault(entityType)}
		if err := s.entityRepo.Create(ctx, entity); err != nil {
			return nil, false, false, err
		}
		s.logger.Debug("Created entity for unmatched name", zap.String("entity_id", entity.ID.String()))
		return entity, true, true, nil
	}

	best := candidates[0]
	if best.MatchKind == models.MatchKindExact {
		return best.Record, false, true, nil
	}
	tied := len(candidates) > 1 && candidates[1].Similarity >= best.Similarity
	if best.Similarity >= s.cfg.AutoMergeThreshold && !tied {
		return best.Record, false, true, nil
	}
	return nil, false, false, nil
}

func candidateOptions(candidates []models.Candidate[*models.Entity], createName, declineLabel string) []models.ConfirmationOption {
	options := make([]models.ConfirmationOption, 0, len(candidates)+2)
	for _, c := range candidates {
		id := c.Record.ID
		options = append(options, models.ConfirmationOption{
			ID:             id.String(),
			Label:          c.Record.Name,
			Sublabel:       c.Record.EntityType,
			TargetEntityID: &id,
		})
	}
	if createName = strings.TrimSpace(createName); createName != "" {
		options = append(options, models.ConfirmationOption{ID: CreateNewOptionID, Label: createName, Sublabel: "New", IsCreateNew: true})
	}
	return append(options, models.ConfirmationOption{ID: models.DeclineOptionID, Label: declineLabel, IsDecline: true})
}

func entityTypeOrDefault(t string) string {
	if t == "" {
		return DefaultEntityType
	}
	return t
}
