package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fusion/pkg/database"
	"github.com/ekaya-inc/ekaya-fusion/pkg/models"
	"github.com/ekaya-inc/ekaya-fusion/pkg/repositories"
)

// FactFusionService takes a newly proposed fact through candidate search,
// classification and application.
type FactFusionService interface {
	// ProcessFact stores, merges or flags newFact. contextText is shown to the
	// oracle alongside the comparison. The returned result carries a conflict
	// token when a human has to decide.
	ProcessFact(ctx context.Context, ownerID uuid.UUID, newFact *models.NewFactData, contextText string) (*models.FusionResult, error)
}

type factFusionService struct {
	factRepo   repositories.FactRepository
	finder     DuplicateFinder
	classifier FusionClassifier
	applier    FusionApplier
	gateway    ConflictGateway
	tx         database.TxRunner
	logger     *zap.Logger
}

// NewFactFusionService creates a FactFusionService.
func NewFactFusionService(
	factRepo repositories.FactRepository,
	finder DuplicateFinder,
	classifier FusionClassifier,
	applier FusionApplier,
	gateway ConflictGateway,
	tx database.TxRunner,
	logger *zap.Logger,
) FactFusionService {
	return &factFusionService{
		factRepo:   factRepo,
		finder:     finder,
		classifier: classifier,
		applier:    applier,
		gateway:    gateway,
		tx:         tx,
		logger:     logger.Named("fact-fusion"),
	}
}

var _ FactFusionService = (*factFusionService)(nil)

func (s *factFusionService) ProcessFact(ctx context.Context, ownerID uuid.UUID, newFact *models.NewFactData, contextText string) (*models.FusionResult, error) {
	if err := validateNewFact(newFact); err != nil {
		return nil, err
	}

	candidates, err := s.finder.FindFactCandidates(ctx, ownerID, newFact)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		fact := newFact.ToFact(ownerID)
		if err := s.factRepo.Create(ctx, fact); err != nil {
			return nil, err
		}
		s.logger.Debug("Created new fact",
			zap.String("fact_id", fact.ID.String()),
			zap.String("fact_type", fact.FactType))
		return &models.FusionResult{
			ResultFact: fact,
			Action:     models.FusionResultCreated,
			Reason:     "No existing fact matched",
		}, nil
	}

	best := candidates[0]

	var decision models.FusionDecision
	if best.MatchKind == models.MatchKindExact {
		decision = models.FusionDecision{
			Action:      models.FusionActionConfirm,
			Explanation: "Exact duplicate of existing fact",
			Confidence:  1,
		}
	} else {
		decision = s.classifier.Decide(ctx, DecisionRequest{
			Existing:      best.Record,
			NewValue:      newFact.Value,
			NewSource:     newFact.Source,
			NewConfidence: newFact.Confidence,
			MatchKind:     best.MatchKind,
			Context:       contextText,
		})
	}

	var result *models.FusionResult
	if decision.Action == models.FusionActionConflict {
		result, err = s.raiseConflict(ctx, best.Record, newFact, decision, ownerID)
	} else {
		result, err = s.applier.Apply(ctx, best.Record, newFact, decision, ownerID)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Processed fact",
		zap.String("existing_fact_id", best.Record.ID.String()),
		zap.String("match_kind", string(best.MatchKind)),
		zap.String("decision", string(decision.Action)),
		zap.String("result", string(result.Action)))

	return result, nil
}

// raiseConflict stores the conflict and flags the existing fact together, so a
// flagged fact always has a token to resolve it with. The announcement goes
// out only after both are committed.
func (s *factFusionService) raiseConflict(ctx context.Context, existing *models.Fact, newFact *models.NewFactData, decision models.FusionDecision, ownerID uuid.UUID) (*models.FusionResult, error) {
	var conflict *models.FactConflict
	var result *models.FusionResult
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		conflict, err = s.gateway.RecordConflict(ctx, existing, newFact, ownerID, decision.Explanation)
		if err != nil {
			return err
		}
		result, err = s.applier.Apply(ctx, existing, newFact, decision, ownerID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to raise conflict for fact %s: %w", existing.ID, err)
	}

	s.gateway.Announce(ctx, conflict, existing)
	result.ConflictToken = conflict.Token
	return result, nil
}

func validateNewFact(f *models.NewFactData) error {
	if f == nil {
		return fmt.Errorf("%w: fact is required", apperrors.ErrInvalidInput)
	}
	if strings.TrimSpace(f.FactType) == "" {
		return fmt.Errorf("%w: fact_type is required", apperrors.ErrInvalidInput)
	}
	if strings.TrimSpace(f.Value) == "" {
		return fmt.Errorf("%w: value is required", apperrors.ErrInvalidInput)
	}
	if f.Source != "" && !f.Source.IsValid() {
		return fmt.Errorf("%w: unknown source %q", apperrors.ErrInvalidInput, f.Source)
	}
	if f.Confidence != nil && (*f.Confidence < 0 || *f.Confidence > 1) {
		return fmt.Errorf("%w: confidence must be between 0 and 1", apperrors.ErrInvalidInput)
	}
	return nil
}
