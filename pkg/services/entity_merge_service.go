package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fusion/pkg/database"
	"github.com/ekaya-inc/ekaya-fusion/pkg/models"
	"github.com/ekaya-inc/ekaya-fusion/pkg/repositories"
)

// EntityMergeService folds one entity into another.
type EntityMergeService interface {
	// MergeEntities moves everything attached to source onto target, records
	// the source name as an alias of target and soft-deletes source.
	// All of it happens in one transaction.
	MergeEntities(ctx context.Context, sourceID, targetID uuid.UUID) error
}

type entityMergeService struct {
	entityRepo     repositories.EntityRepository
	factRepo       repositories.FactRepository
	activityRepo   repositories.ActivityRepository
	commitmentRepo repositories.CommitmentRepository
	tx             database.TxRunner
	logger         *zap.Logger
}

// NewEntityMergeService creates a new EntityMergeService.
func NewEntityMergeService(
	entityRepo repositories.EntityRepository,
	factRepo repositories.FactRepository,
	activityRepo repositories.ActivityRepository,
	commitmentRepo repositories.CommitmentRepository,
	tx database.TxRunner,
	logger *zap.Logger,
) EntityMergeService {
	return &entityMergeService{
		entityRepo:     entityRepo,
		factRepo:       factRepo,
		activityRepo:   activityRepo,
		commitmentRepo: commitmentRepo,
		tx:             tx,
		logger:         logger.Named("entity-merge"),
	}
}

var _ EntityMergeService = (*entityMergeService)(nil)

func (s *entityMergeService) MergeEntities(ctx context.Context, sourceID, targetID uuid.UUID) error {
	if sourceID == targetID {
		return fmt.Errorf("%w: cannot merge entity with itself", apperrors.ErrInvalidInput)
	}

	var facts, activities, commitments int64
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		source, err := s.entityRepo.GetByID(ctx, sourceID)
		if err != nil {
			return err
		}
		target, err := s.entityRepo.GetByID(ctx, targetID)
		if err != nil {
			return err
		}

		if err := s.entityRepo.MoveIdentifiers(ctx, source.ID, target.ID); err != nil {
			return err
		}
		if repositories.NormalizeText(source.Name) != repositories.NormalizeText(target.Name) {
			if err := s.entityRepo.AddIdentifier(ctx, &models.EntityIdentifier{
				OwnerID:        target.OwnerID,
				EntityID:       target.ID,
				IdentifierType: models.IdentifierTypeAlias,
				Value:          source.Name,
			}); err != nil {
				return err
			}
		}

		if facts, err = s.factRepo.ReassignEntity(ctx, source.ID, target.ID); err != nil {
			return err
		}
		if activities, err = s.activityRepo.ReassignEntity(ctx, source.ID, target.ID); err != nil {
			return err
		}
		if commitments, err = s.commitmentRepo.ReassignEntity(ctx, source.ID, target.ID); err != nil {
			return err
		}
		return s.entityRepo.MarkMerged(ctx, source.ID, target.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to merge entity %s into %s: %w", sourceID, targetID, err)
	}

	s.logger.Info("Entity merge completed",
		zap.String("source_id", sourceID.String()),
		zap.String("target_id", targetID.String()),
		zap.Int64("facts_moved", facts),
		zap.Int64("activities_moved", activities),
		zap.Int64("commitments_moved", commitments))
	return nil
}
