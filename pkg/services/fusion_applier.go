package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/config"
	"github.com/ekaya-inc/ekaya-fusion/pkg/database"
	"github.com/ekaya-inc/ekaya-fusion/pkg/models"
	"github.com/ekaya-inc/ekaya-fusion/pkg/repositories"
)

// FusionApplier mutates the fact store according to a fusion decision.
type FusionApplier interface {
	// Apply runs the decision against existing. Unknown actions are skipped, not failed.
	Apply(ctx context.Context, existing *models.Fact, newFact *models.NewFactData, decision models.FusionDecision, ownerID uuid.UUID) (*models.FusionResult, error)

	// ApplyResolution runs the branch chosen by a human for a flagged conflict.
	ApplyResolution(ctx context.Context, existing *models.Fact, newFact *models.NewFactData, choice models.ConflictChoice, ownerID uuid.UUID) (*models.FusionResult, error)
}

type fusionApplier struct {
	factRepo repositories.FactRepository
	tx       database.TxRunner
	cfg      config.FusionConfig
	now      func() time.Time
	logger   *zap.Logger
}

// NewFusionApplier creates a FusionApplier.
func NewFusionApplier(factRepo repositories.FactRepository, tx database.TxRunner, cfg config.FusionConfig, logger *zap.Logger) FusionApplier {
	return &fusionApplier{
		factRepo: factRepo,
		tx:       tx,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.Named("fusion-applier"),
	}
}

var _ FusionApplier = (*fusionApplier)(nil)

func (a *fusionApplier) Apply(ctx context.Context, existing *models.Fact, newFact *models.NewFactData, decision models.FusionDecision, ownerID uuid.UUID) (*models.FusionResult, error) {
	existingID := existing.ID
	result := &models.FusionResult{ExistingFactID: &existingID}

	switch decision.Action {
	case models.FusionActionConfirm:
		fact, err := a.factRepo.Confirm(ctx, existing.ID, a.bump(a.cfg.ConfirmBoost))
		if err != nil {
			return nil, err
		}
		result.ResultFact = fact
		result.Action = models.FusionResultUpdated
		result.Reason = "Confirmed existing fact"

	case models.FusionActionEnrich:
		if decision.MergedValue == nil || strings.TrimSpace(*decision.MergedValue) == "" {
			result.ResultFact = existing
			result.Action = models.FusionResultSkipped
			result.Reason = "ENRICH decision carried no merged value"
			return result, nil
		}
		fact, err := a.factRepo.Enrich(ctx, existing.ID, *decision.MergedValue, a.bump(a.cfg.EnrichBoost))
		if err != nil {
			return nil, err
		}
		result.ResultFact = fact
		result.Action = models.FusionResultUpdated
		result.Reason = "Enriched existing fact"

	case models.FusionActionSupersede:
		fact, err := a.supersede(ctx, existing, newFact, ownerID)
		if err != nil {
			return nil, err
		}
		result.ResultFact = fact
		result.Action = models.FusionResultCreated
		result.Reason = "Superseded existing fact"

	case models.FusionActionCoexist:
		fact, err := a.coexist(ctx, existing, newFact, ownerID)
		if err != nil {
			return nil, err
		}
		result.ResultFact = fact
		result.Action = models.FusionResultCreated
		result.Reason = "Created coexisting fact"

	case models.FusionActionConflict:
		fact, err := a.factRepo.MarkNeedsReview(ctx, existing.ID, decision.Explanation)
		if err != nil {
			return nil, err
		}
		result.ResultFact = fact
		result.Action = models.FusionResultSkipped
		result.Reason = "Conflict: " + decision.Explanation
		result.NeedsReview = true
		result.NewFactData = newFact

	default:
		a.logger.Warn("Unknown fusion action, skipping",
			zap.String("fact_id", existing.ID.String()),
			zap.String("action", string(decision.Action)))
		result.ResultFact = existing
		result.Action = models.FusionResultSkipped
		result.Reason = fmt.Sprintf("Unknown fusion action %q", decision.Action)
	}

	a.logger.Debug("Applied fusion decision",
		zap.String("fact_id", existing.ID.String()),
		zap.String("action", string(decision.Action)),
		zap.String("result", string(result.Action)))

	return result, nil
}

func (a *fusionApplier) ApplyResolution(ctx context.Context, existing *models.Fact, newFact *models.NewFactData, choice models.ConflictChoice, ownerID uuid.UUID) (*models.FusionResult, error) {
	existingID := existing.ID
	result := &models.FusionResult{ExistingFactID: &existingID}

	switch choice {
	case models.ConflictChoiceUseNew:
		fact, err := a.supersede(ctx, existing, newFact, ownerID)
		if err != nil {
			return nil, err
		}
		result.ResultFact = fact
		result.Action = models.FusionResultCreated
		result.Reason = "Conflict resolved: new value supersedes existing"

	case models.ConflictChoiceKeepOld:
		if err := a.factRepo.ClearReview(ctx, existing.ID, true); err != nil {
			return nil, err
		}
		fact, err := a.factRepo.GetByID(ctx, existing.ID)
		if err != nil {
			return nil, err
		}
		result.ResultFact = fact
		result.Action = models.FusionResultUpdated
		result.Reason = "Conflict resolved: existing value kept"

	case models.ConflictChoiceKeepBoth:
		var fact *models.Fact
		err := a.tx.WithTx(ctx, func(ctx context.Context) error {
			var err error
			if fact, err = a.coexist(ctx, existing, newFact, ownerID); err != nil {
				return err
			}
			return a.factRepo.ClearReview(ctx, existing.ID, false)
		})
		if err != nil {
			return nil, err
		}
		result.ResultFact = fact
		result.Action = models.FusionResultCreated
		result.Reason = "Conflict resolved: both values kept"

	default:
		return nil, fmt.Errorf("unknown conflict choice %q", choice)
	}
	return result, nil
}

// supersede creates the replacement and closes existing in one transaction.
func (a *fusionApplier) supersede(ctx context.Context, existing *models.Fact, newFact *models.NewFactData, ownerID uuid.UUID) (*models.Fact, error) {
	now := a.now()
	fact := a.newFact(existing, newFact, ownerID)
	fact.Rank = models.FactRankPreferred
	fact.ValidFrom = now
	fact.SupersedesID = &existing.ID

	err := a.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := a.factRepo.Create(ctx, fact); err != nil {
			return err
		}
		return a.factRepo.Supersede(ctx, existing.ID, fact.ID, now)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to supersede fact %s: %w", existing.ID, err)
	}
	return fact, nil
}

func (a *fusionApplier) coexist(ctx context.Context, existing *models.Fact, newFact *models.NewFactData, ownerID uuid.UUID) (*models.Fact, error) {
	fact := a.newFact(existing, newFact, ownerID)
	fact.Rank = models.FactRankNormal
	fact.ValidFrom = a.now()
	if err := a.factRepo.Create(ctx, fact); err != nil {
		return nil, err
	}
	return fact, nil
}

func (a *fusionApplier) newFact(existing *models.Fact, newFact *models.NewFactData, ownerID uuid.UUID) *models.Fact {
	fact := newFact.ToFact(ownerID)
	if fact.EntityID == nil {
		fact.EntityID = existing.EntityID
	}
	if fact.FactType == "" {
		fact.FactType = existing.FactType
	}
	if fact.Category == "" {
		fact.Category = existing.Category
	}
	return fact
}

func (a *fusionApplier) bump(boost float64) repositories.ConfidenceBump {
	return repositories.ConfidenceBump{Boost: boost, Default: a.cfg.DefaultConfidence}
}
