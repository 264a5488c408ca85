package services

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fusion/pkg/database"
	"github.com/ekaya-inc/ekaya-fusion/pkg/eventstream"
	"github.com/ekaya-inc/ekaya-fusion/pkg/models"
	"github.com/ekaya-inc/ekaya-fusion/pkg/repositories"
)

// ConflictOutcome is the answer to a conflict resolution attempt.
type ConflictOutcome struct {
	Conflict *models.FactConflict `json:"conflict"`
	Result   *models.FusionResult `json:"result,omitempty"`
	// AlreadyResolved is set when another caller resolved the token first.
	AlreadyResolved bool `json:"already_resolved"`
}

// ConflictGateway stores contradictions under a short token, tells a human
// about them and applies the human's choice exactly once.
type ConflictGateway interface {
	// NotifyConflict records the conflict and announces it. It returns the token.
	NotifyConflict(ctx context.Context, existing *models.Fact, newFact *models.NewFactData, ownerID uuid.UUID, explanation string) (string, error)
	// RecordConflict stores the conflict under a fresh token without announcing it,
	// so callers can store it in the same transaction that flags the fact.
	RecordConflict(ctx context.Context, existing *models.Fact, newFact *models.NewFactData, ownerID uuid.UUID, explanation string) (*models.FactConflict, error)
	// Announce publishes a recorded conflict. Publish failures are logged only.
	Announce(ctx context.Context, conflict *models.FactConflict, existing *models.Fact)
	ResolveConflict(ctx context.Context, token string, choice models.ConflictChoice) (*ConflictOutcome, error)
	ListPending(ctx context.Context, ownerID uuid.UUID, limit int) ([]*models.FactConflict, error)
}

var conflictChoiceLabels = map[models.ConflictChoice]string{
	models.ConflictChoiceUseNew:   "Use the new value",
	models.ConflictChoiceKeepOld:  "Keep the existing value",
	models.ConflictChoiceKeepBoth: "Keep both",
}

var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

type conflictGateway struct {
	conflictRepo repositories.FactConflictRepository
	factRepo     repositories.FactRepository
	applier      FusionApplier
	publisher    eventstream.Publisher
	tx           database.TxRunner
	callbackBase string
	now          func() time.Time
	logger       *zap.Logger
}

// NewConflictGateway creates a ConflictGateway. callbackBase is the public
// base URL embedded in notifications.
func NewConflictGateway(
	conflictRepo repositories.FactConflictRepository,
	factRepo repositories.FactRepository,
	applier FusionApplier,
	publisher eventstream.Publisher,
	tx database.TxRunner,
	callbackBase string,
	logger *zap.Logger,
) ConflictGateway {
	return &conflictGateway{
		conflictRepo: conflictRepo,
		factRepo:     factRepo,
		applier:      applier,
		publisher:    publisher,
		tx:           tx,
		callbackBase: strings.TrimRight(callbackBase, "/"),
		now:          time.Now,
		logger:       logger.Named("conflict-gateway"),
	}
}

var _ ConflictGateway = (*conflictGateway)(nil)

func (g *conflictGateway) NotifyConflict(ctx context.Context, existing *models.Fact, newFact *models.NewFactData, ownerID uuid.UUID, explanation string) (string, error) {
	conflict, err := g.RecordConflict(ctx, existing, newFact, ownerID, explanation)
	if err != nil {
		return "", err
	}
	g.Announce(ctx, conflict, existing)
	return conflict.Token, nil
}

func (g *conflictGateway) RecordConflict(ctx context.Context, existing *models.Fact, newFact *models.NewFactData, ownerID uuid.UUID, explanation string) (*models.FactConflict, error) {
	token, err := newConflictToken()
	if err != nil {
		return nil, err
	}

	conflict := &models.FactConflict{
		OwnerID:        ownerID,
		Token:          token,
		ExistingFactID: existing.ID,
		NewFactData:    *newFact,
		Explanation:    explanation,
	}
	if err := g.conflictRepo.Create(ctx, conflict); err != nil {
		return nil, err
	}
	return conflict, nil
}

func (g *conflictGateway) Announce(ctx context.Context, conflict *models.FactConflict, existing *models.Fact) {
	newFact := conflict.NewFactData
	event := eventstream.NewConflictRaisedEvent(conflict.OwnerID.String(), conflict.Token, g.now())
	event.Existing = eventstream.ConflictFact{
		ID:       existing.ID.String(),
		EntityID: uuidString(existing.EntityID),
		FactType: existing.FactType,
		Value:    existing.Value,
		Source:   string(existing.Source),
	}
	event.Proposed = eventstream.ConflictFact{
		EntityID: uuidString(newFact.EntityID),
		FactType: newFact.FactType,
		Value:    newFact.Value,
		Source:   string(newFact.Source),
	}
	event.Explanation = conflict.Explanation
	for _, choice := range models.ConflictChoices {
		event.Choices = append(event.Choices, eventstream.ConflictChoice{ID: string(choice), Label: conflictChoiceLabels[choice]})
	}
	event.CallbackURL = fmt.Sprintf("%s/api/conflicts/%s/resolve", g.callbackBase, conflict.Token)

	if err := g.publisher.PublishConflictRaised(ctx, event); err != nil {
		g.logger.Warn("Failed to publish conflict notification; conflict remains resolvable",
			zap.String("token", conflict.Token),
			zap.String("fact_id", existing.ID.String()),
			zap.Error(err))
	}

	g.logger.Info("Conflict raised",
		zap.String("token", conflict.Token),
		zap.String("owner_id", conflict.OwnerID.String()),
		zap.String("fact_id", existing.ID.String()))
}

// errLostRace rolls back a resolution that found the conflict already resolved.
var errLostRace = errors.New("conflict resolved concurrently")

func (g *conflictGateway) ResolveConflict(ctx context.Context, token string, choice models.ConflictChoice) (*ConflictOutcome, error) {
	if _, err := models.ParseConflictChoice(string(choice)); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}

	conflict, err := g.conflictRepo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if conflict.Status == models.ConflictStatusResolved {
		return &ConflictOutcome{Conflict: conflict, AlreadyResolved: true}, nil
	}

	var result *models.FusionResult
	err = g.tx.WithTx(ctx, func(ctx context.Context) error {
		existing, err := g.factRepo.GetByID(ctx, conflict.ExistingFactID)
		if err != nil {
			return err
		}

		newFact := conflict.NewFactData
		if result, err = g.applier.ApplyResolution(ctx, existing, &newFact, choice, conflict.OwnerID); err != nil {
			return err
		}

		var resultFactID *uuid.UUID
		if result.ResultFact != nil {
			resultFactID = &result.ResultFact.ID
		}
		won, err := g.conflictRepo.MarkResolved(ctx, conflict.ID, choice, resultFactID, g.now())
		if err != nil {
			return err
		}
		if !won {
			return errLostRace
		}
		return nil
	})
	if err != nil {
		// A concurrent resolver may have committed first and made our branch
		// fail or lose the CAS. Either way the current row is the answer.
		current, readErr := g.conflictRepo.GetByToken(ctx, token)
		if readErr == nil && current.Status == models.ConflictStatusResolved {
			return &ConflictOutcome{Conflict: current, AlreadyResolved: true}, nil
		}
		return nil, fmt.Errorf("failed to resolve conflict %q: %w", token, err)
	}

	current, err := g.conflictRepo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	resolved := eventstream.NewConflictResolvedEvent(conflict.OwnerID.String(), token, string(choice), g.now())
	if current.ResultFactID != nil {
		resolved.ResultFactID = current.ResultFactID.String()
	}
	if err := g.publisher.PublishConflictResolved(ctx, resolved); err != nil {
		g.logger.Warn("Failed to publish conflict resolution", zap.String("token", token), zap.Error(err))
	}

	g.logger.Info("Conflict resolved",
		zap.String("token", token),
		zap.String("choice", string(choice)))

	return &ConflictOutcome{Conflict: current, Result: result}, nil
}

func (g *conflictGateway) ListPending(ctx context.Context, ownerID uuid.UUID, limit int) ([]*models.FactConflict, error) {
	return g.conflictRepo.ListPending(ctx, ownerID, limit)
}

// newConflictToken returns 8 lowercase base32 characters.
func newConflictToken() (string, error) {
	var b [5]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate conflict token: %w", err)
	}
	return strings.ToLower(tokenEncoding.EncodeToString(b[:])), nil
}

func uuidString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
