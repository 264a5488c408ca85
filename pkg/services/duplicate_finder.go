package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/config"
	"github.com/ekaya-inc/ekaya-fusion/pkg/llm"
	"github.com/ekaya-inc/ekaya-fusion/pkg/models"
	"github.com/ekaya-inc/ekaya-fusion/pkg/repositories"
)

// DuplicateFinder finds existing records that may duplicate a new one.
// Results are ordered by similarity, highest first. An exact match is
// returned alone.
type DuplicateFinder interface {
	FindFactCandidates(ctx context.Context, ownerID uuid.UUID, fact *models.NewFactData) ([]models.Candidate[*models.Fact], error)
	FindActivityCandidates(ctx context.Context, ownerID uuid.UUID, activity *models.Activity) ([]models.Candidate[*models.Activity], error)
	FindCommitmentCandidates(ctx context.Context, ownerID uuid.UUID, commitment *models.Commitment) ([]models.Candidate[*models.Commitment], error)
	FindEntityCandidates(ctx context.Context, ownerID uuid.UUID, entity EntityQuery) ([]models.Candidate[*models.Entity], error)
}

// EntityQuery describes an entity mention to match against known entities.
type EntityQuery struct {
	Name       string
	EntityType string
	Embedding  []float32
}

type duplicateFinder struct {
	factRepo       repositories.FactRepository
	activityRepo   repositories.ActivityRepository
	commitmentRepo repositories.CommitmentRepository
	entityRepo     repositories.EntityRepository
	embedder       llm.Embedder
	cfg            config.DedupConfig
	logger         *zap.Logger
}

// NewDuplicateFinder creates a DuplicateFinder. embedder may be nil, in which
// case only exact and lexical matching run.
func NewDuplicateFinder(
	factRepo repositories.FactRepository,
	activityRepo repositories.ActivityRepository,
	commitmentRepo repositories.CommitmentRepository,
	entityRepo repositories.EntityRepository,
	embedder llm.Embedder,
	cfg config.DedupConfig,
	logger *zap.Logger,
) DuplicateFinder {
	return &duplicateFinder{
		factRepo:       factRepo,
		activityRepo:   activityRepo,
		commitmentRepo: commitmentRepo,
		entityRepo:     entityRepo,
		embedder:       embedder,
		cfg:            cfg,
		logger:         logger.Named("duplicate-finder"),
	}
}

var _ DuplicateFinder = (*duplicateFinder)(nil)

func (f *duplicateFinder) FindFactCandidates(ctx context.Context, ownerID uuid.UUID, fact *models.NewFactData) ([]models.Candidate[*models.Fact], error) {
	exact, err := f.factRepo.FindExactCurrent(ctx, ownerID, fact.EntityID, fact.FactType, fact.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to find exact fact: %w", err)
	}
	if exact != nil {
		return []models.Candidate[*models.Fact]{{Record: exact, Similarity: 1, MatchKind: models.MatchKindExact}}, nil
	}

	current, err := f.factRepo.ListCurrent(ctx, ownerID, fact.EntityID, fact.FactType)
	if err != nil {
		return nil, fmt.Errorf("failed to list current facts: %w", err)
	}

	temporal := f.cfg.IsTemporalFactType(fact.FactType)
	seen := make(map[uuid.UUID]bool)
	var out []models.Candidate[*models.Fact]

	for _, existing := range current {
		s := LexicalSimilarity(existing.Value, fact.Value)
		switch {
		case s >= f.cfg.ExactThreshold:
			out = append(out, models.Candidate[*models.Fact]{Record: existing, Similarity: s, MatchKind: models.MatchKindExact})
		case temporal && s >= f.cfg.TemporalUpdateThreshold:
			out = append(out, models.Candidate[*models.Fact]{Record: existing, Similarity: s, MatchKind: models.MatchKindTemporalUpdate})
		default:
			continue
		}
		seen[existing.ID] = true
	}

	embedding := f.embeddingFor(ctx, fact.Embedding, "fact", fact.FactType+": "+fact.Value)
	if len(embedding) > 0 {
		fact.Embedding = embedding
		similar, err := f.factRepo.FindSimilar(ctx, ownerID, fact.FactType, embedding, f.cfg.SemanticMinSimilarity, f.cfg.SemanticLimit)
		if err != nil {
			f.logger.Warn("Semantic fact search failed, continuing without it",
				zap.String("fact_type", fact.FactType),
				zap.Error(err))
		}
		for _, sf := range similar {
			if seen[sf.Fact.ID] || !sameEntity(sf.Fact.EntityID, fact.EntityID) {
				continue
			}
			out = append(out, models.Candidate[*models.Fact]{Record: sf.Fact, Similarity: sf.Similarity, MatchKind: models.MatchKindSemantic})
		}
	}

	sortCandidates(out)
	return out, nil
}

func (f *duplicateFinder) FindActivityCandidates(ctx context.Context, ownerID uuid.UUID, activity *models.Activity) ([]models.Candidate[*models.Activity], error) {
	exact, err := f.activityRepo.FindExact(ctx, ownerID, activity.ActivityType, activity.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to find exact activity: %w", err)
	}
	if exact != nil {
		return []models.Candidate[*models.Activity]{{Record: exact, Similarity: 1, MatchKind: models.MatchKindExact}}, nil
	}

	embedding := f.embeddingFor(ctx, activity.Embedding, "activity", describe(activity.Name, activity.Description))
	if len(embedding) == 0 {
		return nil, nil
	}
	activity.Embedding = embedding

	similar, err := f.activityRepo.FindSimilar(ctx, ownerID, embedding, f.cfg.SemanticMinSimilarity, f.cfg.SemanticLimit)
	if err != nil {
		f.logger.Warn("Semantic activity search failed, continuing without it", zap.Error(err))
		return nil, nil
	}

	out := make([]models.Candidate[*models.Activity], 0, len(similar))
	for _, sa := range similar {
		out = append(out, models.Candidate[*models.Activity]{Record: sa.Activity, Similarity: sa.Similarity, MatchKind: models.MatchKindSemantic})
	}
	sortCandidates(out)
	return out, nil
}

func (f *duplicateFinder) FindCommitmentCandidates(ctx context.Context, ownerID uuid.UUID, commitment *models.Commitment) ([]models.Candidate[*models.Commitment], error) {
	exact, err := f.commitmentRepo.FindExactTitle(ctx, ownerID, commitment.Title)
	if err != nil {
		return nil, fmt.Errorf("failed to find exact commitment: %w", err)
	}
	if exact != nil {
		return []models.Candidate[*models.Commitment]{{Record: exact, Similarity: 1, MatchKind: models.MatchKindExact}}, nil
	}

	embedding := f.embeddingFor(ctx, commitment.Embedding, "commitment", describe(commitment.Title, commitment.Description))
	if len(embedding) == 0 {
		return nil, nil
	}
	commitment.Embedding = embedding

	similar, err := f.commitmentRepo.FindSimilar(ctx, ownerID, embedding, f.cfg.SemanticMinSimilarity, f.cfg.SemanticLimit)
	if err != nil {
		f.logger.Warn("Semantic commitment search failed, continuing without it", zap.Error(err))
		return nil, nil
	}

	out := make([]models.Candidate[*models.Commitment], 0, len(similar))
	for _, sc := range similar {
		out = append(out, models.Candidate[*models.Commitment]{Record: sc.Commitment, Similarity: sc.Similarity, MatchKind: models.MatchKindSemantic})
	}
	sortCandidates(out)
	return out, nil
}

func (f *duplicateFinder) FindEntityCandidates(ctx context.Context, ownerID uuid.UUID, q EntityQuery) ([]models.Candidate[*models.Entity], error) {
	exact, err := f.entityRepo.FindExact(ctx, ownerID, q.EntityType, q.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to find exact entity: %w", err)
	}
	if exact != nil {
		return []models.Candidate[*models.Entity]{{Record: exact, Similarity: 1, MatchKind: models.MatchKindExact}}, nil
	}

	var out []models.Candidate[*models.Entity]

	embedding := f.embeddingFor(ctx, q.Embedding, "entity", q.Name)
	if len(embedding) > 0 {
		similar, err := f.entityRepo.FindSimilar(ctx, ownerID, q.EntityType, embedding, f.cfg.SemanticMinSimilarity, f.cfg.SemanticLimit)
		if err != nil {
			f.logger.Warn("Semantic entity search failed, falling back to name matching", zap.Error(err))
		} else {
			for _, se := range similar {
				out = append(out, models.Candidate[*models.Entity]{Record: se.Entity, Similarity: se.Similarity, MatchKind: models.MatchKindSemantic})
			}
			sortCandidates(out)
			return out, nil
		}
	}

	partial, err := f.entityRepo.FindByPartialName(ctx, ownerID, q.EntityType, q.Name, f.cfg.SemanticLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to find entities by name: %w", err)
	}
	for _, e := range partial {
		out = append(out, models.Candidate[*models.Entity]{Record: e, Similarity: LexicalSimilarity(e.Name, q.Name), MatchKind: models.MatchKindPartialName})
	}
	sortCandidates(out)
	return out, nil
}

// embeddingFor returns given when present, otherwise asks the embedder.
// Failures are logged and yield nil so callers skip semantic matching.
func (f *duplicateFinder) embeddingFor(ctx context.Context, given []float32, kind, text string) []float32 {
	if len(given) > 0 {
		return given
	}
	if f.embedder == nil || strings.TrimSpace(text) == "" {
		return nil
	}

	embedding, err := f.embedder.Embed(ctx, text)
	if err != nil {
		f.logger.Warn("Embedding unavailable, skipping semantic match",
			zap.String("kind", kind),
			zap.String("error_type", string(llm.GetErrorType(err))),
			zap.Error(err))
		return nil
	}
	return embedding
}

func describe(name string, description *string) string {
	if description == nil || *description == "" {
		return name
	}
	return name + ": " + *description
}

func sameEntity(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sortCandidates[T any](c []models.Candidate[T]) {
	sort.SliceStable(c, func(i, j int) bool {
		return c[i].Similarity > c[j].Similarity
	})
}
