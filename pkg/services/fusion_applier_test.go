package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/config"
	"github.com/ekaya-inc/ekaya-fusion/pkg/models"
)

type applierFixture struct {
	repo     *mockFactRepo
	tx       *fakeTx
	applier  FusionApplier
	owner    uuid.UUID
	entityID uuid.UUID
	existing *models.Fact
}

func newApplierFixture(t *testing.T, confidence *float64) *applierFixture {
	t.Helper()
	f := &applierFixture{
		repo:     newMockFactRepo(),
		tx:       &fakeTx{},
		owner:    uuid.New(),
		entityID: uuid.New(),
	}
	f.applier = NewFusionApplier(f.repo, f.tx, config.DefaultFusionConfig(), zap.NewNop())
	f.existing = f.repo.add(&models.Fact{
		OwnerID:           f.owner,
		EntityID:          &f.entityID,
		FactType:          "position",
		Category:          "work",
		Value:             "Junior Developer",
		Confidence:        confidence,
		ConfirmationCount: 1,
		Rank:              models.FactRankNormal,
	})
	return f
}

func (f *applierFixture) proposal(value string) *models.NewFactData {
	return &models.NewFactData{Value: value, Source: models.FactSourceExtracted, Confidence: ptr(0.9)}
}

func TestFusionApplier_ConfirmRaisesConfidence(t *testing.T) {
	tests := []struct {
		name     string
		start    *float64
		expected float64
	}{
		{name: "regular", start: ptr(0.8), expected: 0.85},
		{name: "capped at one", start: ptr(0.98), expected: 1},
		{name: "already certain", start: ptr(1.0), expected: 1},
		{name: "unknown uses default", start: nil, expected: 0.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newApplierFixture(t, tt.start)
			before := f.existing.ConfidenceOr(0)

			result, err := f.applier.Apply(context.Background(), f.existing, f.proposal("Junior Developer"),
				models.FusionDecision{Action: models.FusionActionConfirm, Confidence: 1}, f.owner)
			require.NoError(t, err)

			assert.Equal(t, models.FusionResultUpdated, result.Action)
			assert.Equal(t, f.existing.ID, *result.ExistingFactID)
			require.NotNil(t, result.ResultFact.Confidence)
			assert.InDelta(t, tt.expected, *result.ResultFact.Confidence, 1e-9)
			assert.GreaterOrEqual(t, *result.ResultFact.Confidence, before)
			assert.Equal(t, 2, result.ResultFact.ConfirmationCount)
		})
	}
}

func TestFusionApplier_ConfirmsFromStaleSnapshotsAccumulate(t *testing.T) {
	f := newApplierFixture(t, ptr(0.8))
	snapshot := *f.existing
	decision := models.FusionDecision{Action: models.FusionActionConfirm, Confidence: 1}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stale := snapshot
			_, err := f.applier.Apply(context.Background(), &stale, f.proposal("Junior Developer"), decision, f.owner)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored := f.repo.get(f.existing.ID)
	assert.Equal(t, 3, stored.ConfirmationCount)
	assert.InDelta(t, 0.9, *stored.Confidence, 1e-9)
}

func TestFusionApplier_Enrich(t *testing.T) {
	f := newApplierFixture(t, ptr(0.8))

	merged := "Junior Developer at Acme"
	result, err := f.applier.Apply(context.Background(), f.existing, f.proposal("Developer at Acme"),
		models.FusionDecision{Action: models.FusionActionEnrich, MergedValue: &merged, Confidence: 0.9}, f.owner)
	require.NoError(t, err)

	assert.Equal(t, models.FusionResultUpdated, result.Action)
	assert.Equal(t, merged, result.ResultFact.Value)
	assert.InDelta(t, 0.9, *result.ResultFact.Confidence, 1e-9)
	assert.Len(t, f.repo.created, 0)
}

func TestFusionApplier_EnrichWithoutMergedValueIsSkipped(t *testing.T) {
	for _, merged := range []*string{nil, ptr("   ")} {
		f := newApplierFixture(t, ptr(0.8))

		result, err := f.applier.Apply(context.Background(), f.existing, f.proposal("Developer at Acme"),
			models.FusionDecision{Action: models.FusionActionEnrich, MergedValue: merged, Confidence: 0.9}, f.owner)
		require.NoError(t, err)

		assert.Equal(t, models.FusionResultSkipped, result.Action)
		assert.Equal(t, "Junior Developer", f.repo.get(f.existing.ID).Value)
		assert.InDelta(t, 0.8, *f.repo.get(f.existing.ID).Confidence, 1e-9)
	}
}

func TestFusionApplier_SupersedeLeavesOneCurrentFact(t *testing.T) {
	f := newApplierFixture(t, ptr(0.8))

	result, err := f.applier.Apply(context.Background(), f.existing, f.proposal("Senior Developer"),
		models.FusionDecision{Action: models.FusionActionSupersede, Confidence: 0.9}, f.owner)
	require.NoError(t, err)

	assert.Equal(t, models.FusionResultCreated, result.Action)
	created := result.ResultFact
	require.NotNil(t, created)
	assert.Equal(t, "Senior Developer", created.Value)
	assert.Equal(t, models.FactRankPreferred, created.Rank)
	assert.Equal(t, f.existing.ID, *created.SupersedesID)
	assert.Equal(t, f.entityID, *created.EntityID)
	assert.Equal(t, "position", created.FactType)
	assert.Equal(t, "work", created.Category)

	old := f.repo.get(f.existing.ID)
	require.NotNil(t, old.ValidUntil)
	assert.Equal(t, created.ID, *old.SupersededByID)
	assert.Equal(t, 1, f.repo.currentCount())
	assert.EqualValues(t, 1, f.tx.calls.Load())
}

func TestFusionApplier_SupersedeFailurePropagates(t *testing.T) {
	f := newApplierFixture(t, ptr(0.8))
	f.repo.supersedeErr = errors.New("connection reset")

	_, err := f.applier.Apply(context.Background(), f.existing, f.proposal("Senior Developer"),
		models.FusionDecision{Action: models.FusionActionSupersede, Confidence: 0.9}, f.owner)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestFusionApplier_Coexist(t *testing.T) {
	f := newApplierFixture(t, ptr(0.8))

	result, err := f.applier.Apply(context.Background(), f.existing, f.proposal("Open source maintainer"),
		models.FusionDecision{Action: models.FusionActionCoexist, Confidence: 0.85}, f.owner)
	require.NoError(t, err)

	assert.Equal(t, models.FusionResultCreated, result.Action)
	assert.Equal(t, models.FactRankNormal, result.ResultFact.Rank)
	assert.Nil(t, result.ResultFact.SupersedesID)
	assert.Equal(t, 2, f.repo.currentCount())
}

func TestFusionApplier_ConflictFlagsExisting(t *testing.T) {
	f := newApplierFixture(t, ptr(0.8))
	proposal := f.proposal("Retired")

	result, err := f.applier.Apply(context.Background(), f.existing, proposal,
		models.FusionDecision{Action: models.FusionActionConflict, Explanation: "cannot both be true"}, f.owner)
	require.NoError(t, err)

	assert.Equal(t, models.FusionResultSkipped, result.Action)
	assert.True(t, result.NeedsReview)
	assert.Same(t, proposal, result.NewFactData)
	assert.Equal(t, "Conflict: cannot both be true", result.Reason)

	stored := f.repo.get(f.existing.ID)
	assert.True(t, stored.NeedsReview)
	assert.Equal(t, "cannot both be true", *stored.ReviewReason)
	assert.Len(t, f.repo.created, 0)
}

func TestFusionApplier_UnknownActionIsSkipped(t *testing.T) {
	f := newApplierFixture(t, ptr(0.8))

	result, err := f.applier.Apply(context.Background(), f.existing, f.proposal("x"),
		models.FusionDecision{Action: "MERGE"}, f.owner)
	require.NoError(t, err)

	assert.Equal(t, models.FusionResultSkipped, result.Action)
	assert.Same(t, f.existing, result.ResultFact)
	assert.Len(t, f.repo.created, 0)
}

func TestFusionApplier_ApplyResolution(t *testing.T) {
	t.Run("use new supersedes", func(t *testing.T) {
		f := newApplierFixture(t, ptr(0.8))
		f.existing.NeedsReview = true

		result, err := f.applier.ApplyResolution(context.Background(), f.existing, f.proposal("Senior Developer"), models.ConflictChoiceUseNew, f.owner)
		require.NoError(t, err)

		assert.Equal(t, models.FusionResultCreated, result.Action)
		assert.Equal(t, "Senior Developer", result.ResultFact.Value)
		assert.Equal(t, 1, f.repo.currentCount())
		assert.False(t, f.repo.get(f.existing.ID).IsCurrent())
	})

	t.Run("keep old clears review and counts confirmation", func(t *testing.T) {
		f := newApplierFixture(t, ptr(0.8))
		_, err := f.repo.MarkNeedsReview(context.Background(), f.existing.ID, "conflict")
		require.NoError(t, err)

		result, err := f.applier.ApplyResolution(context.Background(), f.existing, f.proposal("Senior Developer"), models.ConflictChoiceKeepOld, f.owner)
		require.NoError(t, err)

		assert.Equal(t, models.FusionResultUpdated, result.Action)
		assert.False(t, result.ResultFact.NeedsReview)
		assert.Equal(t, 2, result.ResultFact.ConfirmationCount)
		assert.Len(t, f.repo.created, 0)
	})

	t.Run("keep both coexists", func(t *testing.T) {
		f := newApplierFixture(t, ptr(0.8))
		_, err := f.repo.MarkNeedsReview(context.Background(), f.existing.ID, "conflict")
		require.NoError(t, err)

		result, err := f.applier.ApplyResolution(context.Background(), f.existing, f.proposal("Senior Developer"), models.ConflictChoiceKeepBoth, f.owner)
		require.NoError(t, err)

		assert.Equal(t, models.FusionResultCreated, result.Action)
		assert.Equal(t, 2, f.repo.currentCount())
		old := f.repo.get(f.existing.ID)
		assert.False(t, old.NeedsReview)
		assert.Equal(t, 1, old.ConfirmationCount)
	})

	t.Run("unknown choice", func(t *testing.T) {
		f := newApplierFixture(t, ptr(0.8))

		_, err := f.applier.ApplyResolution(context.Background(), f.existing, f.proposal("x"), "discard", f.owner)
		assert.Error(t, err)
	})
}
