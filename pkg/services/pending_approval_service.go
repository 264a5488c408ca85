package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fusion/pkg/database"
	"github.com/ekaya-inc/ekaya-fusion/pkg/models"
	"github.com/ekaya-inc/ekaya-fusion/pkg/repositories"
)

// RetentionPolicy decides what rejecting a draft does to its target.
type RetentionPolicy struct {
	// Days keeps rejected targets soft-deleted for this long. Zero hard-deletes.
	Days int
}

// HardDelete reports whether rejection removes rows outright.
func (p RetentionPolicy) HardDelete() bool {
	return p.Days <= 0
}

// Cutoff is the soft-delete time before which rejected targets are purged.
func (p RetentionPolicy) Cutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -p.Days)
}

// DraftItem is one extracted record to hold for review. Exactly one of
// Fact, Activity and Commitment is set.
type DraftItem struct {
	Fact       *models.NewFactData `json:"fact,omitempty"`
	Activity   *models.Activity    `json:"activity,omitempty"`
	Commitment *models.Commitment  `json:"commitment,omitempty"`

	Confidence          *float64 `json:"confidence,omitempty"`
	SourceQuote         *string  `json:"source_quote,omitempty"`
	SourceInteractionID *string  `json:"source_interaction_id,omitempty"`
	MessageRef          *string  `json:"message_ref,omitempty"`
}

// DraftBatch reports a CreateDraftBatch call.
type DraftBatch struct {
	BatchID   uuid.UUID                 `json:"batch_id"`
	Approvals []*models.PendingApproval `json:"approvals"`
	// Skipped counts items below the approval confidence threshold.
	Skipped int `json:"skipped"`
}

// PendingApprovalService manages drafts waiting for opt-in promotion.
type PendingApprovalService interface {
	Create(ctx context.Context, a *models.PendingApproval) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PendingApproval, error)

	// Approve activates the target and marks the approval APPROVED atomically.
	// A non-PENDING approval fails with apperrors.ErrConflict; a missing target
	// with apperrors.ErrNotFound.
	Approve(ctx context.Context, id uuid.UUID) (*models.PendingApproval, error)

	// Reject soft- or hard-deletes the target according to the retention policy.
	// A missing target returns apperrors.ErrNotFound and leaves the approval PENDING.
	Reject(ctx context.Context, id uuid.UUID) (*models.PendingApproval, error)

	ApproveBatch(ctx context.Context, ownerID, batchID uuid.UUID) (*models.BatchResult, error)
	RejectBatch(ctx context.Context, ownerID, batchID uuid.UUID) (*models.BatchResult, error)
	GetBatchStats(ctx context.Context, batchID uuid.UUID) (*models.BatchStats, error)
	ListPending(ctx context.Context, ownerID uuid.UUID, batchID *uuid.UUID, limit, offset int) ([]*models.PendingApproval, error)

	// CreateDraftBatch stores drafts and their approvals under a new batch id.
	CreateDraftBatch(ctx context.Context, ownerID uuid.UUID, items []DraftItem) (*DraftBatch, error)

	// PurgeRejected hard-deletes targets rejected longer ago than the retention window.
	PurgeRejected(ctx context.Context) (int64, error)
}

type pendingApprovalService struct {
	approvalRepo   repositories.PendingApprovalRepository
	factRepo       repositories.FactRepository
	activityRepo   repositories.ActivityRepository
	commitmentRepo repositories.CommitmentRepository
	targets        map[models.ApprovalItemType]repositories.DraftTarget
	tx             database.TxRunner
	policy         RetentionPolicy
	minConfidence  float64
	now            func() time.Time
	logger         *zap.Logger
}

// NewPendingApprovalService creates a PendingApprovalService.
func NewPendingApprovalService(
	approvalRepo repositories.PendingApprovalRepository,
	factRepo repositories.FactRepository,
	activityRepo repositories.ActivityRepository,
	commitmentRepo repositories.CommitmentRepository,
	tx database.TxRunner,
	policy RetentionPolicy,
	minConfidence float64,
	logger *zap.Logger,
) PendingApprovalService {
	return &pendingApprovalService{
		approvalRepo:   approvalRepo,
		factRepo:       factRepo,
		activityRepo:   activityRepo,
		commitmentRepo: commitmentRepo,
		targets: map[models.ApprovalItemType]repositories.DraftTarget{
			models.ApprovalItemFact:       factRepo,
			models.ApprovalItemActivity:   activityRepo,
			models.ApprovalItemCommitment: commitmentRepo,
		},
		tx:            tx,
		policy:        policy,
		minConfidence: minConfidence,
		now:           time.Now,
		logger:        logger.Named("pending-approval"),
	}
}

var _ PendingApprovalService = (*pendingApprovalService)(nil)

const batchPageSize = 200

func (s *pendingApprovalService) Create(ctx context.Context, a *models.PendingApproval) error {
	if !a.ItemType.IsValid() {
		return fmt.Errorf("%w: unknown item type %q", apperrors.ErrInvalidInput, a.ItemType)
	}
	if a.TargetID == uuid.Nil {
		return fmt.Errorf("%w: target_id is required", apperrors.ErrInvalidInput)
	}
	if a.BatchID == uuid.Nil {
		a.BatchID = uuid.New()
	}
	a.Status = models.ApprovalStatusPending
	return s.approvalRepo.Create(ctx, a)
}

func (s *pendingApprovalService) GetByID(ctx context.Context, id uuid.UUID) (*models.PendingApproval, error) {
	return s.approvalRepo.GetByID(ctx, id)
}

func (s *pendingApprovalService) Approve(ctx context.Context, id uuid.UUID) (*models.PendingApproval, error) {
	var approval *models.PendingApproval
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.loadPending(ctx, id)
		if err != nil {
			return err
		}

		target, err := s.target(a.ItemType)
		if err != nil {
			return err
		}
		activated, err := target.Activate(ctx, a.TargetID)
		if err != nil {
			return err
		}
		if !activated {
			return fmt.Errorf("%s target %s: %w", a.ItemType, a.TargetID, apperrors.ErrNotFound)
		}

		now := s.now()
		if err := s.markReviewed(ctx, a, models.ApprovalStatusApproved, now); err != nil {
			return err
		}
		approval = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Approved draft",
		zap.String("approval_id", id.String()),
		zap.String("item_type", string(approval.ItemType)))
	return approval, nil
}

func (s *pendingApprovalService) Reject(ctx context.Context, id uuid.UUID) (*models.PendingApproval, error) {
	var approval *models.PendingApproval
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.loadPending(ctx, id)
		if err != nil {
			return err
		}

		target, err := s.target(a.ItemType)
		if err != nil {
			return err
		}
		remove := target.SoftDelete
		if s.policy.HardDelete() {
			remove = target.HardDelete
		}
		removed, err := remove(ctx, a.TargetID)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%s target %s: %w", a.ItemType, a.TargetID, apperrors.ErrNotFound)
		}

		if err := s.markReviewed(ctx, a, models.ApprovalStatusRejected, s.now()); err != nil {
			return err
		}
		if s.policy.HardDelete() {
			if err := s.approvalRepo.Delete(ctx, a.ID); err != nil {
				return err
			}
		}

		approval = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Rejected draft",
		zap.String("approval_id", id.String()),
		zap.Bool("hard_delete", s.policy.HardDelete()))
	return approval, nil
}

func (s *pendingApprovalService) loadPending(ctx context.Context, id uuid.UUID) (*models.PendingApproval, error) {
	a, err := s.approvalRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != models.ApprovalStatusPending {
		return nil, fmt.Errorf("approval %s is already %s: %w", id, a.Status, apperrors.ErrConflict)
	}
	return a, nil
}

func (s *pendingApprovalService) markReviewed(ctx context.Context, a *models.PendingApproval, status models.ApprovalStatus, at time.Time) error {
	ok, err := s.approvalRepo.MarkReviewed(ctx, a.ID, status, at)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("approval %s was reviewed concurrently: %w", a.ID, apperrors.ErrConflict)
	}
	a.Status = status
	a.ReviewedAt = &at
	return nil
}

func (s *pendingApprovalService) target(t models.ApprovalItemType) (repositories.DraftTarget, error) {
	target, ok := s.targets[t]
	if !ok {
		return nil, fmt.Errorf("%w: unknown item type %q", apperrors.ErrInvalidInput, t)
	}
	return target, nil
}

func (s *pendingApprovalService) ApproveBatch(ctx context.Context, ownerID, batchID uuid.UUID) (*models.BatchResult, error) {
	return s.processBatch(ctx, ownerID, batchID, s.Approve)
}

func (s *pendingApprovalService) RejectBatch(ctx context.Context, ownerID, batchID uuid.UUID) (*models.BatchResult, error) {
	return s.processBatch(ctx, ownerID, batchID, s.Reject)
}

// processBatch applies op to every PENDING approval of the batch. Each item
// runs in its own transaction so one failure leaves the others applied.
func (s *pendingApprovalService) processBatch(ctx context.Context, ownerID, batchID uuid.UUID, op func(context.Context, uuid.UUID) (*models.PendingApproval, error)) (*models.BatchResult, error) {
	var ids []uuid.UUID
	for offset := 0; ; offset += batchPageSize {
		page, err := s.approvalRepo.ListPending(ctx, ownerID, &batchID, batchPageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, a := range page {
			ids = append(ids, a.ID)
		}
		if len(page) < batchPageSize {
			break
		}
	}

	result := &models.BatchResult{Errors: []string{}}
	for _, id := range ids {
		if _, err := op(ctx, id); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", id, err))
			s.logger.Warn("Batch item failed",
				zap.String("batch_id", batchID.String()),
				zap.String("approval_id", id.String()),
				zap.Error(err))
			continue
		}
		result.Processed++
	}

	s.logger.Info("Processed approval batch",
		zap.String("batch_id", batchID.String()),
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (s *pendingApprovalService) GetBatchStats(ctx context.Context, batchID uuid.UUID) (*models.BatchStats, error) {
	counts, err := s.approvalRepo.CountByStatus(ctx, batchID)
	if err != nil {
		return nil, err
	}
	stats := &models.BatchStats{
		Pending:  counts[models.ApprovalStatusPending],
		Approved: counts[models.ApprovalStatusApproved],
		Rejected: counts[models.ApprovalStatusRejected],
	}
	stats.Total = stats.Pending + stats.Approved + stats.Rejected
	return stats, nil
}

func (s *pendingApprovalService) ListPending(ctx context.Context, ownerID uuid.UUID, batchID *uuid.UUID, limit, offset int) ([]*models.PendingApproval, error) {
	return s.approvalRepo.ListPending(ctx, ownerID, batchID, limit, offset)
}

func (s *pendingApprovalService) CreateDraftBatch(ctx context.Context, ownerID uuid.UUID, items []DraftItem) (*DraftBatch, error) {
	for i, item := range items {
		if n := countSet(item.Fact != nil, item.Activity != nil, item.Commitment != nil); n != 1 {
			return nil, fmt.Errorf("%w: item %d must carry exactly one of fact, activity, commitment", apperrors.ErrInvalidInput, i)
		}
	}

	batch := &DraftBatch{BatchID: uuid.New(), Approvals: []*models.PendingApproval{}}
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		for _, item := range items {
			if item.Confidence != nil && *item.Confidence < s.minConfidence {
				batch.Skipped++
				continue
			}

			itemType, targetID, err := s.createDraft(ctx, ownerID, item)
			if err != nil {
				return err
			}
			batch.Approvals = append(batch.Approvals, &models.PendingApproval{
				OwnerID:             ownerID,
				ItemType:            itemType,
				TargetID:            targetID,
				BatchID:             batch.BatchID,
				Status:              models.ApprovalStatusPending,
				Confidence:          item.Confidence,
				SourceQuote:         item.SourceQuote,
				SourceInteractionID: item.SourceInteractionID,
				MessageRef:          item.MessageRef,
			})
		}
		if len(batch.Approvals) == 0 {
			return nil
		}
		return s.approvalRepo.CreateBatch(ctx, batch.Approvals)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create draft batch: %w", err)
	}

	s.logger.Info("Created draft batch",
		zap.String("batch_id", batch.BatchID.String()),
		zap.Int("drafts", len(batch.Approvals)),
		zap.Int("skipped", batch.Skipped))
	return batch, nil
}

func (s *pendingApprovalService) createDraft(ctx context.Context, ownerID uuid.UUID, item DraftItem) (models.ApprovalItemType, uuid.UUID, error) {
	switch {
	case item.Fact != nil:
		if err := validateNewFact(item.Fact); err != nil {
			return "", uuid.Nil, err
		}
		fact := item.Fact.ToFact(ownerID)
		fact.Status = models.RecordStatusDraft
		if fact.SourceInteractionID == nil {
			fact.SourceInteractionID = item.SourceInteractionID
		}
		if err := s.factRepo.Create(ctx, fact); err != nil {
			return "", uuid.Nil, err
		}
		return models.ApprovalItemFact, fact.ID, nil

	case item.Activity != nil:
		a := item.Activity
		a.OwnerID = ownerID
		a.Status = models.RecordStatusDraft
		if err := s.activityRepo.Create(ctx, a); err != nil {
			return "", uuid.Nil, err
		}
		return models.ApprovalItemActivity, a.ID, nil

	default:
		c := item.Commitment
		c.OwnerID = ownerID
		c.Status = models.RecordStatusDraft
		if err := s.commitmentRepo.Create(ctx, c); err != nil {
			return "", uuid.Nil, err
		}
		return models.ApprovalItemCommitment, c.ID, nil
	}
}

func (s *pendingApprovalService) PurgeRejected(ctx context.Context) (int64, error) {
	if s.policy.HardDelete() {
		return 0, nil
	}

	cutoff := s.policy.Cutoff(s.now())
	var total int64
	for _, t := range []models.ApprovalItemType{models.ApprovalItemFact, models.ApprovalItemActivity, models.ApprovalItemCommitment} {
		n, err := s.targets[t].PurgeDeleted(ctx, cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to purge rejected %s drafts: %w", t, err)
		}
		total += n
	}

	if total > 0 {
		s.logger.Info("Purged rejected drafts",
			zap.Int("retention_days", s.policy.Days),
			zap.Int64("deleted", total))
	}
	return total, nil
}

func countSet(flags ...bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
