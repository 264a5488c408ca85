package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/database"
)

// RetentionService runs the sweeps that span every owner: expiring stale
// confirmations and purging rejected drafts past their retention window.
type RetentionService interface {
	// ExpireConfirmations flips overdue PENDING confirmations to EXPIRED.
	ExpireConfirmations(ctx context.Context) (int64, error)

	// PurgeRejected hard-deletes soft-deleted drafts older than the retention window.
	PurgeRejected(ctx context.Context) (int64, error)

	// RunExpiryScheduler starts a background goroutine that expires confirmations
	// on the given interval. It runs immediately on startup, then repeats every
	// interval. Cancel the context to stop the scheduler.
	RunExpiryScheduler(ctx context.Context, interval time.Duration)

	// RunPurgeScheduler is RunExpiryScheduler for PurgeRejected.
	RunPurgeScheduler(ctx context.Context, interval time.Duration)
}

type retentionService struct {
	scopes        database.ScopeProvider
	confirmations PendingConfirmationService
	approvals     PendingApprovalService
	logger        *zap.Logger
}

// NewRetentionService creates a RetentionService.
func NewRetentionService(
	scopes database.ScopeProvider,
	confirmations PendingConfirmationService,
	approvals PendingApprovalService,
	logger *zap.Logger,
) RetentionService {
	return &retentionService{
		scopes:        scopes,
		confirmations: confirmations,
		approvals:     approvals,
		logger:        logger.Named("retention-service"),
	}
}

var _ RetentionService = (*retentionService)(nil)

func (s *retentionService) ExpireConfirmations(ctx context.Context) (int64, error) {
	return s.sweep(ctx, "expire confirmations", s.confirmations.ExpireOld)
}

func (s *retentionService) PurgeRejected(ctx context.Context) (int64, error) {
	return s.sweep(ctx, "purge rejected drafts", s.approvals.PurgeRejected)
}

// sweep runs fn on a connection without owner context so RLS returns every row.
func (s *retentionService) sweep(ctx context.Context, name string, fn func(context.Context) (int64, error)) (int64, error) {
	sysCtx, cleanup, err := s.scopes.WithSystemScope(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire system scope: %w", err)
	}
	defer cleanup()

	n, err := fn(sysCtx)
	if err != nil {
		return n, fmt.Errorf("failed to %s: %w", name, err)
	}
	return n, nil
}

func (s *retentionService) RunExpiryScheduler(ctx context.Context, interval time.Duration) {
	s.runScheduler(ctx, "Expiry", interval, s.ExpireConfirmations)
}

func (s *retentionService) RunPurgeScheduler(ctx context.Context, interval time.Duration) {
	s.runScheduler(ctx, "Purge", interval, s.PurgeRejected)
}

func (s *retentionService) runScheduler(ctx context.Context, name string, interval time.Duration, fn func(context.Context) (int64, error)) {
	go func() {
		s.logger.Info(name+" scheduler started", zap.Duration("interval", interval))

		// Run immediately on startup, then at each interval
		s.runOnce(ctx, name, fn)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info(name + " scheduler stopped")
				return
			case <-ticker.C:
				s.runOnce(ctx, name, fn)
			}
		}
	}()
}

func (s *retentionService) runOnce(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	if ctx.Err() != nil {
		return
	}
	if _, err := fn(ctx); err != nil {
		s.logger.Error(name+" scheduler: sweep failed", zap.Error(err))
	}
}
