package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-fusion/pkg/auth"
	"github.com/ekaya-inc/ekaya-fusion/pkg/models"
	"github.com/ekaya-inc/ekaya-fusion/pkg/services"
)

// ============================================================================
// Request helpers
// ============================================================================

// newRequest builds a request carrying claims for ownerID. A nil body sends none.
func newRequest(t *testing.T, method, path string, body any, ownerID uuid.UUID) *http.Request {
	t.Helper()
	var req *http.Request
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if ownerID != uuid.Nil {
		req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{OwnerID: ownerID.String()}))
	}
	return req
}

// decodeData unwraps a success envelope into dst.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	require.True(t, envelope.Success)
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

// ============================================================================
// Service fakes
// ============================================================================

type mockFusionService struct {
	processFn func(ctx context.Context, ownerID uuid.UUID, f *models.NewFactData, contextText string) (*models.FusionResult, error)
}

func (m *mockFusionService) ProcessFact(ctx context.Context, ownerID uuid.UUID, f *models.NewFactData, contextText string) (*models.FusionResult, error) {
	return m.processFn(ctx, ownerID, f, contextText)
}

type mockConfirmationService struct {
	createFn     func(ctx context.Context, in services.CreateConfirmationInput) (*models.PendingConfirmation, error)
	getFn        func(ctx context.Context, id uuid.UUID) (*models.PendingConfirmation, error)
	resolveFn    func(ctx context.Context, id uuid.UUID, optionID string, resolution map[string]any) (*models.PendingConfirmation, error)
	getPendingFn func(ctx context.Context, ownerID uuid.UUID, filter models.PendingConfirmationFilter) ([]*models.PendingConfirmation, error)
}

func (m *mockConfirmationService) Create(ctx context.Context, in services.CreateConfirmationInput) (*models.PendingConfirmation, error) {
	return m.createFn(ctx, in)
}

func (m *mockConfirmationService) GetByID(ctx context.Context, id uuid.UUID) (*models.PendingConfirmation, error) {
	return m.getFn(ctx, id)
}

func (m *mockConfirmationService) Resolve(ctx context.Context, id uuid.UUID, optionID string, resolution map[string]any) (*models.PendingConfirmation, error) {
	return m.resolveFn(ctx, id, optionID, resolution)
}

func (m *mockConfirmationService) GetPending(ctx context.Context, ownerID uuid.UUID, filter models.PendingConfirmationFilter) ([]*models.PendingConfirmation, error) {
	return m.getPendingFn(ctx, ownerID, filter)
}

func (m *mockConfirmationService) ExpireOld(ctx context.Context) (int64, error) {
	return 0, nil
}

// mockApprovalService embeds the interface; unset methods panic when called.
type mockApprovalService struct {
	services.PendingApprovalService

	approveFn      func(ctx context.Context, id uuid.UUID) (*models.PendingApproval, error)
	rejectFn       func(ctx context.Context, id uuid.UUID) (*models.PendingApproval, error)
	approveBatchFn func(ctx context.Context, ownerID, batchID uuid.UUID) (*models.BatchResult, error)
	statsFn        func(ctx context.Context, batchID uuid.UUID) (*models.BatchStats, error)
	listFn         func(ctx context.Context, ownerID uuid.UUID, batchID *uuid.UUID, limit, offset int) ([]*models.PendingApproval, error)
	draftFn        func(ctx context.Context, ownerID uuid.UUID, items []services.DraftItem) (*services.DraftBatch, error)
}

func (m *mockApprovalService) Approve(ctx context.Context, id uuid.UUID) (*models.PendingApproval, error) {
	return m.approveFn(ctx, id)
}

func (m *mockApprovalService) Reject(ctx context.Context, id uuid.UUID) (*models.PendingApproval, error) {
	return m.rejectFn(ctx, id)
}

func (m *mockApprovalService) ApproveBatch(ctx context.Context, ownerID, batchID uuid.UUID) (*models.BatchResult, error) {
	return m.approveBatchFn(ctx, ownerID, batchID)
}

func (m *mockApprovalService) GetBatchStats(ctx context.Context, batchID uuid.UUID) (*models.BatchStats, error) {
	return m.statsFn(ctx, batchID)
}

func (m *mockApprovalService) ListPending(ctx context.Context, ownerID uuid.UUID, batchID *uuid.UUID, limit, offset int) ([]*models.PendingApproval, error) {
	return m.listFn(ctx, ownerID, batchID, limit, offset)
}

func (m *mockApprovalService) CreateDraftBatch(ctx context.Context, ownerID uuid.UUID, items []services.DraftItem) (*services.DraftBatch, error) {
	return m.draftFn(ctx, ownerID, items)
}

type mockConflictGateway struct {
	resolveFn func(ctx context.Context, token string, choice models.ConflictChoice) (*services.ConflictOutcome, error)
	listFn    func(ctx context.Context, ownerID uuid.UUID, limit int) ([]*models.FactConflict, error)
}

func (m *mockConflictGateway) NotifyConflict(ctx context.Context, existing *models.Fact, newFact *models.NewFactData, ownerID uuid.UUID, explanation string) (string, error) {
	return "", nil
}

func (m *mockConflictGateway) RecordConflict(ctx context.Context, existing *models.Fact, newFact *models.NewFactData, ownerID uuid.UUID, explanation string) (*models.FactConflict, error) {
	return nil, nil
}

func (m *mockConflictGateway) Announce(ctx context.Context, conflict *models.FactConflict, existing *models.Fact) {}

func (m *mockConflictGateway) ResolveConflict(ctx context.Context, token string, choice models.ConflictChoice) (*services.ConflictOutcome, error) {
	return m.resolveFn(ctx, token, choice)
}

func (m *mockConflictGateway) ListPending(ctx context.Context, ownerID uuid.UUID, limit int) ([]*models.FactConflict, error) {
	return m.listFn(ctx, ownerID, limit)
}

type mockResolver struct {
	attributeFactFn       func(ctx context.Context, ownerID uuid.UUID, in services.SubjectInput) (*services.Attribution, error)
	attributeIdentifierFn func(ctx context.Context, ownerID uuid.UUID, in services.IdentifierInput) (*services.Attribution, error)
	proposeMergeFn        func(ctx context.Context, ownerID, sourceID, targetID uuid.UUID, confidence float64) (*models.PendingConfirmation, error)
}

func (m *mockResolver) AttributeFact(ctx context.Context, ownerID uuid.UUID, in services.SubjectInput) (*services.Attribution, error) {
	return m.attributeFactFn(ctx, ownerID, in)
}

func (m *mockResolver) AttributeIdentifier(ctx context.Context, ownerID uuid.UUID, in services.IdentifierInput) (*services.Attribution, error) {
	return m.attributeIdentifierFn(ctx, ownerID, in)
}

func (m *mockResolver) ProposeMerge(ctx context.Context, ownerID, sourceID, targetID uuid.UUID, confidence float64) (*models.PendingConfirmation, error) {
	return m.proposeMergeFn(ctx, ownerID, sourceID, targetID, confidence)
}

type mockMerger struct {
	mergeFn func(ctx context.Context, sourceID, targetID uuid.UUID) error
}

func (m *mockMerger) MergeEntities(ctx context.Context, sourceID, targetID uuid.UUID) error {
	return m.mergeFn(ctx, sourceID, targetID)
}

// fakeAuthService accepts every request as owner.
type fakeAuthService struct {
	owner uuid.UUID
}

func (f *fakeAuthService) ValidateRequest(r *http.Request) (*auth.Claims, error) {
	return &auth.Claims{OwnerID: f.owner.String()}, nil
}

func passthrough(next http.HandlerFunc) http.HandlerFunc { return next }

var (
	_ services.FactFusionService          = (*mockFusionService)(nil)
	_ services.PendingConfirmationService = (*mockConfirmationService)(nil)
	_ services.PendingApprovalService     = (*mockApprovalService)(nil)
	_ services.ConflictGateway            = (*mockConflictGateway)(nil)
	_ services.EntityResolutionService    = (*mockResolver)(nil)
	_ services.EntityMergeService         = (*mockMerger)(nil)
	_ auth.AuthService                    = (*fakeAuthService)(nil)
)
