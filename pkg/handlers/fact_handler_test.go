package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fusion/pkg/auth"
	"github.com/ekaya-inc/ekaya-fusion/pkg/models"
)

type routeRegistrar interface {
	RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, owner OwnerMiddleware)
}

// routed registers handler routes behind an auth middleware that accepts
// every request as owner.
func routed(h routeRegistrar, owner uuid.UUID) *http.ServeMux {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux, auth.NewMiddleware(&fakeAuthService{owner: owner}, zap.NewNop()), passthrough)
	return mux
}

func serve(mux *http.ServeMux, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestFactHandler_Process(t *testing.T) {
	owner := uuid.New()

	tests := []struct {
		name       string
		result     *models.FusionResult
		err        error
		wantStatus int
	}{
		{name: "created", result: &models.FusionResult{Action: models.FusionResultCreated}, wantStatus: http.StatusCreated},
		{name: "confirmed", result: &models.FusionResult{Action: models.FusionResultUpdated}, wantStatus: http.StatusOK},
		{name: "conflict raised", result: &models.FusionResult{Action: models.FusionResultSkipped, NeedsReview: true, ConflictToken: "abcd2345"}, wantStatus: http.StatusOK},
		{name: "invalid fact", err: fmt.Errorf("%w: value is required", apperrors.ErrInvalidInput), wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotOwner uuid.UUID
			var gotContext string
			svc := &mockFusionService{processFn: func(ctx context.Context, ownerID uuid.UUID, f *models.NewFactData, contextText string) (*models.FusionResult, error) {
				gotOwner, gotContext = ownerID, contextText
				return tt.result, tt.err
			}}
			mux := routed(NewFactHandler(svc, zap.NewNop()), owner)

			body := processFactRequest{Fact: &models.NewFactData{FactType: "city", Value: "Oslo"}, Context: "moved last year"}
			rec := serve(mux, newRequest(t, http.MethodPost, "/api/facts/process", body, uuid.Nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, owner, gotOwner)
			assert.Equal(t, "moved last year", gotContext)
			if tt.result != nil {
				var got models.FusionResult
				decodeData(t, rec, &got)
				assert.Equal(t, tt.result.Action, got.Action)
				assert.Equal(t, tt.result.ConflictToken, got.ConflictToken)
			}
		})
	}
}

func TestFactHandler_Process_BadBody(t *testing.T) {
	svc := &mockFusionService{processFn: func(ctx context.Context, ownerID uuid.UUID, f *models.NewFactData, contextText string) (*models.FusionResult, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}}
	mux := routed(NewFactHandler(svc, zap.NewNop()), uuid.New())

	req := httptest.NewRequest(http.MethodPost, "/api/facts/process", strings.NewReader("{not json"))
	rec := serve(mux, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rec)["error"])
}

func TestFactHandler_Process_RequiresOwner(t *testing.T) {
	h := NewFactHandler(&mockFusionService{}, zap.NewNop())
	rec := httptest.NewRecorder()

	h.Process(rec, newRequest(t, http.MethodPost, "/api/facts/process", processFactRequest{}, uuid.Nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
