package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-fusion/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fusion/pkg/models"
	"github.com/ekaya-inc/ekaya-fusion/pkg/services"
)

func TestConflictHandler_Resolve(t *testing.T) {
	tests := []struct {
		name       string
		choice     string
		outcome    *services.ConflictOutcome
		err        error
		wantStatus int
	}{
		{
			name:       "first answer",
			choice:     "use_new",
			outcome:    &services.ConflictOutcome{Conflict: &models.FactConflict{Token: "abcd2345", Status: models.ConflictStatusResolved}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "already answered",
			choice:     "keep_old",
			outcome:    &services.ConflictOutcome{Conflict: &models.FactConflict{Token: "abcd2345"}, AlreadyResolved: true},
			wantStatus: http.StatusOK,
		},
		{
			name:       "bad choice",
			choice:     "neither",
			err:        fmt.Errorf("%w: unknown conflict choice", apperrors.ErrInvalidInput),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown token",
			choice:     "use_new",
			err:        fmt.Errorf("conflict: %w", apperrors.ErrNotFound),
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotToken string
			var gotChoice models.ConflictChoice
			gw := &mockConflictGateway{resolveFn: func(ctx context.Context, token string, choice models.ConflictChoice) (*services.ConflictOutcome, error) {
				gotToken, gotChoice = token, choice
				return tt.outcome, tt.err
			}}
			mux := routed(NewConflictHandler(gw, zap.NewNop()), uuid.New())

			rec := serve(mux, newRequest(t, http.MethodPost, "/api/conflicts/abcd2345/resolve", resolveConflictRequest{Choice: tt.choice}, uuid.Nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "abcd2345", gotToken)
			assert.Equal(t, models.ConflictChoice(tt.choice), gotChoice)
			if tt.outcome != nil {
				var got services.ConflictOutcome
				decodeData(t, rec, &got)
				assert.Equal(t, tt.outcome.AlreadyResolved, got.AlreadyResolved)
			}
		})
	}
}

func TestConflictHandler_List(t *testing.T) {
	owner := uuid.New()
	gw := &mockConflictGateway{listFn: func(ctx context.Context, ownerID uuid.UUID, limit int) ([]*models.FactConflict, error) {
		assert.Equal(t, owner, ownerID)
		assert.Equal(t, 3, limit)
		return nil, nil
	}}
	mux := routed(NewConflictHandler(gw, zap.NewNop()), owner)

	rec := serve(mux, newRequest(t, http.MethodGet, "/api/conflicts?limit=3", nil, uuid.Nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"conflicts":[]}}`, rec.Body.String())

	rec = serve(mux, newRequest(t, http.MethodGet, "/api/conflicts?limit=x", nil, uuid.Nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConflictHandler_Resolve_AuditsDecisions(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	gw := &mockConflictGateway{resolveFn: func(ctx context.Context, token string, choice models.ConflictChoice) (*services.ConflictOutcome, error) {
		if token == "known234" {
			return &services.ConflictOutcome{Conflict: &models.FactConflict{Token: token}}, nil
		}
		return nil, fmt.Errorf("conflict: %w", apperrors.ErrNotFound)
	}}
	mux := routed(NewConflictHandler(gw, zap.New(core)), uuid.New())

	serve(mux, newRequest(t, http.MethodPost, "/api/conflicts/known234/resolve", resolveConflictRequest{Choice: "keep_both"}, uuid.Nil))
	serve(mux, newRequest(t, http.MethodPost, "/api/conflicts/guess777/resolve", resolveConflictRequest{Choice: "keep_both"}, uuid.Nil))

	audited := logs.Filter(func(e observer.LoggedEntry) bool { return e.LoggerName == "security_audit" }).All()
	require.Len(t, audited, 2)
	assert.Equal(t, "Conflict resolved", audited[0].Message)
	assert.Equal(t, "keep_both", audited[0].ContextMap()["choice"])
	assert.Equal(t, "Unknown conflict token", audited[1].Message)
	assert.Equal(t, "guess777", audited[1].ContextMap()["token"])
}
