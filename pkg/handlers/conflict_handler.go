package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fusion/pkg/audit"
	"github.com/ekaya-inc/ekaya-fusion/pkg/auth"
	"github.com/ekaya-inc/ekaya-fusion/pkg/models"
	"github.com/ekaya-inc/ekaya-fusion/pkg/services"
)

// ConflictHandler serves the callback embedded in conflict notifications.
type ConflictHandler struct {
	gateway services.ConflictGateway
	auditor *audit.SecurityAuditor
	logger  *zap.Logger
}

// NewConflictHandler creates a new conflict handler.
func NewConflictHandler(gateway services.ConflictGateway, logger *zap.Logger) *ConflictHandler {
	return &ConflictHandler{gateway: gateway, auditor: audit.NewSecurityAuditor(logger), logger: logger}
}

// RegisterRoutes registers the conflict handler's routes on the given mux.
func (h *ConflictHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, owner OwnerMiddleware) {
	mux.HandleFunc("GET /api/conflicts", authMiddleware.RequireAuth(owner(h.List)))
	mux.HandleFunc("POST /api/conflicts/{token}/resolve", authMiddleware.RequireAuth(owner(h.Resolve)))
}

type listConflictsResponse struct {
	Conflicts []*models.FactConflict `json:"conflicts"`
}

type resolveConflictRequest struct {
	Choice string `json:"choice"`
}

// List handles GET /api/conflicts?limit=
func (h *ConflictHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := RequireOwner(w, r, h.logger)
	if !ok {
		return
	}

	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeBadParam(w, "limit must be a positive integer", h.logger)
			return
		}
		limit = min(n, maxListLimit)
	}

	items, err := h.gateway.ListPending(r.Context(), ownerID, limit)
	if err != nil {
		ServiceError(w, err, h.logger, "Failed to list conflicts")
		return
	}
	if items == nil {
		items = []*models.FactConflict{}
	}
	writeOK(w, http.StatusOK, listConflictsResponse{Conflicts: items}, h.logger)
}

// Resolve handles POST /api/conflicts/{token}/resolve. Answering a token that
// is already resolved returns 200 with already_resolved set.
func (h *ConflictHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if token == "" {
		writeBadParam(w, "token is required", h.logger)
		return
	}

	var req resolveConflictRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	out, err := h.gateway.ResolveConflict(r.Context(), token, models.ConflictChoice(req.Choice))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.auditor.LogUnknownConflictToken(r.Context(), token, r.RemoteAddr)
		}
		ServiceError(w, err, h.logger, "Failed to resolve conflict")
		return
	}
	h.auditor.LogConflictResolved(r.Context(), token, req.Choice, out.AlreadyResolved, r.RemoteAddr)
	writeOK(w, http.StatusOK, out, h.logger)
}
