package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/auth"
	"github.com/ekaya-inc/ekaya-fusion/pkg/models"
	"github.com/ekaya-inc/ekaya-fusion/pkg/services"
)

// ConfirmationHandler exposes pending confirmations to the client that asks
// the user.
type ConfirmationHandler struct {
	confirmations services.PendingConfirmationService
	logger        *zap.Logger
}

// NewConfirmationHandler creates a new confirmation handler.
func NewConfirmationHandler(confirmations services.PendingConfirmationService, logger *zap.Logger) *ConfirmationHandler {
	return &ConfirmationHandler{confirmations: confirmations, logger: logger}
}

// RegisterRoutes registers the confirmation handler's routes on the given mux.
func (h *ConfirmationHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, owner OwnerMiddleware) {
	base := "/api/confirmations"

	mux.HandleFunc("GET "+base, authMiddleware.RequireAuth(owner(h.List)))
	mux.HandleFunc("POST "+base, authMiddleware.RequireAuth(owner(h.Create)))
	mux.HandleFunc("GET "+base+"/{id}", authMiddleware.RequireAuth(owner(h.Get)))
	mux.HandleFunc("POST "+base+"/{id}/resolve", authMiddleware.RequireAuth(owner(h.Resolve)))
}

type listConfirmationsResponse struct {
	Confirmations []*models.PendingConfirmation `json:"confirmations"`
}

type resolveConfirmationRequest struct {
	OptionID   string         `json:"option_id"`
	Resolution map[string]any `json:"resolution,omitempty"`
}

// List handles GET /api/confirmations?type=&entity_id=&limit=&offset=
func (h *ConfirmationHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := RequireOwner(w, r, h.logger)
	if !ok {
		return
	}
	limit, offset, ok := ParsePage(w, r, h.logger)
	if !ok {
		return
	}

	filter := models.PendingConfirmationFilter{Limit: limit, Offset: offset}
	if s := r.URL.Query().Get("type"); s != "" {
		t, err := models.ParseConfirmationType(s)
		if err != nil {
			writeBadParam(w, err.Error(), h.logger)
			return
		}
		filter.Type = &t
	}
	if s := r.URL.Query().Get("entity_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			writeBadParam(w, "entity_id must be a UUID", h.logger)
			return
		}
		filter.EntityID = &id
	}

	items, err := h.confirmations.GetPending(r.Context(), ownerID, filter)
	if err != nil {
		ServiceError(w, err, h.logger, "Failed to list confirmations")
		return
	}
	if items == nil {
		items = []*models.PendingConfirmation{}
	}
	writeOK(w, http.StatusOK, listConfirmationsResponse{Confirmations: items}, h.logger)
}

// Get handles GET /api/confirmations/{id}
func (h *ConfirmationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	c, err := h.confirmations.GetByID(r.Context(), id)
	if err != nil {
		ServiceError(w, err, h.logger, "Failed to get confirmation")
		return
	}
	writeOK(w, http.StatusOK, c, h.logger)
}

// Create handles POST /api/confirmations. The owner always comes from the token.
func (h *ConfirmationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := RequireOwner(w, r, h.logger)
	if !ok {
		return
	}

	var in services.CreateConfirmationInput
	if !decodeBody(w, r, &in, h.logger) {
		return
	}
	in.OwnerID = ownerID

	c, err := h.confirmations.Create(r.Context(), in)
	if err != nil {
		ServiceError(w, err, h.logger, "Failed to create confirmation")
		return
	}
	writeOK(w, http.StatusCreated, c, h.logger)
}

// Resolve handles POST /api/confirmations/{id}/resolve
func (h *ConfirmationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	var req resolveConfirmationRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	if req.OptionID == "" {
		writeBadParam(w, "option_id is required", h.logger)
		return
	}

	c, err := h.confirmations.Resolve(r.Context(), id, req.OptionID, req.Resolution)
	if err != nil {
		ServiceError(w, err, h.logger, "Failed to resolve confirmation")
		return
	}
	writeOK(w, http.StatusOK, c, h.logger)
}
