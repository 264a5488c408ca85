package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/auth"
	"github.com/ekaya-inc/ekaya-fusion/pkg/services"
)

// EntityHandler attributes facts and identifiers to entities and merges
// duplicates.
type EntityHandler struct {
	resolver services.EntityResolutionService
	merger   services.EntityMergeService
	logger   *zap.Logger
}

// NewEntityHandler creates a new entity handler.
func NewEntityHandler(resolver services.EntityResolutionService, merger services.EntityMergeService, logger *zap.Logger) *EntityHandler {
	return &EntityHandler{resolver: resolver, merger: merger, logger: logger}
}

// RegisterRoutes registers the entity handler's routes on the given mux.
func (h *EntityHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, owner OwnerMiddleware) {
	base := "/api/entities"

	mux.HandleFunc("POST "+base+"/attribute-fact", authMiddleware.RequireAuth(owner(h.AttributeFact)))
	mux.HandleFunc("POST "+base+"/attribute-identifier", authMiddleware.RequireAuth(owner(h.AttributeIdentifier)))
	mux.HandleFunc("POST "+base+"/merge-proposals", authMiddleware.RequireAuth(owner(h.ProposeMerge)))
	mux.HandleFunc("POST "+base+"/{id}/merge", authMiddleware.RequireAuth(owner(h.Merge)))
}

type proposeMergeRequest struct {
	SourceID   uuid.UUID `json:"source_id"`
	TargetID   uuid.UUID `json:"target_id"`
	Confidence float64   `json:"confidence"`
}

type mergeRequest struct {
	TargetID uuid.UUID `json:"target_id"`
}

// AttributeFact handles POST /api/entities/attribute-fact
func (h *EntityHandler) AttributeFact(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := RequireOwner(w, r, h.logger)
	if !ok {
		return
	}

	var in services.SubjectInput
	if !decodeBody(w, r, &in, h.logger) {
		return
	}
	if in.PendingFactID == uuid.Nil {
		writeBadParam(w, "pending_fact_id is required", h.logger)
		return
	}

	out, err := h.resolver.AttributeFact(r.Context(), ownerID, in)
	if err != nil {
		ServiceError(w, err, h.logger, "Failed to attribute fact")
		return
	}
	writeOK(w, http.StatusOK, out, h.logger)
}

// AttributeIdentifier handles POST /api/entities/attribute-identifier
func (h *EntityHandler) AttributeIdentifier(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := RequireOwner(w, r, h.logger)
	if !ok {
		return
	}

	var in services.IdentifierInput
	if !decodeBody(w, r, &in, h.logger) {
		return
	}

	out, err := h.resolver.AttributeIdentifier(r.Context(), ownerID, in)
	if err != nil {
		ServiceError(w, err, h.logger, "Failed to attribute identifier")
		return
	}
	writeOK(w, http.StatusOK, out, h.logger)
}

// ProposeMerge handles POST /api/entities/merge-proposals
func (h *EntityHandler) ProposeMerge(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := RequireOwner(w, r, h.logger)
	if !ok {
		return
	}

	var req proposeMergeRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		writeBadParam(w, "confidence must be between 0 and 1", h.logger)
		return
	}

	c, err := h.resolver.ProposeMerge(r.Context(), ownerID, req.SourceID, req.TargetID, req.Confidence)
	if err != nil {
		ServiceError(w, err, h.logger, "Failed to propose merge")
		return
	}
	writeOK(w, http.StatusCreated, c, h.logger)
}

// Merge handles POST /api/entities/{id}/merge. It merges {id} into target_id
// without asking.
func (h *EntityHandler) Merge(w http.ResponseWriter, r *http.Request) {
	sourceID, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	var req mergeRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	if err := h.merger.MergeEntities(r.Context(), sourceID, req.TargetID); err != nil {
		ServiceError(w, err, h.logger, "Failed to merge entities")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
