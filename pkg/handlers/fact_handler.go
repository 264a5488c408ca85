package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/auth"
	"github.com/ekaya-inc/ekaya-fusion/pkg/models"
	"github.com/ekaya-inc/ekaya-fusion/pkg/services"
)

// FactHandler runs proposed facts through the fusion pipeline.
type FactHandler struct {
	fusion services.FactFusionService
	logger *zap.Logger
}

// NewFactHandler creates a new fact handler.
func NewFactHandler(fusion services.FactFusionService, logger *zap.Logger) *FactHandler {
	return &FactHandler{fusion: fusion, logger: logger}
}

// RegisterRoutes registers the fact handler's routes on the given mux.
func (h *FactHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, owner OwnerMiddleware) {
	mux.HandleFunc("POST /api/facts/process", authMiddleware.RequireAuth(owner(h.Process)))
}

type processFactRequest struct {
	Fact *models.NewFactData `json:"fact"`
	// Context is the conversation excerpt the fact came from.
	Context string `json:"context,omitempty"`
}

// Process handles POST /api/facts/process
func (h *FactHandler) Process(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := RequireOwner(w, r, h.logger)
	if !ok {
		return
	}

	var req processFactRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	result, err := h.fusion.ProcessFact(r.Context(), ownerID, req.Fact, req.Context)
	if err != nil {
		ServiceError(w, err, h.logger, "Failed to process fact")
		return
	}

	status := http.StatusOK
	if result.Action == models.FusionResultCreated {
		status = http.StatusCreated
	}
	writeOK(w, status, result, h.logger)
}
