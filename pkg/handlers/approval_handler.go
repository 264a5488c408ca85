package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/audit"
	"github.com/ekaya-inc/ekaya-fusion/pkg/auth"
	"github.com/ekaya-inc/ekaya-fusion/pkg/models"
	"github.com/ekaya-inc/ekaya-fusion/pkg/services"
)

// ApprovalHandler handles review of extracted drafts.
type ApprovalHandler struct {
	approvals services.PendingApprovalService
	auditor   *audit.SecurityAuditor
	logger    *zap.Logger
}

// NewApprovalHandler creates a new approval handler.
func NewApprovalHandler(approvals services.PendingApprovalService, logger *zap.Logger) *ApprovalHandler {
	return &ApprovalHandler{approvals: approvals, auditor: audit.NewSecurityAuditor(logger), logger: logger}
}

// RegisterRoutes registers the approval handler's routes on the given mux.
func (h *ApprovalHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, owner OwnerMiddleware) {
	base := "/api/approvals"

	mux.HandleFunc("GET "+base, authMiddleware.RequireAuth(owner(h.List)))
	mux.HandleFunc("POST "+base+"/drafts", authMiddleware.RequireAuth(owner(h.CreateDrafts)))
	mux.HandleFunc("POST "+base+"/{id}/approve", authMiddleware.RequireAuth(owner(h.Approve)))
	mux.HandleFunc("POST "+base+"/{id}/reject", authMiddleware.RequireAuth(owner(h.Reject)))
	mux.HandleFunc("POST "+base+"/batches/{batch}/approve", authMiddleware.RequireAuth(owner(h.ApproveBatch)))
	mux.HandleFunc("POST "+base+"/batches/{batch}/reject", authMiddleware.RequireAuth(owner(h.RejectBatch)))
	mux.HandleFunc("GET "+base+"/batches/{batch}/stats", authMiddleware.RequireAuth(owner(h.BatchStats)))
}

type listApprovalsResponse struct {
	Approvals []*models.PendingApproval `json:"approvals"`
}

type createDraftsRequest struct {
	Items []services.DraftItem `json:"items"`
}

// List handles GET /api/approvals?batch_id=&limit=&offset=
func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := RequireOwner(w, r, h.logger)
	if !ok {
		return
	}
	limit, offset, ok := ParsePage(w, r, h.logger)
	if !ok {
		return
	}

	var batchID *uuid.UUID
	if s := r.URL.Query().Get("batch_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			writeBadParam(w, "batch_id must be a UUID", h.logger)
			return
		}
		batchID = &id
	}

	items, err := h.approvals.ListPending(r.Context(), ownerID, batchID, limit, offset)
	if err != nil {
		ServiceError(w, err, h.logger, "Failed to list approvals")
		return
	}
	if items == nil {
		items = []*models.PendingApproval{}
	}
	writeOK(w, http.StatusOK, listApprovalsResponse{Approvals: items}, h.logger)
}

// CreateDrafts handles POST /api/approvals/drafts
func (h *ApprovalHandler) CreateDrafts(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := RequireOwner(w, r, h.logger)
	if !ok {
		return
	}

	var req createDraftsRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	if len(req.Items) == 0 {
		writeBadParam(w, "items must not be empty", h.logger)
		return
	}

	batch, err := h.approvals.CreateDraftBatch(r.Context(), ownerID, req.Items)
	if err != nil {
		ServiceError(w, err, h.logger, "Failed to create drafts")
		return
	}
	writeOK(w, http.StatusCreated, batch, h.logger)
}

// Approve handles POST /api/approvals/{id}/approve
func (h *ApprovalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, "approve", h.approvals.Approve, "Failed to approve draft")
}

// Reject handles POST /api/approvals/{id}/reject
func (h *ApprovalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, "reject", h.approvals.Reject, "Failed to reject draft")
}

func (h *ApprovalHandler) review(w http.ResponseWriter, r *http.Request, decision string, op func(ctx context.Context, id uuid.UUID) (*models.PendingApproval, error), failure string) {
	id, ok := ParseID(w, r, h.logger)
	if !ok {
		return
	}

	a, err := op(r.Context(), id)
	if err != nil {
		ServiceError(w, err, h.logger, failure)
		return
	}
	h.auditor.LogDraftReviewed(r.Context(), audit.ReviewDetails{Decision: decision, ApprovalID: id.String()}, r.RemoteAddr)
	writeOK(w, http.StatusOK, a, h.logger)
}

// ApproveBatch handles POST /api/approvals/batches/{batch}/approve
func (h *ApprovalHandler) ApproveBatch(w http.ResponseWriter, r *http.Request) {
	h.reviewBatch(w, r, "approve", h.approvals.ApproveBatch, "Failed to approve batch")
}

// RejectBatch handles POST /api/approvals/batches/{batch}/reject
func (h *ApprovalHandler) RejectBatch(w http.ResponseWriter, r *http.Request) {
	h.reviewBatch(w, r, "reject", h.approvals.RejectBatch, "Failed to reject batch")
}

func (h *ApprovalHandler) reviewBatch(w http.ResponseWriter, r *http.Request, decision string, op func(ctx context.Context, ownerID, batchID uuid.UUID) (*models.BatchResult, error), failure string) {
	ownerID, ok := RequireOwner(w, r, h.logger)
	if !ok {
		return
	}
	batchID, ok := ParseBatchID(w, r, h.logger)
	if !ok {
		return
	}

	result, err := op(r.Context(), ownerID, batchID)
	if err != nil {
		ServiceError(w, err, h.logger, failure)
		return
	}
	h.auditor.LogDraftReviewed(r.Context(), audit.ReviewDetails{
		Decision:  decision,
		BatchID:   batchID.String(),
		Processed: result.Processed,
		Failed:    result.Failed,
	}, r.RemoteAddr)
	writeOK(w, http.StatusOK, result, h.logger)
}

// BatchStats handles GET /api/approvals/batches/{batch}/stats
func (h *ApprovalHandler) BatchStats(w http.ResponseWriter, r *http.Request) {
	batchID, ok := ParseBatchID(w, r, h.logger)
	if !ok {
		return
	}

	stats, err := h.approvals.GetBatchStats(r.Context(), batchID)
	if err != nil {
		ServiceError(w, err, h.logger, "Failed to get batch stats")
		return
	}
	writeOK(w, http.StatusOK, stats, h.logger)
}
