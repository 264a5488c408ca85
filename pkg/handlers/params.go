package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/auth"
)

// OwnerMiddleware wraps a handler with the owner-scoped database connection.
type OwnerMiddleware func(http.HandlerFunc) http.HandlerFunc

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ParseID extracts and validates the {id} path parameter.
// Returns uuid.Nil and false after writing an error response on failure.
func ParseID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "id", "invalid_id", "Invalid ID format", logger)
}

// ParseBatchID extracts and validates the {batch} path parameter.
func ParseBatchID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "batch", "invalid_batch_id", "Invalid batch ID format", logger)
}

// RequireOwner returns the owner of the authenticated caller.
func RequireOwner(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	ownerID, _, err := auth.RequireOwnerID(r.Context())
	if err != nil {
		if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Missing owner"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return ownerID, true
}

// ParsePage reads limit and offset query parameters. Missing values fall back
// to the defaults; limit is capped at maxListLimit.
func ParsePage(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (limit, offset int, ok bool) {
	limit, offset = defaultListLimit, 0
	q := r.URL.Query()

	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeBadParam(w, "limit must be a positive integer", logger)
			return 0, 0, false
		}
		limit = min(n, maxListLimit)
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeBadParam(w, "offset must be a non-negative integer", logger)
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(pathParam))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

func writeBadParam(w http.ResponseWriter, message string, logger *zap.Logger) {
	if err := ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
