package database

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fusion/pkg/auth"
)

// WithOwnerContext scopes every request to the owner named in its JWT claims.
// It must run inside auth.Middleware.RequireAuth. The scope is released when
// the handler returns.
func WithOwnerContext(scopes ScopeProvider, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.GetClaims(r.Context())
			if !ok {
				logger.Error("Owner scope requested without authenticated claims", zap.String("path", r.URL.Path))
				writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
				return
			}

			ownerID, err := claims.Owner()
			switch {
			case errors.Is(err, auth.ErrMissingOwnerID):
				writeError(w, http.StatusBadRequest, "missing_owner_id", "Token carries no owner")
				return
			case err != nil:
				logger.Warn("Rejected malformed owner claim",
					zap.String("owner_id", claims.OwnerID),
					zap.Error(err))
				writeError(w, http.StatusBadRequest, "invalid_owner_id", "Invalid owner ID format")
				return
			}

			ctx, release, err := scopes.WithOwnerScope(r.Context(), ownerID)
			if err != nil {
				logger.Error("Failed to open owner scope",
					zap.String("owner_id", ownerID.String()),
					zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "database_unavailable", "Database connection error")
				return
			}
			defer release()

			next(w, r.WithContext(ctx))
		}
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
