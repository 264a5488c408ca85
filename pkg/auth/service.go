package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// CookieName is the cookie browser clients carry the JWT in.
const CookieName = "fusion_jwt"

var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
	ErrMissingOwnerID       = errors.New("missing owner ID in token")
)

// AuthService extracts and validates the caller's token.
type AuthService interface {
	// ValidateRequest reads the JWT from the Authorization header, falling
	// back to the fusion_jwt cookie, and validates it.
	ValidateRequest(r *http.Request) (*Claims, error)
}

type authService struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(validator TokenValidator, logger *zap.Logger) AuthService {
	return &authService{
		validator: validator,
		logger:    logger.Named("auth"),
	}
}

func (s *authService) ValidateRequest(r *http.Request) (*Claims, error) {
	tokenString, source, err := s.extractToken(r)
	if err != nil {
		s.logger.Debug("No usable JWT in request",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		return nil, err
	}

	claims, err := s.validator.ValidateToken(tokenString)
	if err != nil {
		s.logger.Debug("JWT validation failed",
			zap.String("path", r.URL.Path),
			zap.String("token_source", source),
			zap.Error(err))
		return nil, err
	}
	if claims.OwnerID == "" {
		return nil, ErrMissingOwnerID
	}
	return claims, nil
}

func (s *authService) extractToken(r *http.Request) (token, source string, err error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, value, ok := strings.Cut(header, " ")
		if !ok || scheme != "Bearer" || value == "" || strings.Contains(value, " ") {
			return "", "", ErrInvalidAuthFormat
		}
		return value, "header", nil
	}
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value, "cookie", nil
	}
	return "", "", ErrMissingAuthorization
}

var _ AuthService = (*authService)(nil)
