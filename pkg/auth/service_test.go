package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

type mockValidator struct {
	claims   *Claims
	err      error
	gotToken string
}

func (m *mockValidator) ValidateToken(tokenString string) (*Claims, error) {
	m.gotToken = tokenString
	if m.err != nil {
		return nil, m.err
	}
	return m.claims, nil
}

func (m *mockValidator) Close() {}

func TestAuthService_ValidateRequest_AuthHeader(t *testing.T) {
	v := &mockValidator{claims: &Claims{OwnerID: "owner-1"}}
	service := NewAuthService(v, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/conflicts/abc/resolve", nil)
	req.Header.Set("Authorization", "Bearer my-jwt-token")

	claims, err := service.ValidateRequest(req)
	if err != nil {
		t.Fatalf("ValidateRequest failed: %v", err)
	}
	if v.gotToken != "my-jwt-token" {
		t.Errorf("expected token 'my-jwt-token', got %q", v.gotToken)
	}
	if claims.OwnerID != "owner-1" {
		t.Errorf("expected OwnerID 'owner-1', got %q", claims.OwnerID)
	}
}

func TestAuthService_ValidateRequest_CookieFallback(t *testing.T) {
	v := &mockValidator{claims: &Claims{OwnerID: "owner-1"}}
	service := NewAuthService(v, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/confirmations", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "cookie-token"})

	if _, err := service.ValidateRequest(req); err != nil {
		t.Fatalf("ValidateRequest failed: %v", err)
	}
	if v.gotToken != "cookie-token" {
		t.Errorf("expected cookie token, got %q", v.gotToken)
	}
}

func TestAuthService_ValidateRequest_Errors(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		claims  *Claims
		valErr  error
		wantErr error
	}{
		{name: "no credentials", wantErr: ErrMissingAuthorization},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", wantErr: ErrInvalidAuthFormat},
		{name: "bearer without token", header: "Bearer", wantErr: ErrInvalidAuthFormat},
		{name: "extra parts", header: "Bearer a b", wantErr: ErrInvalidAuthFormat},
		{name: "missing owner", header: "Bearer tok", claims: &Claims{}, wantErr: ErrMissingOwnerID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := NewAuthService(&mockValidator{claims: tt.claims, err: tt.valErr}, zap.NewNop())
			req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			_, err := service.ValidateRequest(req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAuthService_ValidateRequest_InvalidToken(t *testing.T) {
	validationErr := errors.New("signature invalid")
	service := NewAuthService(&mockValidator{err: validationErr}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Authorization", "Bearer bad")

	if _, err := service.ValidateRequest(req); !errors.Is(err, validationErr) {
		t.Errorf("expected validation error, got %v", err)
	}
}
