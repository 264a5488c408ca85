// Package testhelpers provides utilities for testing ekaya-fusion components.
package testhelpers

import (
	"encoding/base64"
	"fmt"
)

// GenerateTestJWT creates a test JWT token for use when verification is disabled.
// The token has a valid structure but no signature (alg: none) and carries
// the owner id in the "oid" claim.
func GenerateTestJWT(sub, ownerID string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

	payload := fmt.Sprintf(`{"sub":"%s","aud":"fusion"`, sub)
	if ownerID != "" {
		payload += fmt.Sprintf(`,"oid":"%s"`, ownerID)
	}
	payload += "}"

	encodedPayload := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return fmt.Sprintf("%s.%s.", header, encodedPayload)
}

// GenerateTestJWTWithBearer returns token with "Bearer " prefix for Authorization header.
func GenerateTestJWTWithBearer(sub, ownerID string) string {
	return "Bearer " + GenerateTestJWT(sub, ownerID)
}
