// ABOUTME: Bearer token extraction helpers shared by the HTTP middleware layer
// ABOUTME: Header parsing only; verification lives in token.go

package auth

import (
	"strings"
)

// ExtractBearerToken extracts a bearer token from an Authorization header
// value. Returns the token and an error message (empty if successful).
func ExtractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}
