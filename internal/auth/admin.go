// ABOUTME: Flat API key gate for operator-only endpoints
// ABOUTME: Constant-time comparison against a configured allow-list, outside the session model

package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// APIKeyHeader is the header carrying the operator key.
const APIKeyHeader = "X-API-Key"

// Admin gate errors
var (
	ErrMissingAPIKey = errors.New("missing API key")
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// KeyGate checks a submitted static key against a configured allow-list.
// It is intentionally simpler than the session/token model: a shared secret
// with a narrow blast radius covering only the operator surface.
type KeyGate struct {
	keys []string
}

// NewKeyGate creates a gate for the given keys. Empty entries are dropped.
func NewKeyGate(keys []string) *KeyGate {
	valid := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			valid = append(valid, k)
		}
	}
	return &KeyGate{keys: valid}
}

// Check validates the key from the request header. Returns ErrMissingAPIKey
// when no key was submitted and ErrInvalidAPIKey when it matches nothing in
// the allow-list. Comparison is constant-time per configured key.
func (g *KeyGate) Check(r *http.Request) error {
	submitted := r.Header.Get(APIKeyHeader)
	if submitted == "" {
		return ErrMissingAPIKey
	}

	// Compare against every key so timing does not reveal an early match.
	matched := 0
	for _, key := range g.keys {
		if len(key) == len(submitted) {
			matched |= subtle.ConstantTimeCompare([]byte(key), []byte(submitted))
		}
	}
	if matched != 1 {
		return ErrInvalidAPIKey
	}

	return nil
}
