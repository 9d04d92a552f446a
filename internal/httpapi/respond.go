// ABOUTME: JSON response envelope and error-to-status mapping for the HTTP API
// ABOUTME: Every error leaves the API as {success:false, error:{code, message}}

package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nanofed/coordinator/internal/auth"
	"github.com/nanofed/coordinator/internal/enroll"
	"github.com/nanofed/coordinator/internal/store"
	"github.com/nanofed/coordinator/internal/token"
)

// Stable machine-readable error codes surfaced in the envelope.
const (
	CodeChallengeNotFound = "CHALLENGE_NOT_FOUND"
	CodeChallengeExpired  = "CHALLENGE_EXPIRED"
	CodeChallengeConsumed = "CHALLENGE_ALREADY_CONSUMED"
	CodeSignatureInvalid  = "SIGNATURE_INVALID"
	CodeNameConflict      = "NAME_CONFLICT"
	CodeAccessInvalid     = "ACCESS_INVALID"
	CodeAccessExpired     = "ACCESS_EXPIRED"
	CodeRefreshInvalid    = "REFRESH_INVALID"
	CodeRefreshExpired    = "REFRESH_EXPIRED"
	CodeRefreshRevoked    = "REFRESH_REVOKED"
	CodeAlgorithmMismatch = "ALGORITHM_MISMATCH"
	CodeRateLimited       = "RATE_LIMIT_EXCEEDED"
	CodeSuspiciousInput   = "SUSPICIOUS_INPUT"
	CodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeMissingAPIKey     = "MISSING_API_KEY"
	CodeInvalidAPIKey     = "INVALID_API_KEY"
	CodeNotFound          = "NOT_FOUND"
	CodeInternal          = "INTERNAL_ERROR"
)

// envelope is the uniform response shape.
type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON writes a success envelope.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		slog.Default().Error("encoding response", "error", err)
	}
}

// writeError writes a failure envelope with the given code and message.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error:   &apiError{Code: code, Message: message},
	}); err != nil {
		slog.Default().Error("encoding error response", "error", err)
	}
}

// writeServiceError maps domain errors onto HTTP status and envelope codes.
// Unrecognized errors are masked as INTERNAL_ERROR so internals never leak.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrChallengeNotFound):
		writeError(w, http.StatusNotFound, CodeChallengeNotFound, "challenge not found")
	case errors.Is(err, store.ErrChallengeExpired):
		writeError(w, http.StatusGone, CodeChallengeExpired, "challenge expired")
	case errors.Is(err, store.ErrChallengeConsumed):
		writeError(w, http.StatusConflict, CodeChallengeConsumed, "challenge already consumed")
	case errors.Is(err, auth.ErrSignatureInvalid):
		writeError(w, http.StatusUnauthorized, CodeSignatureInvalid, "signature verification failed")
	case errors.Is(err, enroll.ErrNameConflict):
		writeError(w, http.StatusConflict, CodeNameConflict, "agent name already registered")
	case errors.Is(err, auth.ErrPublicKeyInvalid):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid public key")
	case errors.Is(err, token.ErrRefreshInvalid):
		writeError(w, http.StatusUnauthorized, CodeRefreshInvalid, "invalid refresh token")
	case errors.Is(err, token.ErrRefreshExpired):
		writeError(w, http.StatusUnauthorized, CodeRefreshExpired, "refresh token expired")
	case errors.Is(err, token.ErrRefreshRevoked):
		writeError(w, http.StatusUnauthorized, CodeRefreshRevoked, "session revoked")
	case errors.Is(err, store.ErrAgentNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, "agent not found")
	case errors.Is(err, store.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, "session not found")
	default:
		s.logger.Error("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}
