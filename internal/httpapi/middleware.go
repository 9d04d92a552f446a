// ABOUTME: HTTP middleware chain: body size guard, rate limiting, bearer auth, admin gate
// ABOUTME: Security-relevant rejections are logged with the caller's address, never the payload

package httpapi

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nanofed/coordinator/internal/auth"
)

// clientIP resolves the caller's address, preferring proxy headers when
// present. X-Forwarded-For may carry a chain; the first hop is the client.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// withBodyLimit rejects oversized payloads before any handler reads the body.
// Declared lengths fail fast on Content-Length; chained MaxBytesReader covers
// callers that lie about or omit the length.
func (s *Server) withBodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > s.maxBodyBytes {
			writeError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", s.maxBodyBytes))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// withRateLimit admits or rejects by client address and stamps the
// X-RateLimit-* headers either way.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		res := s.limiter.Allow(ip)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))

		if !res.Allowed {
			retryAfter := int(time.Until(res.Reset).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			s.logger.Warn("rate limit exceeded", "remote_ip", ip, "path", r.URL.Path)
			writeError(w, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withAuth verifies the bearer access token, checks the backing session and
// agent are still live, and attaches the identity to the request context.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, errMsg := auth.ExtractBearerToken(r.Header.Get("Authorization"))
		if errMsg != "" {
			writeError(w, http.StatusUnauthorized, CodeAccessInvalid, errMsg)
			return
		}

		claims, err := s.verifier.Verify(tokenString)
		if err != nil {
			s.rejectToken(w, r, tokenString, err)
			return
		}

		session, err := s.store.GetSession(r.Context(), claims.SessionID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, CodeAccessInvalid, "invalid access token")
			return
		}
		if session.Revoked {
			writeError(w, http.StatusUnauthorized, CodeRefreshRevoked, "session revoked")
			return
		}

		agent, err := s.store.GetAgent(r.Context(), claims.AgentID)
		if err != nil || !agent.Active() {
			writeError(w, http.StatusUnauthorized, CodeAccessInvalid, "agent deactivated")
			return
		}

		ctx := auth.WithAuth(r.Context(), &auth.AuthContext{
			AgentID:   claims.AgentID,
			SessionID: claims.SessionID,
			Roles:     claims.Roles,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rejectToken maps a verification failure onto the envelope. An algorithm
// mismatch is a forgery attempt, not a client mistake, and is logged loudly.
func (s *Server) rejectToken(w http.ResponseWriter, r *http.Request, tokenString string, err error) {
	switch {
	case errors.Is(err, auth.ErrAlgorithmMismatch):
		fields := []any{"security", "algorithm_mismatch", "remote_ip", clientIP(r)}
		if claims, decErr := s.decoder.DecodeUnverified(tokenString); decErr == nil {
			// Unverified claims: for the log line only, never authorization.
			fields = append(fields, "claimed_agent_id", claims.AgentID)
		}
		s.logger.Warn("rejected token with unexpected signing algorithm", fields...)
		writeError(w, http.StatusUnauthorized, CodeAlgorithmMismatch, "unexpected signing algorithm")
	case errors.Is(err, auth.ErrAccessExpired):
		writeError(w, http.StatusUnauthorized, CodeAccessExpired, "access token expired")
	default:
		writeError(w, http.StatusUnauthorized, CodeAccessInvalid, "invalid access token")
	}
}

// withAdminKey gates operator endpoints behind the static key allow-list.
func (s *Server) withAdminKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.keys.Check(r); err != nil {
			switch {
			case errors.Is(err, auth.ErrMissingAPIKey):
				writeError(w, http.StatusUnauthorized, CodeMissingAPIKey, "missing API key")
			default:
				s.logger.Warn("rejected admin key", "remote_ip", clientIP(r), "path", r.URL.Path)
				writeError(w, http.StatusForbidden, CodeInvalidAPIKey, "invalid API key")
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}
