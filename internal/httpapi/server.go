// ABOUTME: HTTP server assembly: router, middleware wiring, lifecycle
// ABOUTME: Run blocks until context cancellation, then shuts down gracefully

package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nanofed/coordinator/internal/auth"
	"github.com/nanofed/coordinator/internal/enroll"
	"github.com/nanofed/coordinator/internal/ratelimit"
	"github.com/nanofed/coordinator/internal/store"
	"github.com/nanofed/coordinator/internal/token"
)

// tokenDecoder decodes a token's claims without verifying its signature.
// Used only to enrich security log lines, never for authorization.
type tokenDecoder interface {
	DecodeUnverified(tokenString string) (*auth.Claims, error)
}

// Options configures a Server.
type Options struct {
	Addr         string
	MaxBodyBytes int64
	Store        store.Store
	Enroll       *enroll.Service
	Tokens       *token.Service
	JWT          *auth.JWTManager
	Keys         *auth.KeyGate
	Limiter      *ratelimit.Limiter
}

// Server is the coordinator's HTTP API surface.
type Server struct {
	addr         string
	maxBodyBytes int64
	store        store.Store
	enroll       *enroll.Service
	tokens       *token.Service
	verifier     auth.TokenVerifier
	decoder      tokenDecoder
	keys         *auth.KeyGate
	limiter      *ratelimit.Limiter
	httpServer   *http.Server
	logger       *slog.Logger
}

// New assembles the server and its router.
func New(opts Options) *Server {
	s := &Server{
		addr:         opts.Addr,
		maxBodyBytes: opts.MaxBodyBytes,
		store:        opts.Store,
		enroll:       opts.Enroll,
		tokens:       opts.Tokens,
		verifier:     opts.JWT,
		decoder:      opts.JWT,
		keys:         opts.Keys,
		limiter:      opts.Limiter,
		logger:       slog.Default().With("component", "httpapi"),
	}

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// routes builds the router with the middleware chain. Ordering matters: the
// body limit runs before anything reads the body, the rate limiter before
// any work is done, and input screening before handlers decode JSON.
func (s *Server) routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.withRateLimit, s.withInputScreen)

	api.HandleFunc("/enroll/request", s.handleEnrollRequest).Methods(http.MethodPost)
	api.HandleFunc("/enroll/verify", s.handleEnrollVerify).Methods(http.MethodPost)
	api.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)

	authed := api.PathPrefix("/auth").Subrouter()
	authed.Use(s.withAuth)
	authed.HandleFunc("/whoami", s.handleWhoami).Methods(http.MethodGet)
	authed.HandleFunc("/revoke", s.handleRevoke).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.withAdminKey)
	admin.HandleFunc("/agents", s.handleAdminListAgents).Methods(http.MethodGet)
	admin.HandleFunc("/agents/{id}/deactivate", s.handleAdminDeactivateAgent).Methods(http.MethodPost)
	admin.HandleFunc("/sessions/{id}/revoke", s.handleAdminRevokeSession).Methods(http.MethodPost)
	admin.HandleFunc("/audit", s.handleAdminAudit).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeInvalidRequest, "method not allowed")
	})

	return s.withBodyLimit(r)
}

// Handler exposes the assembled handler chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the server and blocks until the context is canceled or the
// server fails. A background reclaimer drops expired challenges and sessions
// so lazily expired rows do not accumulate.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	go s.reclaimExpired(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// reclaimExpired periodically deletes expired challenges and sessions.
func (s *Server) reclaimExpired(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n, err := s.store.DeleteExpiredChallenges(ctx); err != nil {
				s.logger.Warn("reclaiming expired challenges", "error", err)
			} else if n > 0 {
				s.logger.Debug("reclaimed expired challenges", "count", n)
			}
			if n, err := s.store.DeleteExpiredSessions(ctx); err != nil {
				s.logger.Warn("reclaiming expired sessions", "error", err)
			} else if n > 0 {
				s.logger.Debug("reclaimed expired sessions", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
