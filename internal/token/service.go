// ABOUTME: Token service issuing, refreshing, and revoking access/refresh pairs
// ABOUTME: Refresh rotation is atomic; a rotated-out token never verifies again

package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nanofed/coordinator/internal/auth"
	"github.com/nanofed/coordinator/internal/store"
)

// Refresh errors
var (
	ErrRefreshInvalid = errors.New("invalid refresh token")
	ErrRefreshExpired = errors.New("refresh token expired")
	ErrRefreshRevoked = errors.New("session revoked")
)

// Pair is a freshly minted access/refresh token pair bound to a session.
// The refresh token appears here exactly once; only its hash is persisted.
type Pair struct {
	SessionID        string
	AgentID          string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Service mints, rotates, and revokes sessions.
type Service struct {
	store      store.Store
	jwt        *auth.JWTManager
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *slog.Logger
}

// New creates a token service.
func New(st store.Store, jwt *auth.JWTManager, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{
		store:      st,
		jwt:        jwt,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		logger:     slog.Default().With("component", "token"),
	}
}

// Issue mints a new session for the given agent: a self-contained signed
// access token and an opaque refresh token that is random, stored only as a
// hash, and not self-describing.
func (s *Service) Issue(ctx context.Context, agent *store.AgentIdentity) (*Pair, error) {
	now := time.Now()
	sessionID := "ses_" + uuid.NewString()

	refreshToken, refreshHash, err := newRefreshToken()
	if err != nil {
		return nil, err
	}

	accessToken, err := s.jwt.Generate(agent.ID, sessionID, agent.Roles, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("generating access token: %w", err)
	}

	session := &store.Session{
		ID:               sessionID,
		AgentID:          agent.ID,
		RefreshHash:      refreshHash,
		IssuedAt:         now,
		AccessExpiresAt:  now.Add(s.accessTTL),
		RefreshExpiresAt: now.Add(s.refreshTTL),
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Info("issued session", "session_id", sessionID, "agent_id", agent.ID)

	return &Pair{
		SessionID:        sessionID,
		AgentID:          agent.ID,
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  session.AccessExpiresAt,
		RefreshExpiresAt: session.RefreshExpiresAt,
	}, nil
}

// Refresh rotates a session: the presented refresh token is exchanged for a
// new access/refresh pair and the old refresh token stops verifying at the
// instant the swap commits, with no grace window. A concurrent refresh with
// the same old token loses the conditional update and gets ErrRefreshInvalid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Pair, error) {
	oldHash := hashToken(refreshToken)

	session, err := s.store.GetSessionByRefreshHash(ctx, oldHash)
	if errors.Is(err, store.ErrSessionNotFound) {
		return nil, ErrRefreshInvalid
	}
	if err != nil {
		return nil, err
	}

	if session.Revoked {
		return nil, ErrRefreshRevoked
	}
	if time.Now().After(session.RefreshExpiresAt) {
		return nil, ErrRefreshExpired
	}

	agent, err := s.store.GetAgent(ctx, session.AgentID)
	if errors.Is(err, store.ErrAgentNotFound) {
		return nil, ErrRefreshInvalid
	}
	if err != nil {
		return nil, err
	}
	if !agent.Active() {
		return nil, ErrRefreshRevoked
	}

	now := time.Now()
	newRefresh, newHash, err := newRefreshToken()
	if err != nil {
		return nil, err
	}

	accessToken, err := s.jwt.Generate(agent.ID, session.ID, agent.Roles, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("generating access token: %w", err)
	}

	accessExpiresAt := now.Add(s.accessTTL)
	refreshExpiresAt := now.Add(s.refreshTTL)

	// The swap is keyed on the old hash: whoever commits first wins, every
	// other concurrent attempt with the same token fails here.
	err = s.store.RotateSession(ctx, session.ID, oldHash, newHash, accessExpiresAt, refreshExpiresAt)
	if errors.Is(err, store.ErrSessionNotFound) {
		return nil, ErrRefreshInvalid
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("rotated session", "session_id", session.ID, "agent_id", agent.ID)

	return &Pair{
		SessionID:        session.ID,
		AgentID:          agent.ID,
		AccessToken:      accessToken,
		RefreshToken:     newRefresh,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

// Revoke marks a session as revoked. Subsequent refresh calls fail;
// outstanding access tokens ride out their own short expiry.
func (s *Service) Revoke(ctx context.Context, sessionID string) error {
	return s.store.RevokeSession(ctx, sessionID)
}

// newRefreshToken generates an opaque refresh token and its storage hash.
func newRefreshToken() (token, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generating refresh token: %w", err)
	}
	token = "rt_" + hex.EncodeToString(raw)
	return token, hashToken(token), nil
}

// hashToken returns the hex SHA-256 of a refresh token, the only form that
// ever touches storage.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
