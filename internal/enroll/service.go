// ABOUTME: Enrollment service orchestrating challenge issuance and verification
// ABOUTME: Creates agent identities after a winning single-use challenge consumption

package enroll

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nanofed/coordinator/internal/auth"
	"github.com/nanofed/coordinator/internal/store"
	"github.com/nanofed/coordinator/internal/token"
)

// ErrNameConflict is returned when the requested agent name is already
// claimed by an active identity with a different public key.
var ErrNameConflict = errors.New("agent name already registered to a different key")

// Request carries the fields an agent submits to start enrollment.
type Request struct {
	AgentName   string
	PublicKey   string // hex or OpenSSH ssh-ed25519 encoding
	Roles       []string
	Description string
	Hostname    string
	Region      string
}

// Service orchestrates the challenge/response enrollment protocol.
type Service struct {
	store        store.Store
	tokens       *token.Service
	challengeTTL time.Duration
	logger       *slog.Logger
}

// New creates an enrollment service.
func New(st store.Store, tokens *token.Service, challengeTTL time.Duration) *Service {
	return &Service{
		store:        st,
		tokens:       tokens,
		challengeTTL: challengeTTL,
		logger:       slog.Default().With("component", "enroll"),
	}
}

// RequestChallenge validates the name/key claim and issues a single-use
// challenge bound to the submitted public key. Re-requesting for the same
// name and key is permitted; a name held by a different active key fails
// with ErrNameConflict.
func (s *Service) RequestChallenge(ctx context.Context, req *Request, remoteAddr string) (*store.Challenge, error) {
	keyHex, err := auth.NormalizePublicKey(req.PublicKey)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetAgentByName(ctx, req.AgentName)
	if err != nil && !errors.Is(err, store.ErrAgentNotFound) {
		return nil, err
	}
	if existing != nil && existing.Active() && existing.PublicKey != keyHex {
		s.logger.Warn("enrollment name conflict",
			"agent_name", req.AgentName,
			"remote_addr", remoteAddr,
		)
		return nil, ErrNameConflict
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ch := &store.Challenge{
		ID:        "ch_" + uuid.NewString(),
		AgentName: req.AgentName,
		PublicKey: keyHex,
		Roles:     req.Roles,
		Nonce:     nonce,
		CreatedAt: now,
		ExpiresAt: now.Add(s.challengeTTL),
	}

	if err := s.store.CreateChallenge(ctx, ch); err != nil {
		return nil, err
	}

	// Best effort; enrollment proceeds even if the audit write fails.
	_ = s.store.AppendAudit(ctx, &store.AuditEntry{
		EventType: "enrollment.request",
		Action:    fmt.Sprintf("enrollment requested for agent %q", req.AgentName),
		IPAddress: remoteAddr,
		Detail: map[string]any{
			"challenge_id": ch.ID,
			"agent_name":   req.AgentName,
			"roles":        req.Roles,
			"hostname":     req.Hostname,
			"region":       req.Region,
		},
	})

	s.logger.Info("issued enrollment challenge",
		"challenge_id", ch.ID,
		"agent_name", req.AgentName,
	)

	return ch, nil
}

// Verify checks the detached signature over the challenge nonce, consumes the
// challenge exactly once, creates (or reuses, for the same key) the agent
// identity, and mints a session. Among any number of concurrent calls for the
// same challenge exactly one succeeds; the rest see ErrChallengeConsumed.
func (s *Service) Verify(ctx context.Context, challengeID, signatureHex string, remoteAddr string) (*token.Pair, error) {
	ch, err := s.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	if ch.ConsumedAt != nil {
		return nil, store.ErrChallengeConsumed
	}
	if time.Now().After(ch.ExpiresAt) {
		return nil, store.ErrChallengeExpired
	}

	// Uniform failure: a bad encoding and a wrong signature are
	// indistinguishable to the caller.
	signature, decodeErr := hex.DecodeString(signatureHex)
	if decodeErr != nil {
		signature = nil
	}
	if err := auth.VerifyDetached(ch.PublicKey, []byte(ch.Nonce), signature); err != nil {
		s.logger.Warn("enrollment signature rejected",
			"security", "signature_invalid",
			"challenge_id", challengeID,
			"remote_addr", remoteAddr,
		)
		return nil, auth.ErrSignatureInvalid
	}

	// Single atomic consume-and-check: the conditional update decides the
	// winner among concurrent verifications.
	if err := s.store.ConsumeChallenge(ctx, challengeID); err != nil {
		return nil, err
	}

	agent, err := s.resolveIdentity(ctx, ch)
	if err != nil {
		return nil, err
	}

	pair, err := s.tokens.Issue(ctx, agent)
	if err != nil {
		return nil, err
	}

	_ = s.store.AppendAudit(ctx, &store.AuditEntry{
		EventType: "enrollment.verified",
		ActorID:   agent.ID,
		Action:    fmt.Sprintf("agent enrolled: %s", agent.Name),
		IPAddress: remoteAddr,
		Detail: map[string]any{
			"challenge_id": challengeID,
			"agent_id":     agent.ID,
			"roles":        agent.Roles,
		},
	})

	s.logger.Info("enrollment verified",
		"agent_id", agent.ID,
		"agent_name", agent.Name,
		"session_id", pair.SessionID,
	)

	return pair, nil
}

// resolveIdentity creates the agent identity for a consumed challenge, or
// reuses the existing one when the same name/key pair re-enrolls.
func (s *Service) resolveIdentity(ctx context.Context, ch *store.Challenge) (*store.AgentIdentity, error) {
	existing, err := s.store.GetAgentByName(ctx, ch.AgentName)
	if err != nil && !errors.Is(err, store.ErrAgentNotFound) {
		return nil, err
	}
	if existing != nil {
		if existing.Active() && existing.PublicKey == ch.PublicKey {
			return existing, nil
		}
		return nil, ErrNameConflict
	}

	agent := &store.AgentIdentity{
		ID:         "agt_" + uuid.NewString(),
		Name:       ch.AgentName,
		PublicKey:  ch.PublicKey,
		Roles:      ch.Roles,
		EnrolledAt: time.Now(),
	}

	err = s.store.CreateAgent(ctx, agent)
	if errors.Is(err, store.ErrAgentNameExists) {
		// Lost a creation race; reuse if it is the same key.
		existing, getErr := s.store.GetAgentByName(ctx, ch.AgentName)
		if getErr != nil {
			return nil, getErr
		}
		if existing.Active() && existing.PublicKey == ch.PublicKey {
			return existing, nil
		}
		return nil, ErrNameConflict
	}
	if err != nil {
		return nil, err
	}

	return agent, nil
}

// newNonce generates a high-entropy challenge nonce.
func newNonce() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
