// ABOUTME: Store interface and data types for coordinator persistence
// ABOUTME: Defines AgentIdentity, Challenge, Session structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrAgentNotFound is returned when a requested agent identity does not exist.
var ErrAgentNotFound = errors.New("agent not found")

// ErrAgentNameExists is returned when creating an agent whose name is already taken.
var ErrAgentNameExists = errors.New("agent name already exists")

// ErrChallengeNotFound is returned when a challenge does not exist.
var ErrChallengeNotFound = errors.New("challenge not found")

// ErrChallengeExpired is returned when a challenge is past its expiry.
var ErrChallengeExpired = errors.New("challenge expired")

// ErrChallengeConsumed is returned when a challenge has already been consumed.
var ErrChallengeConsumed = errors.New("challenge already consumed")

// ErrSessionNotFound is returned when a session does not exist, or when a
// conditional session update (rotation, revocation) matched no row.
var ErrSessionNotFound = errors.New("session not found")

// AgentIdentity is an enrolled agent. The public key is the root of trust for
// the identity and is never updated in place; identities are deactivated, not
// deleted.
type AgentIdentity struct {
	ID            string // server-assigned, stable
	Name          string // unique across active identities
	PublicKey     string // hex-encoded raw Ed25519 verification key
	Roles         []string
	Description   string
	Hostname      string
	Region        string
	EnrolledAt    time.Time
	DeactivatedAt *time.Time
}

// Active reports whether the identity has not been deactivated.
func (a *AgentIdentity) Active() bool {
	return a.DeactivatedAt == nil
}

// Challenge is a single-use enrollment challenge bound to one public key.
// It transitions consumed exactly once; expired unconsumed challenges are
// garbage and never reusable.
type Challenge struct {
	ID         string
	AgentName  string
	PublicKey  string // hex-encoded raw Ed25519 key the nonce must be signed with
	Roles      []string
	Nonce      string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// Session binds an access/refresh token pair to an agent. Only a SHA-256 hash
// of the opaque refresh token is stored; the token itself never touches disk.
type Session struct {
	ID               string
	AgentID          string
	RefreshHash      string // hex SHA-256 of the current refresh token
	IssuedAt         time.Time
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Revoked          bool
	RotatedAt        *time.Time
}

// AuditEntry records a security-relevant event.
type AuditEntry struct {
	ID        string
	EventType string // e.g. "enrollment.request", "session.revoked"
	ActorID   string // agent ID when known
	Action    string
	IPAddress string
	Detail    map[string]any
	CreatedAt time.Time
}

// Store defines the persistence interface for the coordinator.
type Store interface {
	// Agents
	CreateAgent(ctx context.Context, agent *AgentIdentity) error
	GetAgent(ctx context.Context, id string) (*AgentIdentity, error)
	GetAgentByName(ctx context.Context, name string) (*AgentIdentity, error)
	ListAgents(ctx context.Context, limit int) ([]*AgentIdentity, error)
	DeactivateAgent(ctx context.Context, id string) error

	// Challenges
	CreateChallenge(ctx context.Context, ch *Challenge) error
	GetChallenge(ctx context.Context, id string) (*Challenge, error)
	ConsumeChallenge(ctx context.Context, id string) error
	DeleteExpiredChallenges(ctx context.Context) (int64, error)

	// Sessions
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	GetSessionByRefreshHash(ctx context.Context, hash string) (*Session, error)
	RotateSession(ctx context.Context, sessionID, oldHash, newHash string, accessExpiresAt, refreshExpiresAt time.Time) error
	RevokeSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context) (int64, error)

	// Audit
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]*AuditEntry, error)

	// Close releases any resources held by the store
	Close() error
}
