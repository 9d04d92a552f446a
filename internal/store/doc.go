// Package store provides persistent storage for the coordinator using SQLite.
//
// # Data Models
//
//   - AgentIdentity: an enrolled agent; its public key is the root of trust
//     and is never updated in place. Identities are deactivated, never deleted.
//   - Challenge: a single-use, time-bounded enrollment challenge bound to one
//     public key.
//   - Session: an access/refresh token pair bound to an agent. Only the
//     SHA-256 hash of the refresh token is stored.
//   - AuditEntry: append-only record of security-relevant events.
//
// # Concurrency
//
// The two single-use artifacts (challenge consumption and refresh rotation)
// are guarded by conditional UPDATE statements rather than check-then-write
// sequences: the WHERE clause carries the precondition, so two concurrent
// attempts against the same row produce exactly one winner regardless of
// interleaving. Expiry is enforced lazily at read/consume time by timestamp
// comparison; the DeleteExpired* methods are storage hygiene only.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Use NewSQLiteStore(":memory:") for tests.
package store
