// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides agent/challenge/session persistence with automatic schema creation

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// busy_timeout goes in the DSN so every pooled connection gets it:
	// concurrent writers wait for the lock instead of failing with
	// SQLITE_BUSY, and conditional updates lose cleanly on rowsAffected.
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if path == ":memory:" {
		// Each pooled connection would otherwise get its own private database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			agent_id       TEXT PRIMARY KEY,
			name           TEXT NOT NULL UNIQUE,
			public_key     TEXT NOT NULL,
			roles_json     TEXT NOT NULL,
			description    TEXT,
			hostname       TEXT,
			region         TEXT,
			enrolled_at    TEXT NOT NULL,
			deactivated_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_agents_public_key ON agents(public_key);

		CREATE TABLE IF NOT EXISTS challenges (
			challenge_id TEXT PRIMARY KEY,
			agent_name   TEXT NOT NULL,
			public_key   TEXT NOT NULL,
			roles_json   TEXT NOT NULL,
			nonce        TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			expires_at   TEXT NOT NULL,
			consumed_at  TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_challenges_expires ON challenges(expires_at);

		CREATE TABLE IF NOT EXISTS sessions (
			session_id         TEXT PRIMARY KEY,
			agent_id           TEXT NOT NULL,
			refresh_hash       TEXT NOT NULL UNIQUE,
			issued_at          TEXT NOT NULL,
			access_expires_at  TEXT NOT NULL,
			refresh_expires_at TEXT NOT NULL,
			revoked            INTEGER NOT NULL DEFAULT 0,
			rotated_at         TEXT,

			FOREIGN KEY (agent_id) REFERENCES agents(agent_id)
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions(agent_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_refresh_expires ON sessions(refresh_expires_at);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id    TEXT PRIMARY KEY,
			event_type  TEXT NOT NULL,
			actor_id    TEXT,
			action      TEXT NOT NULL,
			ip_address  TEXT,
			detail_json TEXT,
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// formatTime renders a timestamp the way all tables store them.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a stored timestamp.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// marshalRoles encodes a role list as JSON for storage.
func marshalRoles(roles []string) (string, error) {
	if roles == nil {
		roles = []string{}
	}
	data, err := json.Marshal(roles)
	if err != nil {
		return "", fmt.Errorf("marshaling roles: %w", err)
	}
	return string(data), nil
}

// unmarshalRoles decodes a stored role list.
func unmarshalRoles(data string) ([]string, error) {
	var roles []string
	if err := json.Unmarshal([]byte(data), &roles); err != nil {
		return nil, fmt.Errorf("unmarshaling roles: %w", err)
	}
	return roles, nil
}

// isUniqueConstraintError checks if an error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	// SQLite returns "UNIQUE constraint failed" in the error message
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "unique constraint"))
}
