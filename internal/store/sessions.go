// ABOUTME: Session store methods for the SQLite store
// ABOUTME: RotateSession swaps the refresh hash with a single conditional update

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateSession persists a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (session_id, agent_id, refresh_hash, issued_at, access_expires_at, refresh_expires_at, revoked)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.AgentID,
		session.RefreshHash,
		formatTime(session.IssuedAt),
		formatTime(session.AccessExpiresAt),
		formatTime(session.RefreshExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "session_id", session.ID, "agent_id", session.AgentID)
	return nil
}

const sessionColumns = `session_id, agent_id, refresh_hash, issued_at, access_expires_at, refresh_expires_at, revoked, rotated_at`

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id)
	return scanSession(row)
}

// GetSessionByRefreshHash retrieves a session by the hash of its current
// refresh token. A previous (rotated-out) refresh token no longer matches any
// row, which is what makes stale refresh tokens unconditionally invalid.
func (s *SQLiteStore) GetSessionByRefreshHash(ctx context.Context, hash string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_hash = ?`, hash)
	return scanSession(row)
}

// RotateSession atomically replaces the session's refresh hash and expiry
// timestamps. The update is keyed on the old hash and only succeeds for a
// non-revoked session still holding that hash, so concurrent rotations with
// the same old token have exactly one winner. Returns ErrSessionNotFound when
// the conditional update matched nothing (already rotated, revoked, or gone).
func (s *SQLiteStore) RotateSession(ctx context.Context, sessionID, oldHash, newHash string, accessExpiresAt, refreshExpiresAt time.Time) error {
	query := `
		UPDATE sessions
		SET refresh_hash = ?, access_expires_at = ?, refresh_expires_at = ?, rotated_at = ?
		WHERE session_id = ?
		  AND refresh_hash = ?
		  AND revoked = 0
	`

	result, err := s.db.ExecContext(ctx, query,
		newHash,
		formatTime(accessExpiresAt),
		formatTime(refreshExpiresAt),
		formatTime(time.Now()),
		sessionID,
		oldHash,
	)
	if err != nil {
		return fmt.Errorf("rotating session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSessionNotFound
	}

	s.logger.Debug("rotated session", "session_id", sessionID)
	return nil
}

// RevokeSession marks a session as revoked. Subsequent refresh attempts fail;
// outstanding access tokens remain valid until their own expiry.
func (s *SQLiteStore) RevokeSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked = 1 WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSessionNotFound
	}

	s.logger.Info("revoked session", "session_id", id)
	return nil
}

// DeleteExpiredSessions removes sessions whose refresh window has lapsed.
// Like challenge cleanup this is storage hygiene only.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	now := formatTime(time.Now())
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE refresh_expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		s.logger.Debug("deleted expired sessions", "count", rowsAffected)
	}
	return rowsAffected, nil
}

func scanSession(row scanner) (*Session, error) {
	var session Session
	var issuedAtStr, accessExpStr, refreshExpStr string
	var revoked int
	var rotatedAtStr sql.NullString

	err := row.Scan(
		&session.ID,
		&session.AgentID,
		&session.RefreshHash,
		&issuedAtStr,
		&accessExpStr,
		&refreshExpStr,
		&revoked,
		&rotatedAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	session.Revoked = revoked != 0

	session.IssuedAt, err = parseTime(issuedAtStr)
	if err != nil {
		return nil, err
	}

	session.AccessExpiresAt, err = parseTime(accessExpStr)
	if err != nil {
		return nil, err
	}

	session.RefreshExpiresAt, err = parseTime(refreshExpStr)
	if err != nil {
		return nil, err
	}

	if rotatedAtStr.Valid {
		t, err := parseTime(rotatedAtStr.String)
		if err != nil {
			return nil, err
		}
		session.RotatedAt = &t
	}

	return &session, nil
}
