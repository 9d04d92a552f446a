// ABOUTME: Enrollment challenge store methods for the SQLite store
// ABOUTME: ConsumeChallenge is an atomic conditional update so replays lose the race

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateChallenge stores a new enrollment challenge.
func (s *SQLiteStore) CreateChallenge(ctx context.Context, ch *Challenge) error {
	rolesJSON, err := marshalRoles(ch.Roles)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO challenges (challenge_id, agent_name, public_key, roles_json, nonce, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		ch.ID,
		ch.AgentName,
		ch.PublicKey,
		rolesJSON,
		ch.Nonce,
		formatTime(ch.CreatedAt),
		formatTime(ch.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("inserting challenge: %w", err)
	}

	s.logger.Debug("created challenge", "challenge_id", ch.ID, "agent_name", ch.AgentName)
	return nil
}

// GetChallenge retrieves a challenge by ID.
func (s *SQLiteStore) GetChallenge(ctx context.Context, id string) (*Challenge, error) {
	query := `
		SELECT challenge_id, agent_name, public_key, roles_json, nonce, created_at, expires_at, consumed_at
		FROM challenges
		WHERE challenge_id = ?
	`

	var ch Challenge
	var rolesJSON, createdAtStr, expiresAtStr string
	var consumedAtStr sql.NullString

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&ch.ID,
		&ch.AgentName,
		&ch.PublicKey,
		&rolesJSON,
		&ch.Nonce,
		&createdAtStr,
		&expiresAtStr,
		&consumedAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying challenge: %w", err)
	}

	ch.Roles, err = unmarshalRoles(rolesJSON)
	if err != nil {
		return nil, err
	}

	ch.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, err
	}

	ch.ExpiresAt, err = parseTime(expiresAtStr)
	if err != nil {
		return nil, err
	}

	if consumedAtStr.Valid {
		t, err := parseTime(consumedAtStr.String)
		if err != nil {
			return nil, err
		}
		ch.ConsumedAt = &t
	}

	return &ch, nil
}

// ConsumeChallenge atomically marks a challenge as consumed.
// The update only succeeds if the challenge exists, is unconsumed, and has not
// expired, so two concurrent attempts against the same challenge produce
// exactly one winner. Returns ErrChallengeConsumed if already used,
// ErrChallengeExpired if expired, or ErrChallengeNotFound if absent.
func (s *SQLiteStore) ConsumeChallenge(ctx context.Context, id string) error {
	now := formatTime(time.Now())

	query := `
		UPDATE challenges
		SET consumed_at = ?
		WHERE challenge_id = ?
		  AND consumed_at IS NULL
		  AND expires_at > ?
	`

	result, err := s.db.ExecContext(ctx, query, now, id, now)
	if err != nil {
		return fmt.Errorf("consuming challenge: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected > 0 {
		s.logger.Debug("consumed challenge", "challenge_id", id)
		return nil
	}

	// rowsAffected == 0 - need to determine why - check the challenge
	ch, err := s.GetChallenge(ctx, id)
	if errors.Is(err, ErrChallengeNotFound) {
		return ErrChallengeNotFound
	}
	if err != nil {
		return err
	}
	if ch.ConsumedAt != nil {
		return ErrChallengeConsumed
	}
	if time.Now().After(ch.ExpiresAt) {
		return ErrChallengeExpired
	}

	// Shouldn't reach here, but just in case
	return ErrChallengeNotFound
}

// DeleteExpiredChallenges removes expired unconsumed challenges. Expiry is
// enforced lazily at read time; this exists purely for storage hygiene.
func (s *SQLiteStore) DeleteExpiredChallenges(ctx context.Context) (int64, error) {
	now := formatTime(time.Now())
	result, err := s.db.ExecContext(ctx, `DELETE FROM challenges WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired challenges: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		s.logger.Debug("deleted expired challenges", "count", rowsAffected)
	}
	return rowsAffected, nil
}
