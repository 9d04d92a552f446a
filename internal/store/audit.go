// ABOUTME: Audit log store methods for recording security-relevant events
// ABOUTME: Entries are append-only with JSON detail payloads

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendAudit records an audit entry. Missing IDs and timestamps are filled in.
func (s *SQLiteStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	var detailJSON sql.NullString
	if entry.Detail != nil {
		data, err := json.Marshal(entry.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		detailJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO audit_log (audit_id, event_type, actor_id, action, ip_address, detail_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.EventType,
		nullable(entry.ActorID),
		entry.Action,
		nullable(entry.IPAddress),
		detailJSON,
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	return nil
}

// ListAudit returns the most recent audit entries, newest first.
func (s *SQLiteStore) ListAudit(ctx context.Context, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT audit_id, event_type, actor_id, action, ip_address, detail_json, created_at
		FROM audit_log
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var actorID, ipAddress, detailJSON sql.NullString
		var createdAtStr string

		if err := rows.Scan(&entry.ID, &entry.EventType, &actorID, &entry.Action, &ipAddress, &detailJSON, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}

		entry.ActorID = actorID.String
		entry.IPAddress = ipAddress.String

		if detailJSON.Valid {
			if err := json.Unmarshal([]byte(detailJSON.String), &entry.Detail); err != nil {
				return nil, fmt.Errorf("unmarshaling audit detail: %w", err)
			}
		}

		entry.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, err
		}

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit log: %w", err)
	}

	return entries, nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
