// ABOUTME: Agent identity store methods for the SQLite store
// ABOUTME: Identities are created once at enrollment and deactivated, never deleted

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateAgent creates a new agent identity.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *AgentIdentity) error {
	rolesJSON, err := marshalRoles(agent.Roles)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO agents (agent_id, name, public_key, roles_json, description, hostname, region, enrolled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		agent.ID,
		agent.Name,
		agent.PublicKey,
		rolesJSON,
		agent.Description,
		agent.Hostname,
		agent.Region,
		formatTime(agent.EnrolledAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrAgentNameExists
		}
		return fmt.Errorf("inserting agent: %w", err)
	}

	s.logger.Info("created agent identity", "agent_id", agent.ID, "name", agent.Name)
	return nil
}

const agentColumns = `agent_id, name, public_key, roles_json, description, hostname, region, enrolled_at, deactivated_at`

// GetAgent retrieves an agent identity by ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*AgentIdentity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE agent_id = ?`, id)
	return scanAgent(row)
}

// GetAgentByName retrieves an agent identity by its unique name.
func (s *SQLiteStore) GetAgentByName(ctx context.Context, name string) (*AgentIdentity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE name = ?`, name)
	return scanAgent(row)
}

// ListAgents returns agent identities ordered by enrollment time, newest first.
func (s *SQLiteStore) ListAgents(ctx context.Context, limit int) ([]*AgentIdentity, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY enrolled_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []*AgentIdentity
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agents: %w", err)
	}

	return agents, nil
}

// DeactivateAgent marks an agent identity as deactivated. The record and its
// public key remain for audit purposes.
func (s *SQLiteStore) DeactivateAgent(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE agents SET deactivated_at = ? WHERE agent_id = ? AND deactivated_at IS NULL`,
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("deactivating agent: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAgentNotFound
	}

	s.logger.Info("deactivated agent", "agent_id", id)
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (*AgentIdentity, error) {
	var agent AgentIdentity
	var rolesJSON, enrolledAtStr string
	var description, hostname, region sql.NullString
	var deactivatedAtStr sql.NullString

	err := row.Scan(
		&agent.ID,
		&agent.Name,
		&agent.PublicKey,
		&rolesJSON,
		&description,
		&hostname,
		&region,
		&enrolledAtStr,
		&deactivatedAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}

	agent.Description = description.String
	agent.Hostname = hostname.String
	agent.Region = region.String

	agent.Roles, err = unmarshalRoles(rolesJSON)
	if err != nil {
		return nil, err
	}

	agent.EnrolledAt, err = parseTime(enrolledAtStr)
	if err != nil {
		return nil, err
	}

	if deactivatedAtStr.Valid {
		t, err := parseTime(deactivatedAtStr.String)
		if err != nil {
			return nil, err
		}
		agent.DeactivatedAt = &t
	}

	return &agent, nil
}
