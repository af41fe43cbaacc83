package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/taskloop/internal/board"
)

// CreateAgent inserts an agent. Nil queues default to the role's queues.
func (s *SQLiteStore) CreateAgent(ctx context.Context, a *board.Agent) error {
	if a.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	if _, err := board.ParseRole(string(a.Role)); err != nil {
		return err
	}
	if a.Queues == nil {
		a.Queues = board.DefaultQueues(a.Role)
	}
	queues, err := encodeQueues(a.Queues)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (name, role, active, queues, provider, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.Name, a.Role, boolInt(a.Active), queues, a.Provider, now)
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read agent id: %w", err)
	}
	a.ID = id
	a.CreatedAt = time.Unix(now, 0)
	return nil
}

const agentSelect = `SELECT id, name, role, active, queues, provider, created_at FROM agents`

func scanAgent(r rowScanner) (*board.Agent, error) {
	a := &board.Agent{}
	var queues string
	var created int64
	if err := r.Scan(&a.ID, &a.Name, &a.Role, &a.Active, &queues, &a.Provider, &created); err != nil {
		return nil, err
	}
	q, err := decodeQueues(queues)
	if err != nil {
		return nil, fmt.Errorf("agent %d: %w", a.ID, err)
	}
	a.Queues = q
	a.CreatedAt = time.Unix(created, 0)
	return a, nil
}

// GetAgent retrieves an agent by ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, id int64) (*board.Agent, error) {
	a, err := scanAgent(s.db.QueryRowContext(ctx, agentSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query agent: %w", err)
	}
	return a, nil
}

// ListAgents returns all agents in creation order.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*board.Agent, error) {
	rows, err := s.db.QueryContext(ctx, agentSelect+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var agents []*board.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}
	return agents, nil
}

// UpdateAgentConfig sets an agent's active flag and queue interests.
func (s *SQLiteStore) UpdateAgentConfig(ctx context.Context, id int64, active bool, queues []board.Queue) error {
	if queues == nil {
		queues = []board.Queue{}
	}
	encoded, err := encodeQueues(queues)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET active = ?, queues = ? WHERE id = ?`,
		boolInt(active), encoded, id)
	if err != nil {
		return fmt.Errorf("failed to update agent config: %w", err)
	}
	return expectRow(res, "agent", id)
}

// EditAgent changes an agent's name, role and provider. Queues are kept.
func (s *SQLiteStore) EditAgent(ctx context.Context, id int64, name string, role board.Role, provider string) error {
	if name == "" {
		return fmt.Errorf("agent name is required")
	}
	if _, err := board.ParseRole(string(role)); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET name = ?, role = ?, provider = ? WHERE id = ?`,
		name, role, provider, id)
	if err != nil {
		return fmt.Errorf("failed to edit agent: %w", err)
	}
	return expectRow(res, "agent", id)
}

// DeleteAgent removes an agent.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	return expectRow(res, "agent", id)
}

func encodeQueues(queues []board.Queue) (string, error) {
	for _, q := range queues {
		if _, err := board.ParseQueue(string(q)); err != nil {
			return "", err
		}
	}
	b, err := json.Marshal(queues)
	if err != nil {
		return "", fmt.Errorf("failed to encode queues: %w", err)
	}
	return string(b), nil
}

func decodeQueues(s string) ([]board.Queue, error) {
	queues := []board.Queue{}
	if s == "" {
		return queues, nil
	}
	if err := json.Unmarshal([]byte(s), &queues); err != nil {
		return nil, fmt.Errorf("failed to decode queues: %w", err)
	}
	return queues, nil
}
