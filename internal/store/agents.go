package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Agent is a capability directory row: a worker agent and its declared
// category/capability tags.
type Agent struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Tags        []string  `json:"tags,omitempty"`
	Description string    `json:"description,omitempty"`
	Users       []string  `json:"users,omitempty"` // empty means every user
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Store) SaveAgent(a *Agent) error {
	tags, err := json.Marshal(a.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	users, err := json.Marshal(a.Users)
	if err != nil {
		return fmt.Errorf("marshal users: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO agents (id, name, category, tags, description, users, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			tags = excluded.tags,
			description = excluded.description,
			users = excluded.users,
			updated_at = CURRENT_TIMESTAMP`,
		a.ID, a.Name, a.Category, string(tags), a.Description, string(users))
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

func scanAgent(scanner interface{ Scan(dest ...any) error }) (*Agent, error) {
	a := &Agent{}
	var tags, description, users sql.NullString
	err := scanner.Scan(&a.ID, &a.Name, &a.Category, &tags, &description, &users, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Description = description.String
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &a.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if users.Valid && users.String != "" {
		if err := json.Unmarshal([]byte(users.String), &a.Users); err != nil {
			return nil, fmt.Errorf("unmarshal users: %w", err)
		}
	}
	return a, nil
}

const agentColumns = `id, name, category, tags, description, users, created_at, updated_at`

func (s *Store) GetAgent(id string) (*Agent, error) {
	row := s.db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (s *Store) ListAgents() ([]Agent, error) {
	rows, err := s.db.Query(`SELECT ` + agentColumns + ` FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func (s *Store) DeleteAgentsNotIn(ids []string) error {
	if len(ids) == 0 {
		_, err := s.db.Exec(`DELETE FROM agents`)
		return err
	}
	query := `DELETE FROM agents WHERE id NOT IN (`
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			query += ","
		}
		query += "?"
		args[i] = id
	}
	query += ")"
	_, err := s.db.Exec(query, args...)
	return err
}
