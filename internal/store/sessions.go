package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/the13nth/perso-swarm/internal/swarm"
)

// PutSession upserts a session, serialized as one JSON document the way the
// orchestrator holds it. Column copies of user/status/timestamps exist only
// for filtering.
func (s *Store) PutSession(session *swarm.SwarmSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO swarm_sessions (id, user_id, status, data, created_at, last_activity, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			data = excluded.data,
			last_activity = excluded.last_activity,
			completed_at = excluded.completed_at`,
		session.SessionID, session.UserID, session.Status, string(data),
		session.CreatedAt, session.LastActivity, session.CompletedAt)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// GetSession returns (nil, nil) for an unknown id.
func (s *Store) GetSession(sessionID string) (*swarm.SwarmSession, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM swarm_sessions WHERE id = ?`, sessionID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var session swarm.SwarmSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

func (s *Store) ListSessions(userID string) ([]*swarm.SwarmSession, error) {
	rows, err := s.db.Query(`SELECT data FROM swarm_sessions WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *Store) ListSessionsByStatus(status swarm.SessionStatus) ([]*swarm.SwarmSession, error) {
	rows, err := s.db.Query(`SELECT data FROM swarm_sessions WHERE status = ? ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("list sessions by status: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func scanSessions(rows *sql.Rows) ([]*swarm.SwarmSession, error) {
	var sessions []*swarm.SwarmSession
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var session swarm.SwarmSession
		if err := json.Unmarshal([]byte(data), &session); err != nil {
			return nil, fmt.Errorf("unmarshal session: %w", err)
		}
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}

func (s *Store) DeleteSession(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM swarm_sessions WHERE id = ?`, sessionID)
	return err
}
