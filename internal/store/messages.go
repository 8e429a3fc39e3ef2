package store

import (
	"fmt"
	"time"

	"github.com/the13nth/perso-swarm/internal/comms"
)

// LogMessage appends a delivered message to the durable message log,
// satisfying the communication manager's Sink. When a passphrase is
// configured the payload is encrypted at rest.
func (s *Store) LogMessage(msg comms.AgentMessage) error {
	payload := []byte(msg.Payload)
	var nonce []byte
	if s.vault != nil && len(payload) > 0 {
		var err error
		payload, nonce, err = s.vault.Encrypt(payload)
		if err != nil {
			return fmt.Errorf("encrypt payload: %w", err)
		}
	}

	_, err := s.db.Exec(`
		INSERT INTO messages (message_id, session_id, from_agent, to_agent, message_type, priority, payload, nonce)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.FromAgentID, msg.ToAgentID, msg.Type, msg.Priority, payload, nonce)
	if err != nil {
		return fmt.Errorf("log message: %w", err)
	}
	return nil
}

// GetSessionMessages returns a session's logged messages in chronological
// order, decrypting payloads when needed.
func (s *Store) GetSessionMessages(sessionID string, limit int) ([]comms.AgentMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT message_id, session_id, from_agent, to_agent, message_type, priority, payload, nonce, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("get session messages: %w", err)
	}
	defer rows.Close()

	var messages []comms.AgentMessage
	for rows.Next() {
		var m comms.AgentMessage
		var payload, nonce []byte
		var createdAt time.Time
		if err := rows.Scan(&m.ID, &m.SessionID, &m.FromAgentID, &m.ToAgentID, &m.Type, &m.Priority, &payload, &nonce, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if s.vault != nil && len(nonce) > 0 {
			payload, err = s.vault.Decrypt(payload, nonce)
			if err != nil {
				return nil, fmt.Errorf("decrypt payload: %w", err)
			}
		}
		m.Payload = payload
		m.Timestamp = createdAt
		messages = append(messages, m)
	}

	// Reverse to get chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, rows.Err()
}

// CountSessionMessages reports the logged message volume for a session.
func (s *Store) CountSessionMessages(sessionID string) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count session messages: %w", err)
	}
	return n, nil
}

// DeleteSessionMessages purges a session's message log. Used by dissolution
// cleanup and the export command after archiving.
func (s *Store) DeleteSessionMessages(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE session_id = ?`, sessionID)
	return err
}
