package comms

import "sync"

// OfflineQueue buffers messages for an agent that has no registered handler.
// Absence of a handler is not an error, only a fallback to queued delivery.
type OfflineQueue struct {
	agentID string
	pending []AgentMessage
	limit   int
	mu      sync.Mutex
}

func NewOfflineQueue(agentID string, limit int) *OfflineQueue {
	return &OfflineQueue{agentID: agentID, limit: limit}
}

// Enqueue appends a message, reporting false when the queue is full.
func (q *OfflineQueue) Enqueue(msg AgentMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.limit > 0 && len(q.pending) >= q.limit {
		return false
	}
	q.pending = append(q.pending, msg)
	return true
}

// Drain returns all pending messages in arrival order and empties the queue.
func (q *OfflineQueue) Drain() []AgentMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.pending
	q.pending = nil
	return out
}

// DropSession removes queued messages belonging to a session. Used during
// dissolution so no message outlives its session.
func (q *OfflineQueue) DropSession(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.pending[:0]
	for _, m := range q.pending {
		if m.SessionID != sessionID {
			kept = append(kept, m)
		}
	}
	q.pending = kept
}

func (q *OfflineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
