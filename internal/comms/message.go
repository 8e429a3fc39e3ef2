package comms

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Broadcast is the reserved recipient id that fans a message out to every
// participant of the session's broadcast channel except the sender.
const Broadcast = "broadcast"

type MessageType string

const (
	TypeTaskRequest     MessageType = "task_request"
	TypeDataShare       MessageType = "data_share"
	TypeResultHandoff   MessageType = "result_handoff"
	TypeCoordination    MessageType = "coordination"
	TypeStatusUpdate    MessageType = "status_update"
	TypeCapabilityQuery MessageType = "capability_query"
)

type MessagePriority string

const (
	PriorityLow    MessagePriority = "low"
	PriorityMedium MessagePriority = "medium"
	PriorityHigh   MessagePriority = "high"
	PriorityUrgent MessagePriority = "urgent"
)

// AgentMessage is the unit of inter-agent communication. Payload is a tagged
// union keyed by Type; use DecodePayload to get the concrete shape.
type AgentMessage struct {
	ID               string          `json:"id"`
	FromAgentID      string          `json:"from_agent_id"`
	ToAgentID        string          `json:"to_agent_id"`
	Type             MessageType     `json:"message_type"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
	Priority         MessagePriority `json:"priority"`
	SessionID        string          `json:"session_id"`
	RequiresResponse bool            `json:"requires_response"`
}

// TaskRequestPayload assigns a subtask to a worker agent.
type TaskRequestPayload struct {
	SubTaskID         string     `json:"sub_task_id"`
	Description       string     `json:"description"`
	EstimatedDuration int        `json:"estimated_duration"` // minutes
	Deadline          *time.Time `json:"deadline,omitempty"`
	OutputFormat      string     `json:"output_format,omitempty"`
	DependsOn         []string   `json:"depends_on,omitempty"`
	Constraints       []string   `json:"constraints,omitempty"`
}

// DataSharePayload passes intermediate data between agents.
type DataSharePayload struct {
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data"`
}

// ResultHandoffPayload reports a subtask outcome back to the orchestrator.
type ResultHandoffPayload struct {
	SubTaskID   string          `json:"sub_task_id"`
	Status      string          `json:"status"` // completed or error
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	DurationMin int             `json:"duration_min,omitempty"`
}

// CoordinationPayload carries coordinator-to-worker control traffic.
type CoordinationPayload struct {
	Action string `json:"action"`
	Detail string `json:"detail,omitempty"`
}

// StatusUpdatePayload announces session lifecycle or progress changes.
type StatusUpdatePayload struct {
	Event  string          `json:"event"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

// CapabilityQueryPayload asks an agent which requirements it can cover.
type CapabilityQueryPayload struct {
	Requirements []string `json:"requirements"`
}

// NewMessage builds an AgentMessage with the payload encoded for its type.
func NewMessage(sessionID, from, to string, msgType MessageType, priority MessagePriority, payload any) (AgentMessage, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return AgentMessage{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		raw = data
	}
	return AgentMessage{
		ID:          uuid.New().String(),
		FromAgentID: from,
		ToAgentID:   to,
		Type:        msgType,
		Payload:     raw,
		Timestamp:   time.Now().UTC(),
		Priority:    priority,
		SessionID:   sessionID,
	}, nil
}

// DecodePayload unmarshals the payload into the concrete shape for the
// message type, so handlers can switch exhaustively instead of trusting
// untyped data.
func DecodePayload(msg AgentMessage) (any, error) {
	decode := func(v any) (any, error) {
		if len(msg.Payload) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(msg.Payload, v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", msg.Type, err)
		}
		return v, nil
	}

	switch msg.Type {
	case TypeTaskRequest:
		return decode(&TaskRequestPayload{})
	case TypeDataShare:
		return decode(&DataSharePayload{})
	case TypeResultHandoff:
		return decode(&ResultHandoffPayload{})
	case TypeCoordination:
		return decode(&CoordinationPayload{})
	case TypeStatusUpdate:
		return decode(&StatusUpdatePayload{})
	case TypeCapabilityQuery:
		return decode(&CapabilityQueryPayload{})
	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
}

// MessageResponse is produced synchronously by every send operation. Partial
// broadcast failures are recorded per-recipient without failing the whole
// response.
type MessageResponse struct {
	Success          bool      `json:"success"`
	MessageID        string    `json:"message_id"`
	DeliveredTo      []string  `json:"delivered_to"`
	FailedDeliveries []string  `json:"failed_deliveries,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

type ChannelType string

const (
	ChannelBroadcast ChannelType = "broadcast"
	ChannelDirect    ChannelType = "direct"
	ChannelGroup     ChannelType = "group"
)

// Channel is a named, session-scoped routing context. Exactly one broadcast
// channel exists per session; a direct channel is identified by the unordered
// participant pair; group channels are ad hoc.
type Channel struct {
	ChannelID    string      `json:"channel_id"`
	SessionID    string      `json:"session_id"`
	Participants []string    `json:"participants"`
	Type         ChannelType `json:"type"`
	Topic        string      `json:"topic"`
	CreatedAt    time.Time   `json:"created_at"`
	LastActivity time.Time   `json:"last_activity"`
	MessageCount int         `json:"message_count"`
}

func (c *Channel) hasParticipant(agentID string) bool {
	for _, p := range c.Participants {
		if p == agentID {
			return true
		}
	}
	return false
}
