package comms

import (
	"encoding/json"
	"testing"
)

func TestNewMessageEncodesPayload(t *testing.T) {
	msg, err := NewMessage("s1", "coord", "w1", TypeTaskRequest, PriorityHigh, TaskRequestPayload{
		SubTaskID:         "st1",
		Description:       "crunch numbers",
		EstimatedDuration: 20,
	})
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID == "" {
		t.Error("expected generated message id")
	}
	if msg.SessionID != "s1" || msg.FromAgentID != "coord" || msg.ToAgentID != "w1" {
		t.Errorf("unexpected routing fields: %+v", msg)
	}
	if msg.Timestamp.IsZero() {
		t.Error("expected timestamp")
	}

	var p TaskRequestPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if p.SubTaskID != "st1" || p.EstimatedDuration != 20 {
		t.Errorf("unexpected payload: %+v", p)
	}
}

func TestDecodePayloadTypes(t *testing.T) {
	cases := []struct {
		msgType MessageType
		payload any
	}{
		{TypeTaskRequest, TaskRequestPayload{SubTaskID: "st1"}},
		{TypeDataShare, DataSharePayload{Key: "partial"}},
		{TypeResultHandoff, ResultHandoffPayload{SubTaskID: "st1", Status: "completed"}},
		{TypeCoordination, CoordinationPayload{Action: "sync"}},
		{TypeStatusUpdate, StatusUpdatePayload{Event: "progress"}},
		{TypeCapabilityQuery, CapabilityQueryPayload{Requirements: []string{"data"}}},
	}

	for _, c := range cases {
		msg, err := NewMessage("s1", "a", "b", c.msgType, PriorityMedium, c.payload)
		if err != nil {
			t.Fatalf("%s: %v", c.msgType, err)
		}
		decoded, err := DecodePayload(msg)
		if err != nil {
			t.Fatalf("%s: decode: %v", c.msgType, err)
		}

		switch p := decoded.(type) {
		case *TaskRequestPayload:
			if c.msgType != TypeTaskRequest || p.SubTaskID != "st1" {
				t.Errorf("%s decoded to %+v", c.msgType, p)
			}
		case *DataSharePayload:
			if c.msgType != TypeDataShare || p.Key != "partial" {
				t.Errorf("%s decoded to %+v", c.msgType, p)
			}
		case *ResultHandoffPayload:
			if c.msgType != TypeResultHandoff || p.Status != "completed" {
				t.Errorf("%s decoded to %+v", c.msgType, p)
			}
		case *CoordinationPayload:
			if c.msgType != TypeCoordination || p.Action != "sync" {
				t.Errorf("%s decoded to %+v", c.msgType, p)
			}
		case *StatusUpdatePayload:
			if c.msgType != TypeStatusUpdate || p.Event != "progress" {
				t.Errorf("%s decoded to %+v", c.msgType, p)
			}
		case *CapabilityQueryPayload:
			if c.msgType != TypeCapabilityQuery || len(p.Requirements) != 1 {
				t.Errorf("%s decoded to %+v", c.msgType, p)
			}
		default:
			t.Errorf("%s decoded to unexpected type %T", c.msgType, decoded)
		}
	}
}

func TestDecodePayloadUnknownType(t *testing.T) {
	msg := AgentMessage{Type: "gossip"}
	if _, err := DecodePayload(msg); err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestDecodePayloadMalformed(t *testing.T) {
	msg := AgentMessage{Type: TypeTaskRequest, Payload: json.RawMessage(`{"sub_task_id":`)}
	if _, err := DecodePayload(msg); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestOfflineQueueDropSession(t *testing.T) {
	q := NewOfflineQueue("w1", 10)
	m1, _ := NewMessage("s1", "a", "w1", TypeDataShare, PriorityLow, nil)
	m2, _ := NewMessage("s2", "a", "w1", TypeDataShare, PriorityLow, nil)
	q.Enqueue(m1)
	q.Enqueue(m2)

	q.DropSession("s1")
	if q.Len() != 1 {
		t.Fatalf("expected 1 pending after drop, got %d", q.Len())
	}
	left := q.Drain()
	if left[0].SessionID != "s2" {
		t.Errorf("expected s2 message to survive, got %s", left[0].SessionID)
	}
}
