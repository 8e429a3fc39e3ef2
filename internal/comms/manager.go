package comms

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/the13nth/perso-swarm/internal/config"
	"github.com/the13nth/perso-swarm/internal/natsbus"
)

// Handler is an in-process delivery path for an agent. It runs inside the
// manager's dispatch goroutines and must respect the context deadline.
type Handler func(ctx context.Context, msg AgentMessage) error

// Publisher mirrors channel traffic onto the bus. Satisfied by
// *natsbus.Client; may be nil in tests.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// Sink persists delivered messages into the durable message log. May be nil.
type Sink interface {
	LogMessage(msg AgentMessage) error
}

// CommunicationStats aggregates per-session traffic numbers.
type CommunicationStats struct {
	TotalMessages     int     `json:"total_messages"`
	ChannelCount      int     `json:"channel_count"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
}

type latencyTotals struct {
	totalMs float64
	count   int
}

// Manager owns all communication channels for all active sessions, delivers
// messages to registered handlers or queues them for offline agents, and
// tracks per-channel traffic statistics.
type Manager struct {
	cfg       config.CommsConfig
	publisher Publisher
	sink      Sink

	mu              sync.RWMutex
	channels        map[string]*Channel // channelID -> channel
	sessionChannels map[string][]string // sessionID -> channelIDs
	handlers        map[string]Handler  // agentID -> live delivery path
	queues          map[string]*OfflineQueue
	latency         map[string]*latencyTotals // sessionID -> handler latency totals
}

func NewManager(cfg config.CommsConfig, publisher Publisher, sink Sink) *Manager {
	if cfg.DeliveryWindow <= 0 {
		cfg.DeliveryWindow = 5 * time.Second
	}
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = 256
	}
	return &Manager{
		cfg:             cfg,
		publisher:       publisher,
		sink:            sink,
		channels:        make(map[string]*Channel),
		sessionChannels: make(map[string][]string),
		handlers:        make(map[string]Handler),
		queues:          make(map[string]*OfflineQueue),
		latency:         make(map[string]*latencyTotals),
	}
}

// pairKey identifies a direct channel by its unordered participant pair.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// InitializeSwarmCommunication creates the session's single broadcast channel
// (participants = all active agents) and one direct channel per
// (coordinator, worker) pair.
func (m *Manager) InitializeSwarmCommunication(sessionID, coordinator string, activeAgents []string) error {
	if sessionID == "" {
		return fmt.Errorf("empty session id")
	}
	if len(activeAgents) == 0 {
		return fmt.Errorf("session %s has no active agents", sessionID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if ids := m.sessionChannels[sessionID]; len(ids) > 0 {
		return fmt.Errorf("communication for session %s already initialized", sessionID)
	}

	now := time.Now().UTC()
	broadcast := &Channel{
		ChannelID:    sessionID + "-broadcast",
		SessionID:    sessionID,
		Participants: append([]string(nil), activeAgents...),
		Type:         ChannelBroadcast,
		Topic:        natsbus.TopicSwarmBroadcast(sessionID),
		CreatedAt:    now,
		LastActivity: now,
	}
	m.addChannelLocked(broadcast)

	for _, worker := range activeAgents {
		if worker == coordinator {
			continue
		}
		ch := &Channel{
			ChannelID:    sessionID + "-direct-" + pairKey(coordinator, worker),
			SessionID:    sessionID,
			Participants: []string{coordinator, worker},
			Type:         ChannelDirect,
			Topic:        natsbus.TopicSwarmChannel(sessionID, pairKey(coordinator, worker)),
			CreatedAt:    now,
			LastActivity: now,
		}
		m.addChannelLocked(ch)
	}

	slog.Info("swarm communication initialized",
		"session", sessionID, "agents", len(activeAgents), "channels", len(m.sessionChannels[sessionID]))
	return nil
}

func (m *Manager) addChannelLocked(ch *Channel) {
	m.channels[ch.ChannelID] = ch
	m.sessionChannels[ch.SessionID] = append(m.sessionChannels[ch.SessionID], ch.ChannelID)
}

// RegisterMessageHandler attaches the live delivery path for an agent.
func (m *Manager) RegisterMessageHandler(agentID string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[agentID] = handler
}

// UnregisterMessageHandler detaches an agent's delivery path. Subsequent
// messages fall back to queued delivery.
func (m *Manager) UnregisterMessageHandler(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, agentID)
}

// PendingMessages drains and returns the offline queue for an agent.
func (m *Manager) PendingMessages(agentID string) []AgentMessage {
	m.mu.RLock()
	q := m.queues[agentID]
	m.mu.RUnlock()
	if q == nil {
		return nil
	}
	return q.Drain()
}

// resolveChannel picks the channel a message is attributed to. Direct
// messages between a pair with no direct channel get an ad hoc group channel.
func (m *Manager) resolveChannel(msg AgentMessage) (*Channel, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ToAgentID == Broadcast {
		for _, id := range m.sessionChannels[msg.SessionID] {
			ch := m.channels[id]
			if ch.Type == ChannelBroadcast {
				if !ch.hasParticipant(msg.FromAgentID) {
					return nil, nil, fmt.Errorf("sender %s is not a participant of session %s", msg.FromAgentID, msg.SessionID)
				}
				var recipients []string
				for _, p := range ch.Participants {
					if p != msg.FromAgentID {
						recipients = append(recipients, p)
					}
				}
				return ch, recipients, nil
			}
		}
		return nil, nil, fmt.Errorf("no broadcast channel for session %s", msg.SessionID)
	}

	key := pairKey(msg.FromAgentID, msg.ToAgentID)
	for _, id := range m.sessionChannels[msg.SessionID] {
		ch := m.channels[id]
		if ch.Type != ChannelBroadcast && ch.hasParticipant(msg.FromAgentID) && ch.hasParticipant(msg.ToAgentID) {
			return ch, []string{msg.ToAgentID}, nil
		}
	}

	// Both participants must belong to the session before an ad hoc group
	// channel is opened for them.
	var broadcast *Channel
	for _, id := range m.sessionChannels[msg.SessionID] {
		if ch := m.channels[id]; ch.Type == ChannelBroadcast {
			broadcast = ch
			break
		}
	}
	if broadcast == nil {
		return nil, nil, fmt.Errorf("no channels for session %s", msg.SessionID)
	}
	if !broadcast.hasParticipant(msg.FromAgentID) || !broadcast.hasParticipant(msg.ToAgentID) {
		return nil, nil, fmt.Errorf("agents %s/%s are not participants of session %s", msg.FromAgentID, msg.ToAgentID, msg.SessionID)
	}

	now := time.Now().UTC()
	ch := &Channel{
		ChannelID:    msg.SessionID + "-group-" + key,
		SessionID:    msg.SessionID,
		Participants: []string{msg.FromAgentID, msg.ToAgentID},
		Type:         ChannelGroup,
		Topic:        natsbus.TopicSwarmChannel(msg.SessionID, key),
		CreatedAt:    now,
		LastActivity: now,
	}
	m.addChannelLocked(ch)
	return ch, []string{msg.ToAgentID}, nil
}

type deliveryResult struct {
	agentID   string
	delivered bool
	latencyMs float64
}

// SendMessage delivers a message over its session's channels. Broadcast goes
// to every broadcast-channel participant except the sender; direct goes to
// the single recipient. Delivery to an agent with a registered handler is
// dispatched concurrently within a bounded window; an agent with no handler
// gets the message queued instead. A slow recipient never stalls delivery to
// the others.
func (m *Manager) SendMessage(ctx context.Context, msg AgentMessage) (MessageResponse, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.SessionID == "" {
		return MessageResponse{}, fmt.Errorf("message %s has no session id", msg.ID)
	}

	ch, recipients, err := m.resolveChannel(msg)
	if err != nil {
		return MessageResponse{}, err
	}

	results := make(chan deliveryResult, len(recipients))
	for _, agentID := range recipients {
		m.mu.RLock()
		handler := m.handlers[agentID]
		m.mu.RUnlock()

		go func(agentID string, handler Handler) {
			if handler == nil {
				results <- deliveryResult{agentID: agentID, delivered: m.enqueueOffline(agentID, msg)}
				return
			}

			hctx, cancel := context.WithTimeout(ctx, m.cfg.DeliveryWindow)
			defer cancel()

			start := time.Now()
			done := make(chan error, 1)
			go func() { done <- handler(hctx, msg) }()

			select {
			case herr := <-done:
				if herr != nil {
					slog.Warn("message handler failed", "agent", agentID, "message", msg.ID, "error", herr)
					results <- deliveryResult{agentID: agentID}
					return
				}
				results <- deliveryResult{agentID: agentID, delivered: true, latencyMs: float64(time.Since(start).Microseconds()) / 1000}
			case <-hctx.Done():
				slog.Warn("message handler timed out", "agent", agentID, "message", msg.ID)
				results <- deliveryResult{agentID: agentID}
			}
		}(agentID, handler)
	}

	resp := MessageResponse{
		MessageID: msg.ID,
		Timestamp: time.Now().UTC(),
	}

	// Collect every dispatch attempt; each is individually bounded by the
	// delivery window, so this cannot block past window + scheduling slack.
	for range recipients {
		r := <-results
		if r.delivered {
			resp.DeliveredTo = append(resp.DeliveredTo, r.agentID)
			if r.latencyMs > 0 {
				m.recordLatency(msg.SessionID, r.latencyMs)
			}
		} else {
			resp.FailedDeliveries = append(resp.FailedDeliveries, r.agentID)
		}
	}
	sort.Strings(resp.DeliveredTo)
	resp.Success = len(resp.FailedDeliveries) == 0 || len(resp.DeliveredTo) > 0

	if len(resp.DeliveredTo) > 0 {
		m.mu.Lock()
		ch.MessageCount++
		ch.LastActivity = time.Now().UTC()
		m.mu.Unlock()
	}

	m.mirror(ch, msg)
	if m.sink != nil {
		if err := m.sink.LogMessage(msg); err != nil {
			slog.Warn("message log write failed", "message", msg.ID, "error", err)
		}
	}

	return resp, nil
}

func (m *Manager) enqueueOffline(agentID string, msg AgentMessage) bool {
	m.mu.Lock()
	q := m.queues[agentID]
	if q == nil {
		q = NewOfflineQueue(agentID, m.cfg.QueueLimit)
		m.queues[agentID] = q
	}
	m.mu.Unlock()

	if !q.Enqueue(msg) {
		slog.Warn("offline queue full, dropping message", "agent", agentID, "message", msg.ID)
		return false
	}
	return true
}

func (m *Manager) recordLatency(sessionID string, ms float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lt := m.latency[sessionID]
	if lt == nil {
		lt = &latencyTotals{}
		m.latency[sessionID] = lt
	}
	lt.totalMs += ms
	lt.count++
}

func (m *Manager) mirror(ch *Channel, msg AgentMessage) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishJSON(ch.Topic, msg); err != nil {
		slog.Warn("bus mirror publish failed", "topic", ch.Topic, "error", err)
	}
	if msg.ToAgentID != Broadcast {
		if err := m.publisher.PublishJSON(natsbus.TopicAgentInbox(msg.ToAgentID), msg); err != nil {
			slog.Warn("bus inbox publish failed", "agent", msg.ToAgentID, "error", err)
		}
	}
}

// SendTaskAssignment dispatches a task_request to a worker with high priority
// and a response expected.
func (m *Manager) SendTaskAssignment(ctx context.Context, sessionID, fromAgentID, agentID string, payload TaskRequestPayload) (MessageResponse, error) {
	msg, err := NewMessage(sessionID, fromAgentID, agentID, TypeTaskRequest, PriorityHigh, payload)
	if err != nil {
		return MessageResponse{}, err
	}
	msg.RequiresResponse = true
	return m.SendMessage(ctx, msg)
}

// NotifySwarmDissolution broadcasts a final status_update describing results
// and metrics, then deletes every channel of the session and purges queued
// messages that belong to it.
func (m *Manager) NotifySwarmDissolution(ctx context.Context, sessionID, fromAgentID string, summary any) error {
	detail, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal dissolution summary: %w", err)
	}

	msg, err := NewMessage(sessionID, fromAgentID, Broadcast, TypeStatusUpdate, PriorityHigh, StatusUpdatePayload{
		Event:  "swarm_dissolved",
		Detail: detail,
	})
	if err != nil {
		return err
	}
	if _, err := m.SendMessage(ctx, msg); err != nil {
		slog.Warn("dissolution broadcast failed", "session", sessionID, "error", err)
	}

	m.RemoveSessionChannels(sessionID)
	return nil
}

// RemoveSessionChannels tears down all channels of a session. No channel
// outlives its session.
func (m *Manager) RemoveSessionChannels(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.sessionChannels[sessionID] {
		delete(m.channels, id)
	}
	delete(m.sessionChannels, sessionID)
	delete(m.latency, sessionID)
	for _, q := range m.queues {
		q.DropSession(sessionID)
	}
}

// SessionChannels returns copies of a session's channels.
func (m *Manager) SessionChannels(sessionID string) []Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Channel, 0, len(m.sessionChannels[sessionID]))
	for _, id := range m.sessionChannels[sessionID] {
		ch := *m.channels[id]
		ch.Participants = append([]string(nil), m.channels[id].Participants...)
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// GetSessionCommunicationStats aggregates message count, channel count and
// average handler response time across the session's channels.
func (m *Manager) GetSessionCommunicationStats(sessionID string) CommunicationStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := CommunicationStats{}
	for _, id := range m.sessionChannels[sessionID] {
		stats.ChannelCount++
		stats.TotalMessages += m.channels[id].MessageCount
	}
	if lt := m.latency[sessionID]; lt != nil && lt.count > 0 {
		stats.AvgResponseTimeMs = lt.totalMs / float64(lt.count)
	}
	return stats
}

// ChannelFor looks up the direct channel for an unordered agent pair.
func (m *Manager) ChannelFor(sessionID, agentA, agentB string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := pairKey(agentA, agentB)
	for _, id := range m.sessionChannels[sessionID] {
		ch := m.channels[id]
		if ch.Type != ChannelBroadcast && strings.HasSuffix(ch.ChannelID, key) {
			cp := *ch
			cp.Participants = append([]string(nil), ch.Participants...)
			return cp, true
		}
	}
	return Channel{}, false
}
