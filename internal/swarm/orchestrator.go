package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/the13nth/perso-swarm/internal/comms"
	"github.com/the13nth/perso-swarm/internal/natsbus"
)

// EventPublisher receives swarm lifecycle events. Satisfied by
// *natsbus.Client; may be nil.
type EventPublisher interface {
	PublishJSON(topic string, v any) error
}

// Notifier receives human-readable lifecycle notifications. May be nil.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Orchestrator owns the SwarmSession state machine: it forms swarms, drives
// subtask assignment through the communication manager, collects results and
// exposes the session lifecycle operations. It is the single writer of
// session state; all mutations of a given session are serialized on a
// per-session lock.
type Orchestrator struct {
	store     SessionStore
	directory AgentDirectory
	comms     *comms.Manager
	events    EventPublisher
	notifier  Notifier

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewOrchestrator(store SessionStore, directory AgentDirectory, cm *comms.Manager, events EventPublisher) *Orchestrator {
	return &Orchestrator{
		store:     store,
		directory: directory,
		comms:     cm,
		events:    events,
		locks:     make(map[string]*sync.Mutex),
	}
}

// SetNotifier attaches an optional lifecycle notifier.
func (o *Orchestrator) SetNotifier(n Notifier) {
	o.notifier = n
}

func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	mu, ok := o.locks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		o.locks[sessionID] = mu
	}
	return mu
}

// FormSwarm runs decomposition and matching, creates the session, opens its
// channels and dispatches task assignments. Any failure in the pipeline
// aborts before the session is persisted, so no orphaned forming sessions
// remain.
func (o *Orchestrator) FormSwarm(ctx context.Context, task ComplexTask, userID string) (*SwarmSession, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	decomposition, err := Decompose(task)
	if err != nil {
		return nil, err
	}

	pool, err := o.directory.ListAgents(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	match, err := MatchAgents(task, pool)
	if err != nil {
		return nil, err
	}

	activeAgents := []string{match.Coordinator.AgentID}
	for _, w := range match.Workers {
		activeAgents = append(activeAgents, w.AgentID)
	}

	now := time.Now().UTC()
	session := &SwarmSession{
		SessionID:        uuid.New().String(),
		UserID:           userID,
		Status:           StatusForming,
		ActiveAgents:     activeAgents,
		CoordinatorAgent: match.Coordinator.AgentID,
		Task:             task,
		Decomposition:    decomposition,
		CreatedAt:        now,
		LastActivity:     now,
	}

	if err := o.comms.InitializeSwarmCommunication(session.SessionID, session.CoordinatorAgent, activeAgents); err != nil {
		return nil, &CommunicationError{Op: "initialize channels", Err: err}
	}

	// Results flow back through the coordinator's delivery path.
	o.comms.RegisterMessageHandler(session.CoordinatorAgent, o.onAgentMessage)

	assignments := AssignWorkers(match, decomposition.SubTasks)
	for i := range session.Decomposition.SubTasks {
		st := &session.Decomposition.SubTasks[i]
		agentID := assignments[st.ID]

		resp, err := o.comms.SendTaskAssignment(ctx, session.SessionID, session.CoordinatorAgent, agentID, comms.TaskRequestPayload{
			SubTaskID:         st.ID,
			Description:       st.Description,
			EstimatedDuration: st.EstimatedDuration,
			Deadline:          task.Deadline,
			OutputFormat:      task.ExpectedOutputFormat,
			DependsOn:         st.DependsOn,
			Constraints:       task.Constraints,
		})
		if err != nil {
			o.comms.RemoveSessionChannels(session.SessionID)
			return nil, &CommunicationError{Op: "dispatch task assignment", Err: err}
		}

		started := time.Now().UTC()
		st.Status = SubTaskInProgress
		st.AssignedAgentID = agentID
		st.StartedAt = &started

		session.MessageLog = append(session.MessageLog, assignmentLogEntry(session.SessionID, session.CoordinatorAgent, agentID, resp.MessageID, st.ID))
	}

	session.Status = StatusActive
	session.LastActivity = time.Now().UTC()
	session.Metrics = ComputeMetrics(session, session.LastActivity)

	if err := o.store.PutSession(session); err != nil {
		o.comms.RemoveSessionChannels(session.SessionID)
		return nil, fmt.Errorf("persist session: %w", err)
	}

	slog.Info("swarm formed", "session", session.SessionID, "user", userID,
		"agents", len(activeAgents), "subtasks", len(session.Decomposition.SubTasks))
	o.publishEvent(session.SessionID, "swarm_formed", map[string]any{
		"coordinator": session.CoordinatorAgent,
		"agents":      len(activeAgents),
		"subtasks":    len(session.Decomposition.SubTasks),
	})
	o.notify(ctx, fmt.Sprintf("Swarm %s formed for task %q with %d agents", shortID(session.SessionID), task.Description, len(activeAgents)))

	return session.Clone(), nil
}

func assignmentLogEntry(sessionID, from, to, messageID, subTaskID string) comms.AgentMessage {
	payload, _ := json.Marshal(comms.TaskRequestPayload{SubTaskID: subTaskID})
	return comms.AgentMessage{
		ID:               messageID,
		FromAgentID:      from,
		ToAgentID:        to,
		Type:             comms.TypeTaskRequest,
		Payload:          payload,
		Timestamp:        time.Now().UTC(),
		Priority:         comms.PriorityHigh,
		SessionID:        sessionID,
		RequiresResponse: true,
	}
}

// GetSession is a read-only lookup. It does not touch lastActivity and
// returns a deep copy so callers cannot mutate orchestrator state.
func (o *Orchestrator) GetSession(sessionID, userID string) (*SwarmSession, error) {
	session, err := o.store.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, &NotFoundError{Kind: "session", ID: sessionID}
	}
	if session.UserID != userID {
		return nil, &AuthorizationError{UserID: userID, SessionID: sessionID}
	}
	return session.Clone(), nil
}

// ListSessions returns the caller's sessions.
func (o *Orchestrator) ListSessions(userID string) ([]*SwarmSession, error) {
	lister, ok := o.store.(SessionLister)
	if !ok {
		return nil, fmt.Errorf("session store does not support listing")
	}
	sessions, err := lister.ListSessions(userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*SwarmSession, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Clone())
	}
	return out, nil
}

// SessionLister is the optional listing extension of SessionStore.
type SessionLister interface {
	ListSessions(userID string) ([]*SwarmSession, error)
}

// UpdateSessionStatus moves a session through the state machine, rejecting
// illegal transitions.
func (o *Orchestrator) UpdateSessionStatus(ctx context.Context, sessionID, userID string, status SessionStatus) (*SwarmSession, error) {
	mu := o.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := o.store.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, &NotFoundError{Kind: "session", ID: sessionID}
	}
	if session.UserID != userID {
		return nil, &AuthorizationError{UserID: userID, SessionID: sessionID}
	}
	if !CanTransition(session.Status, status) {
		return nil, &ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("illegal transition %s -> %s", session.Status, status),
		}
	}

	if session.Status != status {
		session.Status = status
		session.LastActivity = time.Now().UTC()
		if status == StatusCompleted && session.CompletedAt == nil {
			done := session.LastActivity
			session.CompletedAt = &done
		}
		if err := o.store.PutSession(session); err != nil {
			return nil, fmt.Errorf("persist session: %w", err)
		}
		o.publishEvent(sessionID, "status_changed", map[string]any{"status": string(status)})
	}
	return session.Clone(), nil
}

// UpdateSubTask applies a status/result update to one subtask. Transitions
// are monotonic: once terminal, a subtask never moves again, and updates for
// a dissolved session are rejected.
func (o *Orchestrator) UpdateSubTask(ctx context.Context, sessionID, userID, subTaskID string, status SubTaskStatus, result json.RawMessage, errMsg string) (*SwarmSession, error) {
	mu := o.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := o.store.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, &NotFoundError{Kind: "session", ID: sessionID}
	}
	if session.UserID != userID {
		return nil, &AuthorizationError{UserID: userID, SessionID: sessionID}
	}
	if session.Status == StatusDissolved {
		return nil, &ValidationError{Field: "session", Reason: "session is dissolved"}
	}

	if err := applySubTaskUpdate(session, subTaskID, status, result, errMsg); err != nil {
		return nil, err
	}
	o.finalizeIfDone(session)

	if err := o.store.PutSession(session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	o.publishEvent(sessionID, "subtask_updated", map[string]any{
		"sub_task": subTaskID,
		"status":   string(status),
		"progress": session.Progress(),
	})
	if session.Status == StatusCompleted {
		o.publishEvent(sessionID, "swarm_completed", map[string]any{"results": len(session.Results)})
		o.notify(ctx, fmt.Sprintf("Swarm %s completed (%d results)", shortID(sessionID), len(session.Results)))
	}
	return session.Clone(), nil
}

// applySubTaskUpdate mutates one subtask in place, enforcing forward-only
// transitions.
func applySubTaskUpdate(session *SwarmSession, subTaskID string, status SubTaskStatus, result json.RawMessage, errMsg string) error {
	st := session.SubTaskByID(subTaskID)
	if st == nil {
		return &NotFoundError{Kind: "subtask", ID: subTaskID}
	}
	if st.Status.Terminal() {
		return &ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("subtask %s is already %s", subTaskID, st.Status),
		}
	}
	if status == SubTaskPending {
		return &ValidationError{Field: "status", Reason: "cannot move a subtask back to pending"}
	}

	now := time.Now().UTC()
	if status == SubTaskInProgress && st.StartedAt == nil {
		st.StartedAt = &now
	}
	st.Status = status

	if status.Terminal() {
		st.CompletedAt = &now
		if st.StartedAt != nil {
			minutes := int(now.Sub(*st.StartedAt).Minutes())
			st.ActualDuration = &minutes
		}
		st.Result = result
		st.Error = errMsg
		session.Results = append(session.Results, SubTaskResult{
			SubTaskID: subTaskID,
			AgentID:   st.AssignedAgentID,
			Status:    status,
			Output:    result,
			Error:     errMsg,
			DurationMin: func() int {
				if st.ActualDuration != nil {
					return *st.ActualDuration
				}
				return 0
			}(),
		})
	}

	session.LastActivity = now
	session.Metrics = ComputeMetrics(session, now)
	return nil
}

// finalizeIfDone moves an active session through completing to completed
// once every subtask is terminal. Result aggregation happens inline, so
// completing is transient here.
func (o *Orchestrator) finalizeIfDone(session *SwarmSession) {
	if session.Status != StatusActive && session.Status != StatusCompleting {
		return
	}
	for _, st := range session.Decomposition.SubTasks {
		if !st.Status.Terminal() {
			return
		}
	}

	session.Status = StatusCompleting
	now := time.Now().UTC()
	session.Metrics = ComputeMetrics(session, now)
	session.Status = StatusCompleted
	session.CompletedAt = &now
	session.LastActivity = now
}

// onAgentMessage is the delivery path registered for coordinator agents.
// Worker results and status updates arrive here asynchronously; anything for
// a dissolved session is dropped, not applied.
func (o *Orchestrator) onAgentMessage(ctx context.Context, msg comms.AgentMessage) error {
	payload, err := comms.DecodePayload(msg)
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case *comms.ResultHandoffPayload:
		return o.applyResultHandoff(ctx, msg, p)
	case *comms.StatusUpdatePayload:
		o.appendToLog(msg)
		return nil
	default:
		// Coordination traffic between agents needs no orchestrator action.
		return nil
	}
}

func (o *Orchestrator) applyResultHandoff(ctx context.Context, msg comms.AgentMessage, p *comms.ResultHandoffPayload) error {
	mu := o.sessionLock(msg.SessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := o.store.GetSession(msg.SessionID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	if session == nil || session.Status == StatusDissolved {
		slog.Debug("dropping result for missing or dissolved session", "session", msg.SessionID, "message", msg.ID)
		return nil
	}

	status := SubTaskCompleted
	if p.Status == string(SubTaskError) || p.Error != "" {
		status = SubTaskError
	}
	if err := applySubTaskUpdate(session, p.SubTaskID, status, p.Output, p.Error); err != nil {
		// A late duplicate handoff for a terminal subtask is dropped.
		slog.Debug("dropping result handoff", "session", msg.SessionID, "sub_task", p.SubTaskID, "reason", err)
		return nil
	}
	session.MessageLog = append(session.MessageLog, msg)
	o.finalizeIfDone(session)

	if err := o.store.PutSession(session); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	o.publishEvent(msg.SessionID, "subtask_updated", map[string]any{
		"sub_task": p.SubTaskID,
		"status":   string(status),
		"progress": session.Progress(),
	})
	if session.Status == StatusCompleted {
		o.publishEvent(msg.SessionID, "swarm_completed", map[string]any{"results": len(session.Results)})
		o.notify(ctx, fmt.Sprintf("Swarm %s completed (%d results)", shortID(msg.SessionID), len(session.Results)))
	}
	return nil
}

func (o *Orchestrator) appendToLog(msg comms.AgentMessage) {
	mu := o.sessionLock(msg.SessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := o.store.GetSession(msg.SessionID)
	if err != nil || session == nil || session.Status == StatusDissolved {
		return
	}
	session.MessageLog = append(session.MessageLog, msg)
	session.LastActivity = time.Now().UTC()
	session.Metrics = ComputeMetrics(session, session.LastActivity)
	if err := o.store.PutSession(session); err != nil {
		slog.Warn("persist message log failed", "session", msg.SessionID, "error", err)
	}
}

// MonitorSwarmHealth derives a health report from a consistent snapshot of
// the session.
func (o *Orchestrator) MonitorSwarmHealth(sessionID, userID string) (HealthReport, error) {
	session, err := o.GetSession(sessionID, userID)
	if err != nil {
		return HealthReport{}, err
	}
	return ComputeHealth(session, time.Now().UTC()), nil
}

// CommunicationStats exposes the session's channel traffic summary.
func (o *Orchestrator) CommunicationStats(sessionID, userID string) (comms.CommunicationStats, error) {
	if _, err := o.GetSession(sessionID, userID); err != nil {
		return comms.CommunicationStats{}, err
	}
	return o.comms.GetSessionCommunicationStats(sessionID), nil
}

// DissolutionSummary is broadcast to participants when a swarm dissolves.
type DissolutionSummary struct {
	SessionID string             `json:"session_id"`
	Progress  int                `json:"progress"`
	Results   []SubTaskResult    `json:"results,omitempty"`
	Metrics   PerformanceMetrics `json:"metrics"`
}

// DissolveSwarm transitions the session to dissolved, broadcasts a
// dissolution notice and tears down its channels. Idempotent: dissolving an
// already-dissolved session is a no-op.
func (o *Orchestrator) DissolveSwarm(ctx context.Context, sessionID, userID string) (*SwarmSession, error) {
	mu := o.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := o.store.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, &NotFoundError{Kind: "session", ID: sessionID}
	}
	if session.UserID != userID {
		return nil, &AuthorizationError{UserID: userID, SessionID: sessionID}
	}
	if session.Status == StatusDissolved {
		return session.Clone(), nil
	}

	summary := DissolutionSummary{
		SessionID: sessionID,
		Progress:  session.Progress(),
		Results:   session.Results,
		Metrics:   session.Metrics,
	}
	if err := o.comms.NotifySwarmDissolution(ctx, sessionID, session.CoordinatorAgent, summary); err != nil {
		// Channel teardown still happened; log and continue dissolving.
		slog.Warn("dissolution notice failed", "session", sessionID, "error", err)
	}

	session.Status = StatusDissolved
	session.LastActivity = time.Now().UTC()
	if err := o.store.PutSession(session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	slog.Info("swarm dissolved", "session", sessionID, "progress", summary.Progress)
	o.publishEvent(sessionID, "swarm_dissolved", map[string]any{"progress": summary.Progress})
	o.notify(ctx, fmt.Sprintf("Swarm %s dissolved at %d%% progress", shortID(sessionID), summary.Progress))

	o.locksMu.Lock()
	delete(o.locks, sessionID)
	o.locksMu.Unlock()

	return session.Clone(), nil
}

func (o *Orchestrator) publishEvent(sessionID, eventType string, data map[string]any) {
	if o.events == nil {
		return
	}
	event := map[string]any{
		"type":       eventType,
		"session_id": sessionID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"data":       data,
	}
	if err := o.events.PublishJSON(natsbus.TopicEventsSwarmID(sessionID), event); err != nil {
		slog.Warn("event publish failed", "session", sessionID, "type", eventType, "error", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, text string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, text); err != nil {
		slog.Warn("notifier failed", "error", err)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
