package swarm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/the13nth/perso-swarm/internal/comms"
)

// TaskPriority orders competing tasks and drives duration estimates.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// ComplexTask is the caller-submitted unit of work. Immutable once a swarm
// has been formed for it.
type ComplexTask struct {
	ID                   string         `json:"id"`
	Description          string         `json:"description"`
	Type                 string         `json:"type"`
	Priority             TaskPriority   `json:"priority"`
	Deadline             *time.Time     `json:"deadline,omitempty"`
	Requirements         []string       `json:"requirements"`
	Constraints          []string       `json:"constraints,omitempty"`
	ExpectedOutputFormat string         `json:"expected_output_format,omitempty"`
	Context              map[string]any `json:"context,omitempty"`
}

type SubTaskStatus string

const (
	SubTaskPending    SubTaskStatus = "pending"
	SubTaskInProgress SubTaskStatus = "in_progress"
	SubTaskCompleted  SubTaskStatus = "completed"
	SubTaskError      SubTaskStatus = "error"
)

// Terminal reports whether a subtask status permits no further transitions.
func (s SubTaskStatus) Terminal() bool {
	return s == SubTaskCompleted || s == SubTaskError
}

// SubTask is one unit of decomposed work, assignable to a single agent at a
// time. Status transitions are monotonic: pending -> in_progress ->
// {completed|error}.
type SubTask struct {
	ID                string          `json:"id"`
	Description       string          `json:"description"`
	Status            SubTaskStatus   `json:"status"`
	AssignedAgentID   string          `json:"assigned_agent_id,omitempty"`
	EstimatedDuration int             `json:"estimated_duration"` // minutes
	ActualDuration    *int            `json:"actual_duration,omitempty"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	Result            json.RawMessage `json:"result,omitempty"`
	DependsOn         []string        `json:"depends_on,omitempty"`
	Reassignments     int             `json:"reassignments,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// TaskDecomposition holds the fixed subtask list produced during formation.
// No dynamic re-decomposition happens after a swarm is formed.
type TaskDecomposition struct {
	SubTasks []SubTask `json:"sub_tasks"`
}

type SessionStatus string

const (
	StatusForming    SessionStatus = "forming"
	StatusActive     SessionStatus = "active"
	StatusCompleting SessionStatus = "completing"
	StatusCompleted  SessionStatus = "completed"
	StatusDissolved  SessionStatus = "dissolved"
	StatusError      SessionStatus = "error"
)

// legalTransitions is the session state machine. Terminal states
// (completed, error) admit only dissolution; dissolved admits nothing.
var legalTransitions = map[SessionStatus][]SessionStatus{
	StatusForming:    {StatusActive, StatusError, StatusDissolved},
	StatusActive:     {StatusCompleting, StatusCompleted, StatusError, StatusDissolved},
	StatusCompleting: {StatusCompleted, StatusError, StatusDissolved},
	StatusCompleted:  {StatusDissolved},
	StatusError:      {StatusDissolved},
	StatusDissolved:  {},
}

// CanTransition reports whether moving from one session status to another is
// allowed by the state machine. Self-transitions are no-ops and allowed.
func CanTransition(from, next SessionStatus) bool {
	if from == next {
		return true
	}
	for _, s := range legalTransitions[from] {
		if s == next {
			return true
		}
	}
	return false
}

// SubTaskResult is a terminal subtask outcome collected into the session's
// result list.
type SubTaskResult struct {
	SubTaskID   string          `json:"sub_task_id"`
	AgentID     string          `json:"agent_id"`
	Status      SubTaskStatus   `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	DurationMin int             `json:"duration_min,omitempty"`
}

// PerformanceMetrics is the running aggregate consumed by status queries.
type PerformanceMetrics struct {
	SuccessRate     float64 `json:"success_rate"`      // completed / terminal subtasks
	AvgDurationMin  float64 `json:"avg_duration_min"`  // mean actual duration of terminal subtasks
	MessageVolume   int     `json:"message_volume"`    // messages logged for the session
	ThroughputPerHr float64 `json:"throughput_per_hr"` // completed subtasks per hour of session lifetime
}

// SwarmSession is the aggregate root. A session is owned exclusively by its
// creating user; all mutating operations verify ownership first.
type SwarmSession struct {
	SessionID        string               `json:"session_id"`
	UserID           string               `json:"user_id"`
	Status           SessionStatus        `json:"status"`
	ActiveAgents     []string             `json:"active_agents"`
	CoordinatorAgent string               `json:"coordinator_agent"`
	Task             ComplexTask          `json:"task"`
	Decomposition    TaskDecomposition    `json:"decomposition"`
	CreatedAt        time.Time            `json:"created_at"`
	LastActivity     time.Time            `json:"last_activity"`
	CompletedAt      *time.Time           `json:"completed_at,omitempty"`
	MessageLog       []comms.AgentMessage `json:"message_log,omitempty"`
	Results          []SubTaskResult      `json:"results,omitempty"`
	Metrics          PerformanceMetrics   `json:"performance_metrics"`
}

// Progress returns overall completion as a whole percentage. A session with
// zero subtasks reports 0 rather than dividing by zero.
func (s *SwarmSession) Progress() int {
	total := len(s.Decomposition.SubTasks)
	if total == 0 {
		return 0
	}
	completed := 0
	for _, st := range s.Decomposition.SubTasks {
		if st.Status == SubTaskCompleted {
			completed++
		}
	}
	return int(float64(completed)/float64(total)*100 + 0.5)
}

// SubTaskByID returns a pointer into the decomposition, or nil.
func (s *SwarmSession) SubTaskByID(id string) *SubTask {
	for i := range s.Decomposition.SubTasks {
		if s.Decomposition.SubTasks[i].ID == id {
			return &s.Decomposition.SubTasks[i]
		}
	}
	return nil
}

// Clone deep-copies the session so monitors read a consistent snapshot while
// the orchestrator keeps mutating the original.
func (s *SwarmSession) Clone() *SwarmSession {
	cp := *s
	cp.ActiveAgents = append([]string(nil), s.ActiveAgents...)
	cp.Decomposition.SubTasks = make([]SubTask, len(s.Decomposition.SubTasks))
	copy(cp.Decomposition.SubTasks, s.Decomposition.SubTasks)
	for i, st := range s.Decomposition.SubTasks {
		if st.ActualDuration != nil {
			d := *st.ActualDuration
			cp.Decomposition.SubTasks[i].ActualDuration = &d
		}
		if st.StartedAt != nil {
			t := *st.StartedAt
			cp.Decomposition.SubTasks[i].StartedAt = &t
		}
		if st.CompletedAt != nil {
			t := *st.CompletedAt
			cp.Decomposition.SubTasks[i].CompletedAt = &t
		}
		cp.Decomposition.SubTasks[i].DependsOn = append([]string(nil), st.DependsOn...)
	}
	cp.MessageLog = append([]comms.AgentMessage(nil), s.MessageLog...)
	cp.Results = append([]SubTaskResult(nil), s.Results...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

type IssueSeverity string

const (
	SeverityLow      IssueSeverity = "low"
	SeverityMedium   IssueSeverity = "medium"
	SeverityHigh     IssueSeverity = "high"
	SeverityCritical IssueSeverity = "critical"
)

type HealthIssue struct {
	AgentID     string        `json:"agent_id,omitempty"`
	Severity    IssueSeverity `json:"severity"`
	Description string        `json:"description"`
}

// HealthReport summarizes per-agent and overall swarm operational status.
type HealthReport struct {
	OverallHealth   HealthStatus            `json:"overall_health"`
	AgentHealth     map[string]HealthStatus `json:"agent_health"`
	Issues          []HealthIssue           `json:"issues,omitempty"`
	Recommendations []string                `json:"recommendations,omitempty"`
}

// AgentMetadata is a capability directory entry: an available worker agent
// and its declared category/capability tags.
type AgentMetadata struct {
	AgentID     string   `json:"agent_id"`
	Name        string   `json:"name,omitempty"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags,omitempty"`
	Description string   `json:"description,omitempty"`
}

// AgentDirectory is the read-only capability lookup consulted during matching.
type AgentDirectory interface {
	ListAgents(ctx context.Context, userID string) ([]AgentMetadata, error)
}

// SessionStore is the durable session persistence collaborator. GetSession
// returns (nil, nil) for an unknown session id.
type SessionStore interface {
	GetSession(sessionID string) (*SwarmSession, error)
	PutSession(session *SwarmSession) error
}
