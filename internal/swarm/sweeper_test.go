package swarm

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/the13nth/perso-swarm/internal/config"
)

func sweeperConfig() config.SweeperConfig {
	return config.SweeperConfig{
		Schedule:         `{"kind":"interval","interval_ms":60000}`,
		MaxReassignments: 2,
		OverrunFactor:    2.0,
	}
}

func stalledSession(sessionID string, reassignments int) *SwarmSession {
	started := time.Now().Add(-3 * time.Hour)
	return &SwarmSession{
		SessionID:        sessionID,
		UserID:           "user1",
		Status:           StatusActive,
		ActiveAgents:     []string{"coord", "w1", "w2"},
		CoordinatorAgent: "coord",
		CreatedAt:        started,
		LastActivity:     started,
		Decomposition: TaskDecomposition{SubTasks: []SubTask{{
			ID:                "st1",
			Description:       "stuck work",
			Status:            SubTaskInProgress,
			AssignedAgentID:   "w1",
			EstimatedDuration: 10,
			StartedAt:         &started,
			Reassignments:     reassignments,
		}}},
	}
}

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	orch, store, _ := newTestOrchestrator()
	cfg := sweeperConfig()
	cfg.Schedule = "not a schedule"
	if _, err := NewSweeper(orch, store, cfg); err == nil {
		t.Fatal("expected schedule validation error")
	}
}

func TestSweepReassignsStalledSubTask(t *testing.T) {
	orch, store, cm := newTestOrchestrator()
	session := stalledSession("s1", 0)
	store.PutSession(session)
	if err := cm.InitializeSwarmCommunication("s1", "coord", session.ActiveAgents); err != nil {
		t.Fatal(err)
	}

	sweeper, err := NewSweeper(orch, store, sweeperConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}

	swept, _ := store.GetSession("s1")
	st := swept.SubTaskByID("st1")
	if st.AssignedAgentID != "w2" {
		t.Errorf("expected reassignment to w2, got %s", st.AssignedAgentID)
	}
	if st.Reassignments != 1 {
		t.Errorf("expected 1 reassignment, got %d", st.Reassignments)
	}
	if st.Status != SubTaskInProgress {
		t.Errorf("expected subtask still in_progress, got %s", st.Status)
	}
}

func TestSweepWithinEstimateLeavesSubTask(t *testing.T) {
	orch, store, cm := newTestOrchestrator()
	session := stalledSession("s1", 0)
	started := time.Now().Add(-5 * time.Minute)
	session.Decomposition.SubTasks[0].StartedAt = &started
	store.PutSession(session)
	cm.InitializeSwarmCommunication("s1", "coord", session.ActiveAgents)

	sweeper, err := NewSweeper(orch, store, sweeperConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}

	swept, _ := store.GetSession("s1")
	st := swept.SubTaskByID("st1")
	if st.AssignedAgentID != "w1" || st.Reassignments != 0 {
		t.Errorf("expected untouched subtask, got agent %s reassignments %d", st.AssignedAgentID, st.Reassignments)
	}
}

func TestSweepExhaustedReassignmentsMarksFailed(t *testing.T) {
	orch, store, cm := newTestOrchestrator()
	session := stalledSession("s1", 2)
	store.PutSession(session)
	cm.InitializeSwarmCommunication("s1", "coord", session.ActiveAgents)

	sweeper, err := NewSweeper(orch, store, sweeperConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}

	swept, _ := store.GetSession("s1")
	st := swept.SubTaskByID("st1")
	if st.Status != SubTaskError {
		t.Fatalf("expected error status, got %s", st.Status)
	}
	if !strings.Contains(st.Error, "timed out") {
		t.Errorf("expected timeout note, got %q", st.Error)
	}
	// The only subtask is terminal, so the session finishes
	if swept.Status != StatusCompleted {
		t.Errorf("expected completed session, got %s", swept.Status)
	}
	if swept.Metrics.SuccessRate != 0 {
		t.Errorf("expected zero success rate, got %f", swept.Metrics.SuccessRate)
	}
}

func TestSweepIgnoresInactiveSessions(t *testing.T) {
	orch, store, cm := newTestOrchestrator()
	session := stalledSession("s1", 0)
	session.Status = StatusDissolved
	store.PutSession(session)
	cm.InitializeSwarmCommunication("s1", "coord", session.ActiveAgents)

	sweeper, err := NewSweeper(orch, store, sweeperConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}

	swept, _ := store.GetSession("s1")
	if st := swept.SubTaskByID("st1"); st.Reassignments != 0 {
		t.Errorf("expected dissolved session untouched, got %d reassignments", st.Reassignments)
	}
}

func TestNextWorkerPrefersNonCoordinator(t *testing.T) {
	session := stalledSession("s1", 0)
	if got := nextWorker(session, "w1"); got != "w2" {
		t.Errorf("expected w2, got %s", got)
	}
	session.ActiveAgents = []string{"coord", "w1"}
	if got := nextWorker(session, "w1"); got != "coord" {
		t.Errorf("expected coord fallback, got %s", got)
	}
	session.ActiveAgents = []string{"w1"}
	if got := nextWorker(session, "w1"); got != "w1" {
		t.Errorf("expected current agent when alone, got %s", got)
	}
}
