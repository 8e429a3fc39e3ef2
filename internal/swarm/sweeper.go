package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/the13nth/perso-swarm/internal/comms"
	"github.com/the13nth/perso-swarm/internal/config"
	"github.com/the13nth/perso-swarm/internal/schedule"
)

// ActiveSessionLister feeds the sweeper. Implemented by the session store.
type ActiveSessionLister interface {
	ListSessionsByStatus(status SessionStatus) ([]*SwarmSession, error)
}

// Sweeper reassigns stalled subtasks. A subtask stuck in_progress past
// OverrunFactor times its estimate is handed to another worker, at most
// MaxReassignments times; after that it is marked failed with a timeout
// note. This is the concrete policy for the stall gap the state machine
// itself leaves open.
type Sweeper struct {
	orch  *Orchestrator
	store ActiveSessionLister
	cfg   config.SweeperConfig
}

func NewSweeper(orch *Orchestrator, store ActiveSessionLister, cfg config.SweeperConfig) (*Sweeper, error) {
	if cfg.OverrunFactor <= 1 {
		cfg.OverrunFactor = 2.0
	}
	if cfg.MaxReassignments < 0 {
		cfg.MaxReassignments = 2
	}
	normalized, err := schedule.NormalizeSchedule(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("sweeper schedule: %w", err)
	}
	cfg.Schedule = normalized
	return &Sweeper{orch: orch, store: store, cfg: cfg}, nil
}

// Start runs sweeps on the configured cadence until the context ends.
func (s *Sweeper) Start(ctx context.Context) {
	for {
		next := schedule.CalculateNextRun(s.cfg.Schedule)
		if next == nil {
			slog.Error("sweeper schedule produced no next run, stopping", "schedule", s.cfg.Schedule)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(*next)):
			if err := s.Sweep(ctx); err != nil {
				slog.Warn("sweep failed", "error", err)
			}
		}
	}
}

// Sweep scans active sessions once and handles every stalled subtask.
func (s *Sweeper) Sweep(ctx context.Context) error {
	sessions, err := s.store.ListSessionsByStatus(StatusActive)
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}

	for _, session := range sessions {
		s.sweepSession(ctx, session.SessionID)
	}
	return nil
}

func (s *Sweeper) sweepSession(ctx context.Context, sessionID string) {
	mu := s.orch.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.orch.store.GetSession(sessionID)
	if err != nil || session == nil || session.Status != StatusActive {
		return
	}

	now := time.Now().UTC()
	changed := false
	for i := range session.Decomposition.SubTasks {
		st := &session.Decomposition.SubTasks[i]
		if st.Status != SubTaskInProgress || st.StartedAt == nil {
			continue
		}

		allowed := time.Duration(float64(st.EstimatedDuration)*s.cfg.OverrunFactor) * time.Minute
		if now.Sub(*st.StartedAt) <= allowed {
			continue
		}

		if st.Reassignments >= s.cfg.MaxReassignments {
			slog.Warn("subtask exhausted reassignments, marking failed",
				"session", sessionID, "sub_task", st.ID, "reassignments", st.Reassignments)
			_ = applySubTaskUpdate(session, st.ID, SubTaskError, nil,
				fmt.Sprintf("timed out after %d reassignments", st.Reassignments))
			changed = true
			continue
		}

		replacement := nextWorker(session, st.AssignedAgentID)
		slog.Info("reassigning stalled subtask",
			"session", sessionID, "sub_task", st.ID, "from", st.AssignedAgentID, "to", replacement)

		if _, err := s.orch.comms.SendTaskAssignment(ctx, sessionID, session.CoordinatorAgent, replacement, comms.TaskRequestPayload{
			SubTaskID:         st.ID,
			Description:       st.Description,
			EstimatedDuration: st.EstimatedDuration,
			DependsOn:         st.DependsOn,
		}); err != nil {
			slog.Warn("reassignment dispatch failed", "session", sessionID, "sub_task", st.ID, "error", err)
			continue
		}

		st.AssignedAgentID = replacement
		st.Reassignments++
		st.StartedAt = &now
		changed = true
	}

	if !changed {
		return
	}

	s.orch.finalizeIfDone(session)
	session.LastActivity = now
	session.Metrics = ComputeMetrics(session, now)
	if err := s.orch.store.PutSession(session); err != nil {
		slog.Warn("persist swept session failed", "session", sessionID, "error", err)
		return
	}
	s.orch.publishEvent(sessionID, "swarm_swept", map[string]any{"progress": session.Progress()})
}

// nextWorker picks a different active agent when one exists, preferring
// non-coordinator workers.
func nextWorker(session *SwarmSession, current string) string {
	for _, agent := range session.ActiveAgents {
		if agent != current && agent != session.CoordinatorAgent {
			return agent
		}
	}
	for _, agent := range session.ActiveAgents {
		if agent != current {
			return agent
		}
	}
	return current
}
