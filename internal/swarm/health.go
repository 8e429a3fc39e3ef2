package swarm

import (
	"fmt"
	"time"
)

// healthRank orders statuses so aggregation can take the worst case.
var healthRank = map[HealthStatus]int{
	HealthHealthy:  0,
	HealthDegraded: 1,
	HealthCritical: 2,
}

func worseOf(a, b HealthStatus) HealthStatus {
	if healthRank[b] > healthRank[a] {
		return b
	}
	return a
}

// ComputeMetrics aggregates a session snapshot into performance metrics.
// Pure: safe to call repeatedly and concurrently on a cloned session.
func ComputeMetrics(session *SwarmSession, now time.Time) PerformanceMetrics {
	m := PerformanceMetrics{MessageVolume: len(session.MessageLog)}

	terminal, completed := 0, 0
	durationSum, durationCount := 0, 0
	for _, st := range session.Decomposition.SubTasks {
		if !st.Status.Terminal() {
			continue
		}
		terminal++
		if st.Status == SubTaskCompleted {
			completed++
		}
		if st.ActualDuration != nil {
			durationSum += *st.ActualDuration
			durationCount++
		}
	}

	if terminal > 0 {
		m.SuccessRate = float64(completed) / float64(terminal)
	}
	if durationCount > 0 {
		m.AvgDurationMin = float64(durationSum) / float64(durationCount)
	}
	if hours := now.Sub(session.CreatedAt).Hours(); hours > 0 {
		m.ThroughputPerHr = float64(completed) / hours
	}
	return m
}

// ComputeHealth derives per-agent health from subtask state and aggregates
// to an overall status with worst-case-wins. An agent whose subtask is stuck
// in_progress past its estimate is degraded; an agent with a failed subtask
// is critical with a high-severity issue.
func ComputeHealth(session *SwarmSession, now time.Time) HealthReport {
	report := HealthReport{
		OverallHealth: HealthHealthy,
		AgentHealth:   make(map[string]HealthStatus, len(session.ActiveAgents)),
	}
	for _, agent := range session.ActiveAgents {
		report.AgentHealth[agent] = HealthHealthy
	}

	for _, st := range session.Decomposition.SubTasks {
		agent := st.AssignedAgentID
		if agent == "" {
			continue
		}

		switch {
		case st.Status == SubTaskError:
			report.AgentHealth[agent] = worseOf(report.AgentHealth[agent], HealthCritical)
			report.Issues = append(report.Issues, HealthIssue{
				AgentID:     agent,
				Severity:    SeverityHigh,
				Description: fmt.Sprintf("subtask %s failed: %s", st.ID, st.Error),
			})
		case st.Status == SubTaskInProgress && st.StartedAt != nil:
			overdue := now.Sub(*st.StartedAt) > time.Duration(st.EstimatedDuration)*time.Minute
			if overdue {
				report.AgentHealth[agent] = worseOf(report.AgentHealth[agent], HealthDegraded)
				report.Issues = append(report.Issues, HealthIssue{
					AgentID:     agent,
					Severity:    SeverityMedium,
					Description: fmt.Sprintf("subtask %s overran its %d minute estimate", st.ID, st.EstimatedDuration),
				})
			}
		}
	}

	for _, status := range report.AgentHealth {
		report.OverallHealth = worseOf(report.OverallHealth, status)
	}

	switch report.OverallHealth {
	case HealthCritical:
		report.Recommendations = append(report.Recommendations, "review failed subtasks and reassign or dissolve the swarm")
	case HealthDegraded:
		report.Recommendations = append(report.Recommendations, "check overdue subtasks; a stalled worker will be reassigned by the sweeper")
	}
	return report
}
