package swarm

import (
	"sort"
	"strings"
)

// MatchResult is the team assembled for a swarm: one coordinator plus the
// remaining eligible agents as workers. A single-agent pool yields a
// coordinator that also works alone.
type MatchResult struct {
	Coordinator AgentMetadata
	Workers     []AgentMetadata
}

// tagMatches reports a case-insensitive substring overlap in either
// direction between an agent tag and a requirement.
func tagMatches(tag, requirement string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	requirement = strings.ToLower(strings.TrimSpace(requirement))
	if tag == "" || requirement == "" {
		return false
	}
	return strings.Contains(tag, requirement) || strings.Contains(requirement, tag)
}

// coverage counts how many of the given requirements an agent's declared
// category or tags satisfy.
func coverage(agent AgentMetadata, requirements []string) int {
	covered := 0
	for _, req := range requirements {
		if tagMatches(agent.Category, req) {
			covered++
			continue
		}
		for _, tag := range agent.Tags {
			if tagMatches(tag, req) {
				covered++
				break
			}
		}
	}
	return covered
}

// MatchAgents selects a coordinator and workers from the capability
// directory for a task. Eligibility is tag-overlap against the task's
// requirements or its overall type; the agent with broadest requirement
// coverage becomes coordinator. Zero eligible agents is a
// NoSuitableAgentsError.
func MatchAgents(task ComplexTask, pool []AgentMetadata) (MatchResult, error) {
	requirements := append([]string(nil), task.Requirements...)
	if task.Type != "" {
		requirements = append(requirements, task.Type)
	}

	type scored struct {
		agent AgentMetadata
		score int
	}
	var eligible []scored
	for _, agent := range pool {
		if score := coverage(agent, requirements); score > 0 {
			eligible = append(eligible, scored{agent: agent, score: score})
		}
	}
	if len(eligible) == 0 {
		return MatchResult{}, &NoSuitableAgentsError{Requirements: task.Requirements}
	}

	// Broadest coverage first; agent id breaks ties deterministically.
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].score != eligible[j].score {
			return eligible[i].score > eligible[j].score
		}
		return eligible[i].agent.AgentID < eligible[j].agent.AgentID
	})

	result := MatchResult{Coordinator: eligible[0].agent}
	for _, e := range eligible[1:] {
		result.Workers = append(result.Workers, e.agent)
	}
	return result, nil
}

// AssignWorkers maps subtasks onto workers round-robin, one per subtask
// where possible; workers are reused when the pool is smaller than the
// subtask count. With no separate workers the coordinator takes everything.
func AssignWorkers(match MatchResult, subTasks []SubTask) map[string]string {
	assignees := match.Workers
	if len(assignees) == 0 {
		assignees = []AgentMetadata{match.Coordinator}
	}

	assignments := make(map[string]string, len(subTasks))
	for i, st := range subTasks {
		assignments[st.ID] = assignees[i%len(assignees)].AgentID
	}
	return assignments
}
