package swarm

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// base estimates in minutes per subtask, by priority. Urgent work gets
// tighter boxes.
var priorityEstimate = map[TaskPriority]int{
	PriorityLow:    30,
	PriorityMedium: 20,
	PriorityHigh:   15,
	PriorityUrgent: 10,
}

// Decompose turns a task description and its declared requirements into an
// ordered set of subtasks with estimated durations and dependency hints. It
// is a pure function of the task: no external calls, no session side effects.
func Decompose(task ComplexTask) (TaskDecomposition, error) {
	if strings.TrimSpace(task.Description) == "" {
		return TaskDecomposition{}, &ValidationError{Field: "description", Reason: "must not be empty"}
	}
	for i, req := range task.Requirements {
		if strings.TrimSpace(req) == "" {
			return TaskDecomposition{}, &ValidationError{
				Field:  "requirements",
				Reason: fmt.Sprintf("entry %d is empty", i),
			}
		}
	}
	if task.Priority != "" {
		if _, ok := priorityEstimate[task.Priority]; !ok {
			return TaskDecomposition{}, &ValidationError{
				Field:  "priority",
				Reason: fmt.Sprintf("unknown priority %q", task.Priority),
			}
		}
	}

	estimate := priorityEstimate[PriorityMedium]
	if task.Priority != "" {
		estimate = priorityEstimate[task.Priority]
	}

	analysis := SubTask{
		ID:                uuid.New().String(),
		Description:       fmt.Sprintf("Analyze task and plan approach: %s", task.Description),
		Status:            SubTaskPending,
		EstimatedDuration: estimate / 2,
	}
	if analysis.EstimatedDuration < 1 {
		analysis.EstimatedDuration = 1
	}

	subTasks := []SubTask{analysis}

	for _, req := range task.Requirements {
		subTasks = append(subTasks, SubTask{
			ID:                uuid.New().String(),
			Description:       fmt.Sprintf("Address requirement %q for: %s", req, task.Description),
			Status:            SubTaskPending,
			EstimatedDuration: estimate,
			DependsOn:         []string{analysis.ID},
		})
	}

	// A multi-requirement task gets a synthesis step that folds the
	// requirement outputs into the expected format.
	if len(task.Requirements) > 1 {
		deps := make([]string, 0, len(subTasks)-1)
		for _, st := range subTasks[1:] {
			deps = append(deps, st.ID)
		}
		desc := "Synthesize requirement outputs into the final result"
		if task.ExpectedOutputFormat != "" {
			desc = fmt.Sprintf("%s (%s)", desc, task.ExpectedOutputFormat)
		}
		subTasks = append(subTasks, SubTask{
			ID:                uuid.New().String(),
			Description:       desc,
			Status:            SubTaskPending,
			EstimatedDuration: estimate,
			DependsOn:         deps,
		})
	}

	applyDeadlinePressure(task, subTasks)

	return TaskDecomposition{SubTasks: subTasks}, nil
}

// applyDeadlinePressure shrinks estimates proportionally when their sum would
// overrun the task deadline, never below one minute.
func applyDeadlinePressure(task ComplexTask, subTasks []SubTask) {
	if task.Deadline == nil {
		return
	}
	budget := int(time.Until(*task.Deadline).Minutes())
	if budget <= 0 {
		return
	}

	total := 0
	for _, st := range subTasks {
		total += st.EstimatedDuration
	}
	if total <= budget {
		return
	}

	scale := float64(budget) / float64(total)
	for i := range subTasks {
		scaled := int(float64(subTasks[i].EstimatedDuration) * scale)
		if scaled < 1 {
			scaled = 1
		}
		subTasks[i].EstimatedDuration = scaled
	}
}
