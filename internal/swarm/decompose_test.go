package swarm

import (
	"strings"
	"testing"
	"time"
)

func TestDecomposeEmptyDescription(t *testing.T) {
	_, err := Decompose(ComplexTask{Description: "   "})
	if err == nil {
		t.Fatal("expected validation error")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if ve.Field != "description" {
		t.Errorf("expected field 'description', got '%s'", ve.Field)
	}
}

func TestDecomposeEmptyRequirementEntry(t *testing.T) {
	_, err := Decompose(ComplexTask{
		Description:  "analyze sales",
		Requirements: []string{"data_analysis", " "},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if ve, ok := err.(*ValidationError); !ok || ve.Field != "requirements" {
		t.Fatalf("expected requirements validation error, got %v", err)
	}
}

func TestDecomposeUnknownPriority(t *testing.T) {
	_, err := Decompose(ComplexTask{Description: "x", Priority: "whenever"})
	if ve, ok := err.(*ValidationError); !ok || ve.Field != "priority" {
		t.Fatalf("expected priority validation error, got %v", err)
	}
}

func TestDecomposeSubTaskStructure(t *testing.T) {
	d, err := Decompose(ComplexTask{
		Description:  "quarterly report",
		Priority:     PriorityMedium,
		Requirements: []string{"data_analysis", "visualization", "writing"},
	})
	if err != nil {
		t.Fatal(err)
	}

	// analysis + one per requirement + synthesis
	if len(d.SubTasks) != 5 {
		t.Fatalf("expected 5 subtasks, got %d", len(d.SubTasks))
	}

	analysis := d.SubTasks[0]
	if !strings.Contains(analysis.Description, "Analyze task") {
		t.Errorf("expected analysis subtask first, got %q", analysis.Description)
	}
	if analysis.EstimatedDuration != 10 {
		t.Errorf("expected analysis estimate 10, got %d", analysis.EstimatedDuration)
	}

	for _, st := range d.SubTasks[1:4] {
		if st.Status != SubTaskPending {
			t.Errorf("expected pending status, got %s", st.Status)
		}
		if st.EstimatedDuration != 20 {
			t.Errorf("expected estimate 20, got %d", st.EstimatedDuration)
		}
		if len(st.DependsOn) != 1 || st.DependsOn[0] != analysis.ID {
			t.Errorf("expected dependency on analysis, got %v", st.DependsOn)
		}
	}

	synthesis := d.SubTasks[4]
	if !strings.Contains(synthesis.Description, "Synthesize") {
		t.Errorf("expected synthesis subtask last, got %q", synthesis.Description)
	}
	if len(synthesis.DependsOn) != 4 {
		t.Errorf("expected synthesis to depend on 4 subtasks, got %d", len(synthesis.DependsOn))
	}
}

func TestDecomposeSingleRequirementSkipsSynthesis(t *testing.T) {
	d, err := Decompose(ComplexTask{
		Description:  "analyze sales data",
		Requirements: []string{"data_analysis"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(d.SubTasks) != 2 {
		t.Fatalf("expected 2 subtasks (analysis + requirement), got %d", len(d.SubTasks))
	}
}

func TestDecomposeUrgentEstimates(t *testing.T) {
	d, err := Decompose(ComplexTask{
		Description:  "incident response",
		Priority:     PriorityUrgent,
		Requirements: []string{"triage"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.SubTasks[0].EstimatedDuration != 5 {
		t.Errorf("expected analysis estimate 5, got %d", d.SubTasks[0].EstimatedDuration)
	}
	if d.SubTasks[1].EstimatedDuration != 10 {
		t.Errorf("expected requirement estimate 10, got %d", d.SubTasks[1].EstimatedDuration)
	}
}

func TestDecomposeDeadlinePressure(t *testing.T) {
	deadline := time.Now().Add(20 * time.Minute)
	d, err := Decompose(ComplexTask{
		Description:  "rush job",
		Priority:     PriorityMedium,
		Requirements: []string{"a", "b", "c"},
		Deadline:     &deadline,
	})
	if err != nil {
		t.Fatal(err)
	}

	total := 0
	for _, st := range d.SubTasks {
		if st.EstimatedDuration < 1 {
			t.Errorf("estimate below one minute: %d", st.EstimatedDuration)
		}
		total += st.EstimatedDuration
	}
	// 10 + 4*20 = 90 unscaled; must be squeezed toward the 20 minute budget
	if total > 20 {
		t.Errorf("expected total estimate within the deadline budget, got %d", total)
	}
}

func TestDecomposePastDeadlineLeavesEstimates(t *testing.T) {
	deadline := time.Now().Add(-1 * time.Hour)
	d, err := Decompose(ComplexTask{
		Description:  "late already",
		Requirements: []string{"a"},
		Deadline:     &deadline,
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.SubTasks[1].EstimatedDuration != 20 {
		t.Errorf("expected unscaled estimate 20, got %d", d.SubTasks[1].EstimatedDuration)
	}
}
