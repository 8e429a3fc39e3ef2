package schedule

import (
	"testing"
	"time"
)

func TestParseScheduleCron(t *testing.T) {
	raw := `{"kind":"cron","cron_expr":"0 9 * * *"}`
	s, err := ParseSchedule(raw)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if s.Kind != "cron" {
		t.Errorf("expected kind 'cron', got '%s'", s.Kind)
	}
	if s.CronExpr != "0 9 * * *" {
		t.Errorf("expected cron expr '0 9 * * *', got '%s'", s.CronExpr)
	}
}

func TestParseScheduleInterval(t *testing.T) {
	raw := `{"kind":"interval","interval_ms":60000}`
	s, err := ParseSchedule(raw)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if s.Kind != "interval" {
		t.Errorf("expected kind 'interval', got '%s'", s.Kind)
	}
	if s.IntervalMs != 60000 {
		t.Errorf("expected interval_ms 60000, got %d", s.IntervalMs)
	}
}

func TestCalculateNextRunCron(t *testing.T) {
	raw := `{"kind":"cron","cron_expr":"* * * * *"}`
	next := CalculateNextRun(raw)
	if next == nil {
		t.Fatal("expected next run time, got nil")
	}
	if next.Before(time.Now()) {
		t.Error("expected next run in the future")
	}
}

func TestCalculateNextRunInterval(t *testing.T) {
	raw := `{"kind":"interval","interval_ms":60000}`
	next := CalculateNextRun(raw)
	if next == nil {
		t.Fatal("expected next run time, got nil")
	}
	expected := time.Now().Add(60 * time.Second)
	diff := next.Sub(expected)
	if diff > time.Second || diff < -time.Second {
		t.Errorf("expected next run ~60s from now, got diff %v", diff)
	}
}

func TestCalculateNextRunInvalid(t *testing.T) {
	next := CalculateNextRun(`invalid json`)
	if next != nil {
		t.Error("expected nil for invalid schedule")
	}

	next = CalculateNextRun(`{"kind":"unknown"}`)
	if next != nil {
		t.Error("expected nil for unknown kind")
	}

	next = CalculateNextRun(`{"kind":"interval","interval_ms":0}`)
	if next != nil {
		t.Error("expected nil for zero interval")
	}
}

func TestNormalizeSchedulePlainCron(t *testing.T) {
	result, err := NormalizeSchedule("0 9 * * *")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := ParseSchedule(result)
	if err != nil {
		t.Fatalf("result not valid JSON: %v", err)
	}
	if s.Kind != "cron" {
		t.Errorf("expected kind 'cron', got '%s'", s.Kind)
	}
	if s.CronExpr != "0 9 * * *" {
		t.Errorf("expected cron_expr '0 9 * * *', got '%s'", s.CronExpr)
	}
}

func TestNormalizeSchedulePassThrough(t *testing.T) {
	raw := `{"kind":"interval","interval_ms":30000}`
	result, err := NormalizeSchedule(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != raw {
		t.Errorf("expected pass-through, got %s", result)
	}
}

func TestNormalizeScheduleInvalid(t *testing.T) {
	if _, err := NormalizeSchedule("not a cron"); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if _, err := NormalizeSchedule(`{"kind":"cron","cron_expr":"99 99 * * *"}`); err == nil {
		t.Error("expected error for invalid cron expression")
	}
	if _, err := NormalizeSchedule(`{"kind":"interval","interval_ms":-5}`); err == nil {
		t.Error("expected error for negative interval")
	}
	if _, err := NormalizeSchedule(`{"kind":"lunar"}`); err == nil {
		t.Error("expected error for unknown kind")
	}
}
