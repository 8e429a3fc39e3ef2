package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.NATS.Port != 4222 {
		t.Errorf("expected nats port 4222, got %d", cfg.NATS.Port)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected web port 8080, got %d", cfg.Web.Port)
	}
	if !cfg.Web.Enabled {
		t.Error("expected web enabled by default")
	}
	if cfg.Store.Path != "data/swarmd.db" {
		t.Errorf("expected store path data/swarmd.db, got %s", cfg.Store.Path)
	}
	if cfg.Comms.DeliveryWindow != 5*time.Second {
		t.Errorf("expected delivery window 5s, got %v", cfg.Comms.DeliveryWindow)
	}
	if cfg.Comms.QueueLimit != 256 {
		t.Errorf("expected queue limit 256, got %d", cfg.Comms.QueueLimit)
	}
	if cfg.Sweeper.MaxReassignments != 2 {
		t.Errorf("expected max_reassignments 2, got %d", cfg.Sweeper.MaxReassignments)
	}
	if cfg.Sweeper.OverrunFactor != 2.0 {
		t.Errorf("expected overrun_factor 2.0, got %f", cfg.Sweeper.OverrunFactor)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	// Point config to a non-existent file so we use defaults
	t.Setenv("SWARMD_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("SWARMD_WEB_PASSWORD", "secret")
	t.Setenv("SWARMD_WEB_PORT", "9090")
	t.Setenv("SWARMD_STORE_PASSPHRASE", "hunter2")
	t.Setenv("SWARMD_TELEGRAM_TOKEN", "test-token-123")
	t.Setenv("SWARMD_TELEGRAM_CHAT_ID", "42")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Web.Auth != "secret" {
		t.Errorf("expected web auth secret, got %s", cfg.Web.Auth)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
	if cfg.Store.Passphrase != "hunter2" {
		t.Errorf("expected store passphrase hunter2, got %s", cfg.Store.Passphrase)
	}
	if cfg.Telegram.Token != "test-token-123" {
		t.Errorf("expected telegram token test-token-123, got %s", cfg.Telegram.Token)
	}
	if cfg.Telegram.ChatID != 42 {
		t.Errorf("expected telegram chat id 42, got %d", cfg.Telegram.ChatID)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
web:
  port: 9999
  auth: "filepass"
comms:
  delivery_window: 2s
  queue_limit: 64
sweeper:
  schedule: '{"kind":"interval","interval_ms":30000}'
  max_reassignments: 5
agents:
  analyst:
    name: "Data Analyst"
    category: "data_analysis"
    tags: ["sql", "python"]
    users: ["user1"]
  mailer:
    name: "Mailer"
    category: "email"
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SWARMD_CONFIG", cfgPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Web.Port != 9999 || cfg.Web.Auth != "filepass" {
		t.Errorf("unexpected web config: %+v", cfg.Web)
	}
	if cfg.Comms.DeliveryWindow != 2*time.Second {
		t.Errorf("expected delivery window 2s, got %v", cfg.Comms.DeliveryWindow)
	}
	if cfg.Comms.QueueLimit != 64 {
		t.Errorf("expected queue limit 64, got %d", cfg.Comms.QueueLimit)
	}
	if cfg.Sweeper.MaxReassignments != 5 {
		t.Errorf("expected max_reassignments 5, got %d", cfg.Sweeper.MaxReassignments)
	}
	if len(cfg.Agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(cfg.Agents))
	}
	analyst := cfg.Agents["analyst"]
	if analyst.Category != "data_analysis" || len(analyst.Tags) != 2 {
		t.Errorf("unexpected analyst definition: %+v", analyst)
	}
	if len(cfg.Agents["mailer"].Users) != 0 {
		t.Error("expected mailer available to everyone")
	}

	// NATS keeps its default when the file does not mention it
	if cfg.NATS.Port != 4222 {
		t.Errorf("expected default nats port, got %d", cfg.NATS.Port)
	}
}

func TestLoadExpandsEnvInYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
store:
  passphrase: "${TEST_SWARM_PASSPHRASE}"
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SWARMD_CONFIG", cfgPath)
	t.Setenv("TEST_SWARM_PASSPHRASE", "expanded-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Passphrase != "expanded-secret" {
		t.Errorf("expected expanded passphrase, got %s", cfg.Store.Passphrase)
	}
}
