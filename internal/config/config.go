package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	NATS     NATSConfig                 `yaml:"nats"`
	Store    StoreConfig                `yaml:"store"`
	Web      WebConfig                  `yaml:"web"`
	Comms    CommsConfig                `yaml:"comms"`
	Sweeper  SweeperConfig              `yaml:"sweeper"`
	Telegram TelegramConfig             `yaml:"telegram"`
	Agents   map[string]AgentDefinition `yaml:"agents"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
	// Passphrase enables at-rest encryption of message payloads.
	Passphrase string `yaml:"passphrase"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type CommsConfig struct {
	// DeliveryWindow bounds how long a send waits on in-process handlers.
	DeliveryWindow time.Duration `yaml:"delivery_window"`
	// QueueLimit caps per-agent offline queues.
	QueueLimit int `yaml:"queue_limit"`
}

type SweeperConfig struct {
	// Schedule is a schedule JSON string, cron or fixed interval.
	Schedule string `yaml:"schedule"`
	// MaxReassignments caps how often a stalled subtask is handed to
	// another worker before it is marked failed.
	MaxReassignments int `yaml:"max_reassignments"`
	// OverrunFactor multiplies the estimate to decide a subtask stalled.
	OverrunFactor float64 `yaml:"overrun_factor"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

// AgentDefinition declares a worker agent for the capability directory.
type AgentDefinition struct {
	Name        string   `yaml:"name"`
	Category    string   `yaml:"category"`
	Tags        []string `yaml:"tags"`
	Description string   `yaml:"description"`
	Users       []string `yaml:"users"` // empty means available to every user
}

func defaults() Config {
	return Config{
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/swarmd.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Comms: CommsConfig{
			DeliveryWindow: 5 * time.Second,
			QueueLimit:     256,
		},
		Sweeper: SweeperConfig{
			Schedule:         `{"kind":"interval","interval_ms":60000}`,
			MaxReassignments: 2,
			OverrunFactor:    2.0,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("SWARMD_CONFIG")
	if path == "" {
		path = "config/swarmd.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SWARMD_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("SWARMD_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("SWARMD_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("SWARMD_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SWARMD_STORE_PASSPHRASE"); v != "" {
		cfg.Store.Passphrase = v
	}
	if v := os.Getenv("SWARMD_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("SWARMD_TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
}
