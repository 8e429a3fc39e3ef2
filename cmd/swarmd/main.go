package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/the13nth/perso-swarm/internal/comms"
	"github.com/the13nth/perso-swarm/internal/config"
	"github.com/the13nth/perso-swarm/internal/directory"
	"github.com/the13nth/perso-swarm/internal/natsbus"
	"github.com/the13nth/perso-swarm/internal/store"
	"github.com/the13nth/perso-swarm/internal/swarm"
	"github.com/the13nth/perso-swarm/internal/telegram"
	"github.com/the13nth/perso-swarm/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("swarmd %s\n", version)
	case "gateway":
		if err := runGateway(); err != nil {
			slog.Error("gateway failed", "error", err)
			os.Exit(1)
		}
	case "export":
		if err := runExport(os.Args[2:]); err != nil {
			slog.Error("export failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: swarmd <command>\n\nCommands:\n  gateway    Start the swarm coordination gateway\n  export     Archive finished swarm sessions to a .tar.zst file\n  version    Print version\n")
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting swarmd gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", cfg.NATS.Port)

	client, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("init nats client: %w", err)
	}
	defer client.Close()

	// Capability directory
	dir := directory.New(db, cfg.Agents)
	if err := dir.Sync(); err != nil {
		return fmt.Errorf("sync agent directory: %w", err)
	}
	slog.Info("agent directory synced", "agents", len(cfg.Agents))

	// Communication manager; delivered traffic is mirrored to NATS and
	// logged durably through the store
	cm := comms.NewManager(cfg.Comms, client, db)

	// Orchestrator
	orch := swarm.NewOrchestrator(db, dir, cm, client)

	// Telegram lifecycle notifications
	if cfg.Telegram.Token != "" {
		notifier, err := telegram.NewNotifier(cfg.Telegram)
		if err != nil {
			return fmt.Errorf("init telegram notifier: %w", err)
		}
		orch.SetNotifier(notifier)
		slog.Info("telegram notifier enabled")
	} else {
		slog.Warn("telegram token not set, notifications disabled")
	}

	// Stalled subtask sweeper
	sweeper, err := swarm.NewSweeper(orch, db, cfg.Sweeper)
	if err != nil {
		return fmt.Errorf("init sweeper: %w", err)
	}
	go sweeper.Start(ctx)
	slog.Info("sweeper started", "schedule", cfg.Sweeper.Schedule)

	// Web API
	if cfg.Web.Enabled {
		srv := web.NewServer(db, bus, orch, dir, cfg.Web, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()

	return nil
}
