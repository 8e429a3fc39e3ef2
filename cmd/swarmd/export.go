package main

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/the13nth/perso-swarm/internal/config"
	"github.com/the13nth/perso-swarm/internal/store"
	"github.com/the13nth/perso-swarm/internal/swarm"
)

// exportStatuses are the session states eligible for archiving. Live
// sessions stay in the store.
var exportStatuses = []swarm.SessionStatus{
	swarm.StatusCompleted,
	swarm.StatusDissolved,
	swarm.StatusError,
}

func runExport(args []string) error {
	var outputPath string
	purge := false

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			outputPath = args[i]
		case "-purge":
			purge = true
		}
	}

	if outputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: swarmd export -f <output.tar.zst> [-purge]\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	var sessions []*swarm.SwarmSession
	for _, status := range exportStatuses {
		batch, err := db.ListSessionsByStatus(status)
		if err != nil {
			return fmt.Errorf("list %s sessions: %w", status, err)
		}
		sessions = append(sessions, batch...)
	}

	if len(sessions) == 0 {
		slog.Warn("no finished sessions found, creating empty archive")
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	for _, session := range sessions {
		slog.Info("exporting session", "session", session.SessionID, "status", session.Status)
		if err := exportSession(db, tw, session); err != nil {
			return fmt.Errorf("export session %s: %w", session.SessionID, err)
		}
	}

	// Close everything explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	if purge {
		for _, session := range sessions {
			if err := db.DeleteSessionMessages(session.SessionID); err != nil {
				return fmt.Errorf("purge messages for %s: %w", session.SessionID, err)
			}
			if err := db.DeleteSession(session.SessionID); err != nil {
				return fmt.Errorf("purge session %s: %w", session.SessionID, err)
			}
		}
	}

	info, _ := os.Stat(outputPath)
	size := int64(0)
	if info != nil {
		size = info.Size()
	}

	fmt.Printf("Export complete: %d sessions, %s\n", len(sessions), formatSize(size))
	return nil
}

// exportSession writes one session document plus its durable message log,
// decrypted, into the archive.
func exportSession(db *store.Store, tw *tar.Writer, session *swarm.SwarmSession) error {
	doc, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := writeArchiveFile(tw, path.Join("sessions", session.SessionID+".json"), doc, session.LastActivity); err != nil {
		return err
	}

	count, err := db.CountSessionMessages(session.SessionID)
	if err != nil {
		return fmt.Errorf("count messages: %w", err)
	}
	if count == 0 {
		return nil
	}

	messages, err := db.GetSessionMessages(session.SessionID, count)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	doc, err = json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	return writeArchiveFile(tw, path.Join("messages", session.SessionID+".json"), doc, session.LastActivity)
}

func writeArchiveFile(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: modTime,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write tar data: %w", err)
	}
	return nil
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
