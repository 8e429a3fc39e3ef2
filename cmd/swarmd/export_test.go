package main

import (
	"archive/tar"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/the13nth/perso-swarm/internal/comms"
	"github.com/the13nth/perso-swarm/internal/config"
	"github.com/the13nth/perso-swarm/internal/store"
	"github.com/the13nth/perso-swarm/internal/swarm"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func finishedSession(id string) *swarm.SwarmSession {
	now := time.Now().UTC()
	return &swarm.SwarmSession{
		SessionID:        id,
		UserID:           "user1",
		Status:           swarm.StatusDissolved,
		ActiveAgents:     []string{"coord"},
		CoordinatorAgent: "coord",
		Task:             swarm.ComplexTask{Description: "archived work"},
		CreatedAt:        now,
		LastActivity:     now,
	}
}

func readArchive(t *testing.T, path string) map[string][]byte {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()

	entries := make(map[string][]byte)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatal(err)
		}
		entries[hdr.Name] = data
	}
	return entries
}

func TestExportSessionArchivesSessionAndMessages(t *testing.T) {
	db := newTestStore(t)

	session := finishedSession("s1")
	if err := db.PutSession(session); err != nil {
		t.Fatal(err)
	}
	msg, _ := comms.NewMessage("s1", "coord", "w1", comms.TypeStatusUpdate, comms.PriorityLow, comms.StatusUpdatePayload{Event: "done"})
	if err := db.LogMessage(msg); err != nil {
		t.Fatal(err)
	}

	outPath := filepath.Join(t.TempDir(), "out.tar.zst")
	f, err := os.Create(outPath)
	if err != nil {
		t.Fatal(err)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatal(err)
	}
	tw := tar.NewWriter(zw)

	if err := exportSession(db, tw, session); err != nil {
		t.Fatalf("export session: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	entries := readArchive(t, outPath)
	sessionDoc, ok := entries["sessions/s1.json"]
	if !ok {
		t.Fatalf("expected sessions/s1.json in archive, got %v", keys(entries))
	}
	var restored swarm.SwarmSession
	if err := json.Unmarshal(sessionDoc, &restored); err != nil {
		t.Fatalf("session doc: %v", err)
	}
	if restored.SessionID != "s1" || restored.Status != swarm.StatusDissolved {
		t.Errorf("unexpected restored session: %+v", restored)
	}

	msgDoc, ok := entries["messages/s1.json"]
	if !ok {
		t.Fatalf("expected messages/s1.json in archive, got %v", keys(entries))
	}
	var messages []comms.AgentMessage
	if err := json.Unmarshal(msgDoc, &messages); err != nil {
		t.Fatalf("message doc: %v", err)
	}
	if len(messages) != 1 || messages[0].ID != msg.ID {
		t.Errorf("unexpected archived messages: %v", messages)
	}
}

func TestExportSessionWithoutMessages(t *testing.T) {
	db := newTestStore(t)
	session := finishedSession("s2")
	if err := db.PutSession(session); err != nil {
		t.Fatal(err)
	}

	outPath := filepath.Join(t.TempDir(), "out.tar.zst")
	f, _ := os.Create(outPath)
	zw, _ := zstd.NewWriter(f)
	tw := tar.NewWriter(zw)

	if err := exportSession(db, tw, session); err != nil {
		t.Fatalf("export session: %v", err)
	}
	tw.Close()
	zw.Close()
	f.Close()

	entries := readArchive(t, outPath)
	if _, ok := entries["sessions/s2.json"]; !ok {
		t.Error("expected session document")
	}
	if _, ok := entries["messages/s2.json"]; ok {
		t.Error("expected no message document for a session without traffic")
	}
}

func TestFormatSize(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{512, "512 bytes"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, c := range cases {
		if got := formatSize(c.in); got != c.want {
			t.Errorf("formatSize(%d) = %s, want %s", c.in, got, c.want)
		}
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
