package replaycatalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"pacmanist/server/internal/replay"
)

func record(t *testing.T, root, client string, points int) {
	t.Helper()
	writer, _, err := replay.NewWriter(root, client, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	writer.SetSession(client+"-session", client)
	writer.NoteResult("completed", points)
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestListRanksFinishedSessions(t *testing.T) {
	root := t.TempDir()
	record(t, root, "ann", 3)
	record(t, root, "ben", 9)
	if err := os.MkdirAll(filepath.Join(root, "unfinished"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	entries, err := List(root)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 || entries[0].Header.ClientID != "ben" || entries[1].Header.ClientID != "ann" {
		t.Fatalf("unexpected entries %+v", entries)
	}

	payload, err := MarshalEntries(entries)
	if err != nil {
		t.Fatalf("MarshalEntries: %v", err)
	}
	var decoded []Entry
	if err := json.Unmarshal(payload, &decoded); err != nil || len(decoded) != 2 {
		t.Fatalf("unexpected json %s (%v)", payload, err)
	}
}

func TestListValidatesRoot(t *testing.T) {
	if _, err := List(" "); err == nil {
		t.Fatal("expected empty root error")
	}
	file := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := List(file); err == nil {
		t.Fatal("expected not a directory error")
	}
}
