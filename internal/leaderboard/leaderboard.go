// Package leaderboard tracks the live score of every connected client and renders ranked
// snapshots on demand.
package leaderboard

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultCapacity is used when New receives a non-positive capacity.
const DefaultCapacity = 64

// TopN is the number of rows in a snapshot file.
const TopN = 5

// ErrFull reports that every slot is taken.
var ErrFull = errors.New("leaderboard: full")

// Entry is one ranked row.
type Entry struct {
	ClientID string
	Points   int
	Active   bool
	Slot     int
}

// Board is a fixed-capacity table of client scores guarded by one mutex.
type Board struct {
	mu      sync.Mutex
	entries []Entry
	active  int
}

// New constructs a leaderboard with capacity slots.
func New(capacity int) *Board {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	entries := make([]Entry, capacity)
	for i := range entries {
		entries[i].Slot = i
	}
	return &Board{entries: entries}
}

// Register claims the first free slot for clientID with zero points.
func (b *Board) Register(clientID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.entries {
		if b.entries[i].Active {
			continue
		}
		b.entries[i] = Entry{ClientID: clientID, Active: true, Slot: i}
		b.active++
		return i, nil
	}
	return -1, ErrFull
}

// UpdatePoints sets the score of slot. Inactive or unknown slots are ignored.
func (b *Board) UpdatePoints(slot, points int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slot < 0 || slot >= len(b.entries) || !b.entries[slot].Active {
		return
	}
	b.entries[slot].Points = points
}

// Unregister frees slot.
func (b *Board) Unregister(slot int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slot < 0 || slot >= len(b.entries) || !b.entries[slot].Active {
		return
	}
	b.entries[slot] = Entry{Slot: slot}
	b.active--
}

// Count returns the number of active slots.
func (b *Board) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Capacity returns the number of slots.
func (b *Board) Capacity() int { return len(b.entries) }

// SnapshotTop copies the table and returns at most n active entries ranked by points,
// highest first. Equal scores keep slot order. A negative n yields no entries.
func (b *Board) SnapshotTop(n int) []Entry {
	b.mu.Lock()
	copied := make([]Entry, len(b.entries))
	copy(copied, b.entries)
	b.mu.Unlock()

	sort.SliceStable(copied, func(i, j int) bool {
		if copied[i].Active != copied[j].Active {
			return copied[i].Active
		}
		return copied[i].Points > copied[j].Points
	})
	n = max(0, min(n, len(copied)))
	ranked := make([]Entry, 0, n)
	for _, entry := range copied {
		if !entry.Active || len(ranked) == n {
			break
		}
		ranked = append(ranked, entry)
	}
	return ranked
}

// RenderTop5 formats the text snapshot.
func (b *Board) RenderTop5() []byte {
	top := b.SnapshotTop(TopN)
	count := b.Count()

	var buf bytes.Buffer
	buf.WriteString("=== TOP 5 PACMANIST CLIENTS ===\n")
	fmt.Fprintf(&buf, "Active sessions: %d\n\n", count)
	buf.WriteString("Rank | Client ID            | Points\n")
	buf.WriteString("-----+----------------------+--------\n")
	if len(top) == 0 {
		buf.WriteString("(No active clients)\n")
		return buf.Bytes()
	}
	for i, entry := range top {
		fmt.Fprintf(&buf, "  %d  | %-20.20s | %6d\n", i+1, entry.ClientID, entry.Points)
	}
	return buf.Bytes()
}

// WriteTop5 replaces path with the text snapshot.
func (b *Board) WriteTop5(path string) error {
	return writeAtomic(path, b.RenderTop5())
}

// SnapshotStruct renders the ranked snapshot as a protobuf Struct.
func (b *Board) SnapshotStruct() (*structpb.Struct, error) {
	top := b.SnapshotTop(TopN)
	rows := make([]any, 0, len(top))
	for i, entry := range top {
		rows = append(rows, map[string]any{
			"rank":      i + 1,
			"client_id": entry.ClientID,
			"points":    entry.Points,
		})
	}
	return structpb.NewStruct(map[string]any{
		"active_sessions": b.Count(),
		"entries":         rows,
	})
}

// WriteJSON replaces path with the snapshot encoded as JSON.
func (b *Board) WriteJSON(path string) error {
	snapshot, err := b.SnapshotStruct()
	if err != nil {
		return fmt.Errorf("leaderboard: build snapshot: %w", err)
	}
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("leaderboard: encode snapshot: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("leaderboard: create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("leaderboard: write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("leaderboard: close snapshot: %w", err)
	}
	if err := os.Chmod(name, 0o644); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("leaderboard: chmod snapshot: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("leaderboard: publish snapshot: %w", err)
	}
	return nil
}
