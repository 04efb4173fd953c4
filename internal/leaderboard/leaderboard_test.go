package leaderboard

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestRegisterUsesFirstFreeSlot(t *testing.T) {
	b := New(3)
	first, _ := b.Register("a")
	second, _ := b.Register("b")
	if first != 0 || second != 1 {
		t.Fatalf("unexpected slots %d %d", first, second)
	}
	b.Unregister(first)
	again, err := b.Register("c")
	if err != nil || again != 0 {
		t.Fatalf("expected reuse of slot 0, got %d err=%v", again, err)
	}
	if b.Count() != 2 {
		t.Fatalf("expected 2 active, got %d", b.Count())
	}
}

func TestRegisterFailsWhenFull(t *testing.T) {
	b := New(1)
	if _, err := b.Register("a"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := b.Register("b"); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
}

func TestSnapshotRanksActiveByPoints(t *testing.T) {
	b := New(8)
	a, _ := b.Register("A")
	bb, _ := b.Register("B")
	c, _ := b.Register("C")
	d, _ := b.Register("D")
	b.UpdatePoints(a, 10)
	b.UpdatePoints(bb, 30)
	b.UpdatePoints(c, 20)
	b.UpdatePoints(d, 999)
	b.Unregister(d)
	b.UpdatePoints(d, 5000)

	top := b.SnapshotTop(TopN)
	if len(top) != 3 {
		t.Fatalf("expected 3 ranked entries, got %d: %+v", len(top), top)
	}
	want := []string{"B", "C", "A"}
	for i, entry := range top {
		if entry.ClientID != want[i] {
			t.Fatalf("rank %d: expected %s, got %s", i+1, want[i], entry.ClientID)
		}
	}
}

func TestSnapshotTopClampsCount(t *testing.T) {
	b := New(4)
	for _, id := range []string{"A", "B"} {
		if _, err := b.Register(id); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	if top := b.SnapshotTop(-1); len(top) != 0 {
		t.Fatalf("expected no entries for a negative count, got %+v", top)
	}
	if top := b.SnapshotTop(0); len(top) != 0 {
		t.Fatalf("expected no entries for a zero count, got %+v", top)
	}
	if top := b.SnapshotTop(100); len(top) != 2 {
		t.Fatalf("expected both active entries, got %+v", top)
	}
}

func TestRenderTop5(t *testing.T) {
	b := New(8)
	slot, _ := b.Register("alice")
	b.UpdatePoints(slot, 42)
	other, _ := b.Register("a-very-long-client-identifier")
	b.UpdatePoints(other, 7)

	got := string(b.RenderTop5())
	want := "=== TOP 5 PACMANIST CLIENTS ===\n" +
		"Active sessions: 2\n\n" +
		"Rank | Client ID            | Points\n" +
		"-----+----------------------+--------\n" +
		"  1  | alice                |     42\n" +
		"  2  | a-very-long-client-i |      7\n"
	if got != want {
		t.Fatalf("unexpected snapshot:\n%s\nwant:\n%s", got, want)
	}
}

func TestRenderTop5Empty(t *testing.T) {
	got := string(New(2).RenderTop5())
	if !strings.HasSuffix(got, "(No active clients)\n") || !strings.Contains(got, "Active sessions: 0") {
		t.Fatalf("unexpected empty snapshot %q", got)
	}
}

func TestWriteTop5AndJSON(t *testing.T) {
	dir := t.TempDir()
	b := New(4)
	slot, _ := b.Register("bob")
	b.UpdatePoints(slot, 3)

	textPath := filepath.Join(dir, "top5.txt")
	if err := b.WriteTop5(textPath); err != nil {
		t.Fatalf("WriteTop5: %v", err)
	}
	data, err := os.ReadFile(textPath)
	if err != nil {
		t.Fatalf("read text snapshot: %v", err)
	}
	if !strings.Contains(string(data), "bob") {
		t.Fatalf("expected client in snapshot, got %q", data)
	}

	jsonPath := filepath.Join(dir, "top5.json")
	if err := b.WriteJSON(jsonPath); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	raw, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatalf("read json snapshot: %v", err)
	}
	var decoded struct {
		ActiveSessions float64 `json:"active_sessions"`
		Entries        []struct {
			Rank     float64 `json:"rank"`
			ClientID string  `json:"client_id"`
			Points   float64 `json:"points"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode json snapshot: %v\n%s", err, raw)
	}
	if decoded.ActiveSessions != 1 || len(decoded.Entries) != 1 || decoded.Entries[0].ClientID != "bob" || decoded.Entries[0].Points != 3 {
		t.Fatalf("unexpected json snapshot %+v", decoded)
	}
}

func TestConcurrentUpdatesAreSafe(t *testing.T) {
	b := New(DefaultCapacity)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			slot, err := b.Register("client")
			if err != nil {
				t.Errorf("Register: %v", err)
				return
			}
			for p := 0; p < 100; p++ {
				b.UpdatePoints(slot, p)
				_ = b.SnapshotTop(TopN)
			}
			b.Unregister(slot)
		}(i)
	}
	wg.Wait()
	if b.Count() != 0 {
		t.Fatalf("expected empty board, got %d", b.Count())
	}
}

func TestTriggerCoalescesRequests(t *testing.T) {
	wakes := 0
	trigger := NewTrigger(func() { wakes++ })
	trigger.Request()
	trigger.Request()
	if !trigger.CheckAndClear() {
		t.Fatal("expected pending request")
	}
	if trigger.CheckAndClear() {
		t.Fatal("expected requests to coalesce")
	}
	if wakes != 2 {
		t.Fatalf("expected a wake per request, got %d", wakes)
	}
}

func TestTriggerListensForSIGUSR1(t *testing.T) {
	woken := make(chan struct{}, 4)
	trigger := NewTrigger(func() {
		select {
		case woken <- struct{}{}:
		default:
		}
	})
	trigger.Listen()
	defer trigger.Close()

	if err := unix.Kill(os.Getpid(), unix.SIGUSR1); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-woken:
	case <-time.After(2 * time.Second):
		t.Fatal("signal never reached the trigger")
	}
	if !trigger.CheckAndClear() {
		t.Fatal("expected pending request after SIGUSR1")
	}
}
