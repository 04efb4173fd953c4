package host

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pacmanist/server/internal/client"
	"pacmanist/server/internal/fifo"
	"pacmanist/server/internal/level"
	"pacmanist/server/internal/logging"
	"pacmanist/server/internal/protocol"
	"pacmanist/server/internal/replay"
)

// shortDir keeps FIFO paths under the 40 byte wire limit.
func shortDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "pm")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	if len(dir) > 24 {
		t.Skipf("temporary directory %q too long for FIFO paths", dir)
	}
	return dir
}

func writeLevels(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

type harness struct {
	server *Server
	cancel context.CancelFunc
	done   chan error
	reg    string
	dir    string
}

func startServer(t *testing.T, levelDir string, opts ...Option) *harness {
	t.Helper()
	dir := shortDir(t)
	catalog, err := level.NewCatalog(levelDir, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	cfg := Config{
		RegistrationPath: filepath.Join(dir, "reg"),
		MaxSessions:      2,
		QueueCapacity:    4,
		Top5Path:         filepath.Join(t.TempDir(), "top5.txt"),
	}
	opts = append([]Option{WithLogger(logging.NewTestLogger())}, opts...)
	server, err := New(cfg, catalog, level.Loader{Dir: levelDir}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{server: server, cancel: cancel, done: make(chan error, 1), reg: cfg.RegistrationPath, dir: dir}
	go func() { h.done <- server.Run(ctx) }()
	eventually(t, func() bool { return fifo.IsFIFO(h.reg) })
	t.Cleanup(func() { h.stop(t) })
	return h
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type player struct {
	*client.Client

	mu      sync.Mutex
	updates []protocol.BoardUpdate
	closed  chan struct{}
}

// connect registers a client, optionally after a separate stream of garbage frames, and
// collects every board update it receives.
func connect(t *testing.T, h *harness, name string, garbage ...[]byte) *player {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if len(garbage) > 0 {
		if err := client.Register(ctx, h.reg, garbage...); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	c, err := client.Connect(ctx, filepath.Join(h.dir, name+"_req"), filepath.Join(h.dir, name+"_notif"), h.reg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	p := &player{Client: c, closed: make(chan struct{})}
	go p.readUpdates()
	t.Cleanup(func() { _ = c.Close() })
	return p
}

func (p *player) readUpdates() {
	defer close(p.closed)
	for {
		update, err := p.ReceiveBoardUpdate(context.Background())
		if err != nil {
			return
		}
		p.mu.Lock()
		p.updates = append(p.updates, update)
		p.mu.Unlock()
	}
}

func (p *player) send(t *testing.T, cmds string) {
	t.Helper()
	for _, cmd := range []byte(cmds) {
		if err := p.Play(protocol.Command(cmd)); err != nil {
			t.Fatalf("play %q: %v", cmd, err)
		}
	}
}

func (p *player) waitClosed(t *testing.T) []protocol.BoardUpdate {
	t.Helper()
	select {
	case <-p.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("session never ended")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.BoardUpdate(nil), p.updates...)
}

func TestSessionPlaysEveryLevelAndCarriesScore(t *testing.T) {
	levels := writeLevels(t, map[string]string{
		"1.lvl": "DIM 1 4\nTEMPO 20\no o@\n",
		"2.lvl": "DIM 1 3\nTEMPO 20\noo@\n",
	})
	replayDir := t.TempDir()
	h := startServer(t, levels, WithRecorders(ReplayRecorders(replayDir)))

	c := connect(t, h, "alice")
	eventually(t, func() bool { return h.server.Leaderboard().Count() == 1 })
	c.send(t, "DDD")
	c.send(t, "dd")

	updates := c.waitClosed(t)
	if len(updates) == 0 {
		t.Fatal("expected board updates")
	}
	var levelOneFinal *protocol.BoardUpdate
	for i := range updates {
		if updates[i].Width == 4 && updates[i].Victory == 1 {
			levelOneFinal = &updates[i]
		}
	}
	if levelOneFinal == nil || levelOneFinal.Points != 1 {
		t.Fatalf("expected level one to end in victory with 1 point, got %+v", levelOneFinal)
	}
	final := updates[len(updates)-1]
	if final.Width != 3 || final.Victory != 1 || final.Points != 2 {
		t.Fatalf("unexpected final update %+v", final)
	}

	eventually(t, func() bool { return h.server.Leaderboard().Count() == 0 })
	eventually(t, func() bool { return h.server.ActiveSessions() == 0 })

	entries, err := os.ReadDir(replayDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one recording, got %v (%v)", entries, err)
	}
	bundle, err := replay.OpenBundle(filepath.Join(replayDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("OpenBundle: %v", err)
	}
	if bundle.Header == nil || bundle.Header.ClientID != "alice" || bundle.Header.Result != "completed" || bundle.Header.FinalPoints != 2 {
		t.Fatalf("unexpected recording header %+v", bundle.Header)
	}
	if len(bundle.Header.Levels) != 2 || len(bundle.Frames) == 0 {
		t.Fatalf("unexpected recording contents levels=%v frames=%d", bundle.Header.Levels, len(bundle.Frames))
	}
}

func TestAbruptDisconnectEndsSession(t *testing.T) {
	levels := writeLevels(t, map[string]string{"1.lvl": "DIM 1 4\nTEMPO 20\no  @\n"})
	h := startServer(t, levels)

	c := connect(t, h, "bob")
	eventually(t, func() bool { return h.server.ActiveSessions() == 1 })
	_ = c.Close()

	c.waitClosed(t)
	eventually(t, func() bool { return h.server.ActiveSessions() == 0 && h.server.Leaderboard().Count() == 0 })
}

func TestMalformedRegistrationIsDiscarded(t *testing.T) {
	levels := writeLevels(t, map[string]string{"1.lvl": "DIM 1 3\nTEMPO 20\no @\n"})
	h := startServer(t, levels)

	garbage := make([]byte, protocol.ConnectRequestSize)
	garbage[0] = 9
	c := connect(t, h, "carol", garbage)
	c.send(t, "Q")
	updates := c.waitClosed(t)
	if len(updates) == 0 || updates[len(updates)-1].GameOver != 1 {
		t.Fatalf("expected quit to end with game over flag, got %d updates", len(updates))
	}
}

func TestSnapshotTriggerWritesTop5(t *testing.T) {
	levels := writeLevels(t, map[string]string{"1.lvl": "DIM 1 3\no @\n"})
	h := startServer(t, levels)

	h.server.Trigger().Request()
	path := h.server.cfg.Top5Path
	eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && strings.Contains(string(data), "(No active clients)")
	})
}

func TestShutdownRemovesRegistrationFIFO(t *testing.T) {
	levels := writeLevels(t, map[string]string{"1.lvl": "DIM 1 3\no @\n"})
	h := startServer(t, levels)

	c := connect(t, h, "dave")
	eventually(t, func() bool { return h.server.ActiveSessions() == 1 })

	h.stop(t)
	c.waitClosed(t)
	if _, err := os.Stat(h.reg); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected registration fifo removed, stat err=%v", err)
	}
}

func TestShutdownAfterClientAbandonsHandshake(t *testing.T) {
	levels := writeLevels(t, map[string]string{"1.lvl": "DIM 1 3\no @\n"})
	h := startServer(t, levels)

	req := protocol.ConnectRequest{
		RequestPath: filepath.Join(h.dir, "eve_req"),
		NotifyPath:  filepath.Join(h.dir, "eve_notif"),
	}
	for _, path := range []string{req.RequestPath, req.NotifyPath} {
		if err := fifo.Create(path); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Register(ctx, h.reg, req.Encode()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	//1.- Read the acknowledgement, then vanish without ever opening the request channel.
	notif, err := fifo.OpenReader(ctx, req.NotifyPath)
	if err != nil {
		t.Fatalf("open notif: %v", err)
	}
	if resp, err := protocol.ReadConnectResponse(notif); err != nil || resp.Result != 0 {
		t.Fatalf("connect response %+v err=%v", resp, err)
	}
	if err := os.Remove(req.RequestPath); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	_ = notif.Close()

	h.stop(t)
	if _, err := os.Stat(h.reg); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected registration fifo removed, stat err=%v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	catalog := staticLevels{"1.lvl"}
	if _, err := New(Config{MaxSessions: 1}, catalog, level.Loader{}); err == nil {
		t.Fatal("expected missing registration path error")
	}
	if _, err := New(Config{RegistrationPath: "x"}, catalog, level.Loader{}); err == nil {
		t.Fatal("expected max sessions error")
	}
	if _, err := New(Config{RegistrationPath: "x", MaxSessions: 1}, nil, level.Loader{}); err == nil {
		t.Fatal("expected missing level source error")
	}
}

type staticLevels []string

func (s staticLevels) Levels() []string { return append([]string(nil), s...) }
