package replay

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pacmanist/server/internal/protocol"
)

func TestWriterRecordsEventsAndFlushesFramesOnCadence(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	writer, manifest, err := NewWriter(tmp, "alice session!", clock)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if manifest.FrameIntervalMs != 200 {
		t.Fatalf("expected frame interval 200 ms, got %d", manifest.FrameIntervalMs)
	}
	if !strings.HasPrefix(filepath.Base(writer.Directory()), "alicesession-") {
		t.Fatalf("unexpected bundle directory %q", writer.Directory())
	}
	writer.SetSession("sess-1", "alice")
	writer.NoteLevel("1.lvl")

	if err := writer.AppendEvent("level_start", map[string]string{"level": "1.lvl"}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	update := protocol.BoardUpdate{Width: 2, Height: 1, TempoMs: 100, Points: 1, Cells: []byte("C ")}
	frame, err := update.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := writer.AppendFrame(frame); err != nil {
			t.Fatalf("AppendFrame %d: %v", i, err)
		}
		now = now.Add(120 * time.Millisecond)
	}

	now = now.Add(50 * time.Millisecond)
	if err := writer.AppendEvent("outcome", map[string]any{"result": "victory", "points": 1}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	writer.NoteResult("victory", 1)
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := writer.AppendEvent("late", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	bundle, err := OpenBundle(filepath.Join(writer.Directory(), "manifest.json"))
	if err != nil {
		t.Fatalf("OpenBundle: %v", err)
	}
	if len(bundle.Events) != 2 || bundle.Events[0].Type != "level_start" || bundle.Events[1].Type != "outcome" {
		t.Fatalf("unexpected events %+v", bundle.Events)
	}
	if bundle.Events[1].Seq != 2 || bundle.Events[1].ElapsedMs != 410 {
		t.Fatalf("unexpected event metadata %+v", bundle.Events[1])
	}
	var outcome struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(bundle.Events[1].Payload, &outcome); err != nil || outcome.Result != "victory" {
		t.Fatalf("unexpected outcome payload %s (%v)", bundle.Events[1].Payload, err)
	}

	if len(bundle.Frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(bundle.Frames))
	}
	for i, f := range bundle.Frames {
		if f.Seq != uint64(i+1) {
			t.Fatalf("frame %d has seq %d", i, f.Seq)
		}
		decoded, err := f.BoardUpdate()
		if err != nil {
			t.Fatalf("frame %d BoardUpdate: %v", i, err)
		}
		if string(decoded.Cells) != "C " || decoded.Points != 1 {
			t.Fatalf("frame %d decoded to %+v", i, decoded)
		}
	}
	if bundle.Frames[2].ElapsedMs != 240 {
		t.Fatalf("expected third frame at 240ms, got %d", bundle.Frames[2].ElapsedMs)
	}

	if bundle.Header == nil {
		t.Fatal("expected header to be written")
	}
	h := bundle.Header
	if h.SessionID != "sess-1" || h.ClientID != "alice" || h.Result != "victory" || h.FinalPoints != 1 {
		t.Fatalf("unexpected header %+v", h)
	}
	if h.Events != 2 || h.Frames != 3 || len(h.Levels) != 1 || h.Levels[0] != "1.lvl" {
		t.Fatalf("unexpected header counters %+v", h)
	}
}

func TestWriterRequiresRoot(t *testing.T) {
	if _, _, err := NewWriter("", "x", nil); err == nil {
		t.Fatal("expected error for empty root")
	}
}

func TestOpenBundleWithoutHeader(t *testing.T) {
	writer, _, err := NewWriter(t.TempDir(), "crash", nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := writer.AppendEvent("command", map[string]string{"command": "W"}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := writer.AppendFrame([]byte{1, 2, 3}); err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}
	if err := writer.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := os.Remove(filepath.Join(writer.Directory(), "header.json")); err != nil {
		t.Fatalf("remove header: %v", err)
	}

	bundle, err := OpenBundle(writer.Directory())
	if err != nil {
		t.Fatalf("OpenBundle: %v", err)
	}
	if bundle.Header != nil {
		t.Fatalf("expected no header, got %+v", bundle.Header)
	}
	if len(bundle.Events) != 1 || len(bundle.Frames) != 1 {
		t.Fatalf("unexpected bundle contents: %d events %d frames", len(bundle.Events), len(bundle.Frames))
	}
	if _, err := bundle.Frames[0].BoardUpdate(); err == nil {
		t.Fatal("expected garbage payload to fail decoding")
	}
}

func TestOpenBundleRejectsUnknownManifestVersion(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(`{"version":9}`), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if _, err := OpenBundle(dir); err == nil {
		t.Fatal("expected unsupported version error")
	}
}
