// Package replay records game sessions to disk: a snappy-framed JSONL event log and a
// zstd-compressed stream of board update frames, described by a manifest and a header.
package replay

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var labelCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// FrameInterval is the cadence at which buffered frames are flushed to the frame stream.
const FrameInterval = 200 * time.Millisecond

const (
	eventsFile   = "events.jsonl.sz"
	framesFile   = "frames.bin.zst"
	manifestFile = "manifest.json"
	headerFile   = "header.json"

	frameHeaderSize = 8 + 8 + 8 + 4
)

// ErrClosed reports a write to a closed writer.
var ErrClosed = errors.New("replay: writer closed")

type frameBlob struct {
	Seq        uint64
	ElapsedMs  int64
	CapturedAt time.Time
	Payload    []byte
}

// Writer streams one session recording to disk. It is safe for concurrent use.
type Writer struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	started     time.Time
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	pending     []frameBlob
	lastFlush   time.Time
	eventSeq    uint64
	frameSeq    uint64
	header      Header
	closed      bool
}

// Manifest describes the bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version         int    `json:"version"`
	CreatedAt       string `json:"created_at"`
	FrameIntervalMs int    `json:"frame_interval_ms"`
	EventsPath      string `json:"events_path"`
	FramesPath      string `json:"frames_path"`
}

// NewWriter creates <root>/<label>-<timestamp>/ and opens the compressed sinks.
func NewWriter(root, label string, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("replay root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}

	cleaned := labelCleaner.ReplaceAllString(label, "")
	if cleaned == "" {
		cleaned = "session"
	}
	created := clock().UTC()
	path := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405.000Z")))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	eventFile, err := os.Create(filepath.Join(path, eventsFile))
	if err != nil {
		return nil, Manifest{}, err
	}
	frameFile, err := os.Create(filepath.Join(path, framesFile))
	if err != nil {
		eventFile.Close()
		return nil, Manifest{}, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventFile.Close()
		frameFile.Close()
		return nil, Manifest{}, err
	}
	eventStream := snappy.NewBufferedWriter(eventFile)

	manifest := Manifest{
		Version:         1,
		CreatedAt:       created.Format(time.RFC3339Nano),
		FrameIntervalMs: int(FrameInterval / time.Millisecond),
		EventsPath:      eventsFile,
		FramesPath:      framesFile,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(path, manifestFile), data, 0o644)
	}
	if err != nil {
		frameStream.Close()
		frameFile.Close()
		eventStream.Close()
		eventFile.Close()
		return nil, Manifest{}, err
	}

	return &Writer{
		dir:         path,
		now:         clock,
		started:     created,
		eventFile:   eventFile,
		eventStream: eventStream,
		frameFile:   frameFile,
		frameStream: frameStream,
		header:      Header{SchemaVersion: HeaderSchemaVersion, FilePointer: manifestFile},
	}, manifest, nil
}

// Directory exposes the directory backing the bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// SetSession records who the bundle belongs to.
func (w *Writer) SetSession(sessionID, clientID string) {
	w.mu.Lock()
	w.header.SessionID = sessionID
	w.header.ClientID = clientID
	w.mu.Unlock()
}

// NoteLevel appends a level to the header's play order.
func (w *Writer) NoteLevel(name string) {
	w.mu.Lock()
	w.header.Levels = append(w.header.Levels, name)
	w.mu.Unlock()
}

// NoteResult records the final session result in the header.
func (w *Writer) NoteResult(result string, points int) {
	w.mu.Lock()
	w.header.Result = result
	w.header.FinalPoints = points
	w.mu.Unlock()
}

// AppendEvent writes one JSON event line. payload must be JSON encodable.
func (w *Writer) AppendEvent(eventType string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	//1.- Each line carries its own ordering metadata so the log can be streamed.
	w.eventSeq++
	record := eventRecord{
		Seq:        w.eventSeq,
		ElapsedMs:  captured.Sub(w.started).Milliseconds(),
		CapturedAt: captured.Format(time.RFC3339Nano),
		Type:       eventType,
		Payload:    encoded,
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if _, err := w.eventStream.Write(append(line, '\n')); err != nil {
		return err
	}
	return w.eventStream.Flush()
}

// AppendFrame buffers one encoded board update until the flush cadence is reached.
func (w *Writer) AppendFrame(payload []byte) error {
	captured := w.now().UTC()
	clone := append([]byte(nil), payload...)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	w.frameSeq++
	w.pending = append(w.pending, frameBlob{
		Seq:        w.frameSeq,
		ElapsedMs:  captured.Sub(w.started).Milliseconds(),
		CapturedAt: captured,
		Payload:    clone,
	})
	if w.lastFlush.IsZero() {
		w.lastFlush = captured
		return nil
	}
	if captured.Sub(w.lastFlush) >= FrameInterval {
		if err := w.flushLocked(); err != nil {
			return err
		}
		w.lastFlush = captured
	}
	return nil
}

// Flush forces pending frames to the frame stream regardless of cadence.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	w.lastFlush = w.now().UTC()
	return nil
}

// Close flushes every buffer, writes the header and releases file handles. Every step is
// attempted; the first failure is returned.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.header.Events = w.eventSeq
	w.header.Frames = w.frameSeq
	keep(WriteHeader(filepath.Join(w.dir, headerFile), w.header))
	keep(w.flushLocked())
	keep(w.eventStream.Close())
	keep(w.eventFile.Close())
	keep(w.frameStream.Close())
	keep(w.frameFile.Close())
	return firstErr
}

// flushLocked writes buffered frames as a 28 byte little-endian header (sequence, elapsed
// milliseconds, capture time in nanoseconds, payload length) followed by the payload.
func (w *Writer) flushLocked() error {
	if len(w.pending) == 0 {
		return nil
	}
	header := make([]byte, frameHeaderSize)
	for _, frame := range w.pending {
		binary.LittleEndian.PutUint64(header[0:8], frame.Seq)
		binary.LittleEndian.PutUint64(header[8:16], uint64(frame.ElapsedMs))
		binary.LittleEndian.PutUint64(header[16:24], uint64(frame.CapturedAt.UnixNano()))
		binary.LittleEndian.PutUint32(header[24:28], uint32(len(frame.Payload)))
		if _, err := w.frameStream.Write(header); err != nil {
			return err
		}
		if _, err := w.frameStream.Write(frame.Payload); err != nil {
			return err
		}
	}
	w.pending = w.pending[:0]
	return nil
}

type eventRecord struct {
	Seq        uint64          `json:"seq"`
	ElapsedMs  int64           `json:"elapsed_ms"`
	CapturedAt string          `json:"captured_at"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}
