package replay

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"pacmanist/server/internal/protocol"
)

// ErrTruncatedFrame reports a frame stream that ends inside a frame.
var ErrTruncatedFrame = errors.New("replay: frame payload truncated")

// Event is one decoded line of the event log.
type Event struct {
	Seq        uint64          `json:"seq"`
	ElapsedMs  int64           `json:"elapsed_ms"`
	CapturedAt time.Time       `json:"captured_at"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}

// Frame is one decoded board update frame.
type Frame struct {
	Seq        uint64    `json:"seq"`
	ElapsedMs  int64     `json:"elapsed_ms"`
	CapturedAt time.Time `json:"captured_at"`
	Payload    []byte    `json:"payload"`
}

// BoardUpdate decodes the frame payload.
func (f Frame) BoardUpdate() (protocol.BoardUpdate, error) {
	return protocol.ReadBoardUpdate(bytes.NewReader(f.Payload))
}

// Bundle is a fully decoded session recording.
type Bundle struct {
	Dir      string
	Manifest Manifest
	Header   *Header
	Events   []Event
	Frames   []Frame
}

// OpenBundle decodes the bundle at path, which may be the bundle directory or its
// manifest. The header is optional because a crashed session never writes one.
func OpenBundle(path string) (Bundle, error) {
	dir := path
	if filepath.Base(path) == manifestFile {
		dir = filepath.Dir(path)
	}

	//1.- The manifest locates every other artefact.
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return Bundle{}, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Bundle{}, err
	}
	if manifest.Version != 1 {
		return Bundle{}, fmt.Errorf("unsupported manifest version %d", manifest.Version)
	}

	bundle := Bundle{Dir: dir, Manifest: manifest}
	if header, err := ReadHeader(filepath.Join(dir, headerFile)); err == nil {
		bundle.Header = &header
	} else if !errors.Is(err, os.ErrNotExist) {
		return Bundle{}, err
	}

	//2.- Events first, then frames.
	if bundle.Events, err = loadEvents(filepath.Join(dir, manifest.EventsPath)); err != nil {
		return Bundle{}, err
	}
	if bundle.Frames, err = loadFrames(filepath.Join(dir, manifest.FramesPath)); err != nil {
		return Bundle{}, err
	}
	return bundle, nil
}

func loadEvents(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var events []Event
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var raw eventRecord
		if err := json.Unmarshal(line, &raw); err != nil {
			return nil, err
		}
		captured, err := time.Parse(time.RFC3339Nano, raw.CapturedAt)
		if err != nil {
			return nil, err
		}
		events = append(events, Event{
			Seq:        raw.Seq,
			ElapsedMs:  raw.ElapsedMs,
			CapturedAt: captured,
			Type:       raw.Type,
			Payload:    append(json.RawMessage(nil), raw.Payload...),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func loadFrames(path string) ([]Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	var frames []Frame
	offset := 0
	for offset < len(payload) {
		if offset+frameHeaderSize > len(payload) {
			return nil, ErrTruncatedFrame
		}
		seq := binary.LittleEndian.Uint64(payload[offset : offset+8])
		elapsed := int64(binary.LittleEndian.Uint64(payload[offset+8 : offset+16]))
		captured := int64(binary.LittleEndian.Uint64(payload[offset+16 : offset+24]))
		size := int(binary.LittleEndian.Uint32(payload[offset+24 : offset+28]))
		offset += frameHeaderSize
		if offset+size > len(payload) {
			return nil, ErrTruncatedFrame
		}
		frames = append(frames, Frame{
			Seq:        seq,
			ElapsedMs:  elapsed,
			CapturedAt: time.Unix(0, captured).UTC(),
			Payload:    append([]byte(nil), payload[offset:offset+size]...),
		})
		offset += size
	}
	return frames, nil
}
