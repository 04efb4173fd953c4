// Package replayplayer renders recorded sessions for inspection.
package replayplayer

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"pacmanist/server/internal/replay"
)

// Format selects how a bundle is rendered.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Render writes bundle to w in format.
func Render(w io.Writer, bundle replay.Bundle, format Format) error {
	switch format {
	case FormatJSON:
		return renderJSON(w, bundle)
	case FormatText:
		return renderText(w, bundle)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func renderJSON(w io.Writer, bundle replay.Bundle) error {
	payload := struct {
		Manifest replay.Manifest `json:"manifest"`
		Header   *replay.Header  `json:"header,omitempty"`
		Events   []replay.Event  `json:"events"`
		Frames   []replay.Frame  `json:"frames"`
	}{
		Manifest: bundle.Manifest,
		Header:   bundle.Header,
		Events:   bundle.Events,
		Frames:   bundle.Frames,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

// renderText prints the header, the event timeline and every frame as a board.
func renderText(w io.Writer, bundle replay.Bundle) error {
	var b strings.Builder
	if h := bundle.Header; h != nil {
		fmt.Fprintf(&b, "session %s client %s result %s points %d\n", h.SessionID, h.ClientID, h.Result, h.FinalPoints)
		if len(h.Levels) > 0 {
			fmt.Fprintf(&b, "levels: %s\n", strings.Join(h.Levels, ", "))
		}
	} else {
		b.WriteString("session header missing\n")
	}

	for _, event := range bundle.Events {
		fmt.Fprintf(&b, "[%6dms] %s %s\n", event.ElapsedMs, event.Type, event.Payload)
	}
	for _, frame := range bundle.Frames {
		update, err := frame.BoardUpdate()
		if err != nil {
			return fmt.Errorf("frame %d: %w", frame.Seq, err)
		}
		fmt.Fprintf(&b, "--- frame %d @%dms points=%d victory=%d game_over=%d\n",
			frame.Seq, frame.ElapsedMs, update.Points, update.Victory, update.GameOver)
		for _, row := range update.Rows() {
			b.WriteString(row)
			b.WriteByte('\n')
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
