// Package protocol encodes and decodes the byte messages exchanged with game clients over
// named pipes.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"pacmanist/server/internal/board"
)

// Opcode identifies the kind of a wire message.
type Opcode byte

const (
	OpConnect    Opcode = 1
	OpDisconnect Opcode = 2
	OpPlay       Opcode = 3
	OpBoard      Opcode = 4
)

const (
	// PathFieldSize is the fixed width of each path in a connect request.
	PathFieldSize = 40
	// ConnectRequestSize is the full size of a connect request on the wire.
	ConnectRequestSize = 1 + 2*PathFieldSize
	// ConnectResponseSize is the size of the handshake acknowledgement.
	ConnectResponseSize = 2
	// CommandSize is the size of a play or disconnect message.
	CommandSize = 2
	// BoardHeaderSize covers the opcode and the six little-endian int32 header fields.
	BoardHeaderSize = 1 + 6*4
	// MaxBoardCells bounds width*height accepted by decoders.
	MaxBoardCells = board.MaxCells
)

var (
	// ErrTruncated reports a message that ended before its fixed size.
	ErrTruncated = errors.New("protocol: truncated message")
	// ErrUnknownOpcode reports a message with an unexpected leading byte.
	ErrUnknownOpcode = errors.New("protocol: unexpected opcode")
	// ErrBoardTooLarge reports a board update whose dimensions are out of range.
	ErrBoardTooLarge = errors.New("protocol: board dimensions out of range")
	// ErrPeerClosed reports that the other end closed its side of the channel.
	ErrPeerClosed = errors.New("protocol: peer closed channel")
	// ErrDisconnectRequested reports an explicit disconnect message from the client.
	ErrDisconnectRequested = errors.New("protocol: client requested disconnect")
)

// ConnectRequest names the two per-client channels. RequestPath carries client commands,
// NotifyPath carries board updates to the client.
type ConnectRequest struct {
	RequestPath string
	NotifyPath  string
}

// Encode renders the request as opcode plus two NUL padded path fields. Paths longer than
// PathFieldSize are truncated.
func (r ConnectRequest) Encode() []byte {
	buf := make([]byte, ConnectRequestSize)
	buf[0] = byte(OpConnect)
	copy(buf[1:1+PathFieldSize], r.RequestPath)
	copy(buf[1+PathFieldSize:], r.NotifyPath)
	return buf
}

// Validate reports whether both paths are present.
func (r ConnectRequest) Validate() error {
	if r.RequestPath == "" || r.NotifyPath == "" {
		return fmt.Errorf("protocol: connect request missing paths (req=%q notif=%q)", r.RequestPath, r.NotifyPath)
	}
	return nil
}

// DecodeConnectRequest parses a full connect request frame.
func DecodeConnectRequest(buf []byte) (ConnectRequest, error) {
	if len(buf) < ConnectRequestSize {
		return ConnectRequest{}, ErrTruncated
	}
	if Opcode(buf[0]) != OpConnect {
		return ConnectRequest{}, fmt.Errorf("%w: %d", ErrUnknownOpcode, buf[0])
	}
	return ConnectRequest{
		RequestPath: cString(buf[1 : 1+PathFieldSize]),
		NotifyPath:  cString(buf[1+PathFieldSize : ConnectRequestSize]),
	}, nil
}

// ReadConnectRequest reads one connect request. A reader that is already at end of stream
// yields io.EOF; one that ends mid-frame yields ErrTruncated.
func ReadConnectRequest(r io.Reader) (ConnectRequest, error) {
	buf := make([]byte, ConnectRequestSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return ConnectRequest{}, ErrTruncated
		}
		return ConnectRequest{}, err
	}
	return DecodeConnectRequest(buf)
}

// ConnectResponse acknowledges a connect request. Result zero means success.
type ConnectResponse struct {
	Result byte
}

// Encode renders the response frame.
func (r ConnectResponse) Encode() []byte {
	return []byte{byte(OpConnect), r.Result}
}

// ReadConnectResponse reads the handshake acknowledgement.
func ReadConnectResponse(r io.Reader) (ConnectResponse, error) {
	var buf [ConnectResponseSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return ConnectResponse{}, ErrTruncated
		}
		return ConnectResponse{}, err
	}
	if Opcode(buf[0]) != OpConnect {
		return ConnectResponse{}, fmt.Errorf("%w: %d", ErrUnknownOpcode, buf[0])
	}
	return ConnectResponse{Result: buf[1]}, nil
}

// Command is a single-letter player instruction.
type Command byte

const (
	CommandUp    Command = 'W'
	CommandLeft  Command = 'A'
	CommandDown  Command = 'S'
	CommandRight Command = 'D'
	CommandQuit  Command = 'Q'
)

// Normalize upper-cases ASCII letters.
func (c Command) Normalize() Command {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

// IsMovement reports whether the command is one of W, A, S or D.
func (c Command) IsMovement() bool {
	switch c.Normalize() {
	case CommandUp, CommandLeft, CommandDown, CommandRight:
		return true
	}
	return false
}

// EncodeCommand renders a play message.
func EncodeCommand(c Command) []byte {
	return []byte{byte(OpPlay), byte(c)}
}

// EncodeDisconnect renders a disconnect message.
func EncodeDisconnect() []byte {
	return []byte{byte(OpDisconnect), 0}
}

// ReadCommand reads one client message. A zero length read means the client closed its end;
// a Disconnect opcode surfaces as ErrDisconnectRequested even when the rest of the message is
// missing.
func ReadCommand(r io.Reader) (Command, error) {
	var buf [CommandSize]byte
	n, err := r.Read(buf[:])
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return 0, ErrPeerClosed
		}
		return 0, err
	}
	switch Opcode(buf[0]) {
	case OpDisconnect:
		return 0, ErrDisconnectRequested
	case OpPlay:
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownOpcode, buf[0])
	}
	if n == 1 {
		if _, err := io.ReadFull(r, buf[1:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return 0, ErrTruncated
			}
			return 0, err
		}
	}
	return Command(buf[1]).Normalize(), nil
}

// BoardUpdate is one full snapshot of a session board as sent to the client.
type BoardUpdate struct {
	Width    int32
	Height   int32
	TempoMs  int32
	Victory  int32
	GameOver int32
	Points   int32
	Cells    []byte
}

// NewBoardUpdate snapshots b for the client. The caller holds at least a read lock on b.
func NewBoardUpdate(b *board.Board, victory, gameOver bool, points int) BoardUpdate {
	return BoardUpdate{
		Width:    int32(b.Width),
		Height:   int32(b.Height),
		TempoMs:  int32(b.TempoMs),
		Victory:  boolFlag(victory),
		GameOver: boolFlag(gameOver),
		Points:   int32(points),
		Cells:    b.Glyphs(),
	}
}

func boolFlag(v bool) int32 {
	if v {
		return 1
	}
	return 0
}

// MarshalBinary renders the update as opcode, six little-endian int32 fields and the cell
// bytes in row-major order.
func (u BoardUpdate) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, BoardHeaderSize+len(u.Cells)))
	buf.WriteByte(byte(OpBoard))
	for _, field := range []int32{u.Width, u.Height, u.TempoMs, u.Victory, u.GameOver, u.Points} {
		_ = binary.Write(buf, binary.LittleEndian, field)
	}
	buf.Write(u.Cells)
	return buf.Bytes(), nil
}

// ReadBoardUpdate reads one board update frame.
func ReadBoardUpdate(r io.Reader) (BoardUpdate, error) {
	var header [BoardHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return BoardUpdate{}, ErrTruncated
		}
		return BoardUpdate{}, err
	}
	if Opcode(header[0]) != OpBoard {
		return BoardUpdate{}, fmt.Errorf("%w: %d", ErrUnknownOpcode, header[0])
	}
	field := func(i int) int32 {
		return int32(binary.LittleEndian.Uint32(header[1+4*i:]))
	}
	update := BoardUpdate{
		Width:    field(0),
		Height:   field(1),
		TempoMs:  field(2),
		Victory:  field(3),
		GameOver: field(4),
		Points:   field(5),
	}
	size := int64(update.Width) * int64(update.Height)
	if update.Width <= 0 || update.Height <= 0 || size > MaxBoardCells {
		return BoardUpdate{}, fmt.Errorf("%w: %dx%d", ErrBoardTooLarge, update.Width, update.Height)
	}
	update.Cells = make([]byte, size)
	if _, err := io.ReadFull(r, update.Cells); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return BoardUpdate{}, ErrTruncated
		}
		return BoardUpdate{}, err
	}
	return update, nil
}

// Rows renders the cells as one string per board row.
func (u BoardUpdate) Rows() []string {
	if u.Width <= 0 {
		return nil
	}
	rows := make([]string, 0, u.Height)
	for y := 0; y < int(u.Height); y++ {
		start := y * int(u.Width)
		end := start + int(u.Width)
		if end > len(u.Cells) {
			break
		}
		rows = append(rows, string(u.Cells[start:end]))
	}
	return rows
}

// String renders the board as newline separated rows.
func (u BoardUpdate) String() string {
	return strings.Join(u.Rows(), "\n")
}

func cString(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field)
}
