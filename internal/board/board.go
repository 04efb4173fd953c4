// Package board holds the grid model of one level and the cell-level movement rules for
// pacmans and ghosts. Nothing here is safe for concurrent use; callers serialise access.
package board

import (
	"fmt"
	"math/rand/v2"
)

// Content is the display tag of a cell.
type Content byte

const (
	Empty  Content = ' '
	Wall   Content = 'W'
	Pacman Content = 'P'
	Ghost  Content = 'M'
)

// Cell is one board position.
type Cell struct {
	Content Content
	Dot     bool
	Portal  bool
}

// Action letters understood by scripted agents.
const (
	ActionUp     byte = 'W'
	ActionLeft   byte = 'A'
	ActionDown   byte = 'S'
	ActionRight  byte = 'D'
	ActionRandom byte = 'R'
	ActionCharge byte = 'C'
	ActionWait   byte = 'T'
)

// Command is one entry of an agent script. Turns and TurnsLeft are only meaningful for
// ActionWait.
type Command struct {
	Action    byte
	Turns     int
	TurnsLeft int
}

// NewCommand builds a single-turn command for action.
func NewCommand(action byte) Command {
	return Command{Action: action, Turns: 1, TurnsLeft: 1}
}

// PacmanActor is the player-controlled agent.
type PacmanActor struct {
	X, Y    int
	Passo   int
	Waiting int
	Alive   bool
	Points  int
	Moves   []Command
	Cursor  int
}

// GhostActor is an autonomous agent driven by its script.
type GhostActor struct {
	X, Y    int
	Passo   int
	Waiting int
	Charged bool
	Moves   []Command
	Cursor  int
}

// CurrentMove returns the scripted command under the cursor, wrapping around the script.
// It returns nil when the ghost has no script.
func (g *GhostActor) CurrentMove() *Command {
	if len(g.Moves) == 0 {
		return nil
	}
	return &g.Moves[g.Cursor%len(g.Moves)]
}

// Board is one loaded level.
type Board struct {
	Width      int
	Height     int
	TempoMs    int
	Name       string
	Cells      []Cell
	Pacmans    []PacmanActor
	Ghosts     []GhostActor
	PacmanFile string
	GhostFiles []string

	// Random picks a direction index in [0,n) for ActionRandom. Nil uses math/rand/v2.
	Random func(n int) int
}

// MaxCells bounds width*height so every board fits one client board update.
const MaxCells = 10000

// New allocates an empty width x height board.
func New(width, height int) (*Board, error) {
	if width <= 0 || height <= 0 || int64(width)*int64(height) > MaxCells {
		return nil, fmt.Errorf("board: invalid dimensions %dx%d", width, height)
	}
	cells := make([]Cell, width*height)
	for i := range cells {
		cells[i].Content = Empty
	}
	return &Board{Width: width, Height: height, Cells: cells}, nil
}

// Index returns the row-major index of (x, y).
func (b *Board) Index(x, y int) int { return y*b.Width + x }

// InBounds reports whether (x, y) lies on the board.
func (b *Board) InBounds(x, y int) bool {
	return x >= 0 && x < b.Width && y >= 0 && y < b.Height
}

// At returns the cell at (x, y). The coordinates must be in bounds.
func (b *Board) At(x, y int) *Cell { return &b.Cells[b.Index(x, y)] }

// Release drops every reference held by the board.
func (b *Board) Release() {
	if b == nil {
		return
	}
	b.Cells = nil
	b.Pacmans = nil
	b.Ghosts = nil
	b.GhostFiles = nil
}

// Glyph returns the client-facing byte for a cell: '#' wall, 'C' pacman, 'M' ghost,
// '@' portal, 'o' dot, ' ' otherwise.
func (c Cell) Glyph() byte {
	switch c.Content {
	case Wall:
		return '#'
	case Pacman:
		return 'C'
	case Ghost:
		return 'M'
	}
	if c.Portal {
		return '@'
	}
	if c.Dot {
		return 'o'
	}
	return ' '
}

// Glyphs renders every cell in row-major order.
func (b *Board) Glyphs() []byte {
	out := make([]byte, len(b.Cells))
	for i, cell := range b.Cells {
		out[i] = cell.Glyph()
	}
	return out
}

// String renders the board one row per line, for logs and test failures.
func (b *Board) String() string {
	glyphs := b.Glyphs()
	out := make([]byte, 0, len(glyphs)+b.Height)
	for y := 0; y < b.Height; y++ {
		out = append(out, glyphs[y*b.Width:(y+1)*b.Width]...)
		out = append(out, '\n')
	}
	return string(out)
}

func (b *Board) randomDirection() byte {
	directions := [4]byte{ActionUp, ActionDown, ActionLeft, ActionRight}
	pick := rand.IntN
	if b.Random != nil {
		pick = b.Random
	}
	return directions[pick(len(directions))]
}
