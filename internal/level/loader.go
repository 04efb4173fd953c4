package level

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pacmanist/server/internal/board"
)

// Loader builds boards from the files of one level directory.
type Loader struct {
	Dir string
}

// Load parses the level file name and its behaviour files. The pacman starts with carried
// points. Without a PAC file the pacman is player driven and placed on the first dotted
// cell, eating that dot.
func (l Loader) Load(name string, carried int) (*board.Board, error) {
	spec, err := l.readLevel(name)
	if err != nil {
		return nil, err
	}

	b, err := board.New(spec.Cols, spec.Rows)
	if err != nil {
		return nil, fmt.Errorf("level %s: %w", name, err)
	}
	b.TempoMs = spec.TempoMs
	b.Name = strings.TrimSuffix(name, filepath.Ext(name))
	b.PacmanFile = spec.PacmanFile
	b.GhostFiles = append([]string(nil), spec.GhostFiles...)

	//1.- Terrain.
	for i := 0; i < len(b.Cells); i++ {
		switch spec.Matrix[i] {
		case 'X':
			b.Cells[i].Content = board.Wall
		case '@':
			b.Cells[i].Portal = true
		case 'o':
			b.Cells[i].Dot = true
		}
	}

	//2.- Ghosts, then the pacman so it wins a shared starting cell.
	for i, file := range spec.GhostFiles {
		behavior, err := l.readBehavior(file)
		if err != nil {
			return nil, fmt.Errorf("level %s ghost %d: %w", name, i, err)
		}
		if !b.InBounds(behavior.Col, behavior.Row) {
			return nil, fmt.Errorf("level %s ghost %d: %w: position %d %d outside board", name, i, ErrMalformed, behavior.Row, behavior.Col)
		}
		b.Ghosts = append(b.Ghosts, board.GhostActor{
			X:       behavior.Col,
			Y:       behavior.Row,
			Passo:   behavior.Passo,
			Waiting: behavior.Passo,
			Moves:   behavior.Moves,
		})
		b.At(behavior.Col, behavior.Row).Content = board.Ghost
	}

	pacman := board.PacmanActor{Alive: true, Points: carried}
	if spec.PacmanFile != "" {
		behavior, err := l.readBehavior(spec.PacmanFile)
		if err != nil {
			return nil, fmt.Errorf("level %s pacman: %w", name, err)
		}
		if !b.InBounds(behavior.Col, behavior.Row) {
			return nil, fmt.Errorf("level %s pacman: %w: position %d %d outside board", name, ErrMalformed, behavior.Row, behavior.Col)
		}
		pacman.X, pacman.Y = behavior.Col, behavior.Row
		pacman.Passo, pacman.Waiting = behavior.Passo, behavior.Passo
		pacman.Moves = behavior.Moves
	} else {
		found := false
		for i, cell := range b.Cells {
			if cell.Dot && cell.Content == board.Empty {
				pacman.X, pacman.Y = i%b.Width, i/b.Width
				b.Cells[i].Dot = false
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("level %s: %w: no starting cell for the pacman", name, ErrMalformed)
		}
	}
	b.Pacmans = []board.PacmanActor{pacman}
	b.At(pacman.X, pacman.Y).Content = board.Pacman
	return b, nil
}

// Unload releases a board returned by Load.
func (l Loader) Unload(b *board.Board) {
	b.Release()
}

func (l Loader) readLevel(name string) (Spec, error) {
	file, err := os.Open(filepath.Join(l.Dir, name))
	if err != nil {
		return Spec{}, fmt.Errorf("level %s: %w", name, err)
	}
	defer file.Close()
	spec, err := ParseLevel(file)
	if err != nil {
		return Spec{}, fmt.Errorf("level %s: %w", name, err)
	}
	return spec, nil
}

func (l Loader) readBehavior(name string) (Behavior, error) {
	file, err := os.Open(filepath.Join(l.Dir, name))
	if err != nil {
		return Behavior{}, err
	}
	defer file.Close()
	return ParseBehavior(file)
}
