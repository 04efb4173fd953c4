// Package level reads level and agent behaviour files from a level directory and keeps a
// sorted catalogue of the levels it contains.
package level

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"pacmanist/server/internal/board"
)

// MaxMoves bounds the script length read from one behaviour file.
const MaxMoves = 256

// ErrMalformed reports a level or behaviour file that cannot be used.
var ErrMalformed = errors.New("level: malformed file")

// Behavior is the parsed content of a pacman or ghost behaviour file.
type Behavior struct {
	Passo int
	Row   int
	Col   int
	Moves []board.Command
}

// Spec is the parsed content of a .lvl file before agents are attached.
type Spec struct {
	Rows       int
	Cols       int
	TempoMs    int
	PacmanFile string
	GhostFiles []string
	Matrix     string
}

// ParseBehavior reads a behaviour file: a PASSO line, a POS line, then one command per line.
// Blank lines and lines starting with '#' are skipped. Unknown commands are ignored.
func ParseBehavior(r io.Reader) (Behavior, error) {
	var out Behavior
	lines := newLineReader(r)

	//1.- Header lines. A header that does not carry its keyword is consumed and ignored.
	line, ok := lines.nextContent()
	if !ok {
		return out, fmt.Errorf("%w: missing PASSO line", ErrMalformed)
	}
	if rest, found := strings.CutPrefix(line, "PASSO "); found {
		out.Passo = atoi(rest)
	}
	line, ok = lines.nextContent()
	if !ok {
		return out, fmt.Errorf("%w: missing POS line", ErrMalformed)
	}
	if rest, found := strings.CutPrefix(line, "POS "); found {
		fields := strings.Fields(rest)
		if len(fields) > 0 {
			out.Row = atoi(fields[0])
		}
		if len(fields) > 1 {
			out.Col = atoi(fields[1])
		}
	}

	//2.- Script.
	for len(out.Moves) < MaxMoves {
		line, ok := lines.nextContent()
		if !ok {
			break
		}
		switch action := line[0]; action {
		case 'W', 'A', 'S', 'D', 'R', 'C', 'G', 'Q':
			out.Moves = append(out.Moves, board.NewCommand(action))
		case board.ActionWait:
			turns := 1
			if len(line) > 2 {
				turns = atoi(line[2:])
			}
			out.Moves = append(out.Moves, board.Command{Action: board.ActionWait, Turns: turns, TurnsLeft: turns})
		}
	}
	if err := lines.err(); err != nil {
		return out, err
	}
	return out, nil
}

// ParseLevel reads a .lvl file: DIM, TEMPO, PAC and MON directives followed by the board
// matrix. The matrix starts at the first line beginning with 'X', 'o' or '@' and its rows
// are concatenated. Fewer than rows*cols matrix characters is an error.
func ParseLevel(r io.Reader) (Spec, error) {
	var spec Spec
	var matrix strings.Builder
	readingBoard := false
	lines := newLineReader(r)

	for {
		line, ok := lines.next()
		if !ok {
			break
		}
		if line == "" && !readingBoard {
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if !readingBoard {
			if rest, found := strings.CutPrefix(line, "DIM "); found {
				fields := strings.Fields(rest)
				if len(fields) > 0 {
					spec.Rows = atoi(fields[0])
				}
				if len(fields) > 1 {
					spec.Cols = atoi(fields[1])
				}
				continue
			}
			if rest, found := strings.CutPrefix(line, "TEMPO "); found {
				spec.TempoMs = atoi(rest)
				continue
			}
			if rest, found := strings.CutPrefix(line, "PAC "); found {
				spec.PacmanFile = strings.TrimSpace(rest)
				continue
			}
			if rest, found := strings.CutPrefix(line, "MON "); found {
				spec.GhostFiles = append(spec.GhostFiles, strings.Fields(rest)...)
				continue
			}
			if line == "" || !strings.ContainsRune("Xo@", rune(line[0])) {
				continue
			}
			readingBoard = true
		}
		matrix.WriteString(line)
	}
	if err := lines.err(); err != nil {
		return spec, err
	}

	if spec.Rows <= 0 || spec.Cols <= 0 {
		return spec, fmt.Errorf("%w: invalid DIM %d %d", ErrMalformed, spec.Rows, spec.Cols)
	}
	if int64(spec.Rows)*int64(spec.Cols) > board.MaxCells {
		return spec, fmt.Errorf("%w: DIM %d %d exceeds %d cells", ErrMalformed, spec.Rows, spec.Cols, board.MaxCells)
	}
	if matrix.Len() < spec.Rows*spec.Cols {
		return spec, fmt.Errorf("%w: board has %d cells, want %d", ErrMalformed, matrix.Len(), spec.Rows*spec.Cols)
	}
	spec.Matrix = matrix.String()[:spec.Rows*spec.Cols]
	return spec, nil
}

type lineReader struct {
	scanner *bufio.Scanner
}

func newLineReader(r io.Reader) *lineReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	return &lineReader{scanner: scanner}
}

func (l *lineReader) next() (string, bool) {
	if !l.scanner.Scan() {
		return "", false
	}
	return strings.TrimRight(l.scanner.Text(), "\r"), true
}

// nextContent skips blank and comment lines.
func (l *lineReader) nextContent() (string, bool) {
	for {
		line, ok := l.next()
		if !ok {
			return "", false
		}
		if line == "" || line[0] == '#' {
			continue
		}
		return line, true
	}
}

func (l *lineReader) err() error { return l.scanner.Err() }

// atoiLimit saturates parsed numbers so later arithmetic cannot overflow.
const atoiLimit = 1 << 30

// atoi parses a leading optionally signed decimal number and yields zero when none exists.
// Values beyond atoiLimit saturate.
func atoi(raw string) int {
	s := strings.TrimLeft(raw, " \t")
	sign := 1
	if s != "" && (s[0] == '-' || s[0] == '+') {
		if s[0] == '-' {
			sign = -1
		}
		s = s[1:]
	}
	value := 0
	for i := 0; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		value = value*10 + int(s[i]-'0')
		if value > atoiLimit {
			value = atoiLimit
			break
		}
	}
	return sign * value
}
