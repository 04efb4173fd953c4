package board

import (
	"strings"
	"testing"
)

// build parses rows where 'X' is a wall, 'o' a dot, '@' a portal, 'P' the pacman and 'M' a
// ghost.
func build(t *testing.T, rows ...string) *Board {
	t.Helper()
	b, err := New(len(rows[0]), len(rows))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for y, row := range rows {
		for x, ch := range row {
			cell := b.At(x, y)
			switch ch {
			case 'X':
				cell.Content = Wall
			case 'o':
				cell.Dot = true
			case '@':
				cell.Portal = true
			case 'P':
				cell.Content = Pacman
				b.Pacmans = append(b.Pacmans, PacmanActor{X: x, Y: y, Alive: true})
			case 'M':
				cell.Content = Ghost
				b.Ghosts = append(b.Ghosts, GhostActor{X: x, Y: y})
			}
		}
	}
	return b
}

func render(b *Board) string {
	return strings.TrimRight(b.String(), "\n")
}

func TestMovePacmanCollectsDots(t *testing.T) {
	b := build(t, "Poo")
	cmd := NewCommand(ActionRight)

	step := b.MovePacman(0, &cmd)
	if step.Result != ValidMove || !step.Consumed {
		t.Fatalf("unexpected step %+v", step)
	}
	if b.Pacmans[0].Points != 1 || b.Pacmans[0].X != 1 {
		t.Fatalf("unexpected pacman %+v", b.Pacmans[0])
	}
	if got := render(b); got != " Co" {
		t.Fatalf("unexpected board %q", got)
	}
}

func TestMovePacmanBlockedByWallAndEdge(t *testing.T) {
	b := build(t, "PX")
	right := NewCommand(ActionRight)
	if step := b.MovePacman(0, &right); step.Result != InvalidMove {
		t.Fatalf("expected invalid move into wall, got %v", step.Result)
	}
	left := NewCommand(ActionLeft)
	if step := b.MovePacman(0, &left); step.Result != InvalidMove {
		t.Fatalf("expected invalid move off the board, got %v", step.Result)
	}
	if b.Pacmans[0].X != 0 {
		t.Fatalf("pacman moved: %+v", b.Pacmans[0])
	}
}

func TestMovePacmanIntoGhostDies(t *testing.T) {
	b := build(t, "PM")
	cmd := NewCommand(ActionRight)
	if step := b.MovePacman(0, &cmd); step.Result != DeadPacman {
		t.Fatalf("expected dead pacman, got %v", step.Result)
	}
	if b.Pacmans[0].Alive {
		t.Fatal("expected pacman marked dead")
	}
	again := NewCommand(ActionLeft)
	if step := b.MovePacman(0, &again); step.Result != DeadPacman {
		t.Fatalf("expected dead pacman to stay dead, got %v", step.Result)
	}
}

func TestMovePacmanReachesPortal(t *testing.T) {
	b := build(t, "P@")
	b.Pacmans[0].Points = 5
	cmd := NewCommand(ActionRight)
	if step := b.MovePacman(0, &cmd); step.Result != ReachedPortal {
		t.Fatalf("expected portal, got %v", step.Result)
	}
	if b.Pacmans[0].Points != 5 {
		t.Fatalf("portal must not change points, got %d", b.Pacmans[0].Points)
	}
}

func TestMovePacmanHonoursCadence(t *testing.T) {
	b := build(t, "Pooo")
	b.Pacmans[0].Passo = 1
	cmd := NewCommand(ActionRight)

	if step := b.MovePacman(0, &cmd); step.Result != ValidMove || b.Pacmans[0].X != 1 {
		t.Fatalf("first move should happen, got %+v pos=%d", step, b.Pacmans[0].X)
	}
	if step := b.MovePacman(0, &cmd); step.Consumed || b.Pacmans[0].X != 1 {
		t.Fatalf("second move should be a cadence wait, got %+v pos=%d", step, b.Pacmans[0].X)
	}
	if b.MovePacman(0, &cmd); b.Pacmans[0].X != 2 {
		t.Fatalf("third move should happen, got pos=%d", b.Pacmans[0].X)
	}
}

func TestMoveGhostKillsPacman(t *testing.T) {
	b := build(t, "MP ")
	cmd := NewCommand(ActionRight)
	step := b.MoveGhost(0, &cmd)
	if step.Result != DeadPacman {
		t.Fatalf("expected dead pacman, got %v", step.Result)
	}
	if b.Pacmans[0].Alive {
		t.Fatal("expected pacman dead")
	}
	if got := render(b); got != " M " {
		t.Fatalf("unexpected board %q", got)
	}
}

func TestMoveGhostBlockedByWallAndGhost(t *testing.T) {
	b := build(t, "XMM")
	left := NewCommand(ActionLeft)
	if step := b.MoveGhost(0, &left); step.Result != InvalidMove {
		t.Fatalf("expected wall to block, got %v", step.Result)
	}
	right := NewCommand(ActionRight)
	if step := b.MoveGhost(0, &right); step.Result != InvalidMove {
		t.Fatalf("expected ghost to block, got %v", step.Result)
	}
}

func TestMoveGhostPreservesDots(t *testing.T) {
	b := build(t, "Mo ")
	cmd := NewCommand(ActionRight)
	b.MoveGhost(0, &cmd)
	b.MoveGhost(0, &cmd)
	if got := render(b); got != " oM" {
		t.Fatalf("expected dot to remain after ghost passed, got %q", got)
	}
}

func TestChargedGhostSweepsToObstacle(t *testing.T) {
	b := build(t, "M   X")
	charge := NewCommand(ActionCharge)
	if step := b.MoveGhost(0, &charge); step.Result != ValidMove || !step.Consumed || !b.Ghosts[0].Charged {
		t.Fatalf("expected charge to arm, got %+v charged=%v", step, b.Ghosts[0].Charged)
	}
	right := NewCommand(ActionRight)
	if step := b.MoveGhost(0, &right); step.Result != ValidMove {
		t.Fatalf("expected valid sweep, got %v", step.Result)
	}
	if b.Ghosts[0].X != 3 || b.Ghosts[0].Charged {
		t.Fatalf("expected ghost before wall and discharged, got %+v", b.Ghosts[0])
	}
}

func TestChargedGhostSweepsToEdge(t *testing.T) {
	b := build(t, "M   ")
	b.Ghosts[0].Charged = true
	right := NewCommand(ActionRight)
	b.MoveGhost(0, &right)
	if b.Ghosts[0].X != 3 {
		t.Fatalf("expected ghost at edge, got %d", b.Ghosts[0].X)
	}
}

func TestChargedGhostSweepKillsFirstPacman(t *testing.T) {
	b := build(t, "M  P ")
	b.Ghosts[0].Charged = true
	right := NewCommand(ActionRight)
	if step := b.MoveGhost(0, &right); step.Result != DeadPacman {
		t.Fatalf("expected kill on sweep, got %v", step.Result)
	}
	if b.Ghosts[0].X != 3 {
		t.Fatalf("expected ghost on pacman cell, got %d", b.Ghosts[0].X)
	}
}

func TestChargedGhostSweepScanOrderPrefersNearestObstacle(t *testing.T) {
	b := build(t, "M XP")
	b.Ghosts[0].Charged = true
	right := NewCommand(ActionRight)
	if step := b.MoveGhost(0, &right); step.Result != ValidMove {
		t.Fatalf("wall before pacman must stop the sweep, got %v", step.Result)
	}
	if !b.Pacmans[0].Alive || b.Ghosts[0].X != 1 {
		t.Fatalf("unexpected state ghost=%+v pacman=%+v", b.Ghosts[0], b.Pacmans[0])
	}
}

func TestChargedGhostAtEdgeDischargesAndFails(t *testing.T) {
	b := build(t, " M")
	b.Ghosts[0].Charged = true
	right := NewCommand(ActionRight)
	if step := b.MoveGhost(0, &right); step.Result != InvalidMove {
		t.Fatalf("expected invalid sweep at edge, got %v", step.Result)
	}
	if b.Ghosts[0].Charged {
		t.Fatal("expected charge spent")
	}
}

func TestWaitCommandConsumesAfterTurns(t *testing.T) {
	b := build(t, "M ")
	wait := Command{Action: ActionWait, Turns: 3, TurnsLeft: 3}
	for i := 0; i < 2; i++ {
		if step := b.MoveGhost(0, &wait); step.Consumed {
			t.Fatalf("wait consumed too early on turn %d", i+1)
		}
	}
	if step := b.MoveGhost(0, &wait); !step.Consumed {
		t.Fatal("wait should complete on the third turn")
	}
	if wait.TurnsLeft != 3 {
		t.Fatalf("expected wait counter reset, got %d", wait.TurnsLeft)
	}
}

func TestRandomMoveUsesInjectedSource(t *testing.T) {
	b := build(t, " M ")
	b.Random = func(int) int { return 3 }
	random := NewCommand(ActionRandom)
	b.MoveGhost(0, &random)
	if b.Ghosts[0].X != 2 {
		t.Fatalf("expected random pick to move right, got %d", b.Ghosts[0].X)
	}
}

func TestGlyphs(t *testing.T) {
	b := build(t, "XPM@o ")
	if got := string(b.Glyphs()); got != "#CM@o " {
		t.Fatalf("unexpected glyphs %q", got)
	}
}

func TestCurrentMoveWraps(t *testing.T) {
	g := GhostActor{Moves: []Command{NewCommand(ActionUp), NewCommand(ActionDown)}, Cursor: 3}
	if got := g.CurrentMove().Action; got != ActionDown {
		t.Fatalf("expected wrap to second move, got %q", got)
	}
	empty := GhostActor{}
	if empty.CurrentMove() != nil {
		t.Fatal("expected nil move for empty script")
	}
}

func TestNewRejectsBoardsBeyondMaxCells(t *testing.T) {
	if _, err := New(100, 100); err != nil {
		t.Fatalf("New at the cell limit: %v", err)
	}
	for _, dims := range [][2]int{{0, 3}, {3, -1}, {101, 100}, {1 << 31, 1 << 31}} {
		if _, err := New(dims[0], dims[1]); err == nil {
			t.Fatalf("expected New(%d, %d) to fail", dims[0], dims[1])
		}
	}
}
