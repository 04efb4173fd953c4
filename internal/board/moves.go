package board

// MoveResult classifies the outcome of one agent move.
type MoveResult int

const (
	ValidMove MoveResult = iota
	InvalidMove
	ReachedPortal
	DeadPacman
)

func (r MoveResult) String() string {
	switch r {
	case ValidMove:
		return "valid"
	case InvalidMove:
		return "invalid"
	case ReachedPortal:
		return "portal"
	case DeadPacman:
		return "dead_pacman"
	default:
		return "unknown"
	}
}

// Step is the outcome of one move attempt. Consumed reports whether the scripted command
// finished and the agent's cursor should move on.
type Step struct {
	Result   MoveResult
	Consumed bool
}

func delta(action byte) (dx, dy int, ok bool) {
	switch action {
	case ActionUp:
		return 0, -1, true
	case ActionDown:
		return 0, 1, true
	case ActionLeft:
		return -1, 0, true
	case ActionRight:
		return 1, 0, true
	}
	return 0, 0, false
}

// waitTurn counts down a multi-turn wait and reports whether it just completed.
func waitTurn(cmd *Command) bool {
	if cmd.TurnsLeft <= 1 {
		cmd.TurnsLeft = cmd.Turns
		return true
	}
	cmd.TurnsLeft--
	return false
}

// MovePacman applies cmd to pacman i.
func (b *Board) MovePacman(i int, cmd *Command) Step {
	if i < 0 || i >= len(b.Pacmans) || !b.Pacmans[i].Alive {
		return Step{Result: DeadPacman}
	}
	pac := &b.Pacmans[i]

	//1.- Cadence countdown consumes the turn without touching the board.
	if pac.Waiting > 0 {
		pac.Waiting--
		return Step{Result: ValidMove}
	}
	pac.Waiting = pac.Passo

	action := cmd.Action
	if action == ActionRandom {
		action = b.randomDirection()
	}
	if action == ActionWait {
		return Step{Result: ValidMove, Consumed: waitTurn(cmd)}
	}
	dx, dy, ok := delta(action)
	if !ok {
		return Step{Result: InvalidMove, Consumed: true}
	}

	//2.- Resolve the destination cell: bounds, portal, wall, ghost, dot.
	nx, ny := pac.X+dx, pac.Y+dy
	if !b.InBounds(nx, ny) {
		return Step{Result: InvalidMove, Consumed: true}
	}
	target := b.At(nx, ny)
	if target.Portal {
		b.At(pac.X, pac.Y).Content = Empty
		target.Content = Pacman
		return Step{Result: ReachedPortal, Consumed: true}
	}
	switch target.Content {
	case Wall:
		return Step{Result: InvalidMove, Consumed: true}
	case Ghost:
		b.killPacman(i)
		return Step{Result: DeadPacman, Consumed: true}
	}
	if target.Dot {
		pac.Points++
		target.Dot = false
	}

	//3.- Relocate.
	b.At(pac.X, pac.Y).Content = Empty
	pac.X, pac.Y = nx, ny
	target.Content = Pacman
	return Step{Result: ValidMove, Consumed: true}
}

// MoveGhost applies cmd to ghost i.
func (b *Board) MoveGhost(i int, cmd *Command) Step {
	ghost := &b.Ghosts[i]

	if ghost.Waiting > 0 {
		ghost.Waiting--
		return Step{Result: ValidMove}
	}
	ghost.Waiting = ghost.Passo

	action := cmd.Action
	if action == ActionRandom {
		action = b.randomDirection()
	}
	switch action {
	case ActionCharge:
		ghost.Charged = true
		return Step{Result: ValidMove, Consumed: true}
	case ActionWait:
		return Step{Result: ValidMove, Consumed: waitTurn(cmd)}
	}
	dx, dy, ok := delta(action)
	if !ok {
		return Step{Result: InvalidMove, Consumed: true}
	}
	if ghost.Charged {
		return Step{Result: b.sweepGhost(i, dx, dy), Consumed: true}
	}

	nx, ny := ghost.X+dx, ghost.Y+dy
	if !b.InBounds(nx, ny) {
		return Step{Result: InvalidMove, Consumed: true}
	}
	target := b.At(nx, ny)
	if target.Content == Wall || target.Content == Ghost {
		return Step{Result: InvalidMove, Consumed: true}
	}
	result := ValidMove
	if target.Content == Pacman {
		result = b.killPacmanAt(nx, ny)
	}
	b.relocateGhost(ghost, nx, ny)
	return Step{Result: result, Consumed: true}
}

// sweepGhost moves a charged ghost in a straight line. Cells are scanned outwards from the
// ghost: a wall or ghost stops it on the previous cell, a pacman is entered and killed, and
// with no obstacle it stops on the board edge. The charge is spent even when the sweep is
// refused because the ghost already stands on that edge.
func (b *Board) sweepGhost(i, dx, dy int) MoveResult {
	ghost := &b.Ghosts[i]
	ghost.Charged = false

	if !b.InBounds(ghost.X+dx, ghost.Y+dy) {
		return InvalidMove
	}
	x, y := ghost.X, ghost.Y
	result := ValidMove
	for {
		nx, ny := x+dx, y+dy
		if !b.InBounds(nx, ny) {
			break
		}
		content := b.At(nx, ny).Content
		if content == Wall || content == Ghost {
			break
		}
		x, y = nx, ny
		if content == Pacman {
			result = b.killPacmanAt(x, y)
			break
		}
	}
	b.relocateGhost(ghost, x, y)
	return result
}

func (b *Board) relocateGhost(ghost *GhostActor, x, y int) {
	b.At(ghost.X, ghost.Y).Content = Empty
	ghost.X, ghost.Y = x, y
	b.At(x, y).Content = Ghost
}

func (b *Board) killPacmanAt(x, y int) MoveResult {
	for p := range b.Pacmans {
		pac := &b.Pacmans[p]
		if pac.Alive && pac.X == x && pac.Y == y {
			b.killPacman(p)
			return DeadPacman
		}
	}
	return ValidMove
}

func (b *Board) killPacman(i int) {
	pac := &b.Pacmans[i]
	b.At(pac.X, pac.Y).Content = Empty
	pac.Alive = false
}
