package game

import "sync"

// State is the lifecycle of one coordinator.
type State int

const (
	StatePaused State = iota
	StateRunning
	StateNextLevel
	StateWon
	StateOver
	StateQuit
	StateClientDisconnected
)

func (s State) String() string {
	switch s {
	case StatePaused:
		return "paused"
	case StateRunning:
		return "running"
	case StateNextLevel:
		return "next_level"
	case StateWon:
		return "won"
	case StateOver:
		return "over"
	case StateQuit:
		return "quit"
	case StateClientDisconnected:
		return "client_disconnected"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends the coordinator.
func (s State) Terminal() bool { return s >= StateNextLevel }

// Victory reports whether a client should see the victory flag for s.
func (s State) Victory() bool { return s == StateWon || s == StateNextLevel }

// GameOver reports whether a client should see the game-over flag for s.
func (s State) GameOver() bool {
	return s == StateOver || s == StateQuit || s == StateClientDisconnected
}

// lifecycle serialises state transitions. It is deliberately a separate lock from the
// board lock.
type lifecycle struct {
	mu         sync.Mutex
	state      State
	pacmanDead bool
	done       chan struct{}
}

func newLifecycle() *lifecycle {
	return &lifecycle{state: StatePaused, done: make(chan struct{})}
}

func (l *lifecycle) start() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StatePaused {
		return false
	}
	l.state = StateRunning
	return true
}

// finish moves Running to the terminal state next. Only the first call wins.
func (l *lifecycle) finish(next State) bool {
	if !next.Terminal() {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateRunning {
		return false
	}
	l.state = next
	close(l.done)
	return true
}

func (l *lifecycle) current() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *lifecycle) running() bool { return l.current() == StateRunning }

func (l *lifecycle) markPacmanDead() {
	l.mu.Lock()
	l.pacmanDead = true
	l.mu.Unlock()
}

func (l *lifecycle) snapshot() (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, l.pacmanDead
}
