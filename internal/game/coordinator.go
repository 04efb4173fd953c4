// Package game runs one level attempt for one client: a broadcaster streaming board
// updates, a command-driven pacman task and one task per ghost, all sharing the board under
// a reader/writer lock.
package game

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"pacmanist/server/internal/board"
	"pacmanist/server/internal/logging"
	"pacmanist/server/internal/protocol"
)

const (
	// DefaultTempo paces the broadcaster and ghosts when a level sets no tempo.
	DefaultTempo = 100 * time.Millisecond
	// DefaultPollInterval is how often the owning loop checks for termination.
	DefaultPollInterval = 50 * time.Millisecond
	// DefaultGhostIdle is how long a ghost without a script waits between checks.
	DefaultGhostIdle = 100 * time.Millisecond
)

var (
	// ErrNoPacman reports a board without a pacman to drive.
	ErrNoPacman = errors.New("game: board has no pacman")
	// ErrAlreadyStarted reports a second Run on the same coordinator.
	ErrAlreadyStarted = errors.New("game: coordinator already started")
)

// Result is what the caller does next.
type Result int

const (
	ResultNextLevel Result = iota
	ResultQuit
	ResultClientDisconnected
	ResultPacmanDied
)

func (r Result) String() string {
	switch r {
	case ResultNextLevel:
		return "next_level"
	case ResultQuit:
		return "quit"
	case ResultClientDisconnected:
		return "client_disconnected"
	case ResultPacmanDied:
		return "pacman_died"
	default:
		return "unknown"
	}
}

// Outcome is the final report of one level attempt.
type Outcome struct {
	Result Result
	Points int
	State  State
}

// Transport is the client side of a session.
type Transport interface {
	SendBoardUpdate(protocol.BoardUpdate) error
	ReadCommand(ctx context.Context) (protocol.Command, error)
}

// ScoreSink receives live score updates.
type ScoreSink interface {
	UpdatePoints(slot, points int)
}

// Recorder captures a session for later replay.
type Recorder interface {
	AppendEvent(eventType string, payload any) error
	AppendFrame(payload []byte) error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLeaderboard pushes pacman score changes to sink under slot. A negative slot disables
// the updates.
func WithLeaderboard(sink ScoreSink, slot int) Option {
	return func(c *Coordinator) {
		c.scores = sink
		c.slot = slot
	}
}

// WithRecorder records commands, frames and the outcome.
func WithRecorder(recorder Recorder) Option {
	return func(c *Coordinator) { c.recorder = recorder }
}

// WithTempo sets the pacing used when the board has no tempo of its own.
func WithTempo(tempo time.Duration) Option {
	return func(c *Coordinator) {
		if tempo > 0 {
			c.defaultTempo = tempo
		}
	}
}

// WithPollInterval sets the termination poll cadence.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Coordinator) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithGhostIdle sets how long scriptless ghosts idle between checks.
func WithGhostIdle(idle time.Duration) Option {
	return func(c *Coordinator) {
		if idle > 0 {
			c.ghostIdle = idle
		}
	}
}

// WithLogger attaches a logger. Without one, Run logs through the logger carried by its context.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.log = logger
		}
	}
}

// Coordinator owns one board and one transport for one level attempt. A new coordinator is
// built for every attempt.
type Coordinator struct {
	board     *board.Board
	transport Transport
	scores    ScoreSink
	slot      int
	recorder  Recorder
	log       *logging.Logger

	defaultTempo time.Duration
	pollInterval time.Duration
	ghostIdle    time.Duration

	lock    boardLock
	life    *lifecycle
	refresh chan struct{}
	monitor *BroadcastMonitor
	points  atomic.Int64

	recordFailed sync.Once
}

// NewCoordinator prepares a coordinator for b. Nothing runs until Run.
func NewCoordinator(b *board.Board, transport Transport, opts ...Option) *Coordinator {
	c := &Coordinator{
		board:        b,
		transport:    transport,
		slot:         -1,
		defaultTempo: DefaultTempo,
		pollInterval: DefaultPollInterval,
		ghostIdle:    DefaultGhostIdle,
		life:         newLifecycle(),
		refresh:      make(chan struct{}, 1),
		monitor:      NewBroadcastMonitor(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// State reports the current lifecycle state.
func (c *Coordinator) State() State { return c.life.current() }

// Points reports the latest pacman score seen by the command task.
func (c *Coordinator) Points() int { return int(c.points.Load()) }

// LockViolations reports how often board lock exclusivity was broken. It is always zero
// unless the lock itself is broken.
func (c *Coordinator) LockViolations() int64 { return c.lock.Violations() }

// Monitor exposes the broadcast latency statistics.
func (c *Coordinator) Monitor() *BroadcastMonitor { return c.monitor }

func (c *Coordinator) tempo() time.Duration {
	if c.board.TempoMs > 0 {
		return time.Duration(c.board.TempoMs) * time.Millisecond
	}
	return c.defaultTempo
}

// Run plays the level until a terminal state is reached, then stops and joins every task.
// Cancelling ctx ends the attempt as a quit and Run returns ctx's error alongside the
// outcome.
func (c *Coordinator) Run(ctx context.Context) (Outcome, error) {
	if c.board == nil || len(c.board.Pacmans) == 0 {
		return Outcome{}, ErrNoPacman
	}
	if !c.life.start() {
		return Outcome{}, ErrAlreadyStarted
	}
	if c.log == nil {
		c.log = logging.LoggerFromContext(ctx)
	}

	c.lock.RLock()
	c.points.Store(int64(c.board.Pacmans[0].Points))
	pacmanDelay := c.board.Pacmans[0].Waiting
	ghostDelays := make([]int, len(c.board.Ghosts))
	for i := range c.board.Ghosts {
		ghostDelays[i] = c.board.Ghosts[i].Waiting
	}
	c.lock.RUnlock()

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	//1.- One broadcaster, one command task and one task per ghost.
	group, groupCtx := errgroup.WithContext(taskCtx)
	group.Go(func() error { return c.broadcast(groupCtx) })
	group.Go(func() error { return c.drivePacman(groupCtx, pacmanDelay) })
	for i, delay := range ghostDelays {
		group.Go(func() error { return c.driveGhost(groupCtx, i, delay) })
	}

	//2.- The owning loop only watches for termination.
	var runErr error
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
watch:
	for {
		select {
		case <-c.life.done:
			break watch
		case <-ctx.Done():
			c.life.finish(StateQuit)
			runErr = ctx.Err()
			break watch
		case <-ticker.C:
			if !c.life.running() {
				break watch
			}
		}
	}

	//3.- Stop and join.
	cancel()
	if err := group.Wait(); err != nil && runErr == nil {
		runErr = err
	}

	state, pacmanDead := c.life.snapshot()
	outcome := Outcome{Result: resultFor(state, pacmanDead), Points: c.Points(), State: state}
	c.record("outcome", map[string]any{
		"result": outcome.Result.String(),
		"state":  state.String(),
		"points": outcome.Points,
	})

	stats := c.monitor.Snapshot()
	c.log.Debug("level attempt finished",
		logging.String("level", c.board.Name),
		logging.String("result", outcome.Result.String()),
		logging.Int("points", outcome.Points),
		logging.Int("broadcasts", stats.Samples),
		logging.Duration("broadcast_avg", stats.Average),
		logging.Duration("broadcast_max", stats.Max),
		logging.Int64("lock_violations", c.LockViolations()),
	)
	return outcome, runErr
}

func resultFor(state State, pacmanDead bool) Result {
	switch state {
	case StateNextLevel, StateWon:
		return ResultNextLevel
	case StateOver:
		if pacmanDead {
			return ResultPacmanDied
		}
		return ResultQuit
	case StateClientDisconnected:
		return ResultClientDisconnected
	default:
		return ResultQuit
	}
}

// broadcast sends a board update every tempo, or sooner when the board changed. Once the
// state is terminal it sends one final update and stops.
func (c *Coordinator) broadcast(ctx context.Context) error {
	timer := time.NewTimer(c.tempo())
	defer timer.Stop()
	for {
		state := c.life.current()
		started := time.Now()
		if err := c.sendUpdate(state); err != nil {
			if c.life.finish(StateClientDisconnected) {
				c.log.Debug("board update failed", logging.String("level", c.board.Name), logging.Error(err))
			}
			return nil
		}
		c.monitor.Observe(time.Since(started))
		if state != StateRunning {
			return nil
		}

		timer.Reset(c.tempo())
		select {
		case <-timer.C:
		case <-c.refresh:
		case <-c.life.done:
		case <-ctx.Done():
			<-c.life.done
		}
	}
}

func (c *Coordinator) sendUpdate(state State) error {
	c.lock.RLock()
	points := 0
	if len(c.board.Pacmans) > 0 {
		points = c.board.Pacmans[0].Points
	}
	update := protocol.NewBoardUpdate(c.board, state.Victory(), state.GameOver(), points)
	err := c.transport.SendBoardUpdate(update)
	c.lock.RUnlock()
	if err != nil {
		return err
	}
	if c.recorder != nil {
		if frame, mErr := update.MarshalBinary(); mErr == nil {
			c.recordErr(c.recorder.AppendFrame(frame))
		}
	}
	return nil
}

// drivePacman turns client commands into pacman moves. Reading the next command is its only
// blocking point.
func (c *Coordinator) drivePacman(ctx context.Context, delay int) error {
	if !c.sleepTurns(ctx, delay) {
		return nil
	}
	for c.life.running() {
		command, err := c.transport.ReadCommand(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if c.life.finish(StateClientDisconnected) {
				c.log.Debug("client left", logging.String("level", c.board.Name), logging.Error(err))
			}
			return nil
		}
		command = command.Normalize()
		c.record("command", map[string]string{"command": string(rune(command))})

		if command == protocol.CommandQuit {
			c.life.finish(StateQuit)
			return nil
		}
		if !command.IsMovement() {
			continue
		}

		move := board.NewCommand(byte(command))
		c.lock.Lock()
		step := c.board.MovePacman(0, &move)
		pacman := c.board.Pacmans[0]
		c.points.Store(int64(pacman.Points))
		if c.scores != nil && c.slot >= 0 {
			c.scores.UpdatePoints(c.slot, pacman.Points)
		}
		c.lock.Unlock()

		switch {
		case step.Result == board.ReachedPortal:
			c.life.finish(StateNextLevel)
			return nil
		case step.Result == board.DeadPacman || !pacman.Alive:
			c.life.markPacmanDead()
			c.life.finish(StateOver)
			return nil
		}
		c.boardChanged()
	}
	return nil
}

// driveGhost plays ghost i's script, one command per tempo.
func (c *Coordinator) driveGhost(ctx context.Context, i, delay int) error {
	if !c.sleepTurns(ctx, delay) {
		return nil
	}
	ghost := &c.board.Ghosts[i]
	for c.life.running() {
		if len(ghost.Moves) == 0 {
			if !c.sleep(ctx, c.ghostIdle) {
				return nil
			}
			continue
		}

		c.lock.Lock()
		step := c.board.MoveGhost(i, ghost.CurrentMove())
		if step.Consumed {
			ghost.Cursor++
		}
		killed := !c.board.Pacmans[0].Alive
		c.lock.Unlock()

		if killed {
			c.life.markPacmanDead()
			c.life.finish(StateOver)
			return nil
		}
		c.boardChanged()
		if !c.sleep(ctx, c.tempo()) {
			return nil
		}
	}
	return nil
}

func (c *Coordinator) boardChanged() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

// sleep waits d and reports false when the coordinator stopped in the meantime.
func (c *Coordinator) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return c.life.running()
	case <-c.life.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Coordinator) sleepTurns(ctx context.Context, turns int) bool {
	for i := 0; i < turns; i++ {
		if !c.sleep(ctx, c.tempo()) {
			return false
		}
	}
	return c.life.running()
}

func (c *Coordinator) record(eventType string, payload any) {
	if c.recorder == nil {
		return
	}
	c.recordErr(c.recorder.AppendEvent(eventType, payload))
}

func (c *Coordinator) recordErr(err error) {
	if err == nil {
		return
	}
	c.recordFailed.Do(func() {
		c.log.Warn("session recording failed", logging.String("level", c.board.Name), logging.Error(err))
	})
}
