// Package host runs the registration acceptor and the pool of session managers.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pacmanist/server/internal/admission"
	"pacmanist/server/internal/board"
	"pacmanist/server/internal/fifo"
	"pacmanist/server/internal/game"
	"pacmanist/server/internal/gateway"
	"pacmanist/server/internal/leaderboard"
	"pacmanist/server/internal/logging"
	"pacmanist/server/internal/protocol"
	"pacmanist/server/internal/replay"
)

// Session is an established client connection.
type Session interface {
	game.Transport
	ClientID() string
	SetPoints(points int)
	Close() error
}

// Gateway turns an admitted connect request into a session.
type Gateway interface {
	Handshake(ctx context.Context, req protocol.ConnectRequest) (Session, error)
}

// LevelSource lists the level files in play order.
type LevelSource interface {
	Levels() []string
}

// LevelLoader builds boards for level files.
type LevelLoader interface {
	Load(name string, carried int) (*board.Board, error)
	Unload(b *board.Board)
}

// SessionRecorder records one session.
type SessionRecorder interface {
	game.Recorder
	NoteLevel(name string)
	NoteResult(result string, points int)
	Close() error
}

// RecorderFactory opens a recorder for a new session.
type RecorderFactory func(sessionID, clientID string) (SessionRecorder, error)

// Config carries the host tunables.
type Config struct {
	RegistrationPath string
	MaxSessions      int
	QueueCapacity    int
	HandshakeTimeout time.Duration
	Top5Path         string
	Top5JSONPath     string
}

// Option configures a Server.
type Option func(*Server)

// WithGateway replaces the FIFO gateway.
func WithGateway(gw Gateway) Option {
	return func(s *Server) {
		if gw != nil {
			s.gateway = gw
		}
	}
}

// WithLeaderboard shares an existing leaderboard.
func WithLeaderboard(scores *leaderboard.Board) Option {
	return func(s *Server) {
		if scores != nil {
			s.scores = scores
		}
	}
}

// WithRecorders records every session through factory.
func WithRecorders(factory RecorderFactory) Option {
	return func(s *Server) { s.recorders = factory }
}

// WithHealth receives serving status changes.
func WithHealth(report func(serving bool)) Option {
	return func(s *Server) { s.health = report }
}

// WithGameOptions applies opts to every coordinator.
func WithGameOptions(opts ...game.Option) Option {
	return func(s *Server) { s.gameOpts = append(s.gameOpts, opts...) }
}

// WithLogger attaches a logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.log = logger
		}
	}
}

// Server owns the admission queue, leaderboard, snapshot trigger and managers.
type Server struct {
	cfg       Config
	queue     *admission.Queue
	scores    *leaderboard.Board
	trigger   *leaderboard.Trigger
	gateway   Gateway
	levels    LevelSource
	loader    LevelLoader
	recorders RecorderFactory
	health    func(bool)
	gameOpts  []game.Option
	log       *logging.Logger

	active atomic.Int32
}

// New validates cfg and wires a server. Nothing runs until Run.
func New(cfg Config, levels LevelSource, loader LevelLoader, opts ...Option) (*Server, error) {
	if cfg.RegistrationPath == "" {
		return nil, errors.New("host: registration path must be provided")
	}
	if cfg.MaxSessions <= 0 {
		return nil, fmt.Errorf("host: max sessions must be positive, got %d", cfg.MaxSessions)
	}
	if levels == nil || loader == nil {
		return nil, errors.New("host: level source and loader must be provided")
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = admission.DefaultCapacity
	}

	s := &Server{
		cfg:    cfg,
		queue:  admission.New(cfg.QueueCapacity),
		scores: leaderboard.New(leaderboard.DefaultCapacity),
		levels: levels,
		loader: loader,
		log:    logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.gateway == nil {
		s.gateway = FIFOGateway(gateway.New(gateway.WithLogger(s.log)))
	}
	s.trigger = leaderboard.NewTrigger(func() {
		if err := fifo.Wake(cfg.RegistrationPath); err != nil {
			s.log.Debug("registration wake failed", logging.Error(err))
		}
	})
	return s, nil
}

// Trigger exposes the snapshot trigger so callers can attach signal delivery.
func (s *Server) Trigger() *leaderboard.Trigger { return s.trigger }

// Leaderboard exposes the live leaderboard.
func (s *Server) Leaderboard() *leaderboard.Board { return s.scores }

// ActiveSessions reports how many managers are serving a client.
func (s *Server) ActiveSessions() int { return int(s.active.Load()) }

// Run serves until ctx ends. It creates the registration FIFO, starts the managers, runs the
// acceptor, and on the way out shuts the queue down, joins the managers and removes the FIFO.
func (s *Server) Run(ctx context.Context) error {
	path := s.cfg.RegistrationPath
	if err := fifo.Create(path); err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("registration fifo removal failed", logging.Error(err), logging.String("path", path))
		}
	}()

	//1.- Managers live until the queue shuts down.
	var managers errgroup.Group
	for id := 0; id < s.cfg.MaxSessions; id++ {
		managers.Go(func() error {
			s.manage(ctx, id)
			return nil
		})
	}

	s.log.Info("server accepting connections",
		logging.String("registration_path", path),
		logging.Int("max_sessions", s.cfg.MaxSessions),
		logging.Strings("levels", s.levels.Levels()),
	)
	s.reportHealth(true)

	//2.- The acceptor returns once ctx ends.
	acceptErr := s.accept(ctx)

	//3.- Shut down in order.
	s.reportHealth(false)
	s.queue.Shutdown()
	_ = fifo.Wake(path)
	_ = managers.Wait()
	s.log.Info("server stopped")
	return acceptErr
}

func (s *Server) reportHealth(serving bool) {
	if s.health != nil {
		s.health(serving)
	}
}

// accept reopens the registration FIFO after every end of stream and admits each valid
// request it reads.
func (s *Server) accept(ctx context.Context) error {
	for ctx.Err() == nil {
		s.checkSnapshot()
		reader, err := fifo.OpenReader(ctx, s.cfg.RegistrationPath)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.drain(ctx, reader)
		_ = reader.Close()
	}
	return nil
}

func (s *Server) drain(ctx context.Context, reader *os.File) {
	stop := context.AfterFunc(ctx, func() { _ = reader.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		req, err := protocol.ReadConnectRequest(reader)
		s.checkSnapshot()
		switch {
		case err == nil:
		case errors.Is(err, protocol.ErrUnknownOpcode):
			s.log.Warn("discarding registration message", logging.Error(err))
			continue
		case errors.Is(err, io.EOF):
			return
		default:
			if ctx.Err() == nil {
				s.log.Warn("registration read failed", logging.Error(err))
			}
			return
		}
		if err := req.Validate(); err != nil {
			s.log.Warn("discarding connect request", logging.Error(err))
			continue
		}
		if err := s.queue.Insert(ctx, req); err != nil {
			return
		}
		s.log.Debug("connect request admitted",
			logging.String("req_path", req.RequestPath),
			logging.Int("queued", s.queue.Len()),
		)
	}
}

func (s *Server) checkSnapshot() {
	if !s.trigger.CheckAndClear() {
		return
	}
	if err := s.scores.WriteTop5(s.cfg.Top5Path); err != nil {
		s.log.Error("leaderboard snapshot failed", logging.Error(err), logging.String("path", s.cfg.Top5Path))
	} else {
		s.log.Info("leaderboard snapshot written", logging.String("path", s.cfg.Top5Path))
	}
	if s.cfg.Top5JSONPath == "" {
		return
	}
	if err := s.scores.WriteJSON(s.cfg.Top5JSONPath); err != nil {
		s.log.Error("leaderboard json snapshot failed", logging.Error(err), logging.String("path", s.cfg.Top5JSONPath))
	}
}

// manage serves one session at a time until the queue shuts down.
func (s *Server) manage(ctx context.Context, id int) {
	for {
		req, err := s.queue.Remove(ctx)
		if err != nil {
			return
		}
		s.active.Add(1)
		s.serve(ctx, id, req)
		s.active.Add(-1)
	}
}

func (s *Server) serve(ctx context.Context, manager int, req protocol.ConnectRequest) {
	sessionID := uuid.NewString()
	log := s.log.With(logging.String("session_id", sessionID), logging.Int("manager", manager))

	//1.- Rendezvous with the client.
	hsCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.cfg.HandshakeTimeout > 0 {
		hsCtx, cancel = context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	}
	session, err := s.gateway.Handshake(hsCtx, req)
	cancel()
	if err != nil {
		log.Warn("handshake failed", logging.Error(err), logging.String("req_path", req.RequestPath))
		return
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("session close failed", logging.Error(err))
		}
	}()
	clientID := session.ClientID()
	log = log.With(logging.String("client_id", clientID))
	ctx = logging.ContextWithLogger(ctx, log)

	//2.- A full leaderboard does not reject the client.
	slot, err := s.scores.Register(clientID)
	if err != nil {
		slot = -1
		log.Warn("leaderboard full, session untracked", logging.Error(err))
	} else {
		defer s.scores.Unregister(slot)
	}

	recorder := s.openRecorder(sessionID, clientID, log)
	if recorder != nil {
		defer func() {
			if err := recorder.Close(); err != nil {
				log.Warn("session recording close failed", logging.Error(err))
			}
		}()
	}
	log.Info("session started")

	//3.- Levels in catalogue order, carrying the score forward.
	points, result := s.play(ctx, session, slot, recorder, log)
	if recorder != nil {
		recorder.NoteResult(result, points)
	}
	log.Info("session ended", logging.String("result", result), logging.Int("points", points))
}

func (s *Server) play(ctx context.Context, session Session, slot int, recorder SessionRecorder, log *logging.Logger) (int, string) {
	levels := s.levels.Levels()
	points := 0
	for i, name := range levels {
		b, err := s.loader.Load(name, points)
		if err != nil {
			log.Error("level load failed", logging.Error(err), logging.String("level", name))
			return points, "load_error"
		}

		opts := append([]game.Option{}, s.gameOpts...)
		opts = append(opts, game.WithLeaderboard(s.scores, slot))
		if recorder != nil {
			recorder.NoteLevel(name)
			if err := recorder.AppendEvent("level_start", map[string]any{"level": name, "index": i, "points": points}); err != nil {
				log.Warn("session recording failed", logging.Error(err))
			}
			opts = append(opts, game.WithRecorder(recorder))
		}

		outcome, runErr := game.NewCoordinator(b, session, opts...).Run(ctx)
		s.loader.Unload(b)

		points = outcome.Points
		session.SetPoints(points)
		if slot >= 0 {
			s.scores.UpdatePoints(slot, points)
		}
		if runErr != nil {
			if ctx.Err() != nil {
				return points, "shutdown"
			}
			log.Error("level attempt failed", logging.Error(runErr), logging.String("level", name))
			return points, "error"
		}
		if outcome.Result != game.ResultNextLevel {
			return points, outcome.Result.String()
		}
		log.Debug("level completed", logging.String("level", name), logging.Int("points", points))
	}
	return points, "completed"
}

func (s *Server) openRecorder(sessionID, clientID string, log *logging.Logger) SessionRecorder {
	if s.recorders == nil {
		return nil
	}
	recorder, err := s.recorders(sessionID, clientID)
	if err != nil {
		log.Warn("session recording disabled", logging.Error(err))
		return nil
	}
	return recorder
}

type fifoGateway struct {
	gw *gateway.Gateway
}

// FIFOGateway adapts the named-pipe gateway to the host.
func FIFOGateway(gw *gateway.Gateway) Gateway {
	return fifoGateway{gw: gw}
}

func (f fifoGateway) Handshake(ctx context.Context, req protocol.ConnectRequest) (Session, error) {
	session, err := f.gw.Handshake(ctx, req)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ReplayRecorders records each session as a bundle under root.
func ReplayRecorders(root string) RecorderFactory {
	return func(sessionID, clientID string) (SessionRecorder, error) {
		label := clientID
		if len(sessionID) >= 8 {
			label = clientID + "-" + sessionID[:8]
		}
		writer, _, err := replay.NewWriter(root, label, nil)
		if err != nil {
			return nil, err
		}
		writer.SetSession(sessionID, clientID)
		return writer, nil
	}
}
