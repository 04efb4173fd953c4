// Package gateway performs the per-client FIFO handshake and owns the two channels of an
// established session.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pacmanist/server/internal/fifo"
	"pacmanist/server/internal/logging"
	"pacmanist/server/internal/protocol"
)

// DefaultWriteTimeout bounds how long a board update may wait for a client that stopped
// draining its channel.
const DefaultWriteTimeout = 5 * time.Second

// ErrShortWrite reports a board update that was only partially written.
var ErrShortWrite = errors.New("gateway: short write")

// Gateway opens client sessions.
type Gateway struct {
	writeTimeout time.Duration
	logger       *logging.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithWriteTimeout overrides DefaultWriteTimeout. Zero waits forever.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		if timeout >= 0 {
			g.writeTimeout = timeout
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *logging.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New constructs a gateway.
func New(opts ...Option) *Gateway {
	g := &Gateway{writeTimeout: DefaultWriteTimeout, logger: logging.L()}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Handshake establishes the session described by req. The notification channel is opened
// for writing first, the success response is written on it, and only then is the request
// channel opened for reading: the client opens its write end after reading the response.
func (g *Gateway) Handshake(ctx context.Context, req protocol.ConnectRequest) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	//1.- Rendezvous on the notification channel.
	notif, err := fifo.OpenWriter(ctx, req.NotifyPath)
	if err != nil {
		return nil, fmt.Errorf("gateway: open notification channel: %w", err)
	}

	//2.- Acknowledge before touching the request channel.
	response := protocol.ConnectResponse{Result: 0}.Encode()
	if n, err := notif.Write(response); err != nil || n != len(response) {
		_ = notif.Close()
		if err == nil {
			err = ErrShortWrite
		}
		return nil, fmt.Errorf("gateway: write connect response: %w", err)
	}

	//3.- The client now opens its write end of the request channel.
	requests, err := fifo.OpenReader(ctx, req.RequestPath)
	if err != nil {
		_ = notif.Close()
		return nil, fmt.Errorf("gateway: open request channel: %w", err)
	}

	session := &Session{
		clientID:     ClientID(req.RequestPath),
		requestPath:  req.RequestPath,
		notifyPath:   req.NotifyPath,
		requests:     requests,
		notif:        notif,
		writeTimeout: g.writeTimeout,
	}
	session.active.Store(true)
	g.logger.Debug("session handshake complete",
		logging.String("client_id", session.clientID),
		logging.String("req_path", req.RequestPath),
		logging.String("notif_path", req.NotifyPath),
	)
	return session, nil
}

// ClientID derives the display identifier of a client from its request channel path: the
// base name up to the first underscore, at most protocol.PathFieldSize bytes.
func ClientID(requestPath string) string {
	base := filepath.Base(requestPath)
	if i := strings.IndexByte(base, '_'); i >= 0 {
		base = base[:i]
	}
	if len(base) > protocol.PathFieldSize {
		base = base[:protocol.PathFieldSize]
	}
	return base
}

// Session is one connected client.
type Session struct {
	clientID    string
	requestPath string
	notifyPath  string

	requests *os.File
	notif    *os.File

	writeTimeout time.Duration
	writeMu      sync.Mutex

	active    atomic.Bool
	points    atomic.Int64
	closeOnce sync.Once
}

// ClientID returns the display identifier.
func (s *Session) ClientID() string { return s.clientID }

// Active reports whether the session has not been closed.
func (s *Session) Active() bool { return s.active.Load() }

// Points returns the score carried between levels.
func (s *Session) Points() int { return int(s.points.Load()) }

// SetPoints records the score carried between levels.
func (s *Session) SetPoints(points int) { s.points.Store(int64(points)) }

// SendBoardUpdate writes one board update. Any failure, including a short write, means the
// client is gone; nothing is retried.
func (s *Session) SendBoardUpdate(update protocol.BoardUpdate) error {
	frame, err := update.MarshalBinary()
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeTimeout > 0 {
		_ = s.notif.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	n, err := s.notif.Write(frame)
	if err != nil {
		return fmt.Errorf("gateway: send board update: %w", err)
	}
	if n != len(frame) {
		return ErrShortWrite
	}
	return nil
}

// ReadCommand blocks for the next client message. Cancelling ctx interrupts the read and
// returns the context error.
func (s *Session) ReadCommand(ctx context.Context) (protocol.Command, error) {
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = s.requests.SetReadDeadline(time.Now())
		close(fired)
	})
	cmd, err := protocol.ReadCommand(s.requests)
	if !stop() {
		<-fired
		_ = s.requests.SetReadDeadline(time.Time{})
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		if errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			return 0, protocol.ErrPeerClosed
		}
		return 0, err
	}
	return cmd, nil
}

// Close releases both channels and removes their paths. It is safe to call repeatedly.
func (s *Session) Close() error {
	var firstErr error
	s.closeOnce.Do(func() {
		s.active.Store(false)
		for _, file := range []*os.File{s.requests, s.notif} {
			if file == nil {
				continue
			}
			if err := file.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		for _, path := range []string{s.requestPath, s.notifyPath} {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}
