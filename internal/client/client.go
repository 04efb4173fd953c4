// Package client speaks the client side of the named-pipe game protocol: registration, the
// connect handshake, play commands and board updates.
package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"pacmanist/server/internal/fifo"
	"pacmanist/server/internal/protocol"
)

// ErrRejected reports a connect response with a non-zero result.
var ErrRejected = errors.New("client: connection rejected")

// ErrNotConnected reports use of a client after Disconnect or Close.
var ErrNotConnected = errors.New("client: not connected")

// Client is one connected game client.
type Client struct {
	req protocol.ConnectRequest

	mu       sync.Mutex
	requests *os.File
	notif    *os.File
	closed   bool
}

// Connect creates the two client channels, registers them on regPath and completes the
// handshake. On failure both channels are removed again.
func Connect(ctx context.Context, reqPath, notifPath, regPath string) (*Client, error) {
	req := protocol.ConnectRequest{RequestPath: reqPath, NotifyPath: notifPath}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	cleanup := func() {
		_ = os.Remove(reqPath)
		_ = os.Remove(notifPath)
	}

	//1.- Fresh channels, replacing leftovers of a crashed run.
	for _, path := range []string{reqPath, notifPath} {
		if err := fifo.Create(path); err != nil {
			cleanup()
			return nil, err
		}
	}

	//2.- The server reopens its registration channel between streams, so retry until it reads.
	if err := Register(ctx, regPath, req.Encode()); err != nil {
		cleanup()
		return nil, err
	}

	c, err := Attach(ctx, req)
	if err != nil {
		cleanup()
		return nil, err
	}
	return c, nil
}

// Register writes raw frames onto the server registration channel in one stream.
func Register(ctx context.Context, regPath string, frames ...[]byte) error {
	reg, err := fifo.OpenWriter(ctx, regPath)
	if err != nil {
		return fmt.Errorf("client: open registration channel: %w", err)
	}
	defer reg.Close()
	for _, frame := range frames {
		if _, err := reg.Write(frame); err != nil {
			return fmt.Errorf("client: write registration: %w", err)
		}
	}
	return nil
}

// Attach performs the handshake for channels that were already registered: it reads the
// connect response on the notification channel and then opens the request channel.
func Attach(ctx context.Context, req protocol.ConnectRequest) (*Client, error) {
	notif, err := fifo.OpenReader(ctx, req.NotifyPath)
	if err != nil {
		return nil, fmt.Errorf("client: open notification channel: %w", err)
	}

	var resp protocol.ConnectResponse
	err = withReadDeadline(ctx, notif, func() error {
		var readErr error
		resp, readErr = protocol.ReadConnectResponse(notif)
		return readErr
	})
	if err != nil {
		_ = notif.Close()
		return nil, fmt.Errorf("client: read connect response: %w", err)
	}
	if resp.Result != 0 {
		_ = notif.Close()
		return nil, fmt.Errorf("%w: result %d", ErrRejected, resp.Result)
	}

	requests, err := fifo.OpenWriter(ctx, req.RequestPath)
	if err != nil {
		_ = notif.Close()
		return nil, fmt.Errorf("client: open request channel: %w", err)
	}
	return &Client{req: req, requests: requests, notif: notif}, nil
}

// Request returns the channel paths of the client.
func (c *Client) Request() protocol.ConnectRequest { return c.req }

// Play sends one command.
func (c *Client) Play(cmd protocol.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	if _, err := c.requests.Write(protocol.EncodeCommand(cmd)); err != nil {
		return fmt.Errorf("client: send %q: %w", byte(cmd), err)
	}
	return nil
}

// ReceiveBoardUpdate blocks for the next board update. It returns io.EOF once the server
// closed the channel.
func (c *Client) ReceiveBoardUpdate(ctx context.Context) (protocol.BoardUpdate, error) {
	c.mu.Lock()
	notif, closed := c.notif, c.closed
	c.mu.Unlock()
	if closed {
		return protocol.BoardUpdate{}, ErrNotConnected
	}
	var update protocol.BoardUpdate
	err := withReadDeadline(ctx, notif, func() error {
		var readErr error
		update, readErr = protocol.ReadBoardUpdate(notif)
		return readErr
	})
	return update, err
}

// Disconnect tells the server the client is leaving, then releases and removes both channels.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if !c.closed {
		_, _ = c.requests.Write(protocol.EncodeDisconnect())
	}
	c.mu.Unlock()
	return c.Close()
}

// Close releases and removes both channels without notifying the server. It is safe to call
// repeatedly.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var firstErr error
	for _, file := range []*os.File{c.requests, c.notif} {
		if err := file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, path := range []string{c.req.RequestPath, c.req.NotifyPath} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// withReadDeadline runs read and interrupts it when ctx ends.
func withReadDeadline(ctx context.Context, file *os.File, read func() error) error {
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = file.SetReadDeadline(time.Now())
		close(fired)
	})
	err := read()
	if !stop() {
		<-fired
		_ = file.SetReadDeadline(time.Time{})
		if err != nil {
			return ctx.Err()
		}
	}
	return err
}
