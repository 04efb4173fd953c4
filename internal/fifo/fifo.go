// Package fifo wraps the named-pipe operations used by the server: creation, cancellable
// blocking opens and the self-wake used to interrupt a blocked reader.
package fifo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Mode is the permission set of every FIFO created by the server.
const Mode = 0o640

// RetryInterval is the poll cadence of non-blocking opens and wake attempts.
var RetryInterval = 10 * time.Millisecond

// WakeAttempts bounds how often a cancelled OpenReader pokes the write side. An open on a
// FIFO whose path was removed cannot be released at all.
var WakeAttempts = 10

// Create replaces any stale entry at path with a fresh FIFO.
func Create(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("fifo: remove stale %s: %w", path, err)
	}
	if err := unix.Mkfifo(path, Mode); err != nil {
		return fmt.Errorf("fifo: mkfifo %s: %w", path, err)
	}
	return nil
}

// IsFIFO reports whether path names an existing FIFO.
func IsFIFO(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeNamedPipe != 0
}

// OpenReader opens path for reading, blocking until a writer appears. When ctx ends the
// pending open is released by waking it and the context error is returned. If the wake
// cannot reach the open, for instance because path was unlinked, OpenReader still returns
// the context error after at most WakeAttempts tries.
func OpenReader(ctx context.Context, path string) (*os.File, error) {
	type result struct {
		file *os.File
		err  error
	}
	done := make(chan result, 1)
	go func() {
		file, err := os.OpenFile(path, os.O_RDONLY, 0)
		done <- result{file: file, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("fifo: open %s for reading: %w", path, res.err)
		}
		return res.file, nil
	case <-ctx.Done():
	}

	//1.- Poke the write side until the blocked open returns, then discard it.
	ticker := time.NewTicker(RetryInterval)
	defer ticker.Stop()
	for attempt := 0; attempt < WakeAttempts; attempt++ {
		if err := Wake(path); err != nil {
			break
		}
		select {
		case res := <-done:
			if res.file != nil {
				_ = res.file.Close()
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	//2.- Abandon the open. A descriptor that still arrives later is closed.
	go func() {
		if res := <-done; res.file != nil {
			_ = res.file.Close()
		}
	}()
	return nil, ctx.Err()
}

// OpenWriter opens path for writing once a reader has the other end open. The open is
// attempted without blocking and retried while no reader exists.
func OpenWriter(ctx context.Context, path string) (*os.File, error) {
	ticker := time.NewTicker(RetryInterval)
	defer ticker.Stop()
	for {
		fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err == nil {
			//1.- A non-blocking descriptor lets the runtime poller park writers and honour deadlines.
			return os.NewFile(uintptr(fd), path), nil
		}
		if !errors.Is(err, unix.ENXIO) && !errors.Is(err, unix.EINTR) {
			return nil, fmt.Errorf("fifo: open %s for writing: %w", path, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Wake briefly opens the write side of path so a reader blocked in open returns. A reader
// that then reads sees end of stream. It is a no-op when no reader is waiting.
func Wake(path string) error {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			return nil
		}
		return err
	}
	return unix.Close(fd)
}
