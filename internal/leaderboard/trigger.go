package leaderboard

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Trigger records snapshot requests. The notification goroutine only raises a flag and
// pokes an optional wake callback; the acceptor does the actual file writing when it polls.
// Requests that arrive before a poll coalesce into one.
type Trigger struct {
	pending atomic.Bool

	mu      sync.Mutex
	signals chan os.Signal
	stop    chan struct{}
	done    chan struct{}
	wake    func()
}

// NewTrigger constructs an idle trigger. wake, when set, is called after every request so a
// blocked acceptor notices it promptly.
func NewTrigger(wake func()) *Trigger {
	return &Trigger{wake: wake}
}

// Request raises the flag.
func (t *Trigger) Request() {
	t.pending.Store(true)
	if t.wake != nil {
		t.wake()
	}
}

// CheckAndClear reports whether a request is pending and clears it.
func (t *Trigger) CheckAndClear() bool {
	return t.pending.Swap(false)
}

// Listen starts forwarding SIGUSR1 deliveries to Request.
func (t *Trigger) Listen() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.signals != nil {
		return
	}
	t.signals = make(chan os.Signal, 1)
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	signal.Notify(t.signals, unix.SIGUSR1)

	signals, stop, done := t.signals, t.stop, t.done
	go func() {
		defer close(done)
		for {
			select {
			case <-signals:
				t.Request()
			case <-stop:
				return
			}
		}
	}()
}

// Close stops signal delivery and waits for the forwarding goroutine.
func (t *Trigger) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.signals == nil {
		return
	}
	signal.Stop(t.signals)
	close(t.stop)
	<-t.done
	t.signals = nil
}
