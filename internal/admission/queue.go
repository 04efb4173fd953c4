// Package admission buffers accepted connect requests until a session manager is free.
package admission

import (
	"context"
	"errors"
	"sync"

	"pacmanist/server/internal/protocol"
)

// DefaultCapacity is used when New receives a non-positive capacity.
const DefaultCapacity = 16

// ErrClosed reports an operation on a queue that has been shut down.
var ErrClosed = errors.New("admission: queue closed")

// Queue is a bounded FIFO of connect requests. Free and filled slots are tracked by two
// counting permits so producers block while full and consumers block while empty.
type Queue struct {
	slots chan struct{}
	items chan struct{}

	mu   sync.Mutex
	ring []protocol.ConnectRequest
	head int
	tail int
	size int

	closed    chan struct{}
	closeOnce sync.Once
}

// New constructs a queue holding at most capacity requests.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{
		slots:  make(chan struct{}, capacity),
		items:  make(chan struct{}, capacity),
		ring:   make([]protocol.ConnectRequest, capacity),
		closed: make(chan struct{}),
	}
	for i := 0; i < capacity; i++ {
		q.slots <- struct{}{}
	}
	return q
}

// Insert appends req, blocking while the queue is full.
func (q *Queue) Insert(ctx context.Context, req protocol.ConnectRequest) error {
	//1.- Fail fast once shut down so late producers never block.
	if q.isClosed() {
		return ErrClosed
	}
	//2.- Acquire a free slot or give up on shutdown or cancellation.
	select {
	case <-q.slots:
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	//3.- Store the request at the tail and publish one filled slot.
	q.mu.Lock()
	q.ring[q.tail] = req
	q.tail = (q.tail + 1) % len(q.ring)
	q.size++
	q.mu.Unlock()
	q.items <- struct{}{}
	return nil
}

// Remove takes the oldest request, blocking while the queue is empty.
func (q *Queue) Remove(ctx context.Context) (protocol.ConnectRequest, error) {
	if q.isClosed() {
		return protocol.ConnectRequest{}, ErrClosed
	}
	select {
	case <-q.items:
	case <-q.closed:
		return protocol.ConnectRequest{}, ErrClosed
	case <-ctx.Done():
		return protocol.ConnectRequest{}, ctx.Err()
	}
	q.mu.Lock()
	req := q.ring[q.head]
	q.ring[q.head] = protocol.ConnectRequest{}
	q.head = (q.head + 1) % len(q.ring)
	q.size--
	q.mu.Unlock()
	q.slots <- struct{}{}
	return req, nil
}

// Shutdown wakes every blocked producer and consumer. Later calls are no-ops.
func (q *Queue) Shutdown() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return len(q.ring) }

func (q *Queue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}
