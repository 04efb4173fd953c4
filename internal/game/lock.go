package game

import (
	"sync"
	"sync/atomic"
)

// boardLock is a reader/writer lock that counts exclusivity violations: more than one
// writer, or a reader alongside a writer.
type boardLock struct {
	mu         sync.RWMutex
	writers    atomic.Int32
	readers    atomic.Int32
	violations atomic.Int64
}

func (l *boardLock) Lock() {
	l.mu.Lock()
	if l.writers.Add(1) != 1 || l.readers.Load() != 0 {
		l.violations.Add(1)
	}
}

func (l *boardLock) Unlock() {
	l.writers.Add(-1)
	l.mu.Unlock()
}

func (l *boardLock) RLock() {
	l.mu.RLock()
	l.readers.Add(1)
	if l.writers.Load() != 0 {
		l.violations.Add(1)
	}
}

func (l *boardLock) RUnlock() {
	l.readers.Add(-1)
	l.mu.RUnlock()
}

func (l *boardLock) Violations() int64 { return l.violations.Load() }
