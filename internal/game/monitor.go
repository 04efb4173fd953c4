package game

import (
	"sync"
	"time"
)

// BroadcastSnapshot summarises observed board update send durations.
type BroadcastSnapshot struct {
	Samples int
	Average time.Duration
	Max     time.Duration
	Last    time.Duration
}

// BroadcastMonitor accumulates timing statistics for the broadcaster.
type BroadcastMonitor struct {
	mu      sync.Mutex
	samples int
	total   time.Duration
	max     time.Duration
	last    time.Duration
}

// NewBroadcastMonitor constructs an empty monitor.
func NewBroadcastMonitor() *BroadcastMonitor {
	return &BroadcastMonitor{}
}

// Observe records the duration of one send.
func (m *BroadcastMonitor) Observe(duration time.Duration) {
	if m == nil || duration < 0 {
		return
	}
	m.mu.Lock()
	m.samples++
	m.total += duration
	if duration > m.max {
		m.max = duration
	}
	m.last = duration
	m.mu.Unlock()
}

// Snapshot returns a copy of the aggregated statistics.
func (m *BroadcastMonitor) Snapshot() BroadcastSnapshot {
	if m == nil {
		return BroadcastSnapshot{}
	}
	m.mu.Lock()
	samples, total, max, last := m.samples, m.total, m.max, m.last
	m.mu.Unlock()

	average := time.Duration(0)
	if samples > 0 {
		average = total / time.Duration(samples)
	}
	return BroadcastSnapshot{Samples: samples, Average: average, Max: max, Last: last}
}
