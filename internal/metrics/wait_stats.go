// Package metrics tracks how long callers wait for pooled connections.
package metrics

import (
	"sync"
	"time"

	"github.com/VividCortex/ewma"
)

// snapshotRecent is how many recent waits a snapshot carries.
const snapshotRecent = 10

// WaitStats records acquire wait durations for a connection pool. It keeps an
// exponentially weighted moving average, the maximum, and a window of recent
// samples.
type WaitStats struct {
	mu     sync.Mutex
	avg    ewma.MovingAverage
	max    time.Duration
	count  int64
	recent *CircularBuffer
}

// WaitSnapshot is a point-in-time copy of WaitStats.
type WaitSnapshot struct {
	Count   int64         `json:"count"`
	Average time.Duration `json:"average"`
	Max     time.Duration `json:"max"`
	Last    time.Duration `json:"last"`
	// Recent holds the latest waits, oldest first.
	Recent []time.Duration `json:"recent,omitempty"`
}

// NewWaitStats creates a tracker that keeps up to window recent samples.
func NewWaitStats(window int) *WaitStats {
	return &WaitStats{
		avg:    ewma.NewMovingAverage(),
		recent: NewCircularBuffer(window),
	}
}

// Observe records a single wait.
func (w *WaitStats) Observe(at time.Time, wait time.Duration) {
	if wait < 0 {
		wait = 0
	}

	w.mu.Lock()
	w.avg.Add(float64(wait))
	if wait > w.max {
		w.max = wait
	}
	w.count++
	w.mu.Unlock()

	w.recent.Push(NewDataPointAt(at, float64(wait)))
}

// Snapshot returns the current statistics.
func (w *WaitStats) Snapshot() WaitSnapshot {
	w.mu.Lock()
	s := WaitSnapshot{
		Count:   w.count,
		Average: time.Duration(w.avg.Value()),
		Max:     w.max,
	}
	w.mu.Unlock()

	if last, ok := w.recent.Latest(); ok {
		s.Last = time.Duration(last.Value)
	}
	s.Recent = w.Recent(snapshotRecent)
	return s
}

// Recent returns up to n of the most recent waits, oldest first.
func (w *WaitStats) Recent(n int) []time.Duration {
	points := w.recent.GetRecent(n)
	out := make([]time.Duration, len(points))
	for i, p := range points {
		out[i] = time.Duration(p.Value)
	}
	return out
}
