package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a fixed window of recent durations for percentile
// reporting on the ingest path. Once the window is full, new observations
// overwrite the oldest.
type LatencyTracker struct {
	mu     sync.Mutex
	window []time.Duration
	next   int
	filled bool
}

// NewLatencyTracker creates a tracker over a window of size samples.
func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 512
	}
	return &LatencyTracker{window: make([]time.Duration, size)}
}

// Observe records a duration.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	l.window[l.next] = d
	l.next++
	if l.next == len(l.window) {
		l.next = 0
		l.filled = true
	}
	l.mu.Unlock()
}

// Count returns the number of durations currently in the window.
func (l *LatencyTracker) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.filled {
		return len(l.window)
	}
	return l.next
}

// Percentile returns the p-th percentile of the window, clamping p to
// [0,100]. An empty window reports zero.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.Lock()
	n := l.next
	if l.filled {
		n = len(l.window)
	}
	sorted := append([]time.Duration(nil), l.window[:n]...)
	l.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	switch {
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	return sorted[int(p/100*float64(len(sorted)-1))]
}
