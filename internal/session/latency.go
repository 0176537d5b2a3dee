package session

import (
	"slices"
	"sync"
	"time"
)

// LatencySummary describes the samples a tracker holds.
type LatencySummary struct {
	Count         int
	P50, P95, P99 time.Duration
	Max           time.Duration
}

// LatencyTracker keeps a window of the most recent delivery latencies,
// tick generation to client receipt.
type LatencyTracker struct {
	mu     sync.Mutex
	window []time.Duration
	next   int
	full   bool
}

// NewLatencyTracker holds the last size samples (1000 if size <= 0).
func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 1000
	}
	return &LatencyTracker{window: make([]time.Duration, size)}
}

// Record adds one sample. Hosts with skewed clocks can produce negative
// latencies; those count as zero.
func (lt *LatencyTracker) Record(d time.Duration) {
	d = max(d, 0)
	lt.mu.Lock()
	lt.window[lt.next] = d
	lt.next++
	if lt.next == len(lt.window) {
		lt.next, lt.full = 0, true
	}
	lt.mu.Unlock()
}

// Count returns the number of samples held.
func (lt *LatencyTracker) Count() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.countLocked()
}

// Summary returns percentiles over the held samples, interpolating between
// neighbouring ranks. The zero summary means no samples.
func (lt *LatencyTracker) Summary() LatencySummary {
	lt.mu.Lock()
	held := slices.Clone(lt.window[:lt.countLocked()])
	lt.mu.Unlock()

	if len(held) == 0 {
		return LatencySummary{}
	}
	slices.Sort(held)
	return LatencySummary{
		Count: len(held),
		P50:   rank(held, 0.50),
		P95:   rank(held, 0.95),
		P99:   rank(held, 0.99),
		Max:   held[len(held)-1],
	}
}

func (lt *LatencyTracker) countLocked() int {
	if lt.full {
		return len(lt.window)
	}
	return lt.next
}

// rank returns the q quantile of sorted, 0 <= q <= 1.
func rank(sorted []time.Duration, q float64) time.Duration {
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + time.Duration(frac*float64(sorted[lo+1]-sorted[lo]))
}
