package window

import (
	"errors"
	"sync"
	"time"
)

// ErrStaleEvent is returned when an event's timestamp falls behind the
// trailing window. Stale events are dropped instead of re-expanding the
// window (bounded-lateness policy).
var ErrStaleEvent = errors.New("event timestamp older than current window")

// Counter maintains per-source request counts over a trailing time window.
// It is the base signal for rate-based detection: Record folds events in,
// Snapshot reads the current distribution and expires everything that has
// fallen out of the window.
type Counter struct {
	mu         sync.Mutex
	windowSize time.Duration
	events     map[string][]time.Time
	frontier   time.Time // latest point in time the window has advanced to
	total      int
}

// NewCounter creates a counter with the given window size. A zero or
// negative size falls back to 10 seconds.
func NewCounter(windowSize time.Duration) *Counter {
	if windowSize <= 0 {
		windowSize = 10 * time.Second
	}
	return &Counter{
		windowSize: windowSize,
		events:     make(map[string][]time.Time),
	}
}

// WindowSize returns the configured window duration.
func (c *Counter) WindowSize() time.Duration {
	return c.windowSize
}

// Record adds one occurrence for a source key. Events at or before
// frontier - windowSize are rejected with ErrStaleEvent; they must never
// reappear in a later snapshot, so re-admitting them would double count.
// The frontier only moves forward.
func (c *Counter) Record(key string, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.frontier.IsZero() && !ts.After(c.frontier.Add(-c.windowSize)) {
		return ErrStaleEvent
	}
	if ts.After(c.frontier) {
		c.frontier = ts
	}

	c.events[key] = append(c.events[key], ts)
	c.total++

	// Opportunistic pruning keeps a hot key's slice from growing without
	// bound between snapshots.
	if len(c.events[key])%256 == 0 {
		c.pruneKey(key, c.frontier)
	}
	return nil
}

// Snapshot returns the count per source for events with timestamps in
// (now - windowSize, now) and discards everything older. An event recorded
// at t is absent from any snapshot taken at now >= t + windowSize.
func (c *Counter) Snapshot(now time.Time) map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.After(c.frontier) {
		c.frontier = now
	}

	counts := make(map[string]int, len(c.events))
	for key := range c.events {
		c.pruneKey(key, now)
		kept := c.events[key]
		n := 0
		for _, ts := range kept {
			if ts.Before(now) {
				n++
			}
		}
		if n > 0 {
			counts[key] = n
		}
	}
	return counts
}

// pruneKey drops events at or before ref - windowSize for one key.
// Events may arrive slightly out of order within the window, so the whole
// slice is filtered rather than trimming a sorted prefix.
// Caller must hold the lock.
func (c *Counter) pruneKey(key string, ref time.Time) {
	cutoff := ref.Add(-c.windowSize)
	evs := c.events[key]
	kept := evs[:0]
	for _, ts := range evs {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	c.total -= len(evs) - len(kept)
	if len(kept) == 0 {
		delete(c.events, key)
		return
	}
	c.events[key] = kept
}

// Pending returns the number of events currently held, pruned or not.
// Diagnostic only.
func (c *Counter) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Sources returns the number of distinct keys currently tracked.
func (c *Counter) Sources() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// Reset clears all window state. Used when a simulation run ends.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = make(map[string][]time.Time)
	c.total = 0
	c.frontier = time.Time{}
}
