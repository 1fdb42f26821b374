package ui

import (
	"sync"
	"time"
)

// renderThrottle coalesces streamed update notifications so the terminal
// re-renders at a capped frame rate instead of once per token. Deltas mark
// the view dirty; the render loop asks ShouldRender on each tick.
type renderThrottle struct {
	mu        sync.Mutex
	pending   int
	lastFlush time.Time

	batchSize int
	minFlush  time.Duration
}

func newRenderThrottle() *renderThrottle {
	const (
		defaultBatchSize = 15
		defaultMaxFPS    = 30
	)
	return &renderThrottle{
		batchSize: defaultBatchSize,
		minFlush:  time.Second / defaultMaxFPS,
		lastFlush: time.Now(),
	}
}

// MarkDirty records one pending content update.
func (rt *renderThrottle) MarkDirty() {
	rt.mu.Lock()
	rt.pending++
	rt.mu.Unlock()
}

// ShouldRender reports whether enough updates or enough time accumulated to
// justify a redraw, and resets the counter when it does.
func (rt *renderThrottle) ShouldRender() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.pending == 0 {
		return false
	}
	if rt.pending < rt.batchSize && time.Since(rt.lastFlush) < rt.minFlush {
		return false
	}
	rt.pending = 0
	rt.lastFlush = time.Now()
	return true
}

// Force drains any pending updates unconditionally. Used when a stream ends
// so the tail of the reply is never held back a frame.
func (rt *renderThrottle) Force() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	dirty := rt.pending > 0
	rt.pending = 0
	rt.lastFlush = time.Now()
	return dirty
}
