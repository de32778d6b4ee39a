package hub

import (
	"sort"
	"sync"
	"time"

	"scavenger-game-server/internal/model"
)

// Coalescer batches rapid score updates into fewer outbound broadcasts.
// It keeps a dirty-team set holding the latest snapshot per team; the
// window opens on the first dirty mark and flushes everything pending at
// the boundary. Teams are batched, never dropped: every team marked
// dirty appears in at least one delivered flush.
type Coalescer struct {
	mu     sync.Mutex
	window time.Duration
	dirty  map[string]model.TeamScore
	timer  *time.Timer
	flush  func([]ScoreSnapshot)
}

// NewCoalescer creates a coalescer delivering through flush. A zero or
// negative window disables batching: every update flushes immediately.
func NewCoalescer(window time.Duration, flush func([]ScoreSnapshot)) *Coalescer {
	return &Coalescer{
		window: window,
		dirty:  make(map[string]model.TeamScore),
		flush:  flush,
	}
}

// MarkDirty records an updated team aggregate. Later marks for the same
// team within a window supersede earlier ones; the team still appears
// exactly once in the flushed batch.
func (c *Coalescer) MarkDirty(score model.TeamScore) {
	if c.window <= 0 {
		c.flush([]ScoreSnapshot{SnapshotOf(score)})
		return
	}

	c.mu.Lock()
	c.dirty[score.TeamID] = score
	if c.timer == nil {
		c.timer = time.AfterFunc(c.window, c.onBoundary)
	}
	c.mu.Unlock()
}

// onBoundary fires at the window boundary and delivers the batch.
func (c *Coalescer) onBoundary() {
	c.mu.Lock()
	c.timer = nil
	batch := c.takeLocked()
	c.mu.Unlock()

	if len(batch) > 0 {
		c.flush(batch)
	}
}

// Flush delivers any pending batch immediately. Used on shutdown and by
// the reset sequence so no dirty team is ever lost.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	batch := c.takeLocked()
	c.mu.Unlock()

	if len(batch) > 0 {
		c.flush(batch)
	}
}

// Pending returns how many teams are waiting for the next boundary.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dirty)
}

func (c *Coalescer) takeLocked() []ScoreSnapshot {
	if len(c.dirty) == 0 {
		return nil
	}
	batch := make([]ScoreSnapshot, 0, len(c.dirty))
	for _, score := range c.dirty {
		batch = append(batch, SnapshotOf(score))
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].TeamID < batch[j].TeamID })
	c.dirty = make(map[string]model.TeamScore)
	return batch
}
