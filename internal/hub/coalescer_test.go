package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scavenger-game-server/internal/model"
)

// batchRecorder collects flushed batches behind a mutex.
type batchRecorder struct {
	mu      sync.Mutex
	batches [][]ScoreSnapshot
}

func (r *batchRecorder) record(batch []ScoreSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
}

func (r *batchRecorder) all() [][]ScoreSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]ScoreSnapshot(nil), r.batches...)
}

func score(teamID string, base, bonus int64) model.TeamScore {
	return model.TeamScore{TeamID: teamID, BaseScore: base, BonusScore: bonus}
}

func TestImmediateModeFlushesEveryUpdate(t *testing.T) {
	rec := &batchRecorder{}
	c := NewCoalescer(0, rec.record)

	c.MarkDirty(score("001", 100, 0))
	c.MarkDirty(score("001", 300, 0))

	batches := rec.all()
	require.Len(t, batches, 2)
	assert.Equal(t, int64(100), batches[0][0].CurrentScore)
	assert.Equal(t, int64(300), batches[1][0].CurrentScore)
}

func TestBurstCoalescesToOneBatch(t *testing.T) {
	rec := &batchRecorder{}
	c := NewCoalescer(30*time.Millisecond, rec.record)

	// A burst of updates for two teams inside one window.
	c.MarkDirty(score("001", 100, 0))
	c.MarkDirty(score("002", 500, 0))
	c.MarkDirty(score("001", 2100, 0))

	require.Eventually(t, func() bool {
		return len(rec.all()) == 1
	}, time.Second, 5*time.Millisecond)

	batch := rec.all()[0]
	require.Len(t, batch, 2, "each dirty team appears exactly once")
	assert.Equal(t, "001", batch[0].TeamID)
	assert.Equal(t, int64(2100), batch[0].CurrentScore, "latest snapshot wins")
	assert.Equal(t, "002", batch[1].TeamID)
}

func TestWindowOpensOnFirstMark(t *testing.T) {
	rec := &batchRecorder{}
	c := NewCoalescer(50*time.Millisecond, rec.record)

	// Keep marking past the first boundary. A debounce that restarts on
	// every mark would never deliver; the boundary must fire anyway.
	deadline := time.Now().Add(120 * time.Millisecond)
	for time.Now().Before(deadline) {
		c.MarkDirty(score("001", 100, 0))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return len(rec.all()) >= 1
	}, time.Second, 5*time.Millisecond, "continuous updates must still flush at window boundaries")
}

func TestFlushDeliversPendingImmediately(t *testing.T) {
	rec := &batchRecorder{}
	c := NewCoalescer(time.Hour, rec.record)

	c.MarkDirty(score("001", 100, 0))
	c.MarkDirty(score("002", 500, 0))
	assert.Equal(t, 2, c.Pending())

	c.Flush()

	batches := rec.all()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
	assert.Equal(t, 0, c.Pending())

	// Nothing pending: a second flush delivers nothing.
	c.Flush()
	assert.Len(t, rec.all(), 1)
}

func TestNoTeamIsEverDropped(t *testing.T) {
	rec := &batchRecorder{}
	c := NewCoalescer(10*time.Millisecond, rec.record)

	teams := []string{"001", "002", "003", "004", "005"}
	for i, teamID := range teams {
		c.MarkDirty(score(teamID, int64(i+1)*100, 0))
		time.Sleep(3 * time.Millisecond)
	}
	c.Flush()

	seen := make(map[string]bool)
	for _, batch := range rec.all() {
		for _, snap := range batch {
			seen[snap.TeamID] = true
		}
	}
	for _, teamID := range teams {
		assert.True(t, seen[teamID], "team %s must appear in a delivered batch", teamID)
	}
}
