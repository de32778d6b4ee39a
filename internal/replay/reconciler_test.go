package replay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scavenger-game-server/internal/catalog"
	"scavenger-game-server/internal/events"
	"scavenger-game-server/internal/model"
	"scavenger-game-server/internal/scan"
	"scavenger-game-server/internal/scoring"
)

const replayTokens = `{
	"jaw001": {"SF_RFID": "jaw001", "SF_ValueRating": 3, "SF_MemoryType": "Technical", "SF_Group": "jaw group (x2)"},
	"jaw002": {"SF_RFID": "jaw002", "SF_ValueRating": 4, "SF_MemoryType": "Business", "SF_Group": "jaw group (x2)"},
	"rat001": {"SF_RFID": "rat001", "SF_ValueRating": 5, "SF_MemoryType": "Personal"}
}`

func newReplayFixture(t *testing.T) (*Reconciler, *scan.Processor) {
	t.Helper()

	cat, err := catalog.Parse([]byte(replayTokens))
	require.NoError(t, err)
	schedule := scoring.NewSchedule(
		map[int]int64{1: 100, 2: 500, 3: 400, 4: 1000, 5: 10000},
		map[string]float64{"personal": 1.0, "business": 3.0, "technical": 5.0},
	)
	processor := scan.NewProcessor(cat, schedule, events.NewBus(), nil)
	processor.BindSession("session-1")
	return NewReconciler(processor), processor
}

func TestReplayBatchInOrder(t *testing.T) {
	r, processor := newReplayFixture(t)

	batch := []model.OfflineQueueEntry{
		{TokenID: "jaw001", TeamID: "001", Mode: model.ModeBlackMarket},
		{TokenID: "jaw002", TeamID: "001", Mode: model.ModeBlackMarket},
		{TokenID: "rat001", TeamID: "001", Mode: model.ModeBlackMarket},
	}

	ack := r.ReplayBatch(context.Background(), "scanner-01", batch)
	assert.True(t, ack.Ack)
	assert.Equal(t, 3, ack.Received)

	score, ok := processor.TeamScore("001")
	require.True(t, ok)
	// jaw001 2000 + jaw002 3000 + group bonus 5000 + rat001 10000.
	assert.Equal(t, int64(20000), score.CurrentScore())

	// Entries ran through the normal path in client order.
	journal := processor.Journal()
	require.Len(t, journal, 3)
	assert.Equal(t, "jaw001", journal[0].TokenID)
	assert.Equal(t, "jaw002", journal[1].TokenID)
	assert.Equal(t, "rat001", journal[2].TokenID)
}

func TestReplayedBatchIsIdempotent(t *testing.T) {
	r, processor := newReplayFixture(t)

	batch := []model.OfflineQueueEntry{
		{TokenID: "jaw001", TeamID: "001", Mode: model.ModeBlackMarket},
		{TokenID: "jaw002", TeamID: "001", Mode: model.ModeBlackMarket},
	}

	first := r.ReplayBatch(context.Background(), "scanner-01", batch)
	score, ok := processor.TeamScore("001")
	require.True(t, ok)
	want := score.CurrentScore()

	// A network retry re-sends the identical batch.
	second := r.ReplayBatch(context.Background(), "scanner-01", batch)
	assert.Equal(t, first.Received, second.Received)
	assert.True(t, second.Ack)

	score, ok = processor.TeamScore("001")
	require.True(t, ok)
	assert.Equal(t, want, score.CurrentScore(), "a re-sent batch must not change the score")

	// Every replayed entry resolved to duplicate.
	journal := processor.Journal()
	require.Len(t, journal, 4)
	for _, tx := range journal[2:] {
		assert.Equal(t, model.StatusDuplicate, tx.Status)
	}
}

func TestReplayFillsEntryDeviceID(t *testing.T) {
	r, processor := newReplayFixture(t)

	r.ReplayBatch(context.Background(), "scanner-01", []model.OfflineQueueEntry{
		{TokenID: "rat001", TeamID: "001", Mode: model.ModeBlackMarket},
		{TokenID: "jaw001", TeamID: "001", DeviceID: "scanner-02", Mode: model.ModeBlackMarket},
	})

	assert.Equal(t, []string{"rat001"}, processor.DeviceScannedTokens("scanner-01"))
	assert.Equal(t, []string{"jaw001"}, processor.DeviceScannedTokens("scanner-02"))
}

func TestReplayAcksRejectedEntries(t *testing.T) {
	r, processor := newReplayFixture(t)

	ack := r.ReplayBatch(context.Background(), "scanner-01", []model.OfflineQueueEntry{
		{TokenID: "unknown", TeamID: "001", Mode: model.ModeBlackMarket},
		{TokenID: "rat001", TeamID: "001", Mode: model.ModeBlackMarket},
	})

	// The ack covers the whole batch so the client clears its queue; the
	// rejected entry stays in the log as an audit record.
	assert.True(t, ack.Ack)
	assert.Equal(t, 2, ack.Received)
	assert.Equal(t, 2, processor.TransactionCount())
}

func TestReplayEmptyBatch(t *testing.T) {
	r, _ := newReplayFixture(t)
	ack := r.ReplayBatch(context.Background(), "scanner-01", nil)
	assert.True(t, ack.Ack)
	assert.Equal(t, 0, ack.Received)
}
