// Package replay implements the offline queue reconciler: batched scans
// from a reconnected device run through the normal transaction
// processing path in client-submission order.
package replay

import (
	"context"

	"github.com/rs/zerolog/log"

	"scavenger-game-server/internal/model"
	"scavenger-game-server/internal/scan"
)

// BatchAck is the single fire-and-forget acknowledgment for a batch.
// The client clears its local queue on ack; per-item outcomes surface
// through the normal broadcast and duplicate-detection rules.
type BatchAck struct {
	Ack      bool `json:"ack"`
	Received int  `json:"received"`
}

// Reconciler replays offline queues through the transaction processor.
type Reconciler struct {
	processor *scan.Processor
}

// NewReconciler creates an offline queue reconciler.
func NewReconciler(processor *scan.Processor) *Reconciler {
	return &Reconciler{processor: processor}
}

// ReplayBatch replays a device's queued entries in order. A re-sent
// batch (network retry) is harmless: already-claimed tokens resolve to
// duplicate and never score twice.
func (r *Reconciler) ReplayBatch(ctx context.Context, deviceID string, entries []model.OfflineQueueEntry) BatchAck {
	accepted, duplicate, rejected := 0, 0, 0

	for _, entry := range entries {
		entryDevice := entry.DeviceID
		if entryDevice == "" {
			entryDevice = deviceID
		}
		result := r.processor.Submit(ctx, scan.Request{
			TokenID:  entry.TokenID,
			TeamID:   entry.TeamID,
			DeviceID: entryDevice,
			Mode:     entry.Mode,
		})
		switch result.Status {
		case model.StatusAccepted:
			accepted++
		case model.StatusDuplicate:
			duplicate++
		default:
			rejected++
		}
	}

	log.Info().
		Str("device_id", deviceID).
		Int("entries", len(entries)).
		Int("accepted", accepted).
		Int("duplicate", duplicate).
		Int("rejected", rejected).
		Msg("Offline queue replayed")

	return BatchAck{Ack: true, Received: len(entries)}
}
