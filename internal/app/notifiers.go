package app

import (
	"github.com/rs/zerolog/log"

	"scavenger-game-server/internal/model"
)

// VideoNotifier is the external video-orchestration collaborator. It is
// told about accepted scans of video-bearing tokens so playback devices
// can queue the clip. Out-of-process concern; only the interface lives here.
type VideoNotifier interface {
	TokenAccepted(tx *model.Transaction)
}

// EnvironmentNotifier is the external ambient-control collaborator,
// told about session lifecycle changes.
type EnvironmentNotifier interface {
	SessionChanged(s model.Session)
}

// NopVideoNotifier logs and otherwise ignores video notifications.
type NopVideoNotifier struct{}

// TokenAccepted implements VideoNotifier.
func (NopVideoNotifier) TokenAccepted(tx *model.Transaction) {
	log.Debug().Str("token_id", tx.TokenID).Msg("Video notification suppressed (no orchestrator configured)")
}

// NopEnvironmentNotifier ignores environment notifications.
type NopEnvironmentNotifier struct{}

// SessionChanged implements EnvironmentNotifier.
func (NopEnvironmentNotifier) SessionChanged(model.Session) {}
