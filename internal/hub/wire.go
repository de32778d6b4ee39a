// Package hub implements the connection registry and broadcast router:
// device identity, room fan-out, score coalescing, and the reconnection
// sync handshake.
package hub

import (
	"time"

	"scavenger-game-server/internal/model"
)

// Envelope is the server-to-device message frame.
type Envelope struct {
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEnvelope stamps an outbound frame.
func NewEnvelope(event string, data any) Envelope {
	return Envelope{Event: event, Data: data, Timestamp: time.Now()}
}

// Conn is one device's outbound channel. Implementations must be safe
// for concurrent Send calls.
type Conn interface {
	Send(env Envelope) error
	Close() error
}

// SessionResource is the session view sent to devices. The internal
// "completed" status collapses to "ended" on the wire.
type SessionResource struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Status    string            `json:"status"`
	StartTime time.Time         `json:"startTime"`
	EndTime   *time.Time        `json:"endTime,omitempty"`
	Teams     []string          `json:"teams"`
	Metadata  map[string]string `json:"metadata"`
}

// SessionResourceOf converts a session to its wire form.
func SessionResourceOf(s *model.Session) *SessionResource {
	if s == nil {
		return nil
	}
	return &SessionResource{
		ID:        s.ID,
		Name:      s.Name,
		Status:    s.Status.WireStatus(),
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Teams:     s.Teams,
		Metadata:  map[string]string{},
	}
}

// ScoreSnapshot is the per-team score view sent to devices.
type ScoreSnapshot struct {
	TeamID          string    `json:"teamId"`
	CurrentScore    int64     `json:"currentScore"`
	BaseScore       int64     `json:"baseScore"`
	BonusPoints     int64     `json:"bonusPoints"`
	TokensScanned   int       `json:"tokensScanned"`
	CompletedGroups []string  `json:"completedGroups"`
	LastUpdate      time.Time `json:"lastUpdate"`
}

// SnapshotOf converts a team aggregate to its wire form.
func SnapshotOf(ts model.TeamScore) ScoreSnapshot {
	groups := ts.CompletedGroupIDs
	if groups == nil {
		groups = []string{}
	}
	return ScoreSnapshot{
		TeamID:          ts.TeamID,
		CurrentScore:    ts.CurrentScore(),
		BaseScore:       ts.BaseScore,
		BonusPoints:     ts.BonusScore,
		TokensScanned:   ts.TokensScanned,
		CompletedGroups: groups,
		LastUpdate:      ts.LastUpdate,
	}
}

// SyncPayload is the full-state restoration sent on (re)identify. The
// device-scoped token list is the mechanism that keeps a reconnecting
// device from duplicating or losing awareness of its own prior scans.
type SyncPayload struct {
	Session             *SessionResource     `json:"session"`
	Scores              []ScoreSnapshot      `json:"scores"`
	RecentTransactions  []*model.Transaction `json:"recentTransactions"`
	DeviceScannedTokens []string             `json:"deviceScannedTokens"`
	Reconnection        bool                 `json:"reconnection"`
}

// WireError is the error payload sent to devices. The message is always
// human-readable and distinct from the code.
type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DeviceAnnouncement is the device:connected/device:disconnected payload.
type DeviceAnnouncement struct {
	DeviceID string           `json:"deviceId"`
	Type     model.DeviceType `json:"type"`
}
