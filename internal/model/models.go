// Package model defines the data models for the scavenger game backend.
package model

import "time"

// MemoryType categorizes a token's memory content.
type MemoryType string

const (
	MemoryTypePersonal  MemoryType = "personal"
	MemoryTypeBusiness  MemoryType = "business"
	MemoryTypeTechnical MemoryType = "technical"
)

// Valid reports whether the memory type is one of the known categories.
func (m MemoryType) Valid() bool {
	switch m {
	case MemoryTypePersonal, MemoryTypeBusiness, MemoryTypeTechnical:
		return true
	}
	return false
}

// ScanMode is the mode a scanner device submits a token scan in.
type ScanMode string

const (
	// ModeDetective exposes a token publicly. Detective scans never score
	// but still claim the token for cross-mode blocking.
	ModeDetective ScanMode = "detective"
	// ModeBlackMarket claims a token for points and group progress.
	ModeBlackMarket ScanMode = "blackmarket"
)

// Valid reports whether the scan mode is known.
func (m ScanMode) Valid() bool {
	return m == ModeDetective || m == ModeBlackMarket
}

// Token is an immutable catalog entry for a physical scannable token.
type Token struct {
	ID              string     `json:"id"`
	ValueRating     int        `json:"valueRating"` // 1-5
	MemoryType      MemoryType `json:"memoryType"`
	GroupID         string     `json:"groupId,omitempty"`
	GroupMultiplier int        `json:"groupMultiplier,omitempty"`
}

// Group is a derived set of tokens paying a completion bonus.
// It is computed on demand from the catalog, never stored.
type Group struct {
	ID         string   `json:"id"`
	Multiplier int      `json:"multiplier"`
	TokenIDs   []string `json:"tokenIds"`
}

// TransactionStatus is the terminal outcome of a processed scan.
type TransactionStatus string

const (
	StatusAccepted  TransactionStatus = "accepted"
	StatusDuplicate TransactionStatus = "duplicate"
	StatusRejected  TransactionStatus = "rejected"
)

// Transaction is an immutable record of one processed scan.
// Records are appended to the session log and never mutated or deleted.
type Transaction struct {
	ID                    string            `json:"id"`
	SessionID             string            `json:"sessionId"`
	TokenID               string            `json:"tokenId"`
	TeamID                string            `json:"teamId"`
	DeviceID              string            `json:"deviceId"`
	Mode                  ScanMode          `json:"mode"`
	Status                TransactionStatus `json:"status"`
	Points                int64             `json:"points"`
	OriginalTransactionID string            `json:"originalTransactionId,omitempty"`
	Timestamp             time.Time         `json:"timestamp"`
}

// SessionStatus is the lifecycle state of a game session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionArchived  SessionStatus = "archived"
)

// WireStatus maps the internal status to its wire representation.
// Devices see "ended" instead of the internal "completed".
func (s SessionStatus) WireStatus() string {
	if s == SessionCompleted {
		return "ended"
	}
	return string(s)
}

// Session is a single game run. The Scores field is a legacy snapshot
// placeholder: it is persisted for external audit tooling but never
// incrementally updated and must not be read back as authoritative. The
// live score lives in the transaction processor's TeamScore aggregates.
type Session struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Status    SessionStatus    `json:"status"`
	StartTime time.Time        `json:"startTime"`
	EndTime   *time.Time       `json:"endTime,omitempty"`
	Teams     []string         `json:"teams"`
	Scores    map[string]int64 `json:"scores,omitempty"` // legacy placeholder, never authoritative
}

// TeamScore is the in-memory, derived score aggregate for one team.
// It is owned by the transaction processor and fully reconstructable by
// replaying accepted transactions.
type TeamScore struct {
	TeamID            string    `json:"teamId"`
	BaseScore         int64     `json:"baseScore"`
	BonusScore        int64     `json:"bonusPoints"`
	TokensScanned     int       `json:"tokensScanned"`
	CompletedGroupIDs []string  `json:"completedGroups"`
	LastUpdate        time.Time `json:"lastUpdate"`
}

// CurrentScore is the team total: base plus group bonuses.
func (t *TeamScore) CurrentScore() int64 {
	return t.BaseScore + t.BonusScore
}

// DeviceType distinguishes staff stations from player scanners.
type DeviceType string

const (
	DeviceGM     DeviceType = "gm"
	DevicePlayer DeviceType = "player"
)

// Valid reports whether the device type is known.
func (d DeviceType) Valid() bool {
	return d == DeviceGM || d == DevicePlayer
}

// DeviceConnection tracks one identified device connection. The scanned
// token list is session-scoped and recomputed from the transaction log,
// not stored independently.
type DeviceConnection struct {
	DeviceID    string     `json:"deviceId"`
	Type        DeviceType `json:"type"`
	SessionID   string     `json:"sessionId,omitempty"`
	ConnectedAt time.Time  `json:"connectedAt"`
}

// OfflineQueueEntry is one scan a device queued while disconnected.
type OfflineQueueEntry struct {
	TokenID         string    `json:"tokenId"`
	TeamID          string    `json:"teamId"`
	DeviceID        string    `json:"deviceId,omitempty"`
	Mode            ScanMode  `json:"mode"`
	ClientTimestamp time.Time `json:"timestamp,omitempty"`
}

// Event names carried on broadcast envelopes.
const (
	EventTransactionResult  = "transaction:result"
	EventTransactionNew     = "transaction:new"
	EventScoreUpdated       = "score:updated"
	EventGroupCompleted     = "group:completed"
	EventSessionUpdate      = "session:update"
	EventSyncFull           = "sync:full"
	EventDeviceConnected    = "device:connected"
	EventDeviceDisconnected = "device:disconnected"
	EventError              = "error"
)

// Wire error codes returned to devices.
const (
	ErrCodeAuthRequired     = "AUTH_REQUIRED"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeSessionNotFound  = "SESSION_NOT_FOUND"
	ErrCodeTokenNotFound    = "TOKEN_NOT_FOUND"
	ErrCodeDuplicate        = "DUPLICATE_TRANSACTION"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeInternal         = "INTERNAL_ERROR"
)
