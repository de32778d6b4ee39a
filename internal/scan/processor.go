// Package scan implements the transaction processor: scan intake and
// validation, cross-mode duplicate detection, score aggregation, and the
// append-only transaction log.
package scan

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"scavenger-game-server/internal/catalog"
	"scavenger-game-server/internal/events"
	"scavenger-game-server/internal/model"
	"scavenger-game-server/internal/scoring"
)

// Request is one incoming scan submission.
type Request struct {
	TokenID  string         `json:"tokenId"`
	TeamID   string         `json:"teamId"`
	DeviceID string         `json:"deviceId"`
	Mode     model.ScanMode `json:"mode"`
}

// GroupCompletion describes a group bonus paid to a team.
type GroupCompletion struct {
	TeamID     string `json:"teamId"`
	GroupID    string `json:"groupId"`
	Multiplier int    `json:"multiplier"`
	Bonus      int64  `json:"bonus"`
}

// Result is the terminal outcome of one scan submission. Every submitted
// scan resolves to accepted, duplicate, or rejected; there is no
// mid-flight cancellation.
type Result struct {
	Status        model.TransactionStatus `json:"status"`
	TransactionID string                  `json:"transactionId,omitempty"`
	Points        int64                   `json:"points"`
	Message       string                  `json:"message"`
	ErrorCode     string                  `json:"error,omitempty"`

	Transaction *model.Transaction `json:"-"`
	Score       *model.TeamScore   `json:"-"`
	NewGroups   []GroupCompletion  `json:"-"`
}

// Appender persists transaction records. Persistence is best-effort
// durability: a failed write is logged but never fails the scan.
type Appender interface {
	Append(ctx context.Context, tx *model.Transaction) error
}

// teamState is the per-team working state behind a TeamScore aggregate.
type teamState struct {
	score     model.TeamScore
	scanned   map[string]bool // accepted blackmarket token ids
	completed map[string]bool // groups already paid
}

// Processor validates scans, applies the duplicate and cross-mode rules,
// owns the live team score aggregates, and appends the transaction log.
// All mutations are serialized through one mutex: concurrent submissions
// from independent devices never interleave.
type Processor struct {
	mu       sync.Mutex
	catalog  *catalog.Catalog
	schedule *scoring.Schedule
	bus      *events.Bus
	appender Appender // nil disables persistence

	sessionID    string
	journal      []*model.Transaction
	claimed      map[string]*model.Transaction // tokenID -> first accepted tx
	teams        map[string]*teamState
	deviceTokens map[string]map[string]bool // deviceID -> accepted tokenIDs
}

// NewProcessor creates a transaction processor.
func NewProcessor(cat *catalog.Catalog, schedule *scoring.Schedule, bus *events.Bus, appender Appender) *Processor {
	p := &Processor{
		catalog:  cat,
		schedule: schedule,
		bus:      bus,
		appender: appender,
	}
	p.resetLocked()
	return p
}

// BindSession points the processor at a session. Clears all derived
// state: the log, claims, and aggregates belong to exactly one session.
func (p *Processor) BindSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	p.sessionID = sessionID
}

// SessionID returns the currently bound session id.
func (p *Processor) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// ResetState clears all processor state. Part of the system reset sequence.
func (p *Processor) ResetState() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

func (p *Processor) resetLocked() {
	p.sessionID = ""
	p.journal = nil
	p.claimed = make(map[string]*model.Transaction)
	p.teams = make(map[string]*teamState)
	p.deviceTokens = make(map[string]map[string]bool)
}

// Submit processes one scan to its terminal status. Rejected scans are
// still appended to the log for audit but never affect scores or group
// membership.
func (p *Processor) Submit(ctx context.Context, req Request) Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sessionID == "" {
		return Result{
			Status:    model.StatusRejected,
			Points:    0,
			Message:   "No active session; start a session before scanning",
			ErrorCode: model.ErrCodeSessionNotFound,
		}
	}

	now := time.Now()
	tx := &model.Transaction{
		ID:        uuid.NewString(),
		SessionID: p.sessionID,
		TokenID:   req.TokenID,
		TeamID:    req.TeamID,
		DeviceID:  req.DeviceID,
		Mode:      req.Mode,
		Timestamp: now,
	}

	result := p.resolveLocked(req, tx)
	result.Transaction = tx
	result.TransactionID = tx.ID

	p.journal = append(p.journal, tx)
	p.persist(ctx, tx)
	p.publishLocked(result)

	log.Debug().
		Str("token_id", tx.TokenID).
		Str("team_id", tx.TeamID).
		Str("device_id", tx.DeviceID).
		Str("mode", string(tx.Mode)).
		Str("status", string(tx.Status)).
		Int64("points", tx.Points).
		Msg("Scan processed")

	return result
}

// resolveLocked runs the scan state machine and mutates tx in place.
func (p *Processor) resolveLocked(req Request, tx *model.Transaction) Result {
	// Step 1: validation. Invalid scans are logged-but-inert.
	token, known := p.catalog.Get(req.TokenID)
	switch {
	case req.TokenID == "":
		tx.Status = model.StatusRejected
		return Result{
			Status:    model.StatusRejected,
			Message:   "Scan is missing a token id",
			ErrorCode: model.ErrCodeValidation,
		}
	case !known:
		tx.Status = model.StatusRejected
		return Result{
			Status:    model.StatusRejected,
			Message:   fmt.Sprintf("Token %q is not in the catalog", req.TokenID),
			ErrorCode: model.ErrCodeTokenNotFound,
		}
	case req.TeamID == "":
		tx.Status = model.StatusRejected
		return Result{
			Status:    model.StatusRejected,
			Message:   "Scan is missing a team id",
			ErrorCode: model.ErrCodeValidation,
		}
	case !req.Mode.Valid():
		tx.Status = model.StatusRejected
		return Result{
			Status:    model.StatusRejected,
			Message:   fmt.Sprintf("Unknown scan mode %q", req.Mode),
			ErrorCode: model.ErrCodeValidation,
		}
	}

	// Step 2: duplicate detection. A prior accepted claim on the token,
	// in any mode by any team, blocks this scan. Cross-mode blocking is
	// intentional: a detective scan exposes the token publicly and a
	// later black market claim must not pay out, and vice versa.
	if original, taken := p.claimed[req.TokenID]; taken {
		tx.Status = model.StatusDuplicate
		tx.OriginalTransactionID = original.ID
		return Result{
			Status:    model.StatusDuplicate,
			Message:   fmt.Sprintf("Token already claimed by team %s", original.TeamID),
			ErrorCode: model.ErrCodeDuplicate,
		}
	}

	// Step 3: accept the claim.
	tx.Status = model.StatusAccepted
	tx.Points = p.schedule.ExpectedPoints(token, req.Mode)
	p.claimed[req.TokenID] = tx
	p.markDeviceToken(req.DeviceID, req.TokenID)

	result := Result{
		Status:  model.StatusAccepted,
		Points:  tx.Points,
		Message: fmt.Sprintf("Token accepted for team %s", req.TeamID),
	}

	// Detective scans claim the token but never touch the aggregates.
	if req.Mode == model.ModeDetective {
		result.Message = fmt.Sprintf("Token exposed by team %s", req.TeamID)
		return result
	}

	team := p.team(req.TeamID)
	team.score.BaseScore += tx.Points
	team.score.TokensScanned++
	team.score.LastUpdate = tx.Timestamp
	team.scanned[req.TokenID] = true

	// Group completion over the team's accumulated accepted set. Paying
	// is idempotent per (team, group): replays never pay twice.
	for _, groupID := range scoring.CompletedGroups(p.catalog.Groups(), team.scanned) {
		if team.completed[groupID] {
			continue
		}
		bonus := p.schedule.GroupBonus(p.catalog.MembersOf(groupID), p.catalog.GroupMultiplier(groupID))
		team.completed[groupID] = true
		team.score.CompletedGroupIDs = append(team.score.CompletedGroupIDs, groupID)
		sort.Strings(team.score.CompletedGroupIDs)
		if bonus > 0 {
			team.score.BonusScore += bonus
		}
		result.NewGroups = append(result.NewGroups, GroupCompletion{
			TeamID:     req.TeamID,
			GroupID:    groupID,
			Multiplier: p.catalog.GroupMultiplier(groupID),
			Bonus:      bonus,
		})
	}

	snapshot := team.score
	snapshot.CompletedGroupIDs = append([]string(nil), team.score.CompletedGroupIDs...)
	result.Score = &snapshot

	return result
}

// team returns the state for a team, creating it on first sight.
func (p *Processor) team(teamID string) *teamState {
	t, ok := p.teams[teamID]
	if !ok {
		t = &teamState{
			score:     model.TeamScore{TeamID: teamID},
			scanned:   make(map[string]bool),
			completed: make(map[string]bool),
		}
		p.teams[teamID] = t
	}
	return t
}

func (p *Processor) markDeviceToken(deviceID, tokenID string) {
	if deviceID == "" {
		return
	}
	if p.deviceTokens[deviceID] == nil {
		p.deviceTokens[deviceID] = make(map[string]bool)
	}
	p.deviceTokens[deviceID][tokenID] = true
}

// persist writes the record best-effort: the in-memory mutation already
// succeeded and is what the caller is told about.
func (p *Processor) persist(ctx context.Context, tx *model.Transaction) {
	if p.appender == nil {
		return
	}
	if err := p.appender.Append(ctx, tx); err != nil {
		log.Error().Err(err).
			Str("transaction_id", tx.ID).
			Msg("Failed to persist transaction, continuing with in-memory state")
	}
}

func (p *Processor) publishLocked(result Result) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(model.EventTransactionNew, result.Transaction)
	if result.Score != nil {
		p.bus.Publish(model.EventScoreUpdated, *result.Score)
	}
	for _, g := range result.NewGroups {
		p.bus.Publish(model.EventGroupCompleted, g)
	}
}

// TeamScore returns a copy of one team's live aggregate.
func (p *Processor) TeamScore(teamID string) (model.TeamScore, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.teams[teamID]
	if !ok {
		return model.TeamScore{}, false
	}
	score := t.score
	score.CompletedGroupIDs = append([]string(nil), t.score.CompletedGroupIDs...)
	return score, true
}

// AllScores returns copies of every team aggregate, sorted by team id.
func (p *Processor) AllScores() []model.TeamScore {
	p.mu.Lock()
	defer p.mu.Unlock()
	scores := make([]model.TeamScore, 0, len(p.teams))
	for _, t := range p.teams {
		score := t.score
		score.CompletedGroupIDs = append([]string(nil), t.score.CompletedGroupIDs...)
		scores = append(scores, score)
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].TeamID < scores[j].TeamID })
	return scores
}

// DeviceScannedTokens returns the accepted token ids this device has
// submitted during the current session, sorted. Drives the reconnection
// sync so a device can suppress re-submitting its own prior scans.
func (p *Processor) DeviceScannedTokens(deviceID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.deviceTokens[deviceID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RecentTransactions returns up to n most recent transactions, newest first.
func (p *Processor) RecentTransactions(n int) []*model.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n <= 0 || n > len(p.journal) {
		n = len(p.journal)
	}
	recent := make([]*model.Transaction, 0, n)
	for i := len(p.journal) - 1; i >= len(p.journal)-n; i-- {
		recent = append(recent, p.journal[i])
	}
	return recent
}

// Journal returns a copy of the full in-memory log in append order.
func (p *Processor) Journal() []*model.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*model.Transaction(nil), p.journal...)
}

// TransactionCount returns the size of the in-memory log.
func (p *Processor) TransactionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.journal)
}

// Recompute rebuilds every team aggregate from scratch by replaying the
// accepted transactions in the log. The result must equal the live
// aggregates; auditors use this to verify the log without trusting any
// cached score.
func (p *Processor) Recompute() []model.TeamScore {
	p.mu.Lock()
	defer p.mu.Unlock()

	teams := make(map[string]*teamState)
	replayAccepted(p.journal, p.catalog, p.schedule, teams)

	scores := make([]model.TeamScore, 0, len(teams))
	for _, t := range teams {
		score := t.score
		score.CompletedGroupIDs = append([]string(nil), t.score.CompletedGroupIDs...)
		scores = append(scores, score)
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].TeamID < scores[j].TeamID })
	return scores
}

// Restore rebuilds all processor state from a persisted transaction log.
// Used on startup recovery: the aggregate is disposable precisely
// because this replay reconstructs it exactly.
func (p *Processor) Restore(sessionID string, journal []*model.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetLocked()
	p.sessionID = sessionID
	p.journal = append(p.journal, journal...)

	for _, tx := range journal {
		if tx.Status != model.StatusAccepted {
			continue
		}
		p.claimed[tx.TokenID] = tx
		p.markDeviceToken(tx.DeviceID, tx.TokenID)
	}
	replayAccepted(journal, p.catalog, p.schedule, p.teams)

	log.Info().
		Str("session_id", sessionID).
		Int("transactions", len(journal)).
		Int("teams", len(p.teams)).
		Msg("Processor state restored from transaction log")
}

// replayAccepted folds accepted blackmarket transactions into team state.
func replayAccepted(journal []*model.Transaction, cat *catalog.Catalog, schedule *scoring.Schedule, teams map[string]*teamState) {
	for _, tx := range journal {
		if tx.Status != model.StatusAccepted || tx.Mode != model.ModeBlackMarket {
			continue
		}
		t, ok := teams[tx.TeamID]
		if !ok {
			t = &teamState{
				score:     model.TeamScore{TeamID: tx.TeamID},
				scanned:   make(map[string]bool),
				completed: make(map[string]bool),
			}
			teams[tx.TeamID] = t
		}
		t.score.BaseScore += tx.Points
		t.score.TokensScanned++
		t.score.LastUpdate = tx.Timestamp
		t.scanned[tx.TokenID] = true

		for _, groupID := range scoring.CompletedGroups(cat.Groups(), t.scanned) {
			if t.completed[groupID] {
				continue
			}
			t.completed[groupID] = true
			t.score.CompletedGroupIDs = append(t.score.CompletedGroupIDs, groupID)
			sort.Strings(t.score.CompletedGroupIDs)
			if bonus := schedule.GroupBonus(cat.MembersOf(groupID), cat.GroupMultiplier(groupID)); bonus > 0 {
				t.score.BonusScore += bonus
			}
		}
	}
}
