// Package session owns the game session lifecycle: a single session may
// be active or paused at a time, an inactivity timer auto-completes idle
// sessions, and every transition persists a snapshot before returning.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"scavenger-game-server/internal/events"
	"scavenger-game-server/internal/model"
)

// Errors for session lifecycle operations.
var (
	ErrNoSession         = errors.New("no current session")
	ErrInvalidTransition = errors.New("invalid session transition")
)

// Repository persists session snapshots. Persistence is best-effort:
// a failed write is logged, never surfaced as a transition failure.
type Repository interface {
	Save(ctx context.Context, s *model.Session) error
}

// Manager owns the session lifecycle state machine.
type Manager struct {
	mu         sync.Mutex
	repo       Repository // nil disables persistence
	bus        *events.Bus
	inactivity time.Duration

	current *model.Session
	timer   *time.Timer
}

// NewManager creates a session manager. A zero inactivity duration
// disables the timeout.
func NewManager(repo Repository, bus *events.Bus, inactivity time.Duration) *Manager {
	return &Manager{repo: repo, bus: bus, inactivity: inactivity}
}

// Create starts a new session. Only one session may be active or paused
// at a time: any prior session is forced through completed first.
func (m *Manager) Create(ctx context.Context, name string, teams []string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && (m.current.Status == model.SessionActive || m.current.Status == model.SessionPaused) {
		log.Warn().
			Str("session_id", m.current.ID).
			Msg("Creating a new session forces the prior session to complete")
		m.completeLocked(ctx)
	}

	if name == "" {
		name = fmt.Sprintf("Game %s", time.Now().Format("2006-01-02 15:04"))
	}

	m.current = &model.Session{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    model.SessionActive,
		StartTime: time.Now(),
		Teams:     append([]string(nil), teams...),
		Scores:    map[string]int64{}, // legacy placeholder, never updated
	}
	m.armTimerLocked()
	m.persistLocked(ctx)
	m.publishLocked()

	log.Info().
		Str("session_id", m.current.ID).
		Str("name", m.current.Name).
		Strs("teams", m.current.Teams).
		Msg("Session created")

	return m.copyLocked(), nil
}

// Adopt installs a previously persisted session, used for startup
// recovery. The inactivity timer re-arms if the session is active.
func (m *Manager) Adopt(s *model.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *s
	copied.Teams = append([]string(nil), s.Teams...)
	m.current = &copied
	if m.current.Status == model.SessionActive {
		m.armTimerLocked()
	}

	log.Info().
		Str("session_id", s.ID).
		Str("status", string(s.Status)).
		Msg("Session adopted from snapshot")
}

// Pause transitions active -> paused.
func (m *Manager) Pause(ctx context.Context) (*model.Session, error) {
	return m.transition(ctx, model.SessionActive, model.SessionPaused)
}

// Resume transitions paused -> active.
func (m *Manager) Resume(ctx context.Context) (*model.Session, error) {
	return m.transition(ctx, model.SessionPaused, model.SessionActive)
}

// End completes the current session from active or paused.
func (m *Manager) End(ctx context.Context) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil, ErrNoSession
	}
	if m.current.Status != model.SessionActive && m.current.Status != model.SessionPaused {
		return nil, fmt.Errorf("%w: cannot end a %s session", ErrInvalidTransition, m.current.Status)
	}

	m.completeLocked(ctx)
	return m.copyLocked(), nil
}

// Archive transitions completed -> archived.
func (m *Manager) Archive(ctx context.Context) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil, ErrNoSession
	}
	if m.current.Status != model.SessionCompleted {
		return nil, fmt.Errorf("%w: cannot archive a %s session", ErrInvalidTransition, m.current.Status)
	}

	m.current.Status = model.SessionArchived
	m.persistLocked(ctx)
	m.publishLocked()

	log.Info().Str("session_id", m.current.ID).Msg("Session archived")
	return m.copyLocked(), nil
}

// Touch re-arms the inactivity timer. Called on every processed scan.
func (m *Manager) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.Status == model.SessionActive {
		m.armTimerLocked()
	}
}

// Current returns a copy of the current session, or nil.
func (m *Manager) Current() *model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyLocked()
}

// Clear drops the current session without persisting. Part of the
// system reset sequence, which archives beforehand.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disarmTimerLocked()
	m.current = nil
}

func (m *Manager) transition(ctx context.Context, from, to model.SessionStatus) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil, ErrNoSession
	}
	if m.current.Status != from {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.current.Status, to)
	}

	m.current.Status = to
	if to == model.SessionActive {
		m.armTimerLocked()
	} else {
		m.disarmTimerLocked()
	}
	m.persistLocked(ctx)
	m.publishLocked()

	log.Info().
		Str("session_id", m.current.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Session transition")

	return m.copyLocked(), nil
}

// completeLocked moves the current session to completed and records the
// end time. Caller holds the lock.
func (m *Manager) completeLocked(ctx context.Context) {
	now := time.Now()
	m.current.Status = model.SessionCompleted
	m.current.EndTime = &now
	m.disarmTimerLocked()
	m.persistLocked(ctx)
	m.publishLocked()

	log.Info().Str("session_id", m.current.ID).Msg("Session completed")
}

// armTimerLocked starts or restarts the inactivity timer.
func (m *Manager) armTimerLocked() {
	m.disarmTimerLocked()
	if m.inactivity <= 0 {
		return
	}
	sessionID := m.current.ID
	m.timer = time.AfterFunc(m.inactivity, func() {
		m.onInactivity(sessionID)
	})
}

func (m *Manager) disarmTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// onInactivity fires when a session has seen no activity for the
// configured window. The session id guards against a stale timer firing
// after a newer session replaced the one that armed it.
func (m *Manager) onInactivity(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.ID != sessionID || m.current.Status != model.SessionActive {
		return
	}

	log.Warn().
		Str("session_id", sessionID).
		Dur("timeout", m.inactivity).
		Msg("Session inactivity timeout, auto-completing")

	m.completeLocked(context.Background())
}

// persistLocked snapshots the session before the transition returns.
func (m *Manager) persistLocked(ctx context.Context) {
	if m.repo == nil || m.current == nil {
		return
	}
	if err := m.repo.Save(ctx, m.current); err != nil {
		log.Error().Err(err).
			Str("session_id", m.current.ID).
			Msg("Failed to persist session snapshot, continuing with in-memory state")
	}
}

func (m *Manager) publishLocked() {
	if m.bus == nil || m.current == nil {
		return
	}
	m.bus.Publish(model.EventSessionUpdate, *m.copyLocked())
}

func (m *Manager) copyLocked() *model.Session {
	if m.current == nil {
		return nil
	}
	copied := *m.current
	copied.Teams = append([]string(nil), m.current.Teams...)
	return &copied
}
