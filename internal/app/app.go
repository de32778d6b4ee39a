// Package app wires the game components together: event subscriptions,
// session orchestration, startup recovery, and the system reset
// sequence used between games and for test isolation.
package app

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"scavenger-game-server/internal/catalog"
	"scavenger-game-server/internal/events"
	"scavenger-game-server/internal/hub"
	"scavenger-game-server/internal/model"
	"scavenger-game-server/internal/repository"
	"scavenger-game-server/internal/replay"
	"scavenger-game-server/internal/scan"
	"scavenger-game-server/internal/session"
)

// SessionStore loads persisted session snapshots for startup recovery.
type SessionStore interface {
	GetCurrent(ctx context.Context) (*model.Session, error)
}

// TransactionLog loads a session's persisted transaction log.
type TransactionLog interface {
	ListBySession(ctx context.Context, sessionID string) ([]*model.Transaction, error)
}

// Params collects the components an App wires together.
type Params struct {
	Bus        *events.Bus
	Catalog    *catalog.Catalog
	Processor  *scan.Processor
	Sessions   *session.Manager
	Registry   *hub.Registry
	Coalescer  *hub.Coalescer
	Reconciler *replay.Reconciler

	// Optional persistence for startup recovery.
	SessionStore   SessionStore
	TransactionLog TransactionLog

	// Optional external collaborators; nil means no-op.
	Video       VideoNotifier
	Environment EnvironmentNotifier
}

// App owns the cross-component subscription table. Setup and Teardown
// are an idempotent pair: calling Setup twice without an intervening
// Teardown is a no-op, so a handler can never fire twice for one event.
type App struct {
	mu    sync.Mutex
	wired bool
	subs  []*events.Subscription

	bus        *events.Bus
	catalog    *catalog.Catalog
	Processor  *scan.Processor
	Sessions   *session.Manager
	Registry   *hub.Registry
	Coalescer  *hub.Coalescer
	Reconciler *replay.Reconciler

	sessionStore SessionStore
	txLog        TransactionLog
	video        VideoNotifier
	environment  EnvironmentNotifier
}

// New creates an unwired App. Call Setup before serving.
func New(p Params) *App {
	a := &App{
		bus:          p.Bus,
		catalog:      p.Catalog,
		Processor:    p.Processor,
		Sessions:     p.Sessions,
		Registry:     p.Registry,
		Coalescer:    p.Coalescer,
		Reconciler:   p.Reconciler,
		sessionStore: p.SessionStore,
		txLog:        p.TransactionLog,
		video:        p.Video,
		environment:  p.Environment,
	}
	if a.video == nil {
		a.video = NopVideoNotifier{}
	}
	if a.environment == nil {
		a.environment = NopEnvironmentNotifier{}
	}
	return a
}

// Setup attaches every cross-component event handler. Idempotent.
func (a *App) Setup() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.wired {
		log.Debug().Msg("Event wiring already attached, skipping")
		return
	}

	a.subs = append(a.subs,
		a.bus.Subscribe(model.EventTransactionNew, a.onTransaction),
		a.bus.Subscribe(model.EventScoreUpdated, a.onScoreUpdated),
		a.bus.Subscribe(model.EventGroupCompleted, a.onGroupCompleted),
		a.bus.Subscribe(model.EventSessionUpdate, a.onSessionUpdate),
	)
	a.wired = true

	log.Info().Int("subscriptions", len(a.subs)).Msg("Event wiring attached")
}

// Teardown detaches every subscription and flushes pending broadcasts.
// Idempotent.
func (a *App) Teardown() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.wired {
		return
	}
	for _, sub := range a.subs {
		sub.Cancel()
	}
	a.subs = nil
	a.wired = false
	a.Coalescer.Flush()

	log.Info().Msg("Event wiring detached")
}

// Wired reports whether the subscription table is attached.
func (a *App) Wired() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.wired
}

func (a *App) onTransaction(payload any) {
	tx, ok := payload.(*model.Transaction)
	if !ok {
		return
	}
	a.Sessions.Touch()
	a.Registry.Broadcast(model.EventTransactionNew, tx)
	if tx.Status == model.StatusAccepted && a.catalog.HasVideo(tx.TokenID) {
		a.video.TokenAccepted(tx)
	}
}

func (a *App) onScoreUpdated(payload any) {
	score, ok := payload.(model.TeamScore)
	if !ok {
		return
	}
	a.Coalescer.MarkDirty(score)
}

func (a *App) onGroupCompleted(payload any) {
	if g, ok := payload.(scan.GroupCompletion); ok {
		a.Registry.Broadcast(model.EventGroupCompleted, g)
	}
}

func (a *App) onSessionUpdate(payload any) {
	s, ok := payload.(model.Session)
	if !ok {
		return
	}
	a.Registry.Broadcast(model.EventSessionUpdate, hub.SessionResourceOf(&s))
	a.environment.SessionChanged(s)
}

// CreateSession starts a new session and binds the processor to it.
func (a *App) CreateSession(ctx context.Context, name string, teams []string) (*model.Session, error) {
	s, err := a.Sessions.Create(ctx, name, teams)
	if err != nil {
		return nil, err
	}
	a.Processor.BindSession(s.ID)
	// Reconnection tracking is session-scoped: a device that was seen in
	// the previous game is a first-time connection in the new one.
	a.Registry.ResetState()
	return s, nil
}

// Restore recovers state after a restart: the latest active or paused
// session snapshot is adopted and the processor replays its persisted
// transaction log. Losing the in-memory aggregate is fine because it is
// derived, never authoritative.
func (a *App) Restore(ctx context.Context) error {
	if a.sessionStore == nil || a.txLog == nil {
		return nil
	}

	s, err := a.sessionStore.GetCurrent(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			log.Info().Msg("No session to restore")
			return nil
		}
		return err
	}

	journal, err := a.txLog.ListBySession(ctx, s.ID)
	if err != nil {
		return err
	}

	a.Sessions.Adopt(s)
	a.Processor.Restore(s.ID, journal)
	return nil
}

// Reset re-initializes the system for a new game: (1) archive the
// ending session, (2) end its lifecycle, (3) detach subscriptions,
// (4) reset component state, (5) reattach subscriptions.
func (a *App) Reset(ctx context.Context) {
	current := a.Sessions.Current()
	if current != nil {
		if current.Status == model.SessionActive || current.Status == model.SessionPaused {
			if _, err := a.Sessions.End(ctx); err != nil {
				log.Error().Err(err).Msg("Reset: failed to end session")
			}
		}
		if s := a.Sessions.Current(); s != nil && s.Status == model.SessionCompleted {
			if _, err := a.Sessions.Archive(ctx); err != nil {
				log.Error().Err(err).Msg("Reset: failed to archive session")
			}
		}
	}

	a.Teardown()

	a.Processor.ResetState()
	a.Registry.ResetState()
	a.Sessions.Clear()

	a.Setup()

	log.Info().Msg("System reset complete")
}
