// Package main is the entry point for the scavenger game backend.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"scavenger-game-server/internal/app"
	"scavenger-game-server/internal/catalog"
	"scavenger-game-server/internal/config"
	"scavenger-game-server/internal/events"
	"scavenger-game-server/internal/hub"
	"scavenger-game-server/internal/model"
	"scavenger-game-server/internal/pkg/db"
	"scavenger-game-server/internal/replay"
	"scavenger-game-server/internal/repository"
	"scavenger-game-server/internal/scan"
	"scavenger-game-server/internal/scoring"
	"scavenger-game-server/internal/server"
	"scavenger-game-server/internal/session"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Catalog load failure is fatal: the process must not accept
	// connections without token metadata.
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load token catalog")
	}

	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := repository.Migrate(ctx, dbPool.Pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	sessionRepo := repository.NewSessionRepository(dbPool.Pool)
	txRepo := repository.NewTransactionRepository(dbPool.Pool)

	schedule := scoring.NewSchedule(cfg.Scoring.RatingTable, cfg.Scoring.TypeMultipliers)
	bus := events.NewBus()
	processor := scan.NewProcessor(cat, schedule, bus, txRepo)
	sessions := session.NewManager(sessionRepo, bus, cfg.Session.InactivityTimeout)
	registry := hub.NewRegistry(sessions, processor, cfg.Broadcast.RecentTransactions)
	coalescer := hub.NewCoalescer(cfg.Broadcast.CoalesceWindow, func(batch []hub.ScoreSnapshot) {
		registry.Broadcast(model.EventScoreUpdated, batch)
	})
	reconciler := replay.NewReconciler(processor)

	application := app.New(app.Params{
		Bus:            bus,
		Catalog:        cat,
		Processor:      processor,
		Sessions:       sessions,
		Registry:       registry,
		Coalescer:      coalescer,
		Reconciler:     reconciler,
		SessionStore:   sessionRepo,
		TransactionLog: txRepo,
	})
	application.Setup()

	// Pick up an interrupted game after a restart. The in-memory score
	// aggregate is rebuilt from the persisted transaction log.
	if err := application.Restore(ctx); err != nil {
		log.Error().Err(err).Msg("Startup recovery failed, starting clean")
	}

	// Retention sweep for completed sessions.
	if cfg.Session.Retention > 0 {
		go retentionSweep(ctx, sessionRepo, cfg.Session.Retention)
	}

	srv := server.New(application)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe(ctx, cfg.Server.Addr)
	}()

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-errChan:
		if err != nil {
			log.Error().Err(err).Msg("Server failed")
		}
	}

	cancel()
	coalescer.Flush()
	application.Teardown()
	log.Info().Msg("Server stopped gracefully")
}

// retentionSweep periodically archives completed sessions past the
// retention window.
func retentionSweep(ctx context.Context, repo *repository.SessionRepository, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			archived, err := repo.ArchiveCompletedBefore(ctx, cutoff)
			if err != nil {
				log.Error().Err(err).Msg("Retention sweep failed")
				continue
			}
			if archived > 0 {
				log.Info().Int64("sessions", archived).Msg("Retention sweep archived sessions")
			}
		}
	}
}
