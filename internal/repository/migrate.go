// Package repository provides the data access layer for session
// snapshots and the append-only transaction log.
package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Migrate applies the database schema. Safe to run repeatedly.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: session snapshots. The scores column is a legacy
	// placeholder kept for external audit tooling; the live score is
	// derived from the transaction log and never read from here.
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			status VARCHAR(20) NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ,
			teams JSONB NOT NULL DEFAULT '[]',
			scores JSONB NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 1: sessions table created")

	// Migration 2: append-only transaction log.
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			token_id VARCHAR(100) NOT NULL,
			team_id VARCHAR(100) NOT NULL,
			device_id VARCHAR(100) NOT NULL,
			mode VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL,
			points BIGINT NOT NULL DEFAULT 0,
			original_transaction_id UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_session_time
			ON transactions(session_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_transactions_token
			ON transactions(session_id, token_id) WHERE status = 'accepted';
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 2: transactions table created")

	log.Info().Msg("All migrations completed successfully")
	return nil
}
