package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"scavenger-game-server/internal/model"
)

// TransactionRepository handles the append-only transaction log.
// Rows are immutable once written; corrections happen out of band in
// the offline audit tooling, never here.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new TransactionRepository instance.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

// Append writes one transaction record.
func (r *TransactionRepository) Append(ctx context.Context, tx *model.Transaction) error {
	const query = `
		INSERT INTO transactions
			(id, session_id, token_id, team_id, device_id, mode, status, points, original_transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)
	`

	_, err := r.pool.Exec(ctx, query,
		tx.ID, tx.SessionID, tx.TokenID, tx.TeamID, tx.DeviceID,
		tx.Mode, tx.Status, tx.Points, tx.OriginalTransactionID, tx.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// ListBySession retrieves a session's transactions in append order.
func (r *TransactionRepository) ListBySession(ctx context.Context, sessionID string) ([]*model.Transaction, error) {
	const query = `
		SELECT id, session_id, token_id, team_id, device_id, mode, status, points,
			COALESCE(original_transaction_id::text, ''), created_at
		FROM transactions
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*model.Transaction
	for rows.Next() {
		var tx model.Transaction
		err := rows.Scan(
			&tx.ID, &tx.SessionID, &tx.TokenID, &tx.TeamID, &tx.DeviceID,
			&tx.Mode, &tx.Status, &tx.Points, &tx.OriginalTransactionID, &tx.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, &tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

// CountBySession returns how many transactions a session has logged.
func (r *TransactionRepository) CountBySession(ctx context.Context, sessionID string) (int, error) {
	const query = `SELECT COUNT(*) FROM transactions WHERE session_id = $1`

	var count int
	if err := r.pool.QueryRow(ctx, query, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}
