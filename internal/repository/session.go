package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"scavenger-game-server/internal/model"
)

// ErrSessionNotFound is returned when no session row matches.
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository handles session snapshot persistence.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository instance.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Save upserts a session snapshot. Called on every lifecycle transition.
func (r *SessionRepository) Save(ctx context.Context, s *model.Session) error {
	const query = `
		INSERT INTO sessions (id, name, status, start_time, end_time, teams, scores, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			end_time = EXCLUDED.end_time,
			teams = EXCLUDED.teams,
			scores = EXCLUDED.scores,
			updated_at = NOW()
	`

	teams, err := json.Marshal(s.Teams)
	if err != nil {
		return fmt.Errorf("failed to marshal teams: %w", err)
	}
	scores := s.Scores
	if scores == nil {
		scores = map[string]int64{}
	}
	scoresJSON, err := json.Marshal(scores)
	if err != nil {
		return fmt.Errorf("failed to marshal scores: %w", err)
	}

	_, err = r.pool.Exec(ctx, query, s.ID, s.Name, s.Status, s.StartTime, s.EndTime, teams, scoresJSON)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Get retrieves a session snapshot by id.
func (r *SessionRepository) Get(ctx context.Context, id string) (*model.Session, error) {
	const query = `
		SELECT id, name, status, start_time, end_time, teams, scores
		FROM sessions
		WHERE id = $1
	`
	return r.scanSession(r.pool.QueryRow(ctx, query, id))
}

// GetCurrent retrieves the most recent session that is still active or
// paused. Used for startup recovery.
func (r *SessionRepository) GetCurrent(ctx context.Context) (*model.Session, error) {
	const query = `
		SELECT id, name, status, start_time, end_time, teams, scores
		FROM sessions
		WHERE status IN ('active', 'paused')
		ORDER BY updated_at DESC
		LIMIT 1
	`
	return r.scanSession(r.pool.QueryRow(ctx, query))
}

// ArchiveCompletedBefore marks completed sessions older than the cutoff
// as archived and returns how many rows changed. Retention sweep.
func (r *SessionRepository) ArchiveCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		UPDATE sessions
		SET status = 'archived', updated_at = NOW()
		WHERE status = 'completed' AND updated_at < $1
	`
	tag, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to archive sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *SessionRepository) scanSession(row pgx.Row) (*model.Session, error) {
	var (
		s          model.Session
		teamsJSON  []byte
		scoresJSON []byte
	)
	err := row.Scan(&s.ID, &s.Name, &s.Status, &s.StartTime, &s.EndTime, &teamsJSON, &scoresJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	if err := json.Unmarshal(teamsJSON, &s.Teams); err != nil {
		return nil, fmt.Errorf("failed to unmarshal teams: %w", err)
	}
	if err := json.Unmarshal(scoresJSON, &s.Scores); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scores: %w", err)
	}
	return &s, nil
}
