package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/foxseedlab/tsuyaku/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionColumns = `id, conn_id, source_lang, target_lang, started_at, ended_at, status,
	stop_reason, final_count, translation_failure_count, created_at`

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO recognition_sessions (id, conn_id, source_lang, target_lang, started_at, status)
		 VALUES ($1, $2, $3, $4, $5, 'running')
		 RETURNING `+sessionColumns,
		input.ID, input.ConnID, input.SourceLang, input.TargetLang, input.StartedAt)
	return scanSession(row)
}

func (r *PostgresRepository) CompleteSession(ctx context.Context, input repository.CompleteSessionInput) error {
	status := input.Status
	if status == "" {
		status = repository.SessionStatusCompleted
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE recognition_sessions
		 SET status = $2, ended_at = $3, stop_reason = $4, final_count = $5, translation_failure_count = $6
		 WHERE id = $1`,
		input.SessionID, string(status), input.EndedAt, input.StopReason, input.FinalCount, input.TranslationFailureCount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete session %s: %w", input.SessionID, repository.ErrSessionNotFound)
	}
	return nil
}

func (r *PostgresRepository) CompleteOrphanedSessions(ctx context.Context, endedAt time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE recognition_sessions
		 SET status = 'completed', ended_at = $1, stop_reason = 'orphaned'
		 WHERE status = 'running'`,
		endedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) GetSession(ctx context.Context, sessionID string) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM recognition_sessions WHERE id = $1`,
		sessionID)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrSessionNotFound
	}
	return s, err
}

func scanSession(row pgx.Row) (*repository.Session, error) {
	var s repository.Session
	var endedAt *time.Time
	var status string
	err := row.Scan(&s.ID, &s.ConnID, &s.SourceLang, &s.TargetLang, &s.StartedAt, &endedAt, &status,
		&s.StopReason, &s.FinalCount, &s.TranslationFailureCount, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.EndedAt = endedAt
	s.Status = repository.SessionStatus(status)
	return &s, nil
}
