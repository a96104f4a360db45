package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`DO $$ BEGIN CREATE TYPE recognition_session_status AS ENUM ('running', 'completed', 'errored'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS recognition_sessions (
		id UUID PRIMARY KEY,
		conn_id TEXT NOT NULL,
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		status recognition_session_status NOT NULL DEFAULT 'running',
		stop_reason TEXT NOT NULL DEFAULT '',
		final_count INTEGER NOT NULL DEFAULT 0,
		translation_failure_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_recognition_sessions_running ON recognition_sessions (started_at) WHERE status = 'running'`,
	`CREATE INDEX IF NOT EXISTS idx_recognition_sessions_conn ON recognition_sessions (conn_id, started_at DESC)`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
