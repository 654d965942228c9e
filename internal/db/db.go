package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// EnsureSchema creates the tables the orchestrator needs. Statements are
// idempotent so repeated startups are safe.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS browser_sessions (
			id BIGSERIAL PRIMARY KEY,
			account_id BIGINT NOT NULL,
			session_id TEXT NOT NULL UNIQUE,
			storage_state JSONB NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			user_agent TEXT,
			ip_address TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_used_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_browser_sessions_active
			ON browser_sessions (account_id, is_active, expires_at)`,
		`CREATE TABLE IF NOT EXISTS scraped_records (
			id BIGSERIAL PRIMARY KEY,
			account_id BIGINT NOT NULL,
			category TEXT NOT NULL,
			external_id TEXT NOT NULL,
			payload JSONB NOT NULL,
			scraped_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (account_id, category, external_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scraped_records_lookup
			ON scraped_records (account_id, category)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
