// Package store handles PostgreSQL persistence for runs, comparisons
// and subscriptions.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// NewDB opens a PostgreSQL connection pool and verifies connectivity.
func NewDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// InitSchema creates the tables and indexes if they do not exist. Safe
// to call on every startup.
func InitSchema(ctx context.Context, db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id BIGSERIAL PRIMARY KEY,
			run_type TEXT NOT NULL DEFAULT 'official'
				CHECK (run_type IN ('official', 'test', 'benchmark', 'manual')),
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			success BOOLEAN NOT NULL DEFAULT FALSE,
			bulletin_date TEXT,
			source_url TEXT,
			data_json JSONB,
			error_message TEXT,
			categories_count INTEGER,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_runs_type_success
			ON runs (run_type, success, started_at DESC);

		CREATE TABLE IF NOT EXISTS comparisons (
			id BIGSERIAL PRIMARY KEY,
			run_id BIGINT NOT NULL REFERENCES runs(id),
			previous_run_id BIGINT NOT NULL REFERENCES runs(id),
			compared_at TIMESTAMPTZ NOT NULL,
			has_changes BOOLEAN NOT NULL DEFAULT FALSE,
			diff_json JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_comparisons_run
			ON comparisons (run_id);

		CREATE TABLE IF NOT EXISTS subscriptions (
			id BIGSERIAL PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			categories JSONB NOT NULL DEFAULT '[]',
			unsubscribe_token TEXT NOT NULL UNIQUE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			subscribed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ,
			ip_address TEXT,
			user_agent TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_subscriptions_active
			ON subscriptions (is_active);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}
