package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates all tables and indexes the store depends on.
// Every statement is idempotent so this runs at every startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			venue_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			per_source_fetched JSONB NOT NULL DEFAULT '{}'::jsonb,
			total_revenue NUMERIC NOT NULL DEFAULT 0,
			transaction_count BIGINT NOT NULL DEFAULT 0,
			unique_customers BIGINT NOT NULL DEFAULT 0,
			error_message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_venue_started ON snapshots(venue_id, started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_status ON snapshots(status)`,

		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			venue_id TEXT NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			value NUMERIC,
			threshold NUMERIC,
			context JSONB,
			group_id TEXT,
			action_suggestions JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_venue_created ON alerts(venue_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_unresolved ON alerts(created_at DESC) WHERE resolved_at IS NULL`,

		`CREATE TABLE IF NOT EXISTS isolated_errors (
			id TEXT PRIMARY KEY,
			venue_id TEXT NOT NULL,
			source TEXT NOT NULL,
			severity TEXT NOT NULL,
			error_type TEXT NOT NULL,
			message TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			retry_count INT NOT NULL DEFAULT 0,
			max_retries INT NOT NULL DEFAULT 0,
			resolved BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_isolated_errors_source ON isolated_errors(source)`,
		`CREATE INDEX IF NOT EXISTS idx_isolated_errors_open ON isolated_errors(occurred_at DESC) WHERE NOT resolved`,

		`CREATE TABLE IF NOT EXISTS revenue_overrides (
			venue_id TEXT NOT NULL,
			date DATE NOT NULL,
			actual_revenue NUMERIC NOT NULL,
			check_count BIGINT,
			PRIMARY KEY (venue_id, date)
		)`,

		`CREATE TABLE IF NOT EXISTS daily_summaries (
			venue_id TEXT NOT NULL,
			date DATE NOT NULL,
			revenue NUMERIC NOT NULL DEFAULT 0,
			transaction_count BIGINT NOT NULL DEFAULT 0,
			unique_customers BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (venue_id, date)
		)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT NOT NULL,
			venue_id TEXT NOT NULL,
			source TEXT NOT NULL,
			total_amount NUMERIC,
			amount NUMERIC,
			currency TEXT,
			customer_id TEXT,
			ts TIMESTAMPTZ NOT NULL,
			category TEXT,
			transaction_type TEXT,
			payment_method TEXT,
			PRIMARY KEY (venue_id, source, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_venue_ts ON transactions(venue_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(venue_id, customer_id, ts)`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
