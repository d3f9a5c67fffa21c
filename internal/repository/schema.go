package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schemaStatements bootstrap the tables this service owns. Attendance record
// rows themselves arrive through import ingestion; the table is created here
// so the sync columns and indexes are guaranteed to exist.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS company_sync_settings (
		company_id TEXT PRIMARY KEY,
		api_key TEXT NOT NULL,
		api_url TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT FALSE,
		sync_frequency TEXT NOT NULL DEFAULT 'manual',
		rate_limit_delay_ms INTEGER NOT NULL DEFAULT 1000,
		page_size INTEGER NOT NULL DEFAULT 100,
		max_retry_attempts INTEGER NOT NULL DEFAULT 5,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		employee_ref TEXT NOT NULL,
		device_id TEXT NOT NULL DEFAULT '',
		punch_type TEXT NOT NULL,
		punched_at TIMESTAMPTZ NOT NULL,
		bayzat_sync_status TEXT NOT NULL DEFAULT 'pending',
		bayzat_retry_count INTEGER NOT NULL DEFAULT 0,
		bayzat_next_retry_at TIMESTAMPTZ,
		bayzat_last_error TEXT,
		bayzat_failed_in_batch TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_records_sync
		ON attendance_records (company_id, bayzat_sync_status, bayzat_next_retry_at)`,
	`CREATE TABLE IF NOT EXISTS bayzat_sync_batches (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		total_records INTEGER NOT NULL DEFAULT 0,
		synced_records INTEGER NOT NULL DEFAULT 0,
		failed_records INTEGER NOT NULL DEFAULT 0,
		retry_only BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL DEFAULT 'pending',
		failure_reason TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		failed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bayzat_sync_batches_company
		ON bayzat_sync_batches (company_id, created_at DESC)`,
}

// EnsureSchema creates the sync tables when they do not exist yet.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
