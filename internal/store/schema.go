package store

import (
	"context"
	"fmt"
	"strings"
)

// Calendar dates are stored as ISO-8601 text (YYYY-MM-DD) on both drivers so they
// compare and sort lexically.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL DEFAULT '',
		google_sub    TEXT UNIQUE,
		created_at    {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS students (
		id              TEXT PRIMARY KEY,
		account_id      TEXT NOT NULL UNIQUE REFERENCES accounts(id),
		name            TEXT NOT NULL,
		email           TEXT NOT NULL,
		register_number TEXT NOT NULL DEFAULT '',
		department      TEXT NOT NULL DEFAULT '',
		section         TEXT NOT NULL DEFAULT '',
		created_at      {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS teachers (
		id          TEXT PRIMARY KEY,
		account_id  TEXT NOT NULL UNIQUE REFERENCES accounts(id),
		name        TEXT NOT NULL,
		email       TEXT NOT NULL,
		department  TEXT NOT NULL DEFAULT '',
		designation TEXT NOT NULL DEFAULT '',
		created_at  {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		account_id      TEXT PRIMARY KEY REFERENCES accounts(id),
		role            TEXT NOT NULL,
		name            TEXT NOT NULL,
		email           TEXT NOT NULL,
		register_number TEXT NOT NULL DEFAULT '',
		department      TEXT NOT NULL DEFAULT '',
		section         TEXT NOT NULL DEFAULT '',
		created_at      {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS od_requests (
		id               TEXT PRIMARY KEY,
		student_id       TEXT NOT NULL REFERENCES accounts(id),
		title            TEXT NOT NULL,
		od_type          TEXT NOT NULL,
		event_name       TEXT NOT NULL,
		od_date          TEXT NOT NULL,
		timings          TEXT NOT NULL,
		period           TEXT,
		attachment_url   TEXT,
		attachment_key   TEXT,
		status           TEXT NOT NULL DEFAULT 'pending',
		rejection_reason TEXT,
		created_at       {{ts}} NOT NULL,
		approved_by      TEXT,
		approved_at      {{ts}}
	)`,
	`CREATE INDEX IF NOT EXISTS idx_od_requests_student ON od_requests(student_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_od_requests_status ON od_requests(status, created_at)`,
	`CREATE TABLE IF NOT EXISTS attendance (
		id            TEXT PRIMARY KEY,
		od_request_id TEXT NOT NULL REFERENCES od_requests(id),
		date          TEXT NOT NULL,
		is_present    BOOLEAN NOT NULL,
		created_at    {{ts}} NOT NULL,
		UNIQUE (od_request_id, date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance(date)`,
	`CREATE TABLE IF NOT EXISTS events (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		event_date TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		token      TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		session_id TEXT NOT NULL,
		expires_at {{ts}} NOT NULL,
		revoked    BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_session ON refresh_tokens(session_id)`,
	`CREATE TABLE IF NOT EXISTS orphaned_attachments (
		storage_key TEXT PRIMARY KEY,
		recorded_at {{ts}} NOT NULL,
		attempts    INTEGER NOT NULL DEFAULT 0,
		last_error  TEXT NOT NULL DEFAULT ''
	)`,
}

// Migrate creates the tables when missing.
func (d *DB) Migrate(ctx context.Context) error {
	ts := "TIMESTAMPTZ"
	if d.Driver == DriverSQLite {
		ts = "DATETIME"
	}
	for _, stmt := range schema {
		if _, err := d.Client.ExecContext(ctx, strings.ReplaceAll(stmt, "{{ts}}", ts)); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
