package store

import (
	"context"
	"testing"
	"time"
)

func openMemory(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(context.Background(), DriverSQLite, "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewDBRejectsUnknownDriver(t *testing.T) {
	if _, err := NewDB(context.Background(), "oracle", "x"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestMigrateIsIdempotentAndEnforcesUniqueAttendance(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if !db.Healthy(ctx) {
		t.Fatalf("expected healthy db")
	}

	now := time.Now().UTC()
	mustExec(t, db, `INSERT INTO accounts (id, email, created_at) VALUES ($1, $2, $3)`, "a1", "s@example.edu", now)
	mustExec(t, db, `INSERT INTO od_requests (id, student_id, title, od_type, event_name, od_date, timings, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, "r1", "a1", "t", "event", "e", "2025-03-01", "9-5", "approved", now)
	mustExec(t, db, `INSERT INTO attendance (id, od_request_id, date, is_present, created_at) VALUES ($1, $2, $3, $4, $5)`,
		"att1", "r1", "2025-03-01", true, now)

	_, err := db.Client.ExecContext(ctx, `INSERT INTO attendance (id, od_request_id, date, is_present, created_at) VALUES ($1, $2, $3, $4, $5)`,
		"att2", "r1", "2025-03-01", false, now)
	if !IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}
	if IsUniqueViolation(nil) {
		t.Fatalf("nil is not a unique violation")
	}
}

func TestWithTxRollsBack(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	_ = db.WithTx(ctx, func(q Querier) error {
		if _, err := q.ExecContext(ctx, `INSERT INTO accounts (id, email, created_at) VALUES ($1, $2, $3)`, "tx1", "tx@example.edu", time.Now().UTC()); err != nil {
			return err
		}
		return context.Canceled
	})
	var n int
	if err := db.Client.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE id = $1`, "tx1").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected rollback, found %d rows", n)
	}
}

func mustExec(t *testing.T, db *DB, query string, args ...any) {
	t.Helper()
	if _, err := db.Client.ExecContext(context.Background(), query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}
