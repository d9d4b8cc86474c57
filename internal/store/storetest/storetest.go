// Package storetest opens throwaway SQLite databases for repository tests.
package storetest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"odportal/internal/store"
)

var seq atomic.Int64

// New returns a migrated in-memory database closed when the test ends.
func New(t testing.TB) *store.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:odportal-test-%d?mode=memory&cache=shared", seq.Add(1))
	db, err := store.NewDB(context.Background(), store.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		_ = db.Close()
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// SeedAccount inserts a bare account row so profile and request rows can reference it.
func SeedAccount(t testing.TB, db *store.DB, id, email string) {
	t.Helper()
	_, err := db.Client.ExecContext(context.Background(),
		`INSERT INTO accounts (id, email, password_hash, created_at) VALUES ($1, $2, '', $3)`,
		id, email, time.Now().UTC())
	if err != nil {
		t.Fatalf("seed account %s: %v", id, err)
	}
}
