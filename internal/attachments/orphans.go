package attachments

import (
	"context"
	"database/sql"
	"time"

	"odportal/internal/metrics"
)

// Orphan is an uploaded object whose request row was never written.
type Orphan struct {
	Key        string
	RecordedAt time.Time
	Attempts   int
	LastError  string
}

// Orphans tracks objects awaiting cleanup.
type Orphans struct {
	db  *sql.DB
	now func() time.Time
}

// NewOrphans creates the orphan ledger.
func NewOrphans(db *sql.DB) *Orphans {
	return &Orphans{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Record adds key to the ledger; recording the same key twice is a no-op.
func (o *Orphans) Record(ctx context.Context, key string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := o.db.ExecContext(ctx, `
		INSERT INTO orphaned_attachments (storage_key, recorded_at, attempts, last_error)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (storage_key) DO NOTHING
	`, key, o.now(), msg)
	return err
}

// Pending lists orphans with fewer than maxAttempts cleanup attempts, oldest first.
func (o *Orphans) Pending(ctx context.Context, maxAttempts, limit int) ([]Orphan, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := o.db.QueryContext(ctx, `
		SELECT storage_key, recorded_at, attempts, last_error
		FROM orphaned_attachments
		WHERE attempts < $1
		ORDER BY recorded_at ASC
		LIMIT $2
	`, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Orphan
	for rows.Next() {
		var item Orphan
		if err := rows.Scan(&item.Key, &item.RecordedAt, &item.Attempts, &item.LastError); err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, rows.Err()
}

// Retry deletes the object and settles the ledger row: removed on success,
// attempts incremented on failure. The delete error is returned.
func (o *Orphans) Retry(ctx context.Context, storage Storage, key string) error {
	if err := storage.Delete(ctx, key); err != nil {
		metrics.AttachmentOrphans.WithLabelValues("retry_failed").Inc()
		if _, uerr := o.db.ExecContext(ctx, `
			UPDATE orphaned_attachments SET attempts = attempts + 1, last_error = $1 WHERE storage_key = $2
		`, err.Error(), key); uerr != nil {
			return uerr
		}
		return err
	}
	metrics.AttachmentOrphans.WithLabelValues("cleaned").Inc()
	_, err := o.db.ExecContext(ctx, `DELETE FROM orphaned_attachments WHERE storage_key = $1`, key)
	return err
}
