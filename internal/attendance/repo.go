package attendance

import (
	"context"
	"database/sql"
	"errors"
)

// Repository persists attendance marks.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Get returns the mark for a request and date, or nil when none exists.
func (r *Repository) Get(ctx context.Context, requestID, date string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, od_request_id, date, is_present, created_at
		FROM attendance WHERE od_request_id = $1 AND date = $2
	`, requestID, date)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.ODRequestID, &rec.Date, &rec.IsPresent, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Insert writes a new mark. A second mark for the same request and date
// violates the unique constraint.
func (r *Repository) Insert(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance (id, od_request_id, date, is_present, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, rec.ODRequestID, rec.Date, rec.IsPresent, rec.CreatedAt)
	return err
}

// Present returns every present mark joined with its request and student,
// newest date first. A non-empty date restricts the result to that day.
func (r *Repository) Present(ctx context.Context, date string) ([]PresentStudent, error) {
	query := `
		SELECT a.date, r.id, r.title, r.event_name, r.student_id,
			COALESCE(s.name, ''), COALESCE(s.register_number, ''), COALESCE(s.department, ''), COALESCE(s.section, '')
		FROM attendance a
		JOIN od_requests r ON r.id = a.od_request_id
		LEFT JOIN students s ON s.account_id = r.student_id
		WHERE a.is_present = TRUE`
	args := []any{}
	if date != "" {
		query += ` AND a.date = $1`
		args = append(args, date)
	}
	query += ` ORDER BY a.date DESC, s.name ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []PresentStudent{}
	for rows.Next() {
		var p PresentStudent
		if err := rows.Scan(&p.Date, &p.RequestID, &p.Title, &p.EventName, &p.StudentID,
			&p.Name, &p.RegisterNumber, &p.Department, &p.Section); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
