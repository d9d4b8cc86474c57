package odrequest

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Order selects the sort of a list query.
type Order int

const (
	NewestCreated Order = iota
	OldestCreated
	NewestApproved
	NewestODDate
)

func (o Order) clause() string {
	switch o {
	case OldestCreated:
		return "r.created_at ASC, r.id ASC"
	case NewestApproved:
		return "r.approved_at DESC, r.id DESC"
	case NewestODDate:
		return "r.od_date DESC, r.created_at DESC"
	}
	return "r.created_at DESC, r.id DESC"
}

// Filter narrows a list query. Zero fields match everything.
type Filter struct {
	StudentID string
	Status    Status
	Order     Order
	Limit     int
}

const selectRequests = `
	SELECT r.id, r.student_id, r.title, r.od_type, r.event_name, r.od_date, r.timings, r.period,
		r.attachment_url, r.attachment_key, r.status, r.rejection_reason, r.created_at, r.approved_by,
		r.approved_at, s.name, s.email, s.register_number, s.department, s.section
	FROM od_requests r
	LEFT JOIN students s ON s.account_id = r.student_id`

// Repository persists OD requests.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new request.
func (r *Repository) Insert(ctx context.Context, req Request) error {
	var key any
	if req.AttachmentKey != "" {
		key = req.AttachmentKey
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO od_requests (id, student_id, title, od_type, event_name, od_date, timings, period,
			attachment_url, attachment_key, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, req.ID, req.StudentID, req.Title, string(req.Type), req.EventName, req.ODDate, req.Timings, req.Period,
		req.AttachmentURL, key, string(req.Status), req.CreatedAt)
	return err
}

// Get returns a request with its owner, or nil when absent.
func (r *Repository) Get(ctx context.Context, id string) (*Request, error) {
	row := r.db.QueryRowContext(ctx, selectRequests+` WHERE r.id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

// List returns requests joined with their owner in one query.
func (r *Repository) List(ctx context.Context, f Filter) ([]Request, error) {
	query := selectRequests
	args := []any{}
	clauses := []string{}
	if f.StudentID != "" {
		args = append(args, f.StudentID)
		clauses = append(clauses, "r.student_id = $"+strconv.Itoa(len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		clauses = append(clauses, "r.status = $"+strconv.Itoa(len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY " + f.Order.clause()
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// Decide moves a pending request to status and reports whether a row changed.
// Already decided or missing requests leave the table untouched.
func (r *Repository) Decide(ctx context.Context, id string, status Status, approvedBy *string, approvedAt *time.Time, reason *string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE od_requests
		SET status = $1, approved_by = $2, approved_at = $3, rejection_reason = $4
		WHERE id = $5 AND status = 'pending'
	`, string(status), approvedBy, approvedAt, reason, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// AttendanceFor fetches the attendance of many requests in one query, keyed by request id.
func (r *Repository) AttendanceFor(ctx context.Context, ids []string) (map[string][]AttendanceMark, error) {
	out := make(map[string][]AttendanceMark, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT od_request_id, date, is_present FROM attendance
		WHERE od_request_id IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY date ASC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var m AttendanceMark
		if err := rows.Scan(&id, &m.Date, &m.IsPresent); err != nil {
			return nil, err
		}
		out[id] = append(out[id], m)
	}
	return out, rows.Err()
}

// Counts aggregates requests by status, for one student when studentID is set.
func (r *Repository) Counts(ctx context.Context, studentID string) (Counts, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'approved' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'rejected' THEN 1 ELSE 0 END), 0)
		FROM od_requests`
	args := []any{}
	if studentID != "" {
		query += ` WHERE student_id = $1`
		args = append(args, studentID)
	}
	var c Counts
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&c.Total, &c.Pending, &c.Approved, &c.Rejected)
	return c, err
}

// CountStudents returns the number of student profiles.
func (r *Repository) CountStudents(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM students`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(s scanner) (Request, error) {
	var (
		req                                     Request
		typ, status                             string
		period, url, key, reason, approvedBy    sql.NullString
		approvedAt                              sql.NullTime
		name, email, regNo, department, section sql.NullString
	)
	if err := s.Scan(&req.ID, &req.StudentID, &req.Title, &typ, &req.EventName, &req.ODDate, &req.Timings, &period,
		&url, &key, &status, &reason, &req.CreatedAt, &approvedBy, &approvedAt,
		&name, &email, &regNo, &department, &section); err != nil {
		return Request{}, err
	}
	req.Type = Type(typ)
	req.Status = Status(status)
	req.Period = nullString(period)
	req.AttachmentURL = nullString(url)
	req.AttachmentKey = key.String
	req.RejectionReason = nullString(reason)
	req.ApprovedBy = nullString(approvedBy)
	if approvedAt.Valid {
		t := approvedAt.Time.UTC()
		req.ApprovedAt = &t
	}
	req.CreatedAt = req.CreatedAt.UTC()
	if name.Valid {
		req.Student = &StudentInfo{
			Name:           name.String,
			Email:          email.String,
			RegisterNumber: regNo.String,
			Department:     department.String,
			Section:        section.String,
		}
	}
	return req, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
