package identity

import (
	"context"
	"database/sql"
	"errors"

	"odportal/internal/store"
)

// Repository reads and writes the profile tables.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// StudentByAccount returns the student row of an account, or nil when absent.
func (r *Repository) StudentByAccount(ctx context.Context, accountID string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, name, email, register_number, department, section, created_at
		FROM students WHERE account_id = $1
	`, accountID)
	var s Student
	if err := row.Scan(&s.ID, &s.AccountID, &s.Name, &s.Email, &s.RegisterNumber, &s.Department, &s.Section, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// TeacherByAccount returns the teacher row of an account, or nil when absent.
func (r *Repository) TeacherByAccount(ctx context.Context, accountID string) (*Teacher, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, name, email, department, designation, created_at
		FROM teachers WHERE account_id = $1
	`, accountID)
	var t Teacher
	if err := row.Scan(&t.ID, &t.AccountID, &t.Name, &t.Email, &t.Department, &t.Designation, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// InsertStudent writes the student row and its generic profile row.
func (r *Repository) InsertStudent(ctx context.Context, q store.Querier, s Student) error {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO students (id, account_id, name, email, register_number, department, section, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.ID, s.AccountID, s.Name, s.Email, s.RegisterNumber, s.Department, s.Section, s.CreatedAt); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO profiles (account_id, role, name, email, register_number, department, section, created_at)
		VALUES ($1, 'student', $2, $3, $4, $5, $6, $7)
	`, s.AccountID, s.Name, s.Email, s.RegisterNumber, s.Department, s.Section, s.CreatedAt)
	return err
}

// InsertTeacher writes the teacher row and its generic profile row.
func (r *Repository) InsertTeacher(ctx context.Context, q store.Querier, t Teacher) error {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO teachers (id, account_id, name, email, department, designation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.AccountID, t.Name, t.Email, t.Department, t.Designation, t.CreatedAt); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO profiles (account_id, role, name, email, department, created_at)
		VALUES ($1, 'teacher', $2, $3, $4, $5)
	`, t.AccountID, t.Name, t.Email, t.Department, t.CreatedAt)
	return err
}
