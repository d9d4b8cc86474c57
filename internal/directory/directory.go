// Package directory serves the teacher-facing student list.
package directory

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"odportal/internal/auth"
)

// Student is a directory row with OD totals.
type Student struct {
	AccountID      string `json:"user_id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	RegisterNumber string `json:"register_number"`
	Department     string `json:"department"`
	Section        string `json:"section"`
	TotalODs       int    `json:"total_ods"`
	ApprovedODs    int    `json:"approved_ods"`
}

// Filter narrows the directory. Search matches name, email or register number
// case-insensitively; Department must match exactly.
type Filter struct {
	Search     string
	Department string
}

// Service reads the directory.
type Service struct {
	db *sql.DB
}

// NewService creates the service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Students lists student profiles with their OD counts in one aggregate query.
func (s *Service) Students(ctx context.Context, p auth.Principal, f Filter) ([]Student, error) {
	if err := p.RequireTeacher(); err != nil {
		return nil, err
	}
	query := `
		SELECT pr.account_id, pr.name, pr.email, pr.register_number, pr.department, pr.section,
			COUNT(r.id),
			COALESCE(SUM(CASE WHEN r.status = 'approved' THEN 1 ELSE 0 END), 0)
		FROM profiles pr
		LEFT JOIN od_requests r ON r.student_id = pr.account_id
		WHERE pr.role = 'student'`
	args := []any{}
	if search := strings.ToLower(strings.TrimSpace(f.Search)); search != "" {
		args = append(args, "%"+search+"%")
		n := "$" + strconv.Itoa(len(args))
		query += ` AND (LOWER(pr.name) LIKE ` + n + ` OR LOWER(pr.email) LIKE ` + n + ` OR LOWER(pr.register_number) LIKE ` + n + `)`
	}
	if dept := strings.TrimSpace(f.Department); dept != "" {
		args = append(args, dept)
		query += ` AND pr.department = $` + strconv.Itoa(len(args))
	}
	query += `
		GROUP BY pr.account_id, pr.name, pr.email, pr.register_number, pr.department, pr.section
		ORDER BY pr.name ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Student{}
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.AccountID, &st.Name, &st.Email, &st.RegisterNumber, &st.Department, &st.Section,
			&st.TotalODs, &st.ApprovedODs); err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

// Departments lists the distinct non-empty student departments.
func (s *Service) Departments(ctx context.Context, p auth.Principal) ([]string, error) {
	if err := p.RequireTeacher(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT department FROM profiles
		WHERE role = 'student' AND department <> ''
		ORDER BY department
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
