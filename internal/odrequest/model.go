package odrequest

import (
	"io"
	"time"
)

// Status of an OD request. Only pending moves, and only to approved or rejected.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Type is the OD category.
type Type string

const (
	TypeDaily Type = "daily"
	TypeEvent Type = "event"
)

// Request is an OD request row, optionally enriched with its owner and attendance.
type Request struct {
	ID              string           `json:"id"`
	StudentID       string           `json:"student_id"`
	Title           string           `json:"title"`
	Type            Type             `json:"od_type"`
	EventName       string           `json:"event_name"`
	ODDate          string           `json:"od_date"`
	Timings         string           `json:"timings"`
	Period          *string          `json:"period"`
	AttachmentURL   *string          `json:"attachment_url"`
	AttachmentKey   string           `json:"-"`
	Status          Status           `json:"status"`
	RejectionReason *string          `json:"rejection_reason"`
	CreatedAt       time.Time        `json:"created_at"`
	ApprovedBy      *string          `json:"approved_by"`
	ApprovedAt      *time.Time       `json:"approved_at"`
	Student         *StudentInfo     `json:"student,omitempty"`
	Attendance      []AttendanceMark `json:"attendance,omitempty"`
}

// StudentInfo is the owner profile joined onto list views.
type StudentInfo struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	RegisterNumber string `json:"register_number"`
	Department     string `json:"department"`
	Section        string `json:"section"`
}

// AttendanceMark is one attendance record of a request.
type AttendanceMark struct {
	Date      string `json:"date"`
	IsPresent bool   `json:"is_present"`
}

// CreateInput is the student-supplied part of a new request.
type CreateInput struct {
	Title     string `json:"title" form:"title" validate:"required,max=200"`
	Type      Type   `json:"od_type" form:"od_type" validate:"required,oneof=daily event"`
	EventName string `json:"event_name" form:"event_name" validate:"required,max=200"`
	ODDate    string `json:"od_date" form:"od_date" validate:"required,datetime=2006-01-02"`
	Timings   string `json:"timings" form:"timings" validate:"required,max=100"`
	Period    string `json:"period" form:"period" validate:"max=100"`
}

// Attachment is an optional supporting document uploaded with a new request.
type Attachment struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Counts aggregates requests by status.
type Counts struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

// TeacherDashboard is the landing summary for teachers.
type TeacherDashboard struct {
	Counts
	Students      int       `json:"students"`
	RecentPending []Request `json:"recent_pending"`
}

// StudentDashboard is the landing summary for students.
type StudentDashboard struct {
	Counts
	Recent []Request `json:"recent"`
}
