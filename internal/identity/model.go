package identity

import (
	"time"

	"odportal/internal/auth"
)

// Student is the student profile variant.
type Student struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"user_id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	RegisterNumber string    `json:"register_number,omitempty"`
	Department     string    `json:"department,omitempty"`
	Section        string    `json:"section,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Teacher is the teacher profile variant.
type Teacher struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"user_id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Department  string    `json:"department,omitempty"`
	Designation string    `json:"designation,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Profile is the resolved variant of an account. Exactly one of Student and
// Teacher is set. Inconsistent marks accounts that also have a row in the
// other table; those resolve to the student variant.
type Profile struct {
	Role         auth.Role `json:"role"`
	Student      *Student  `json:"student,omitempty"`
	Teacher      *Teacher  `json:"teacher,omitempty"`
	Inconsistent bool      `json:"inconsistent,omitempty"`
}

// ID returns the id of the set variant.
func (p *Profile) ID() string {
	switch {
	case p == nil:
		return ""
	case p.Student != nil:
		return p.Student.ID
	case p.Teacher != nil:
		return p.Teacher.ID
	}
	return ""
}

// Name returns the display name of the set variant.
func (p *Profile) Name() string {
	switch {
	case p == nil:
		return ""
	case p.Student != nil:
		return p.Student.Name
	case p.Teacher != nil:
		return p.Teacher.Name
	}
	return ""
}

// ProfileInput carries the role-tagged metadata supplied at sign-up or when a
// role-less account completes its profile.
type ProfileInput struct {
	Role           auth.Role `json:"role" validate:"required,oneof=student teacher"`
	Name           string    `json:"name" validate:"required,max=120"`
	RegisterNumber string    `json:"register_number" validate:"max=40"`
	Department     string    `json:"department" validate:"max=80"`
	Section        string    `json:"section" validate:"max=20"`
	Designation    string    `json:"designation" validate:"max=80"`
}
