package attendance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"odportal/internal/auth"
	"odportal/internal/metrics"
	"odportal/internal/odrequest"
	"odportal/internal/store"
)

var (
	ErrNotApproved   = errors.New("od request is not approved")
	ErrAlreadyMarked = errors.New("attendance already marked for this date")
	ErrInvalidDate   = errors.New("date must be YYYY-MM-DD")
)

// Record is one attendance mark. Marks are never updated once written.
type Record struct {
	ID          string    `json:"id"`
	ODRequestID string    `json:"od_request_id"`
	Date        string    `json:"date"`
	IsPresent   bool      `json:"is_present"`
	CreatedAt   time.Time `json:"created_at"`
}

// PresentStudent is a present mark with its request and student.
type PresentStudent struct {
	Date           string `json:"date"`
	RequestID      string `json:"od_request_id"`
	Title          string `json:"title"`
	EventName      string `json:"event_name"`
	StudentID      string `json:"student_id"`
	Name           string `json:"name"`
	RegisterNumber string `json:"register_number"`
	Department     string `json:"department"`
	Section        string `json:"section"`
}

// CalendarDay groups the students present on one date.
type CalendarDay struct {
	Date     string           `json:"date"`
	Students []PresentStudent `json:"students"`
}

// Requests looks up OD requests; *odrequest.Repository implements it.
type Requests interface {
	Get(ctx context.Context, id string) (*odrequest.Request, error)
}

// Service records attendance against approved OD requests.
type Service struct {
	repo     *Repository
	requests Requests
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a service backed by a repository.
func NewService(repo *Repository, requests Requests, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		requests: requests,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Status returns the existing mark for the request and date, or nil. An empty
// date means the request's OD date.
func (s *Service) Status(ctx context.Context, p auth.Principal, requestID, date string) (*Record, error) {
	if !p.Role.Valid() {
		return nil, auth.ErrNoProfile
	}
	req, err := s.request(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if p.IsStudent() && req.StudentID != p.AccountID {
		return nil, auth.ErrForbidden
	}
	date, err = markDate(date, req.ODDate)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, req.ID, date)
}

// Mark records the caller's presence for one date of their approved request.
func (s *Service) Mark(ctx context.Context, p auth.Principal, requestID, date string, present bool) (Record, error) {
	if err := p.RequireStudent(); err != nil {
		return Record{}, err
	}
	req, err := s.request(ctx, requestID)
	if err != nil {
		return Record{}, err
	}
	if req.StudentID != p.AccountID {
		return Record{}, auth.ErrForbidden
	}
	if req.Status != odrequest.StatusApproved {
		return Record{}, ErrNotApproved
	}
	date, err = markDate(date, req.ODDate)
	if err != nil {
		return Record{}, err
	}

	existing, err := s.repo.Get(ctx, req.ID, date)
	if err != nil {
		return Record{}, err
	}
	if existing != nil {
		return Record{}, ErrAlreadyMarked
	}
	rec := Record{
		ID:          uuid.NewString(),
		ODRequestID: req.ID,
		Date:        date,
		IsPresent:   present,
		CreatedAt:   s.now(),
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		if store.IsUniqueViolation(err) {
			return Record{}, ErrAlreadyMarked
		}
		return Record{}, fmt.Errorf("insert attendance: %w", err)
	}
	metrics.AttendanceMarked.WithLabelValues(strconv.FormatBool(present)).Inc()
	s.logger.Info("attendance marked",
		zap.String("od_request_id", req.ID),
		zap.String("date", date),
		zap.Bool("present", present))
	return rec, nil
}

// Calendar groups every present mark by date, newest date first.
func (s *Service) Calendar(ctx context.Context, p auth.Principal) ([]CalendarDay, error) {
	if err := p.RequireTeacher(); err != nil {
		return nil, err
	}
	present, err := s.repo.Present(ctx, "")
	if err != nil {
		return nil, err
	}
	days := []CalendarDay{}
	for _, ps := range present {
		if n := len(days); n == 0 || days[n-1].Date != ps.Date {
			days = append(days, CalendarDay{Date: ps.Date})
		}
		last := &days[len(days)-1]
		last.Students = append(last.Students, ps)
	}
	return days, nil
}

// Day lists the students present on date.
func (s *Service) Day(ctx context.Context, p auth.Principal, date string) ([]PresentStudent, error) {
	if err := p.RequireTeacher(); err != nil {
		return nil, err
	}
	date = strings.TrimSpace(date)
	if !validDate(date) {
		return nil, ErrInvalidDate
	}
	return s.repo.Present(ctx, date)
}

func (s *Service) request(ctx context.Context, id string) (*odrequest.Request, error) {
	req, err := s.requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, odrequest.ErrNotFound
	}
	return req, nil
}

func markDate(date, fallback string) (string, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		date = fallback
	}
	if !validDate(date) {
		return "", ErrInvalidDate
	}
	return date, nil
}

func validDate(date string) bool {
	_, err := time.Parse(time.DateOnly, date)
	return err == nil
}
