// Package events keeps the catalog of college events students can cite in OD requests.
package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"odportal/internal/auth"
)

var ErrInvalidInput = errors.New("invalid event")

// Event is a catalog entry.
type Event struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	EventDate string    `json:"event_date"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateInput is the teacher-supplied part of a new event.
type CreateInput struct {
	Title     string `json:"title" validate:"required,max=200"`
	EventDate string `json:"event_date" validate:"required,datetime=2006-01-02"`
}

// Service manages the catalog.
type Service struct {
	db       *sql.DB
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates the service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db, validate: validator.New(), now: func() time.Time { return time.Now().UTC() }}
}

// Create adds an event. Teachers only.
func (s *Service) Create(ctx context.Context, p auth.Principal, in CreateInput) (Event, error) {
	if err := p.RequireTeacher(); err != nil {
		return Event{}, err
	}
	in.Title = strings.TrimSpace(in.Title)
	in.EventDate = strings.TrimSpace(in.EventDate)
	if err := s.validate.Struct(in); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	evt := Event{
		ID:        uuid.NewString(),
		Title:     in.Title,
		EventDate: in.EventDate,
		CreatedBy: p.AccountID,
		CreatedAt: s.now(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, title, event_date, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, evt.ID, evt.Title, evt.EventDate, evt.CreatedBy, evt.CreatedAt)
	if err != nil {
		return Event{}, err
	}
	return evt, nil
}

// List returns all events by date, earliest first.
func (s *Service) List(ctx context.Context) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, event_date, created_by, created_at
		FROM events
		ORDER BY event_date ASC, title ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Event{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Title, &e.EventDate, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
