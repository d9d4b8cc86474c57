package odrequest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"odportal/internal/attachments"
	"odportal/internal/auth"
	"odportal/internal/metrics"
	"odportal/internal/queue"
)

var (
	ErrInvalidInput      = errors.New("invalid od request")
	ErrNotFound          = errors.New("od request not found")
	ErrInvalidTransition = errors.New("od request already decided")
	ErrReasonRequired    = errors.New("rejection reason required")
	ErrAttachmentUpload  = errors.New("attachment upload failed")
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
	dashboardRecent  = 5
)

// Store is the persistence surface of the service; *Repository implements it.
type Store interface {
	Insert(ctx context.Context, req Request) error
	Get(ctx context.Context, id string) (*Request, error)
	List(ctx context.Context, f Filter) ([]Request, error)
	Decide(ctx context.Context, id string, status Status, approvedBy *string, approvedAt *time.Time, reason *string) (bool, error)
	AttendanceFor(ctx context.Context, ids []string) (map[string][]AttendanceMark, error)
	Counts(ctx context.Context, studentID string) (Counts, error)
	CountStudents(ctx context.Context) (int, error)
}

// OrphanRecorder remembers uploaded objects that could not be cleaned up inline.
type OrphanRecorder interface {
	Record(ctx context.Context, key string, cause error) error
}

// publishTimeout bounds how long a committed decision waits on a full queue.
const publishTimeout = 2 * time.Second

// Service implements the OD request lifecycle.
type Service struct {
	store          Store
	storage        attachments.Storage
	orphans        OrphanRecorder
	queue          queue.Queue
	publishTimeout time.Duration
	validate       *validator.Validate
	logger         *zap.Logger
	now            func() time.Time
}

// NewService wires the lifecycle. storage and q may be nil; requests with an
// attachment then fail with ErrAttachmentUpload and no events are published.
func NewService(store Store, storage attachments.Storage, orphans OrphanRecorder, q queue.Queue, logger *zap.Logger) *Service {
	return &Service{
		store:          store,
		storage:        storage,
		orphans:        orphans,
		queue:          q,
		publishTimeout: publishTimeout,
		validate:       validator.New(),
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Create submits a new pending request for the calling student. The attachment,
// when present, is uploaded before the row is written; if the write fails the
// upload is deleted again.
func (s *Service) Create(ctx context.Context, p auth.Principal, in CreateInput, att *Attachment) (Request, error) {
	if err := p.RequireStudent(); err != nil {
		return Request{}, err
	}
	in.Title = strings.TrimSpace(in.Title)
	in.EventName = strings.TrimSpace(in.EventName)
	in.ODDate = strings.TrimSpace(in.ODDate)
	in.Timings = strings.TrimSpace(in.Timings)
	in.Period = strings.TrimSpace(in.Period)
	if err := s.validate.Struct(in); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	now := s.now()
	req := Request{
		ID:        uuid.NewString(),
		StudentID: p.AccountID,
		Title:     in.Title,
		Type:      in.Type,
		EventName: in.EventName,
		ODDate:    in.ODDate,
		Timings:   in.Timings,
		Status:    StatusPending,
		CreatedAt: now,
	}
	if in.Period != "" {
		req.Period = &in.Period
	}

	if att != nil {
		obj, err := s.upload(ctx, attachments.Key(p.AccountID, att.Filename, now), att)
		if err != nil {
			metrics.AttachmentUploads.WithLabelValues("failure").Inc()
			s.logger.Warn("attachment upload failed", zap.String("account_id", p.AccountID), zap.Error(err))
			return Request{}, fmt.Errorf("%w: %v", ErrAttachmentUpload, err)
		}
		metrics.AttachmentUploads.WithLabelValues("success").Inc()
		req.AttachmentKey = obj.Key
		req.AttachmentURL = &obj.URL
	}

	if err := s.store.Insert(ctx, req); err != nil {
		if req.AttachmentKey != "" {
			s.discard(ctx, req.AttachmentKey)
		}
		return Request{}, fmt.Errorf("insert od request: %w", err)
	}
	metrics.ODRequestsCreated.Inc()
	s.logger.Info("od request created", zap.String("id", req.ID), zap.String("student_id", req.StudentID))
	return req, nil
}

func (s *Service) upload(ctx context.Context, key string, att *Attachment) (attachments.Object, error) {
	if s.storage == nil {
		return attachments.Object{}, attachments.ErrNotConfigured
	}
	return s.storage.Upload(ctx, key, att.Body, att.ContentType)
}

// discard deletes an upload whose request was never written. Failed deletes
// are recorded and handed to the worker.
func (s *Service) discard(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	err := s.storage.Delete(ctx, key)
	if err == nil {
		metrics.AttachmentOrphans.WithLabelValues("deleted").Inc()
		return
	}
	metrics.AttachmentOrphans.WithLabelValues("recorded").Inc()
	s.logger.Error("attachment cleanup failed", zap.String("key", key), zap.Error(err))
	if s.orphans != nil {
		if rerr := s.orphans.Record(ctx, key, err); rerr != nil {
			s.logger.Error("recording orphaned attachment failed", zap.String("key", key), zap.Error(rerr))
		}
	}
	s.publish(ctx, queue.TypeAttachmentOrphaned, queue.AttachmentOrphaned{Key: key})
}

// Approve moves a pending request to approved and stamps the approver.
func (s *Service) Approve(ctx context.Context, p auth.Principal, id string) (Request, error) {
	if err := p.RequireTeacher(); err != nil {
		return Request{}, err
	}
	now := s.now()
	approver := p.AccountID
	return s.decide(ctx, p, id, StatusApproved, &approver, &now, nil)
}

// Reject moves a pending request to rejected. The reason is checked trimmed but
// stored as given.
func (s *Service) Reject(ctx context.Context, p auth.Principal, id, reason string) (Request, error) {
	if err := p.RequireTeacher(); err != nil {
		return Request{}, err
	}
	if strings.TrimSpace(reason) == "" {
		return Request{}, ErrReasonRequired
	}
	return s.decide(ctx, p, id, StatusRejected, nil, nil, &reason)
}

func (s *Service) decide(ctx context.Context, p auth.Principal, id string, status Status, approvedBy *string, approvedAt *time.Time, reason *string) (Request, error) {
	changed, err := s.store.Decide(ctx, id, status, approvedBy, approvedAt, reason)
	if err != nil {
		return Request{}, fmt.Errorf("decide od request: %w", err)
	}
	req, err := s.store.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if req == nil {
		return Request{}, ErrNotFound
	}
	if !changed {
		return Request{}, fmt.Errorf("%w: status is %s", ErrInvalidTransition, req.Status)
	}

	metrics.ODDecisions.WithLabelValues(string(status)).Inc()
	s.logger.Info("od request decided",
		zap.String("id", id),
		zap.String("status", string(status)),
		zap.String("teacher_id", p.AccountID))
	s.publish(ctx, queue.TypeRequestDecided, queue.RequestDecided{
		RequestID: id,
		StudentID: req.StudentID,
		TeacherID: p.AccountID,
		Status:    string(status),
		DecidedAt: s.now(),
	})
	return *req, nil
}

// publish is best effort. A full or unreachable queue drops the message after
// publishTimeout.
func (s *Service) publish(ctx context.Context, typ string, payload any) {
	if s.queue == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	msg, err := queue.NewMessage(typ, payload)
	if err == nil {
		err = s.queue.Publish(ctx, msg)
	}
	if err != nil {
		s.logger.Warn("queue publish failed", zap.String("type", typ), zap.Error(err))
	}
}

// Get returns one request to its owner or to any teacher.
func (s *Service) Get(ctx context.Context, p auth.Principal, id string) (Request, error) {
	if !p.Role.Valid() {
		return Request{}, auth.ErrNoProfile
	}
	req, err := s.store.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if req == nil {
		return Request{}, ErrNotFound
	}
	if p.IsStudent() && req.StudentID != p.AccountID {
		return Request{}, auth.ErrForbidden
	}
	return *req, nil
}

// ListMine returns the caller's requests, newest first.
func (s *Service) ListMine(ctx context.Context, p auth.Principal, limit int) ([]Request, error) {
	if err := p.RequireStudent(); err != nil {
		return nil, err
	}
	return s.store.List(ctx, Filter{StudentID: p.AccountID, Order: NewestCreated, Limit: clampLimit(limit)})
}

// ListPending returns the review queue, oldest first.
func (s *Service) ListPending(ctx context.Context, p auth.Principal) ([]Request, error) {
	if err := p.RequireTeacher(); err != nil {
		return nil, err
	}
	return s.store.List(ctx, Filter{Status: StatusPending, Order: OldestCreated})
}

// ListApproved returns approved requests, most recently approved first, with attendance.
func (s *Service) ListApproved(ctx context.Context, p auth.Principal) ([]Request, error) {
	if err := p.RequireTeacher(); err != nil {
		return nil, err
	}
	reqs, err := s.store.List(ctx, Filter{Status: StatusApproved, Order: NewestApproved})
	if err != nil {
		return nil, err
	}
	return s.withAttendance(ctx, reqs)
}

// ListApprovedForStudent returns the caller's approved requests with their attendance.
func (s *Service) ListApprovedForStudent(ctx context.Context, p auth.Principal) ([]Request, error) {
	if err := p.RequireStudent(); err != nil {
		return nil, err
	}
	reqs, err := s.store.List(ctx, Filter{StudentID: p.AccountID, Status: StatusApproved, Order: NewestODDate})
	if err != nil {
		return nil, err
	}
	return s.withAttendance(ctx, reqs)
}

func (s *Service) withAttendance(ctx context.Context, reqs []Request) ([]Request, error) {
	ids := make([]string, len(reqs))
	for i := range reqs {
		ids[i] = reqs[i].ID
	}
	marks, err := s.store.AttendanceFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range reqs {
		reqs[i].Attendance = marks[reqs[i].ID]
	}
	return reqs, nil
}

// TeacherDashboard gathers the teacher summary concurrently.
func (s *Service) TeacherDashboard(ctx context.Context, p auth.Principal) (TeacherDashboard, error) {
	if err := p.RequireTeacher(); err != nil {
		return TeacherDashboard{}, err
	}
	var d TeacherDashboard
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.store.Counts(gctx, "")
		d.Counts = c
		return err
	})
	g.Go(func() error {
		n, err := s.store.CountStudents(gctx)
		d.Students = n
		return err
	})
	g.Go(func() error {
		reqs, err := s.store.List(gctx, Filter{Status: StatusPending, Order: NewestCreated, Limit: dashboardRecent})
		d.RecentPending = reqs
		return err
	})
	if err := g.Wait(); err != nil {
		return TeacherDashboard{}, err
	}
	return d, nil
}

// StudentDashboard gathers the caller's summary concurrently.
func (s *Service) StudentDashboard(ctx context.Context, p auth.Principal) (StudentDashboard, error) {
	if err := p.RequireStudent(); err != nil {
		return StudentDashboard{}, err
	}
	var d StudentDashboard
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.store.Counts(gctx, p.AccountID)
		d.Counts = c
		return err
	})
	g.Go(func() error {
		reqs, err := s.store.List(gctx, Filter{StudentID: p.AccountID, Order: NewestCreated, Limit: dashboardRecent})
		d.Recent = reqs
		return err
	})
	if err := g.Wait(); err != nil {
		return StudentDashboard{}, err
	}
	return d, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
