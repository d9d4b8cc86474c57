package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"odportal/internal/auth"
	"odportal/internal/metrics"
	"odportal/internal/store"
)

var (
	ErrLookupFailed   = errors.New("profile lookup failed")
	ErrProfileExists  = errors.New("profile already exists")
	ErrInvalidProfile = errors.New("invalid profile")
)

// Repo is the storage the service needs; *Repository implements it.
type Repo interface {
	StudentByAccount(ctx context.Context, accountID string) (*Student, error)
	TeacherByAccount(ctx context.Context, accountID string) (*Teacher, error)
	InsertStudent(ctx context.Context, q store.Querier, s Student) error
	InsertTeacher(ctx context.Context, q store.Querier, t Teacher) error
}

// Transactor runs fn in one database transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(store.Querier) error) error
}

// Service resolves and creates profiles.
type Service struct {
	repo     Repo
	tx       Transactor
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a service backed by a repository.
func NewService(repo Repo, tx Transactor, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		tx:       tx,
		validate: validator.New(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Resolve returns the caller's profile. The student table is probed first and
// wins when both tables hold a row. A nil profile with a nil error means the
// account has no profile. An error is returned only when nothing was found and
// at least one lookup failed.
func (s *Service) Resolve(ctx context.Context, accountID string) (*Profile, error) {
	if accountID == "" {
		return nil, nil
	}

	student, studentErr := s.repo.StudentByAccount(ctx, accountID)
	if studentErr != nil {
		s.logger.Error("student profile lookup failed", zap.String("account_id", accountID), zap.Error(studentErr))
	}
	teacher, teacherErr := s.repo.TeacherByAccount(ctx, accountID)
	if teacherErr != nil {
		s.logger.Error("teacher profile lookup failed", zap.String("account_id", accountID), zap.Error(teacherErr))
	}

	switch {
	case student != nil:
		p := &Profile{Role: auth.RoleStudent, Student: student}
		if teacher != nil {
			p.Inconsistent = true
			metrics.IdentityInconsistent.Inc()
			s.logger.Warn("account has both student and teacher profiles, resolving as student",
				zap.String("account_id", accountID),
				zap.String("student_id", student.ID),
				zap.String("teacher_id", teacher.ID))
		}
		return p, nil
	case teacher != nil:
		return &Profile{Role: auth.RoleTeacher, Teacher: teacher}, nil
	case studentErr != nil || teacherErr != nil:
		return nil, fmt.Errorf("%w: %w", ErrLookupFailed, errors.Join(studentErr, teacherErr))
	}
	return nil, nil
}

// RoleOf adapts Resolve to auth.RoleResolver.
func (s *Service) RoleOf(ctx context.Context, accountID string) (auth.Role, string, error) {
	p, err := s.Resolve(ctx, accountID)
	if err != nil || p == nil {
		return auth.RoleNone, "", err
	}
	return p.Role, p.ID(), nil
}

// CreateProfile gives a role-less account its profile.
func (s *Service) CreateProfile(ctx context.Context, accountID, email string, in ProfileInput) (*Profile, error) {
	existing, err := s.Resolve(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrProfileExists
	}
	var created *Profile
	err = s.tx.WithTx(ctx, func(q store.Querier) error {
		p, err := s.CreateProfileTx(ctx, q, accountID, email, in)
		created = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateProfileTx validates in and writes the role-specific and generic profile rows using q.
func (s *Service) CreateProfileTx(ctx context.Context, q store.Querier, accountID, email string, in ProfileInput) (*Profile, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	now := s.now()

	var p *Profile
	var err error
	switch in.Role {
	case auth.RoleStudent:
		st := Student{
			ID:             uuid.NewString(),
			AccountID:      accountID,
			Name:           in.Name,
			Email:          email,
			RegisterNumber: strings.TrimSpace(in.RegisterNumber),
			Department:     strings.TrimSpace(in.Department),
			Section:        strings.TrimSpace(in.Section),
			CreatedAt:      now,
		}
		err = s.repo.InsertStudent(ctx, q, st)
		p = &Profile{Role: auth.RoleStudent, Student: &st}
	case auth.RoleTeacher:
		t := Teacher{
			ID:          uuid.NewString(),
			AccountID:   accountID,
			Name:        in.Name,
			Email:       email,
			Department:  strings.TrimSpace(in.Department),
			Designation: strings.TrimSpace(in.Designation),
			CreatedAt:   now,
		}
		err = s.repo.InsertTeacher(ctx, q, t)
		p = &Profile{Role: auth.RoleTeacher, Teacher: &t}
	}
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, ErrProfileExists
		}
		return nil, err
	}
	return p, nil
}
