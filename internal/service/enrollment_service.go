package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/uniportal-api/internal/models"
	"github.com/noah-isme/uniportal-api/pkg/database"
	appErrors "github.com/noah-isme/uniportal-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id int64) (*models.EnrollmentDetail, error)
	ExistsEnrolled(ctx context.Context, exec sqlx.ExtContext, studentID, sectionID, excludeID int64) (bool, error)
	Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id int64, status models.EnrollmentStatus) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id int64) error
}

type seatLocker interface {
	LockByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Section, error)
	CountEnrolled(ctx context.Context, exec sqlx.ExtContext, sectionID int64) (int, error)
}

type studentReader interface {
	FindStudentByID(ctx context.Context, id int64) (*models.Student, error)
}

type gradeRemover interface {
	DeleteByEnrollment(ctx context.Context, exec sqlx.ExtContext, enrollmentID int64) error
}

// AdmitRequest describes an admission into a section.
type AdmitRequest struct {
	StudentID int64 `json:"student_id" validate:"required,gt=0"`
	SectionID int64 `json:"section_id" validate:"required,gt=0"`
}

// EnrollmentStatusRequest changes an enrollment's status.
type EnrollmentStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// EnrollmentService orchestrates admissions, status changes and purges.
type EnrollmentService struct {
	repo      enrollmentRepository
	sections  seatLocker
	students  studentReader
	grades    gradeRemover
	tx        transactor
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService. cache and metrics may be nil.
func NewEnrollmentService(repo enrollmentRepository, sections seatLocker, students studentReader, grades gradeRemover, tx transactor, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:      repo,
		sections:  sections,
		students:  students,
		grades:    grades,
		tx:        tx,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list enrollments")
	}
	return enrollments, paginate(filter.Page, filter.PageSize, total), nil
}

// Get returns an enrollment detail.
func (s *EnrollmentService) Get(ctx context.Context, id int64) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Internal(err, "failed to load enrollment")
	}
	return detail, nil
}

// Admit places a student into a section. Checks run in order: student and section exist,
// section is open, a seat is free, the student holds no active seat. The section row stays
// locked from the seat count until the insert commits.
func (s *EnrollmentService) Admit(ctx context.Context, req AdmitRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	if _, err := s.students.FindStudentByID(ctx, req.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.admitOutcome(appErrors.Clone(appErrors.ErrNotFound, "student not found"))
		}
		return nil, s.admitOutcome(appErrors.Internal(err, "failed to load student"))
	}

	enrollment := &models.Enrollment{StudentID: req.StudentID, SectionID: req.SectionID, Status: models.EnrollmentStatusEnrolled}
	start := time.Now()
	err := s.tx.WithinTx(ctx, func(tx sqlx.ExtContext) error {
		section, err := s.sections.LockByID(ctx, tx, req.SectionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "section not found")
			}
			return appErrors.Internal(err, "failed to lock section")
		}
		if section.Status != models.SectionStatusOpen {
			return appErrors.Clone(appErrors.ErrSectionNotOpen, "")
		}
		if err := s.claimSeat(ctx, tx, section, req.StudentID, 0); err != nil {
			return err
		}
		enrollment.EnrolledAt = time.Now().UTC()
		if err := s.repo.Create(ctx, tx, enrollment); err != nil {
			if database.IsUniqueViolation(err) {
				return appErrors.Wrap(err, appErrors.ErrAlreadyEnrolled.Code, appErrors.ErrAlreadyEnrolled.Status, appErrors.ErrAlreadyEnrolled.Message)
			}
			return err
		}
		return nil
	})
	s.metrics.ObserveDBQuery("enrollment_admit", time.Since(start))
	if err != nil {
		return nil, s.admitOutcome(normaliseTxError(err))
	}
	s.admitOutcome(nil)
	s.logger.Info("student admitted",
		zap.Int64("enrollment_id", enrollment.ID),
		zap.Int64("student_id", req.StudentID),
		zap.Int64("section_id", req.SectionID),
	)
	s.cache.Invalidate(ctx, sectionCachePattern)
	return s.loadDetail(ctx, enrollment.ID)
}

// ChangeStatus moves an enrollment to any status. Entering ENROLLED re-checks capacity and
// uniqueness under the section lock, so every path to an active seat honours both limits.
func (s *EnrollmentService) ChangeStatus(ctx context.Context, id int64, req EnrollmentStatusRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	status, ok := models.ParseEnrollmentStatus(req.Status)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "status must be one of ENROLLED, COMPLETED, CANCELED")
	}
	return s.changeStatus(ctx, id, status)
}

// Withdraw cancels an enrollment, releasing its seat.
func (s *EnrollmentService) Withdraw(ctx context.Context, id int64) (*models.EnrollmentDetail, error) {
	return s.changeStatus(ctx, id, models.EnrollmentStatusCanceled)
}

func (s *EnrollmentService) changeStatus(ctx context.Context, id int64, status models.EnrollmentStatus) (*models.EnrollmentDetail, error) {
	var previous models.EnrollmentStatus
	err := s.tx.WithinTx(ctx, func(tx sqlx.ExtContext) error {
		enrollment, err := s.repo.LockByID(ctx, tx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
			}
			return appErrors.Internal(err, "failed to load enrollment")
		}
		previous = enrollment.Status
		if status == models.EnrollmentStatusEnrolled && enrollment.Status != models.EnrollmentStatusEnrolled {
			section, err := s.sections.LockByID(ctx, tx, enrollment.SectionID)
			if err != nil {
				return appErrors.Internal(err, "failed to lock section")
			}
			if err := s.claimSeat(ctx, tx, section, enrollment.StudentID, enrollment.ID); err != nil {
				return err
			}
		}
		if err := s.repo.UpdateStatus(ctx, tx, id, status); err != nil {
			if database.IsUniqueViolation(err) {
				return appErrors.Wrap(err, appErrors.ErrAlreadyEnrolled.Code, appErrors.ErrAlreadyEnrolled.Status, appErrors.ErrAlreadyEnrolled.Message)
			}
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, normaliseTxError(err)
	}
	s.logger.Info("enrollment status changed",
		zap.Int64("enrollment_id", id),
		zap.String("from", string(previous)),
		zap.String("to", string(status)),
	)
	s.cache.Invalidate(ctx, sectionCachePattern)
	return s.loadDetail(ctx, id)
}

// Delete purges an enrollment together with its grade.
func (s *EnrollmentService) Delete(ctx context.Context, id int64) error {
	err := s.tx.WithinTx(ctx, func(tx sqlx.ExtContext) error {
		if _, err := s.repo.LockByID(ctx, tx, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
			}
			return appErrors.Internal(err, "failed to load enrollment")
		}
		if err := s.grades.DeleteByEnrollment(ctx, tx, id); err != nil {
			return err
		}
		return s.repo.Delete(ctx, tx, id)
	})
	if err != nil {
		return normaliseTxError(err)
	}
	s.logger.Info("enrollment deleted", zap.Int64("enrollment_id", id))
	s.cache.Invalidate(ctx, sectionCachePattern)
	return nil
}

// claimSeat verifies a seat is free and the student holds no other active seat in the section.
// The caller must hold the section lock.
func (s *EnrollmentService) claimSeat(ctx context.Context, tx sqlx.ExtContext, section *models.Section, studentID, excludeID int64) error {
	enrolled, err := s.sections.CountEnrolled(ctx, tx, section.ID)
	if err != nil {
		return appErrors.Internal(err, "failed to count enrolled seats")
	}
	if enrolled >= section.Capacity {
		return appErrors.Clone(appErrors.ErrSectionFull, "")
	}
	exists, err := s.repo.ExistsEnrolled(ctx, tx, studentID, section.ID, excludeID)
	if err != nil {
		return appErrors.Internal(err, "failed to check existing enrollment")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrAlreadyEnrolled, "")
	}
	return nil
}

func (s *EnrollmentService) admitOutcome(err error) error {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = appErrors.FromError(err).Code
	}
	s.metrics.RecordAdmission(outcome)
	return err
}

func (s *EnrollmentService) loadDetail(ctx context.Context, id int64) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load enrollment detail")
	}
	return detail, nil
}

// normaliseTxError maps a failed unit of work onto the error surface. Transient PostgreSQL
// concurrency failures become a retryable conflict.
func normaliseTxError(err error) error {
	if database.IsRetryable(err) {
		return appErrors.Conflict(err)
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Internal(err, "transaction failed")
}
