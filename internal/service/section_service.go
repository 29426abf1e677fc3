package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/uniportal-api/internal/models"
	appErrors "github.com/noah-isme/uniportal-api/pkg/errors"
)

const (
	sectionCachePattern   = "sections:*"
	sectionDetailCacheKey = "sections:detail:%d"
	sectionListCacheKey   = "sections:list:course=%d:teacher=%d:term=%s:status=%s:page=%d:limit=%d"
)

// sectionPage is the cached form of one List result.
type sectionPage struct {
	Items []models.SectionDetail `json:"items"`
	Total int                    `json:"total"`
}

type transactor interface {
	WithinTx(ctx context.Context, fn func(tx sqlx.ExtContext) error) error
}

type sectionRepository interface {
	List(ctx context.Context, filter models.SectionFilter) ([]models.SectionDetail, int, error)
	FindDetailByID(ctx context.Context, id int64) (*models.SectionDetail, error)
	FindByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Section, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Section, error)
	CountEnrolled(ctx context.Context, exec sqlx.ExtContext, sectionID int64) (int, error)
	Create(ctx context.Context, section *models.Section) error
	Update(ctx context.Context, exec sqlx.ExtContext, section *models.Section) error
	UpdateStatus(ctx context.Context, id int64, status models.SectionStatus) error
	ToggleGradeLock(ctx context.Context, id int64) (bool, error)
}

type catalogReader interface {
	FindStudentByID(ctx context.Context, id int64) (*models.Student, error)
	FindCourseByID(ctx context.Context, id int64) (*models.Course, error)
	FindTeacherByID(ctx context.Context, id int64) (*models.Teacher, error)
}

// SectionRequest describes the editable attributes of a section.
type SectionRequest struct {
	CourseID  int64  `json:"course_id" validate:"required,gt=0"`
	Term      string `json:"term" validate:"required,max=32"`
	TeacherID int64  `json:"teacher_id" validate:"required,gt=0"`
	Capacity  int    `json:"capacity" validate:"required,gt=0"`
	Status    string `json:"status" validate:"omitempty"`
	Schedule  string `json:"schedule" validate:"max=200"`
	Room      string `json:"room" validate:"max=64"`
}

// SectionStatusRequest changes a section's status.
type SectionStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// SectionService owns section lifecycle, occupancy and the grade lock.
type SectionService struct {
	repo      sectionRepository
	catalog   catalogReader
	tx        transactor
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSectionService constructs SectionService. cache and metrics may be nil.
func NewSectionService(repo sectionRepository, catalog catalogReader, tx transactor, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *SectionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SectionService{repo: repo, catalog: catalog, tx: tx, cache: cache, metrics: metrics, validator: validate, logger: logger}
}

// List returns sections with pagination metadata. Pages are cached per filter until the next
// section or enrollment mutation.
func (s *SectionService) List(ctx context.Context, filter models.SectionFilter) ([]models.SectionDetail, *models.Pagination, error) {
	pagination := paginate(filter.Page, filter.PageSize, 0)
	key := fmt.Sprintf(sectionListCacheKey, filter.CourseID, filter.TeacherID, filter.Term, filter.Status, pagination.Page, pagination.PageSize)

	var cached sectionPage
	if s.cache.Get(ctx, key, &cached) {
		pagination.TotalCount = cached.Total
		return cached.Items, pagination, nil
	}
	sections, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list sections")
	}
	s.cache.Set(ctx, key, sectionPage{Items: sections, Total: total}, 0)
	pagination.TotalCount = total
	return sections, pagination, nil
}

// Get returns a section with its live enrolled count.
func (s *SectionService) Get(ctx context.Context, id int64) (*models.SectionDetail, error) {
	key := fmt.Sprintf(sectionDetailCacheKey, id)
	var cached models.SectionDetail
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Internal(err, "failed to load section")
	}
	s.cache.Set(ctx, key, detail, 0)
	return detail, nil
}

// Occupancy reports enrolled seats against capacity, always read from the database.
func (s *SectionService) Occupancy(ctx context.Context, id int64) (*models.Occupancy, error) {
	section, err := s.repo.FindByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Internal(err, "failed to load section")
	}
	enrolled, err := s.repo.CountEnrolled(ctx, nil, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to count enrolled seats")
	}
	available := section.Capacity - enrolled
	if available < 0 {
		available = 0
	}
	return &models.Occupancy{SectionID: id, Enrolled: enrolled, Capacity: section.Capacity, Available: available}, nil
}

// Create registers a new section for an existing course and teacher.
func (s *SectionService) Create(ctx context.Context, req SectionRequest) (*models.SectionDetail, error) {
	section, err := s.buildSection(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, section); err != nil {
		return nil, appErrors.Internal(err, "failed to create section")
	}
	s.logger.Info("section created", zap.Int64("section_id", section.ID), zap.Int64("course_id", section.CourseID), zap.String("term", section.Term))
	s.cache.Invalidate(ctx, sectionCachePattern)
	return s.loadDetail(ctx, section.ID)
}

// Update rewrites a section. Capacity may not drop below the seats already taken.
func (s *SectionService) Update(ctx context.Context, id int64, req SectionRequest) (*models.SectionDetail, error) {
	section, err := s.buildSection(ctx, req)
	if err != nil {
		return nil, err
	}
	section.ID = id

	err = s.tx.WithinTx(ctx, func(tx sqlx.ExtContext) error {
		current, err := s.repo.LockByID(ctx, tx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "section not found")
			}
			return appErrors.Internal(err, "failed to load section")
		}
		if req.Status == "" {
			section.Status = current.Status
		}
		enrolled, err := s.repo.CountEnrolled(ctx, tx, id)
		if err != nil {
			return appErrors.Internal(err, "failed to count enrolled seats")
		}
		if section.Capacity < enrolled {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("capacity %d is below the %d seats already taken", section.Capacity, enrolled))
		}
		if err := s.repo.Update(ctx, tx, section); err != nil {
			return appErrors.Internal(err, "failed to update section")
		}
		return nil
	})
	if err != nil {
		return nil, normaliseTxError(err)
	}
	s.logger.Info("section updated", zap.Int64("section_id", id), zap.Int("capacity", section.Capacity))
	s.cache.Invalidate(ctx, sectionCachePattern)
	return s.loadDetail(ctx, id)
}

// SetStatus moves a section to any status. Existing enrollments are untouched.
func (s *SectionService) SetStatus(ctx context.Context, id int64, req SectionStatusRequest) (*models.SectionDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	status, ok := models.ParseSectionStatus(req.Status)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "status must be one of OPEN, CLOSED, CANCELED")
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Internal(err, "failed to update section status")
	}
	s.logger.Info("section status changed", zap.Int64("section_id", id), zap.String("status", string(status)))
	s.cache.Invalidate(ctx, sectionCachePattern)
	return s.loadDetail(ctx, id)
}

// ToggleGradeLock flips the section's grade lock and returns the new state.
func (s *SectionService) ToggleGradeLock(ctx context.Context, id int64) (bool, error) {
	locked, err := s.repo.ToggleGradeLock(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return false, appErrors.Internal(err, "failed to toggle grade lock")
	}
	s.metrics.RecordGradeLock(locked)
	s.logger.Info("section grade lock toggled", zap.Int64("section_id", id), zap.Bool("locked", locked))
	s.cache.Invalidate(ctx, sectionCachePattern)
	return locked, nil
}

func (s *SectionService) buildSection(ctx context.Context, req SectionRequest) (*models.Section, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid section payload")
	}
	section := &models.Section{
		CourseID:  req.CourseID,
		Term:      req.Term,
		TeacherID: req.TeacherID,
		Capacity:  req.Capacity,
		Schedule:  req.Schedule,
		Room:      req.Room,
	}
	if req.Status != "" {
		status, ok := models.ParseSectionStatus(req.Status)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "status must be one of OPEN, CLOSED, CANCELED")
		}
		section.Status = status
	}
	if _, err := s.catalog.FindCourseByID(ctx, req.CourseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Internal(err, "failed to load course")
	}
	if _, err := s.catalog.FindTeacherByID(ctx, req.TeacherID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Internal(err, "failed to load teacher")
	}
	return section, nil
}

func (s *SectionService) loadDetail(ctx context.Context, id int64) (*models.SectionDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load section detail")
	}
	return detail, nil
}

func paginate(page, size, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}
