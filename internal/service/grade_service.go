package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/uniportal-api/internal/models"
	"github.com/noah-isme/uniportal-api/pkg/export"
	appErrors "github.com/noah-isme/uniportal-api/pkg/errors"
)

type gradeRepository interface {
	FindByEnrollment(ctx context.Context, exec sqlx.ExtContext, enrollmentID int64) (*models.Grade, error)
	LockByEnrollment(ctx context.Context, exec sqlx.ExtContext, enrollmentID int64) (*models.Grade, error)
	Upsert(ctx context.Context, exec sqlx.ExtContext, grade *models.Grade) error
	StreamByStudent(ctx context.Context, studentID int64, fn func(models.GradeDetail) error) error
	ListBySection(ctx context.Context, sectionID int64) ([]models.SectionGradeRow, error)
}

type enrollmentLocker interface {
	LockByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Enrollment, error)
}

type gradeSectionReader interface {
	ShareLockByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Section, error)
	FindDetailByID(ctx context.Context, id int64) (*models.SectionDetail, error)
}

type tableRenderer interface {
	Render(table export.Table) ([]byte, error)
	ContentType() string
	Extension() string
}

// UpsertGradeRequest carries the scores to merge into a grade. Omitted scores keep their stored value.
type UpsertGradeRequest struct {
	Midterm *float64 `json:"midterm"`
	Final   *float64 `json:"final"`
	Other   *float64 `json:"other"`
}

// GradeSheetFile is a rendered section grade sheet.
type GradeSheetFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// GradeService records scores and derives letter grades.
type GradeService struct {
	repo        gradeRepository
	enrollments enrollmentLocker
	sections    gradeSectionReader
	students    studentReader
	tx          transactor
	renderers   map[string]tableRenderer
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewGradeService constructs GradeService with CSV and PDF grade sheet renderers.
func NewGradeService(repo gradeRepository, enrollments enrollmentLocker, sections gradeSectionReader, students studentReader, tx transactor, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *GradeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradeService{
		repo:        repo,
		enrollments: enrollments,
		sections:    sections,
		students:    students,
		tx:          tx,
		renderers: map[string]tableRenderer{
			"csv": export.NewCSVExporter(),
			"pdf": export.NewPDFExporter(1.2, 3, 1.2, 1, 1, 1, 1, 0.8, 0.8),
		},
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// UpsertScores merges the provided scores into the enrollment's grade and recomputes the letter.
// The enrollment row is locked so writes to one grade merge in turn, and the section row is
// share-locked so a concurrent lock toggle waits for the write.
func (s *GradeService) UpsertScores(ctx context.Context, enrollmentID int64, req UpsertGradeRequest, actorID string) (*models.Grade, error) {
	grade, err := s.upsert(ctx, enrollmentID, req, actorID)
	outcome := OutcomeSuccess
	if err != nil {
		outcome = appErrors.FromError(err).Code
	}
	s.metrics.RecordGradeWrite(outcome)
	if err != nil {
		return nil, err
	}
	s.logger.Info("grade recorded",
		zap.Int64("enrollment_id", enrollmentID),
		zap.String("updated_by", actorID),
		zap.Stringp("letter_grade", grade.LetterGrade),
	)
	return grade, nil
}

func (s *GradeService) upsert(ctx context.Context, enrollmentID int64, req UpsertGradeRequest, actorID string) (*models.Grade, error) {
	if req.Midterm == nil && req.Final == nil && req.Other == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one of midterm, final or other is required")
	}
	midterm, err := ClampScore("midterm", req.Midterm)
	if err != nil {
		return nil, err
	}
	final, err := ClampScore("final", req.Final)
	if err != nil {
		return nil, err
	}
	other, err := ClampScore("other", req.Other)
	if err != nil {
		return nil, err
	}

	var grade *models.Grade
	err = s.tx.WithinTx(ctx, func(tx sqlx.ExtContext) error {
		enrollment, err := s.enrollments.LockByID(ctx, tx, enrollmentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
			}
			return appErrors.Internal(err, "failed to load enrollment")
		}
		section, err := s.sections.ShareLockByID(ctx, tx, enrollment.SectionID)
		if err != nil {
			return appErrors.Internal(err, "failed to read section lock")
		}
		if section.GradeLocked {
			return appErrors.Clone(appErrors.ErrGradeLocked, "")
		}

		grade, err = s.repo.LockByEnrollment(ctx, tx, enrollmentID)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return appErrors.Internal(err, "failed to load grade")
			}
			grade = &models.Grade{EnrollmentID: enrollmentID}
		}
		if midterm != nil {
			grade.Midterm = midterm
		}
		if final != nil {
			grade.Final = final
		}
		if other != nil {
			grade.Other = other
		}
		grade.LetterGrade, grade.GPAPoint = deriveLetter(grade.Midterm, grade.Final)
		grade.UpdatedAt = time.Now().UTC()
		grade.UpdatedBy = actorID
		return s.repo.Upsert(ctx, tx, grade)
	})
	if err != nil {
		return nil, normaliseTxError(err)
	}
	return grade, nil
}

// GetByEnrollment returns the stored grade. Reads never modify state.
func (s *GradeService) GetByEnrollment(ctx context.Context, enrollmentID int64) (*models.Grade, error) {
	grade, err := s.repo.FindByEnrollment(ctx, nil, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grade not found")
		}
		return nil, appErrors.Internal(err, "failed to load grade")
	}
	return grade, nil
}

// StreamByStudent passes each of the student's grades to fn in enrollment order.
// Calling it again restarts the sequence from the first grade.
func (s *GradeService) StreamByStudent(ctx context.Context, studentID int64, fn func(models.GradeDetail) error) error {
	if _, err := s.students.FindStudentByID(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Internal(err, "failed to load student")
	}
	if err := s.repo.StreamByStudent(ctx, studentID, fn); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return appErrors.Internal(err, "failed to stream student grades")
	}
	return nil
}

// GetByStudent collects the student's grades in enrollment order.
func (s *GradeService) GetByStudent(ctx context.Context, studentID int64) ([]models.GradeDetail, error) {
	grades := make([]models.GradeDetail, 0)
	err := s.StreamByStudent(ctx, studentID, func(detail models.GradeDetail) error {
		grades = append(grades, detail)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return grades, nil
}

// ListBySection returns every enrollment of a section with its grade.
func (s *GradeService) ListBySection(ctx context.Context, sectionID int64) (*models.SectionGradeSheet, error) {
	section, err := s.sections.FindDetailByID(ctx, sectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Internal(err, "failed to load section")
	}
	rows, err := s.repo.ListBySection(ctx, sectionID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list section grades")
	}
	if rows == nil {
		rows = []models.SectionGradeRow{}
	}
	return &models.SectionGradeSheet{Section: *section, Rows: rows}, nil
}

// ExportSection renders the section grade sheet as csv or pdf.
func (s *GradeService) ExportSection(ctx context.Context, sectionID int64, format string) (*GradeSheetFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "csv"
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	sheet, err := s.ListBySection(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	data, err := renderer.Render(gradeSheetTable(sheet))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render grade sheet")
	}
	s.logger.Info("grade sheet exported", zap.Int64("section_id", sectionID), zap.String("format", format), zap.Int("rows", len(sheet.Rows)))
	return &GradeSheetFile{
		Filename:    fmt.Sprintf("grades-%s-%s-%d.%s", sheet.Section.CourseCode, sheet.Section.Term, sectionID, renderer.Extension()),
		ContentType: renderer.ContentType(),
		Data:        data,
	}, nil
}

func gradeSheetTable(sheet *models.SectionGradeSheet) export.Table {
	table := export.Table{
		Title:    fmt.Sprintf("%s %s", sheet.Section.CourseCode, sheet.Section.CourseName),
		Subtitle: fmt.Sprintf("Term %s | Teacher %s | Grades locked: %t", sheet.Section.Term, sheet.Section.TeacherName, sheet.Section.GradeLocked),
		Headers:  []string{"Student No", "Name", "Status", "Midterm", "Final", "Other", "Total", "Letter", "GPA"},
		Rows:     make([][]string, 0, len(sheet.Rows)),
	}
	for _, row := range sheet.Rows {
		total := export.Placeholder
		if row.Midterm != nil && row.Final != nil {
			total = strconv.FormatFloat(WeightedTotal(*row.Midterm, *row.Final), 'f', 2, 64)
		}
		letter := export.Placeholder
		if row.LetterGrade != nil {
			letter = *row.LetterGrade
		}
		table.Rows = append(table.Rows, []string{
			row.StudentNumber,
			row.StudentName,
			string(row.EnrollmentStatus),
			formatScore(row.Midterm),
			formatScore(row.Final),
			formatScore(row.Other),
			total,
			letter,
			formatScore(row.GPAPoint),
		})
	}
	return table
}

func formatScore(value *float64) string {
	if value == nil {
		return export.Placeholder
	}
	return strconv.FormatFloat(*value, 'f', 2, 64)
}
