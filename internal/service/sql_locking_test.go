package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uniportal-api/internal/models"
	"github.com/noah-isme/uniportal-api/internal/repository"
	"github.com/noah-isme/uniportal-api/pkg/database"
	appErrors "github.com/noah-isme/uniportal-api/pkg/errors"
)

// These tests run the services over the real repositories and transactor so the statement
// order each unit of work sends to PostgreSQL is asserted, locks included.

var (
	sectionCols    = []string{"id", "course_id", "term", "teacher_id", "capacity", "status", "grade_locked", "schedule", "room", "created_at", "updated_at"}
	enrollmentCols = []string{"id", "student_id", "section_id", "enrolled_at", "status", "updated_at"}
	gradeCols      = []string{"id", "enrollment_id", "midterm", "final", "other", "gpa_point", "letter_grade", "updated_at", "updated_by"}
)

type sqlFixture struct {
	mock        sqlmock.Sqlmock
	enrollments *EnrollmentService
	grades      *GradeService
}

func newSQLFixture(t *testing.T) *sqlFixture {
	t.Helper()
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	db := sqlx.NewDb(raw, "sqlmock")
	tx := database.NewTransactor(db)
	sections := repository.NewSectionRepository(db)
	enrollments := repository.NewEnrollmentRepository(db)
	grades := repository.NewGradeRepository(db)
	catalog := repository.NewCatalogRepository(db)
	return &sqlFixture{
		mock:        mock,
		enrollments: NewEnrollmentService(enrollments, sections, catalog, grades, tx, nil, nil, nil, nil),
		grades:      NewGradeService(grades, enrollments, sections, catalog, tx, nil, nil, nil),
	}
}

func sectionRow(id int64, capacity int, locked bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(sectionCols).
		AddRow(id, int64(1), "2025-FALL", int64(1), capacity, "OPEN", locked, "", "A-101", now, now)
}

func (f *sqlFixture) expectStudent(id int64) {
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "class_id", "student_number", "full_name", "email"}).
			AddRow(id, nil, "S-007", "Ada", "ada@uni.test"))
}

func TestAdmitStatementOrderHoldsSectionLockUntilCommit(t *testing.T) {
	f := newSQLFixture(t)
	now := time.Now()

	f.expectStudent(7)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM sections s WHERE s.id = $1 FOR UPDATE")).
		WithArgs(int64(3)).
		WillReturnRows(sectionRow(3, 30, false))
	f.mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE section_id = $1 AND status = $2")).
		WithArgs(int64(3), models.EnrollmentStatusEnrolled).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(29))
	f.mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments WHERE student_id = $1 AND section_id = $2 AND status = $3 LIMIT 1")).
		WithArgs(int64(7), int64(3), models.EnrollmentStatusEnrolled).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	f.mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO enrollments")).
		WithArgs(int64(7), int64(3), sqlmock.AnyArg(), models.EnrollmentStatusEnrolled, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(41)))
	f.mock.ExpectCommit()
	f.mock.ExpectQuery(regexp.QuoteMeta("WHERE e.id = $1")).
		WithArgs(int64(41)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "section_id", "enrolled_at", "status", "updated_at", "student_number", "student_name", "course_code", "course_name", "term"}).
			AddRow(int64(41), int64(7), int64(3), now, "ENROLLED", now, "S-007", "Ada", "CS101", "Intro", "2025-FALL"))

	detail, err := f.enrollments.Admit(context.Background(), AdmitRequest{StudentID: 7, SectionID: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(41), detail.ID)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestAdmitIntoFullSectionRollsBackBeforeInsert(t *testing.T) {
	f := newSQLFixture(t)

	f.expectStudent(7)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM sections s WHERE s.id = $1 FOR UPDATE")).
		WithArgs(int64(3)).
		WillReturnRows(sectionRow(3, 2, false))
	f.mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments")).
		WithArgs(int64(3), models.EnrollmentStatusEnrolled).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	f.mock.ExpectRollback()

	_, err := f.enrollments.Admit(context.Background(), AdmitRequest{StudentID: 7, SectionID: 3})
	require.ErrorIs(t, err, appErrors.ErrSectionFull)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestFirstGradeWriteLocksEnrollmentBeforeReadingGrade(t *testing.T) {
	f := newSQLFixture(t)
	now := time.Now()

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows(enrollmentCols).AddRow(int64(10), int64(7), int64(3), now, "ENROLLED", now))
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM sections s WHERE s.id = $1 FOR SHARE")).
		WithArgs(int64(3)).
		WillReturnRows(sectionRow(3, 30, false))
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM grades WHERE enrollment_id = $1 FOR UPDATE")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows(gradeCols))
	f.mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO grades")).
		WithArgs(int64(10), 80.0, nil, nil, nil, nil, sqlmock.AnyArg(), "teacher-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	f.mock.ExpectCommit()

	midterm := 80.0
	grade, err := f.grades.UpsertScores(context.Background(), 10, UpsertGradeRequest{Midterm: &midterm}, "teacher-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), grade.ID)
	assert.Nil(t, grade.LetterGrade)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestQueuedGradeWriteMergesCommittedScores(t *testing.T) {
	f := newSQLFixture(t)
	now := time.Now()

	// The second writer of a pair sees the first writer's committed row once the enrollment lock is released.
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows(enrollmentCols).AddRow(int64(10), int64(7), int64(3), now, "ENROLLED", now))
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM sections s WHERE s.id = $1 FOR SHARE")).
		WithArgs(int64(3)).
		WillReturnRows(sectionRow(3, 30, false))
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM grades WHERE enrollment_id = $1 FOR UPDATE")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows(gradeCols).AddRow(int64(5), int64(10), 80.0, nil, nil, nil, nil, now, "teacher-1"))
	f.mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO grades")).
		WithArgs(int64(10), 80.0, 90.0, nil, 3.5, "B+", sqlmock.AnyArg(), "teacher-2").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	f.mock.ExpectCommit()

	final := 90.0
	grade, err := f.grades.UpsertScores(context.Background(), 10, UpsertGradeRequest{Final: &final}, "teacher-2")
	require.NoError(t, err)
	require.NotNil(t, grade.LetterGrade)
	assert.Equal(t, "B+", *grade.LetterGrade)
	assert.InDelta(t, 80.0, *grade.Midterm, 1e-9)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGradeWriteOnLockedSectionRollsBack(t *testing.T) {
	f := newSQLFixture(t)
	now := time.Now()

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows(enrollmentCols).AddRow(int64(10), int64(7), int64(3), now, "ENROLLED", now))
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM sections s WHERE s.id = $1 FOR SHARE")).
		WithArgs(int64(3)).
		WillReturnRows(sectionRow(3, 30, true))
	f.mock.ExpectRollback()

	midterm := 80.0
	_, err := f.grades.UpsertScores(context.Background(), 10, UpsertGradeRequest{Midterm: &midterm}, "teacher-1")
	require.ErrorIs(t, err, appErrors.ErrGradeLocked)
	require.NoError(t, f.mock.ExpectationsWereMet())
}
