package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/uniportal-api/pkg/errors"
)

func TestCatalogRepositoryFindStudent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCatalogRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "class_id", "student_number", "full_name", "email"}).
			AddRow(int64(7), nil, "2025-0007", "Ada Lovelace", "ada@uni.test"))

	student, err := repo.FindStudentByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "2025-0007", student.StudentNumber)
	assert.Nil(t, student.ClassID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepositoryMissingRowsSurfaceErrNoRows(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCatalogRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM courses WHERE id = $1")).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("FROM teachers WHERE id = $1")).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "department_id", "full_name", "email"}))

	_, err := repo.FindCourseByID(context.Background(), 9)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	_, err = repo.FindTeacherByID(context.Background(), 9)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheRepositoryWithoutClientIsAMiss(t *testing.T) {
	repo := NewCacheRepository(nil, nil)
	ctx := context.Background()

	var dest map[string]string
	assert.ErrorIs(t, repo.Get(ctx, "sections:detail:1", &dest), appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(ctx, "sections:detail:1", map[string]string{"a": "b"}, time.Minute))
	assert.NoError(t, repo.DeleteByPattern(ctx, "sections:*"))
	assert.NoError(t, repo.Ping(ctx))
	assert.NoError(t, repo.Close())
}
