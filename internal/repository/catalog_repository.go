package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uniportal-api/internal/models"
)

// CatalogRepository reads the catalog records sections and enrollments refer to.
// Catalog maintenance happens elsewhere; this repository never writes.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs the repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// FindStudentByID returns a student or sql.ErrNoRows.
func (r *CatalogRepository) FindStudentByID(ctx context.Context, id int64) (*models.Student, error) {
	const query = `SELECT id, class_id, student_number, full_name, email FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindCourseByID returns a course or sql.ErrNoRows.
func (r *CatalogRepository) FindCourseByID(ctx context.Context, id int64) (*models.Course, error) {
	const query = `SELECT id, department_id, code, name, credits FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// FindTeacherByID returns a teacher or sql.ErrNoRows.
func (r *CatalogRepository) FindTeacherByID(ctx context.Context, id int64) (*models.Teacher, error) {
	const query = `SELECT id, department_id, full_name, email FROM teachers WHERE id = $1`
	var teacher models.Teacher
	if err := r.db.GetContext(ctx, &teacher, query, id); err != nil {
		return nil, err
	}
	return &teacher, nil
}
