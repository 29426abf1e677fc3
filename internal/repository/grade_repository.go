package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uniportal-api/internal/models"
)

const gradeColumns = `id, enrollment_id, midterm, final, other, gpa_point, letter_grade, updated_at, updated_by`

// GradeRepository handles grade persistence.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository creates a new grade repository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

func (r *GradeRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByEnrollment returns the grade owned by an enrollment.
func (r *GradeRepository) FindByEnrollment(ctx context.Context, exec sqlx.ExtContext, enrollmentID int64) (*models.Grade, error) {
	return r.findByEnrollment(ctx, exec, enrollmentID, "")
}

// LockByEnrollment returns the grade owned by an enrollment holding a row lock.
func (r *GradeRepository) LockByEnrollment(ctx context.Context, exec sqlx.ExtContext, enrollmentID int64) (*models.Grade, error) {
	return r.findByEnrollment(ctx, exec, enrollmentID, " FOR UPDATE")
}

func (r *GradeRepository) findByEnrollment(ctx context.Context, exec sqlx.ExtContext, enrollmentID int64, lock string) (*models.Grade, error) {
	query := "SELECT " + gradeColumns + " FROM grades WHERE enrollment_id = $1" + lock
	var grade models.Grade
	if err := sqlx.GetContext(ctx, r.exec(exec), &grade, query, enrollmentID); err != nil {
		return nil, err
	}
	return &grade, nil
}

// Upsert inserts the grade for its enrollment or replaces the stored values.
func (r *GradeRepository) Upsert(ctx context.Context, exec sqlx.ExtContext, grade *models.Grade) error {
	if grade.UpdatedAt.IsZero() {
		grade.UpdatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO grades (enrollment_id, midterm, final, other, gpa_point, letter_grade, updated_at, updated_by)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (enrollment_id)
        DO UPDATE SET midterm = EXCLUDED.midterm, final = EXCLUDED.final, other = EXCLUDED.other,
            gpa_point = EXCLUDED.gpa_point, letter_grade = EXCLUDED.letter_grade,
            updated_at = EXCLUDED.updated_at, updated_by = EXCLUDED.updated_by
        RETURNING id`
	if err := sqlx.GetContext(ctx, r.exec(exec), &grade.ID, query,
		grade.EnrollmentID, grade.Midterm, grade.Final, grade.Other, grade.GPAPoint, grade.LetterGrade,
		grade.UpdatedAt, grade.UpdatedBy,
	); err != nil {
		return fmt.Errorf("upsert grade: %w", err)
	}
	return nil
}

// DeleteByEnrollment removes the grade owned by an enrollment, if any.
func (r *GradeRepository) DeleteByEnrollment(ctx context.Context, exec sqlx.ExtContext, enrollmentID int64) error {
	if _, err := r.exec(exec).ExecContext(ctx, `DELETE FROM grades WHERE enrollment_id = $1`, enrollmentID); err != nil {
		return fmt.Errorf("delete grade: %w", err)
	}
	return nil
}

// StreamByStudent walks a student's grades in enrollment order, calling fn per row as it is read.
// Every call re-runs the query, so the sequence can be restarted.
func (r *GradeRepository) StreamByStudent(ctx context.Context, studentID int64, fn func(models.GradeDetail) error) error {
	const query = `SELECT g.id, g.enrollment_id, g.midterm, g.final, g.other, g.gpa_point, g.letter_grade, g.updated_at, g.updated_by,
        e.student_id, e.section_id, e.status AS enrollment_status, e.enrolled_at,
        c.code AS course_code, c.name AS course_name, s.term
        FROM grades g
        JOIN enrollments e ON e.id = g.enrollment_id
        JOIN sections s ON s.id = e.section_id
        JOIN courses c ON c.id = s.course_id
        WHERE e.student_id = $1
        ORDER BY e.enrolled_at ASC, e.id ASC`
	rows, err := r.db.QueryxContext(ctx, query, studentID)
	if err != nil {
		return fmt.Errorf("query student grades: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var detail models.GradeDetail
		if err := rows.StructScan(&detail); err != nil {
			return fmt.Errorf("scan student grade: %w", err)
		}
		if err := fn(detail); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate student grades: %w", err)
	}
	return nil
}

// ListBySection returns every enrollment of a section with its grade in one round trip.
func (r *GradeRepository) ListBySection(ctx context.Context, sectionID int64) ([]models.SectionGradeRow, error) {
	const query = `SELECT e.id AS enrollment_id, e.student_id, st.student_number, st.full_name AS student_name, e.status AS enrollment_status,
        g.id AS grade_id, g.midterm, g.final, g.other, g.gpa_point, g.letter_grade, g.updated_at, g.updated_by
        FROM enrollments e
        JOIN students st ON st.id = e.student_id
        LEFT JOIN grades g ON g.enrollment_id = e.id
        WHERE e.section_id = $1
        ORDER BY st.full_name ASC, e.id ASC`
	var rows []models.SectionGradeRow
	if err := r.db.SelectContext(ctx, &rows, query, sectionID); err != nil {
		return nil, fmt.Errorf("list section grades: %w", err)
	}
	return rows, nil
}
