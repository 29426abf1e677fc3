package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uniportal-api/internal/models"
)

const enrollmentColumns = `id, student_id, section_id, enrolled_at, status, updated_at`

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

func (r *EnrollmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
JOIN students st ON st.id = e.student_id
JOIN sections s ON s.id = e.section_id
JOIN courses c ON c.id = s.course_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID > 0 {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.SectionID > 0 {
		conditions = append(conditions, fmt.Sprintf("e.section_id = $%d", len(args)+1))
		args = append(args, filter.SectionID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}
	page, size := normalisePage(filter.Page, filter.PageSize)
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.section_id, e.enrolled_at, e.status, e.updated_at,
        st.student_number, st.full_name AS student_name, c.code AS course_code, c.name AS course_name, s.term
        %s ORDER BY e.enrolled_at ASC, e.id ASC LIMIT %d OFFSET %d`, base+clause, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// LockByID returns an enrollment holding a row lock until the surrounding transaction ends.
// Grade writes, status changes and purges of one enrollment queue behind it.
func (r *EnrollmentRepository) LockByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Enrollment, error) {
	query := "SELECT " + enrollmentColumns + " FROM enrollments WHERE id = $1 FOR UPDATE"
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, r.exec(exec), &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with contextual info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id int64) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.section_id, e.enrolled_at, e.status, e.updated_at,
        st.student_number, st.full_name AS student_name, c.code AS course_code, c.name AS course_name, s.term
        FROM enrollments e
        JOIN students st ON st.id = e.student_id
        JOIN sections s ON s.id = e.section_id
        JOIN courses c ON c.id = s.course_id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ExistsEnrolled checks whether the student already holds an active seat in the section.
func (r *EnrollmentRepository) ExistsEnrolled(ctx context.Context, exec sqlx.ExtContext, studentID, sectionID, excludeID int64) (bool, error) {
	query := "SELECT 1 FROM enrollments WHERE student_id = $1 AND section_id = $2 AND status = $3"
	args := []interface{}{studentID, sectionID, models.EnrollmentStatusEnrolled}
	if excludeID > 0 {
		query += fmt.Sprintf(" AND id <> $%d", len(args)+1)
		args = append(args, excludeID)
	}
	query += " LIMIT 1"
	var exists int
	if err := sqlx.GetContext(ctx, r.exec(exec), &exists, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check active enrollment: %w", err)
	}
	return true, nil
}

// Create persists a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusEnrolled
	}
	enrollment.UpdatedAt = enrollment.EnrolledAt
	const query = `INSERT INTO enrollments (student_id, section_id, enrolled_at, status, updated_at)
        VALUES ($1, $2, $3, $4, $5) RETURNING id`
	if err := sqlx.GetContext(ctx, r.exec(exec), &enrollment.ID, query,
		enrollment.StudentID, enrollment.SectionID, enrollment.EnrolledAt, enrollment.Status, enrollment.UpdatedAt,
	); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// UpdateStatus overwrites the status of an enrollment.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id int64, status models.EnrollmentStatus) error {
	const query = `UPDATE enrollments SET status = $2, updated_at = $3 WHERE id = $1`
	res, err := r.exec(exec).ExecContext(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return expectAffected(res)
}

// Delete removes an enrollment row. Callers delete the owned grade first.
func (r *EnrollmentRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id int64) error {
	res, err := r.exec(exec).ExecContext(ctx, `DELETE FROM enrollments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return expectAffected(res)
}
