package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uniportal-api/internal/models"
)

const sectionColumns = `s.id, s.course_id, s.term, s.teacher_id, s.capacity, s.status, s.grade_locked, s.schedule, s.room, s.created_at, s.updated_at`

const sectionDetailSelect = `SELECT ` + sectionColumns + `,
        c.code AS course_code, c.name AS course_name, t.full_name AS teacher_name,
        (SELECT COUNT(*) FROM enrollments e WHERE e.section_id = s.id AND e.status = 'ENROLLED') AS enrolled_count`

const sectionDetailFrom = `FROM sections s
JOIN courses c ON c.id = s.course_id
JOIN teachers t ON t.id = s.teacher_id`

// SectionRepository handles persistence of sections and their seat counts.
type SectionRepository struct {
	db *sqlx.DB
}

// NewSectionRepository constructs the repository.
func NewSectionRepository(db *sqlx.DB) *SectionRepository {
	return &SectionRepository{db: db}
}

func (r *SectionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// List returns section details filtered by the provided criteria.
func (r *SectionRepository) List(ctx context.Context, filter models.SectionFilter) ([]models.SectionDetail, int, error) {
	var conditions []string
	var args []interface{}

	if filter.CourseID > 0 {
		conditions = append(conditions, fmt.Sprintf("s.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.TeacherID > 0 {
		conditions = append(conditions, fmt.Sprintf("s.teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.Term != "" {
		conditions = append(conditions, fmt.Sprintf("s.term = $%d", len(args)+1))
		args = append(args, filter.Term)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("s.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page, size := normalisePage(filter.Page, filter.PageSize)
	offset := (page - 1) * size

	query := fmt.Sprintf("%s\n%s%s ORDER BY s.term DESC, c.code ASC, s.id ASC LIMIT %d OFFSET %d", sectionDetailSelect, sectionDetailFrom, clause, size, offset)
	var sections []models.SectionDetail
	if err := r.db.SelectContext(ctx, &sections, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sections: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM sections s"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count sections: %w", err)
	}
	return sections, total, nil
}

// FindDetailByID returns a section with catalog labels and occupancy.
func (r *SectionRepository) FindDetailByID(ctx context.Context, id int64) (*models.SectionDetail, error) {
	query := sectionDetailSelect + "\n" + sectionDetailFrom + " WHERE s.id = $1"
	var detail models.SectionDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindByID returns a section without locking it.
func (r *SectionRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Section, error) {
	return r.find(ctx, exec, id, "")
}

// LockByID returns a section holding a row lock until the surrounding transaction ends.
// Admissions take this lock so seat counting and insertion are serialised per section.
func (r *SectionRepository) LockByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Section, error) {
	return r.find(ctx, exec, id, " FOR UPDATE")
}

// ShareLockByID returns a section holding a shared lock, blocking concurrent updates to it
// (such as grade-lock toggles) until the surrounding transaction ends.
func (r *SectionRepository) ShareLockByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Section, error) {
	return r.find(ctx, exec, id, " FOR SHARE")
}

func (r *SectionRepository) find(ctx context.Context, exec sqlx.ExtContext, id int64, lock string) (*models.Section, error) {
	query := "SELECT " + sectionColumns + " FROM sections s WHERE s.id = $1" + lock
	var section models.Section
	if err := sqlx.GetContext(ctx, r.exec(exec), &section, query, id); err != nil {
		return nil, err
	}
	return &section, nil
}

// CountEnrolled returns the number of seats taken in a section.
func (r *SectionRepository) CountEnrolled(ctx context.Context, exec sqlx.ExtContext, sectionID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE section_id = $1 AND status = $2`
	var count int
	if err := sqlx.GetContext(ctx, r.exec(exec), &count, query, sectionID, models.EnrollmentStatusEnrolled); err != nil {
		return 0, fmt.Errorf("count enrolled seats: %w", err)
	}
	return count, nil
}

// Create persists a new section and fills its generated fields.
func (r *SectionRepository) Create(ctx context.Context, section *models.Section) error {
	now := time.Now().UTC()
	if section.Status == "" {
		section.Status = models.SectionStatusOpen
	}
	section.CreatedAt = now
	section.UpdatedAt = now
	const query = `INSERT INTO sections (course_id, term, teacher_id, capacity, status, grade_locked, schedule, room, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`
	if err := r.db.GetContext(ctx, &section.ID, query,
		section.CourseID, section.Term, section.TeacherID, section.Capacity, section.Status,
		section.GradeLocked, section.Schedule, section.Room, section.CreatedAt, section.UpdatedAt,
	); err != nil {
		return fmt.Errorf("create section: %w", err)
	}
	return nil
}

// Update rewrites the editable attributes of a section. The grade lock is owned by ToggleGradeLock.
func (r *SectionRepository) Update(ctx context.Context, exec sqlx.ExtContext, section *models.Section) error {
	section.UpdatedAt = time.Now().UTC()
	const query = `UPDATE sections SET course_id = $2, term = $3, teacher_id = $4, capacity = $5, status = $6,
        schedule = $7, room = $8, updated_at = $9 WHERE id = $1`
	res, err := r.exec(exec).ExecContext(ctx, query,
		section.ID, section.CourseID, section.Term, section.TeacherID, section.Capacity, section.Status,
		section.Schedule, section.Room, section.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update section: %w", err)
	}
	return expectAffected(res)
}

// UpdateStatus sets the section status.
func (r *SectionRepository) UpdateStatus(ctx context.Context, id int64, status models.SectionStatus) error {
	const query = `UPDATE sections SET status = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update section status: %w", err)
	}
	return expectAffected(res)
}

// ToggleGradeLock flips the grade lock atomically and returns the resulting state.
func (r *SectionRepository) ToggleGradeLock(ctx context.Context, id int64) (bool, error) {
	const query = `UPDATE sections SET grade_locked = NOT grade_locked, updated_at = $2 WHERE id = $1 RETURNING grade_locked`
	var locked bool
	if err := r.db.GetContext(ctx, &locked, query, id, time.Now().UTC()); err != nil {
		return false, err
	}
	return locked, nil
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func normalisePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return page, size
}
