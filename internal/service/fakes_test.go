package service

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uniportal-api/internal/models"
)

// memDB is an in-memory stand-in for the relational store. txMu serialises units of work the
// way the section row lock does; dataMu guards the maps for reads outside a transaction.
type memDB struct {
	txMu   sync.Mutex
	dataMu sync.Mutex
	nextID int64

	sections    map[int64]models.Section
	enrollments map[int64]models.Enrollment
	grades      map[int64]models.Grade // keyed by enrollment id
	students    map[int64]models.Student
	courses     map[int64]models.Course
	teachers    map[int64]models.Teacher
}

func newMemDB() *memDB {
	return &memDB{
		nextID:      100,
		sections:    map[int64]models.Section{},
		enrollments: map[int64]models.Enrollment{},
		grades:      map[int64]models.Grade{},
		students:    map[int64]models.Student{},
		courses:     map[int64]models.Course{1: {ID: 1, Code: "CS101", Name: "Intro to Computing"}},
		teachers:    map[int64]models.Teacher{1: {ID: 1, FullName: "Grace Hopper"}},
	}
}

func (m *memDB) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memDB) addStudent(id int64) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	m.students[id] = models.Student{ID: id, StudentNumber: "S-" + strconv.FormatInt(id, 10), FullName: "Student"}
}

func (m *memDB) addSection(capacity int, status models.SectionStatus) int64 {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	id := m.id()
	m.sections[id] = models.Section{ID: id, CourseID: 1, TeacherID: 1, Term: "2025-FALL", Capacity: capacity, Status: status}
	return id
}

func (m *memDB) enrolledCount(sectionID int64) int {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	count := 0
	for _, e := range m.enrollments {
		if e.SectionID == sectionID && e.Status == models.EnrollmentStatusEnrolled {
			count++
		}
	}
	return count
}

type memSnapshot struct {
	sections    map[int64]models.Section
	enrollments map[int64]models.Enrollment
	grades      map[int64]models.Grade
}

func (m *memDB) snapshot() memSnapshot {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	snap := memSnapshot{
		sections:    make(map[int64]models.Section, len(m.sections)),
		enrollments: make(map[int64]models.Enrollment, len(m.enrollments)),
		grades:      make(map[int64]models.Grade, len(m.grades)),
	}
	for k, v := range m.sections {
		snap.sections[k] = v
	}
	for k, v := range m.enrollments {
		snap.enrollments[k] = v
	}
	for k, v := range m.grades {
		snap.grades[k] = v
	}
	return snap
}

func (m *memDB) restore(snap memSnapshot) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	m.sections, m.enrollments, m.grades = snap.sections, snap.enrollments, snap.grades
}

// memTx runs each unit of work exclusively and restores the maps when it fails.
type memTx struct {
	db    *memDB
	calls int
}

func (t *memTx) WithinTx(ctx context.Context, fn func(tx sqlx.ExtContext) error) error {
	t.db.txMu.Lock()
	defer t.db.txMu.Unlock()
	t.calls++
	snap := t.db.snapshot()
	if err := fn(nil); err != nil {
		t.db.restore(snap)
		return err
	}
	return nil
}

// errTx fails every unit of work with err, as a broken connection or a serialization failure would.
type errTx struct{ err error }

func (t errTx) WithinTx(ctx context.Context, fn func(tx sqlx.ExtContext) error) error {
	return t.err
}

type memSectionRepo struct{ db *memDB }

func (r *memSectionRepo) detail(s models.Section) models.SectionDetail {
	count := 0
	for _, e := range r.db.enrollments {
		if e.SectionID == s.ID && e.Status == models.EnrollmentStatusEnrolled {
			count++
		}
	}
	course := r.db.courses[s.CourseID]
	teacher := r.db.teachers[s.TeacherID]
	return models.SectionDetail{Section: s, CourseCode: course.Code, CourseName: course.Name, TeacherName: teacher.FullName, EnrolledCount: count}
}

func (r *memSectionRepo) List(ctx context.Context, filter models.SectionFilter) ([]models.SectionDetail, int, error) {
	r.db.dataMu.Lock()
	defer r.db.dataMu.Unlock()
	var out []models.SectionDetail
	for _, s := range r.db.sections {
		if filter.Term != "" && s.Term != filter.Term {
			continue
		}
		out = append(out, r.detail(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (r *memSectionRepo) FindDetailByID(ctx context.Context, id int64) (*models.SectionDetail, error) {
	r.db.dataMu.Lock()
	defer r.db.dataMu.Unlock()
	s, ok := r.db.sections[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	d := r.detail(s)
	return &d, nil
}

func (r *memSectionRepo) FindByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Section, error) {
	r.db.dataMu.Lock()
	defer r.db.dataMu.Unlock()
	s, ok := r.db.sections[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (r *memSectionRepo) LockByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Section, error) {
	return r.FindByID(ctx, exec, id)
}

func (r *memSectionRepo) ShareLockByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Section, error) {
	return r.FindByID(ctx, exec, id)
}

func (r *memSectionRepo) CountEnrolled(ctx context.Context, exec sqlx.ExtContext, sectionID int64) (int, error) {
	return r.db.enrolledCount(sectionID), nil
}

func (r *memSectionRepo) Create(ctx context.Context, section *models.Section) error {
	r.db.dataMu.Lock()
	defer r.db.dataMu.Unlock()
	section.ID = r.db.id()
	if section.Status == "" {
		section.Status = models.SectionStatusOpen
	}
	r.db.sections[section.ID] = *section
	return nil
}

func (r *memSectionRepo) Update(ctx context.Context, exec sqlx.ExtContext, section *models.Section) error {
	r.db.dataMu.Lock()
	defer r.db.dataMu.Unlock()
	current, ok := r.db.sections[section.ID]
	if !ok {
		return sql.ErrNoRows
	}
	section.GradeLocked = current.GradeLocked
	r.db.sections[section.ID] = *section
	return nil
}

func (r *memSectionRepo) UpdateStatus(ctx context.Context, id int64, status models.SectionStatus) error {
	r.db.dataMu.Lock()
	defer r.db.dataMu.Unlock()
	s, ok := r.db.sections[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.Status = status
	r.db.sections[id] = s
	return nil
}

// ToggleGradeLock waits for in-flight units of work, like an UPDATE blocked by FOR SHARE readers.
func (r *memSectionRepo) ToggleGradeLock(ctx context.Context, id int64) (bool, error) {
	r.db.txMu.Lock()
	defer r.db.txMu.Unlock()
	r.db.dataMu.Lock()
	defer r.db.dataMu.Unlock()
	s, ok := r.db.sections[id]
	if !ok {
		return false, sql.ErrNoRows
	}
	s.GradeLocked = !s.GradeLocked
	r.db.sections[id] = s
	return s.GradeLocked, nil
}

type memEnrollmentRepo struct {
	db        *memDB
	createErr error
}

func (r *memEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	r.db.dataMu.Lock()
	defer r.db.dataMu.Unlock()
	var out []models.EnrollmentDetail
	for _, e := range r.db.enrollments {
		if filter.SectionID > 0 && e.SectionID != filter.SectionID {
			continue
		}
		if filter.StudentID > 0 && e.StudentID != filter.StudentID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, models.EnrollmentDetail{Enrollment: e})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (r *memEnrollmentRepo) LockByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Enrollment, error) {
	r.db.dataMu.Lock()
	defer r.db.dataMu.Unlock()
	e, ok := r.db.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &e, nil
}

func (r *memEnrollmentRepo) FindDetailByID(ctx context.Context, id int64) (*models.EnrollmentDetail, error) {
	e, err := r.LockByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	return &models.EnrollmentDetail{Enrollment: *e, CourseCode: "CS101"}, nil
}

func (r *memEnrollmentRepo) ExistsEnrolled(ctx context.Context, exec sqlx.ExtContext, studentID, sectionID, excludeID int64) (bool, error) {
	r.db.dataMu.Lock()
	defer r.db.dataMu.Unlock()
	for _, e := range r.db.enrollments {
		if e.ID != excludeID && e.StudentID == studentID && e.SectionID == sectionID && e.Status == models.EnrollmentStatusEnrolled {
			return true, nil
		}
	}
	return false, nil
}

func (r *memEnrollmentRepo) Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.db.dataMu.Lock()
	defer r.db.dataMu.Unlock()
	enrollment.ID = r.db.id()
	enrollment.UpdatedAt = enrollment.EnrolledAt
	r.db.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (r *memEnrollmentRepo) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id int64, status models.EnrollmentStatus) error {
	r.db.dataMu.Lock()
	defer r.db.dataMu.Unlock()
	e, ok := r.db.enrollments[id]
	if !ok {
		return sql.ErrNoRows
	}
	e.Status = status
	r.db.enrollments[id] = e
	return nil
}

func (r *memEnrollmentRepo) Delete(ctx context.Context, exec sqlx.ExtContext, id int64) error {
	r.db.dataMu.Lock()
	defer r.db.dataMu.Unlock()
	if _, ok := r.db.enrollments[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.db.enrollments, id)
	return nil
}

type memGradeRepo struct {
	db      *memDB
	upserts int
	// lockedWrites counts upserts that landed while their section was grade locked.
	lockedWrites int
}

func (r *memGradeRepo) FindByEnrollment(ctx context.Context, exec sqlx.ExtContext, enrollmentID int64) (*models.Grade, error) {
	r.db.dataMu.Lock()
	defer r.db.dataMu.Unlock()
	g, ok := r.db.grades[enrollmentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &g, nil
}

func (r *memGradeRepo) LockByEnrollment(ctx context.Context, exec sqlx.ExtContext, enrollmentID int64) (*models.Grade, error) {
	return r.FindByEnrollment(ctx, exec, enrollmentID)
}

func (r *memGradeRepo) Upsert(ctx context.Context, exec sqlx.ExtContext, grade *models.Grade) error {
	r.db.dataMu.Lock()
	defer r.db.dataMu.Unlock()
	if existing, ok := r.db.grades[grade.EnrollmentID]; ok {
		grade.ID = existing.ID
	} else {
		grade.ID = r.db.id()
	}
	r.db.grades[grade.EnrollmentID] = *grade
	r.upserts++
	if section := r.db.sections[r.db.enrollments[grade.EnrollmentID].SectionID]; section.GradeLocked {
		r.lockedWrites++
	}
	return nil
}

func (r *memGradeRepo) DeleteByEnrollment(ctx context.Context, exec sqlx.ExtContext, enrollmentID int64) error {
	r.db.dataMu.Lock()
	defer r.db.dataMu.Unlock()
	delete(r.db.grades, enrollmentID)
	return nil
}

func (r *memGradeRepo) StreamByStudent(ctx context.Context, studentID int64, fn func(models.GradeDetail) error) error {
	r.db.dataMu.Lock()
	var details []models.GradeDetail
	for _, g := range r.db.grades {
		e := r.db.enrollments[g.EnrollmentID]
		if e.StudentID != studentID {
			continue
		}
		details = append(details, models.GradeDetail{Grade: g, StudentID: e.StudentID, SectionID: e.SectionID, EnrollmentStatus: e.Status, EnrolledAt: e.EnrolledAt})
	}
	r.db.dataMu.Unlock()
	sort.Slice(details, func(i, j int) bool {
		if details[i].EnrolledAt.Equal(details[j].EnrolledAt) {
			return details[i].EnrollmentID < details[j].EnrollmentID
		}
		return details[i].EnrolledAt.Before(details[j].EnrolledAt)
	})
	for _, d := range details {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

func (r *memGradeRepo) ListBySection(ctx context.Context, sectionID int64) ([]models.SectionGradeRow, error) {
	r.db.dataMu.Lock()
	defer r.db.dataMu.Unlock()
	var rows []models.SectionGradeRow
	for _, e := range r.db.enrollments {
		if e.SectionID != sectionID {
			continue
		}
		row := models.SectionGradeRow{EnrollmentID: e.ID, StudentID: e.StudentID, StudentName: r.db.students[e.StudentID].FullName, EnrollmentStatus: e.Status}
		if g, ok := r.db.grades[e.ID]; ok {
			gradeID := g.ID
			row.GradeID = &gradeID
			row.Midterm, row.Final, row.Other, row.GPAPoint, row.LetterGrade = g.Midterm, g.Final, g.Other, g.GPAPoint, g.LetterGrade
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].EnrollmentID < rows[j].EnrollmentID })
	return rows, nil
}

type memCatalog struct{ db *memDB }

func (c *memCatalog) FindStudentByID(ctx context.Context, id int64) (*models.Student, error) {
	c.db.dataMu.Lock()
	defer c.db.dataMu.Unlock()
	s, ok := c.db.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (c *memCatalog) FindCourseByID(ctx context.Context, id int64) (*models.Course, error) {
	c.db.dataMu.Lock()
	defer c.db.dataMu.Unlock()
	course, ok := c.db.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &course, nil
}

func (c *memCatalog) FindTeacherByID(ctx context.Context, id int64) (*models.Teacher, error) {
	c.db.dataMu.Lock()
	defer c.db.dataMu.Unlock()
	teacher, ok := c.db.teachers[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &teacher, nil
}

// fixture wires every service over one memDB.
type fixture struct {
	db          *memDB
	tx          *memTx
	sectionRepo *memSectionRepo
	enrollRepo  *memEnrollmentRepo
	gradeRepo   *memGradeRepo
	sections    *SectionService
	enrollments *EnrollmentService
	grades      *GradeService
	metrics     *MetricsService
}

func newFixture() *fixture {
	db := newMemDB()
	tx := &memTx{db: db}
	sectionRepo := &memSectionRepo{db: db}
	enrollRepo := &memEnrollmentRepo{db: db}
	gradeRepo := &memGradeRepo{db: db}
	catalog := &memCatalog{db: db}
	metrics := NewMetricsService()
	return &fixture{
		db:          db,
		tx:          tx,
		sectionRepo: sectionRepo,
		enrollRepo:  enrollRepo,
		gradeRepo:   gradeRepo,
		metrics:     metrics,
		sections:    NewSectionService(sectionRepo, catalog, tx, nil, metrics, nil, nil),
		enrollments: NewEnrollmentService(enrollRepo, sectionRepo, catalog, gradeRepo, tx, nil, metrics, nil, nil),
		grades:      NewGradeService(gradeRepo, enrollRepo, sectionRepo, catalog, tx, metrics, nil, nil),
	}
}
