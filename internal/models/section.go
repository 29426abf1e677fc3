package models

import (
	"strings"
	"time"
)

// SectionStatus represents whether a section accepts new enrollments.
type SectionStatus string

// Possible section statuses.
const (
	SectionStatusOpen     SectionStatus = "OPEN"
	SectionStatusClosed   SectionStatus = "CLOSED"
	SectionStatusCanceled SectionStatus = "CANCELED"
)

// ParseSectionStatus normalises raw input into a canonical SectionStatus.
func ParseSectionStatus(raw string) (SectionStatus, bool) {
	status := SectionStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return status, status.Valid()
}

// Valid reports whether s is one of the known statuses.
func (s SectionStatus) Valid() bool {
	switch s {
	case SectionStatusOpen, SectionStatusClosed, SectionStatusCanceled:
		return true
	}
	return false
}

// Section is a scheduled offering of a course for a term.
type Section struct {
	ID          int64         `db:"id" json:"id"`
	CourseID    int64         `db:"course_id" json:"course_id"`
	Term        string        `db:"term" json:"term"`
	TeacherID   int64         `db:"teacher_id" json:"teacher_id"`
	Capacity    int           `db:"capacity" json:"capacity"`
	Status      SectionStatus `db:"status" json:"status"`
	GradeLocked bool          `db:"grade_locked" json:"grade_locked"`
	Schedule    string        `db:"schedule" json:"schedule"`
	Room        string        `db:"room" json:"room"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// SectionDetail enriches Section with catalog labels and live occupancy.
type SectionDetail struct {
	Section
	CourseCode    string `db:"course_code" json:"course_code"`
	CourseName    string `db:"course_name" json:"course_name"`
	TeacherName   string `db:"teacher_name" json:"teacher_name"`
	EnrolledCount int    `db:"enrolled_count" json:"enrolled_count"`
}

// SectionFilter provides filters for listing sections.
type SectionFilter struct {
	CourseID  int64
	TeacherID int64
	Term      string
	Status    SectionStatus
	Page      int
	PageSize  int
}

// Occupancy reports seats taken against capacity.
type Occupancy struct {
	SectionID int64 `json:"section_id"`
	Enrolled  int   `json:"enrolled"`
	Capacity  int   `json:"capacity"`
	Available int   `json:"available"`
}
