package models

import (
	"strings"
	"time"
)

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusEnrolled  EnrollmentStatus = "ENROLLED"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
	EnrollmentStatusCanceled  EnrollmentStatus = "CANCELED"
)

// ParseEnrollmentStatus normalises raw input into a canonical EnrollmentStatus.
func ParseEnrollmentStatus(raw string) (EnrollmentStatus, bool) {
	status := EnrollmentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return status, status.Valid()
}

// Valid reports whether s is one of the known statuses.
func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentStatusEnrolled, EnrollmentStatusCompleted, EnrollmentStatusCanceled:
		return true
	}
	return false
}

// Enrollment captures a student's registration in a section.
type Enrollment struct {
	ID         int64            `db:"id" json:"id"`
	StudentID  int64            `db:"student_id" json:"student_id"`
	SectionID  int64            `db:"section_id" json:"section_id"`
	EnrolledAt time.Time        `db:"enrolled_at" json:"enrolled_at"`
	Status     EnrollmentStatus `db:"status" json:"status"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with student and section info.
type EnrollmentDetail struct {
	Enrollment
	StudentNumber string `db:"student_number" json:"student_number"`
	StudentName   string `db:"student_name" json:"student_name"`
	CourseCode    string `db:"course_code" json:"course_code"`
	CourseName    string `db:"course_name" json:"course_name"`
	Term          string `db:"term" json:"term"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID int64
	SectionID int64
	Status    EnrollmentStatus
	Page      int
	PageSize  int
}
