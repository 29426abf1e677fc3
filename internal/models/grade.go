package models

import "time"

// Grade is the scored outcome of one enrollment.
type Grade struct {
	ID           int64     `db:"id" json:"id"`
	EnrollmentID int64     `db:"enrollment_id" json:"enrollment_id"`
	Midterm      *float64  `db:"midterm" json:"midterm"`
	Final        *float64  `db:"final" json:"final"`
	Other        *float64  `db:"other" json:"other"`
	GPAPoint     *float64  `db:"gpa_point" json:"gpa_point"`
	LetterGrade  *string   `db:"letter_grade" json:"letter_grade"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
	UpdatedBy    string    `db:"updated_by" json:"updated_by"`
}

// GradeDetail is a grade joined with its enrollment context, used for student transcripts.
type GradeDetail struct {
	Grade
	StudentID        int64            `db:"student_id" json:"student_id"`
	SectionID        int64            `db:"section_id" json:"section_id"`
	EnrollmentStatus EnrollmentStatus `db:"enrollment_status" json:"enrollment_status"`
	EnrolledAt       time.Time        `db:"enrolled_at" json:"enrolled_at"`
	CourseCode       string           `db:"course_code" json:"course_code"`
	CourseName       string           `db:"course_name" json:"course_name"`
	Term             string           `db:"term" json:"term"`
}

// SectionGradeRow is one roster line of a section's grade sheet; grade columns are nil until scored.
type SectionGradeRow struct {
	EnrollmentID     int64            `db:"enrollment_id" json:"enrollment_id"`
	StudentID        int64            `db:"student_id" json:"student_id"`
	StudentNumber    string           `db:"student_number" json:"student_number"`
	StudentName      string           `db:"student_name" json:"student_name"`
	EnrollmentStatus EnrollmentStatus `db:"enrollment_status" json:"enrollment_status"`
	GradeID          *int64           `db:"grade_id" json:"grade_id,omitempty"`
	Midterm          *float64         `db:"midterm" json:"midterm"`
	Final            *float64         `db:"final" json:"final"`
	Other            *float64         `db:"other" json:"other"`
	GPAPoint         *float64         `db:"gpa_point" json:"gpa_point"`
	LetterGrade      *string          `db:"letter_grade" json:"letter_grade"`
	UpdatedAt        *time.Time       `db:"updated_at" json:"updated_at,omitempty"`
	UpdatedBy        *string          `db:"updated_by" json:"updated_by,omitempty"`
}

// SectionGradeSheet is the batch view of every enrollment in a section.
type SectionGradeSheet struct {
	Section SectionDetail     `json:"section"`
	Rows    []SectionGradeRow `json:"rows"`
}
