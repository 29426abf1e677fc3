package models

// Department groups courses, teachers and classes.
type Department struct {
	ID   int64  `db:"id" json:"id"`
	Code string `db:"code" json:"code"`
	Name string `db:"name" json:"name"`
}

// Course is a catalog course that sections are offered for.
type Course struct {
	ID           int64  `db:"id" json:"id"`
	DepartmentID int64  `db:"department_id" json:"department_id"`
	Code         string `db:"code" json:"code"`
	Name         string `db:"name" json:"name"`
	Credits      int    `db:"credits" json:"credits"`
}

// Teacher represents an instructor record.
type Teacher struct {
	ID           int64  `db:"id" json:"id"`
	DepartmentID *int64 `db:"department_id" json:"department_id,omitempty"`
	FullName     string `db:"full_name" json:"full_name"`
	Email        string `db:"email" json:"email"`
}

// Class is a student cohort.
type Class struct {
	ID           int64  `db:"id" json:"id"`
	DepartmentID int64  `db:"department_id" json:"department_id"`
	Name         string `db:"name" json:"name"`
	IntakeYear   int    `db:"intake_year" json:"intake_year"`
}

// Student represents a learner registered in the university.
type Student struct {
	ID            int64  `db:"id" json:"id"`
	ClassID       *int64 `db:"class_id" json:"class_id,omitempty"`
	StudentNumber string `db:"student_number" json:"student_number"`
	FullName      string `db:"full_name" json:"full_name"`
	Email         string `db:"email" json:"email"`
}
