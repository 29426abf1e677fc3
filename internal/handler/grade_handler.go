package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/uniportal-api/internal/models"
	"github.com/noah-isme/uniportal-api/internal/service"
	"github.com/noah-isme/uniportal-api/pkg/response"
)

type gradeService interface {
	UpsertScores(ctx context.Context, enrollmentID int64, req service.UpsertGradeRequest, actorID string) (*models.Grade, error)
	GetByEnrollment(ctx context.Context, enrollmentID int64) (*models.Grade, error)
	GetByStudent(ctx context.Context, studentID int64) ([]models.GradeDetail, error)
	ListBySection(ctx context.Context, sectionID int64) (*models.SectionGradeSheet, error)
	ExportSection(ctx context.Context, sectionID int64, format string) (*service.GradeSheetFile, error)
}

// GradeHandler manages grade endpoints.
type GradeHandler struct {
	grades      gradeService
	enrollments enrollmentReader
}

// NewGradeHandler constructs GradeHandler. enrollments resolves ownership for student callers.
func NewGradeHandler(grades gradeService, enrollments enrollmentReader) *GradeHandler {
	return &GradeHandler{grades: grades, enrollments: enrollments}
}

// GetByEnrollment godoc
// @Summary Get the grade of an enrollment
// @Tags Grades
// @Produce json
// @Param id path int true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id}/grade [get]
func (h *GradeHandler) GetByEnrollment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := requireOwnEnrollment(c, h.enrollments, id, "students may only view their own grades"); err != nil {
		response.Error(c, err)
		return
	}
	grade, err := h.grades.GetByEnrollment(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grade, nil)
}

// Upsert godoc
// @Summary Record scores for an enrollment
// @Description Scores are clamped to 0..100. Letter grade and GPA point are derived once midterm and final are both present.
// @Tags Grades
// @Accept json
// @Produce json
// @Param id path int true "Enrollment ID"
// @Param payload body service.UpsertGradeRequest true "Scores"
// @Success 200 {object} response.Envelope
// @Failure 423 {object} response.Envelope
// @Router /enrollments/{id}/grade [put]
func (h *GradeHandler) Upsert(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.UpsertGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	grade, err := h.grades.UpsertScores(c.Request.Context(), id, req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grade, nil)
}

// ByStudent godoc
// @Summary List a student's grades in enrollment order
// @Tags Grades
// @Produce json
// @Param id path int true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/grades [get]
func (h *GradeHandler) ByStudent(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	grades, err := h.grades.GetByStudent(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grades, nil)
}

// BySection godoc
// @Summary Section grade sheet
// @Tags Grades
// @Produce json
// @Param id path int true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/grades [get]
func (h *GradeHandler) BySection(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	sheet, err := h.grades.ListBySection(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sheet, nil)
}

// Export godoc
// @Summary Download the section grade sheet
// @Tags Grades
// @Produce text/csv
// @Produce application/pdf
// @Param id path int true "Section ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Router /sections/{id}/grades/export [get]
func (h *GradeHandler) Export(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.grades.ExportSection(c.Request.Context(), id, c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, file.Filename, file.ContentType, file.Data)
}
