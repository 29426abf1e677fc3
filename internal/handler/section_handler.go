package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/uniportal-api/internal/middleware"
	"github.com/noah-isme/uniportal-api/internal/models"
	"github.com/noah-isme/uniportal-api/internal/service"
	appErrors "github.com/noah-isme/uniportal-api/pkg/errors"
	"github.com/noah-isme/uniportal-api/pkg/response"
)

type sectionService interface {
	List(ctx context.Context, filter models.SectionFilter) ([]models.SectionDetail, *models.Pagination, error)
	Get(ctx context.Context, id int64) (*models.SectionDetail, error)
	Occupancy(ctx context.Context, id int64) (*models.Occupancy, error)
	Create(ctx context.Context, req service.SectionRequest) (*models.SectionDetail, error)
	Update(ctx context.Context, id int64, req service.SectionRequest) (*models.SectionDetail, error)
	SetStatus(ctx context.Context, id int64, req service.SectionStatusRequest) (*models.SectionDetail, error)
	ToggleGradeLock(ctx context.Context, id int64) (bool, error)
}

// SectionHandler exposes section endpoints.
type SectionHandler struct {
	sections sectionService
}

// NewSectionHandler constructs SectionHandler.
func NewSectionHandler(sections sectionService) *SectionHandler {
	return &SectionHandler{sections: sections}
}

// List godoc
// @Summary List sections
// @Tags Sections
// @Produce json
// @Param courseId query int false "Filter by course"
// @Param teacherId query int false "Filter by teacher"
// @Param term query string false "Filter by term"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sections [get]
func (h *SectionHandler) List(c *gin.Context) {
	var filter models.SectionFilter
	var err error
	if filter.CourseID, err = queryID(c, "courseId"); err != nil {
		response.Error(c, err)
		return
	}
	if filter.TeacherID, err = queryID(c, "teacherId"); err != nil {
		response.Error(c, err)
		return
	}
	filter.Term = c.Query("term")
	if raw := c.Query("status"); raw != "" {
		status, ok := models.ParseSectionStatus(raw)
		if !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown section status"))
			return
		}
		filter.Status = status
	}
	filter.Page, filter.PageSize = pageParams(c)

	sections, pagination, err := h.sections.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sections, pagination, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get section with enrolled count
// @Tags Sections
// @Produce json
// @Param id path int true "Section ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sections/{id} [get]
func (h *SectionHandler) Get(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	section, err := h.sections.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, section, nil, middleware.ExtractMeta(c))
}

// Occupancy godoc
// @Summary Seats taken against capacity
// @Tags Sections
// @Produce json
// @Param id path int true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/occupancy [get]
func (h *SectionHandler) Occupancy(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	occupancy, err := h.sections.Occupancy(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, occupancy, nil)
}

// Create godoc
// @Summary Create section
// @Tags Sections
// @Accept json
// @Produce json
// @Param payload body service.SectionRequest true "Section payload"
// @Success 201 {object} response.Envelope
// @Router /sections [post]
func (h *SectionHandler) Create(c *gin.Context) {
	var req service.SectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	section, err := h.sections.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, section)
}

// Update godoc
// @Summary Update section
// @Tags Sections
// @Accept json
// @Produce json
// @Param id path int true "Section ID"
// @Param payload body service.SectionRequest true "Section payload"
// @Success 200 {object} response.Envelope
// @Router /sections/{id} [put]
func (h *SectionHandler) Update(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.SectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	section, err := h.sections.Update(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, section, nil)
}

// SetStatus godoc
// @Summary Change section status
// @Tags Sections
// @Accept json
// @Produce json
// @Param id path int true "Section ID"
// @Param payload body service.SectionStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/status [patch]
func (h *SectionHandler) SetStatus(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.SectionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	section, err := h.sections.SetStatus(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, section, nil)
}

// ToggleGradeLock godoc
// @Summary Toggle the section grade lock
// @Tags Sections
// @Produce json
// @Param id path int true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/grade-lock [post]
func (h *SectionHandler) ToggleGradeLock(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	locked, err := h.sections.ToggleGradeLock(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"section_id": id, "grade_locked": locked}, nil)
}
