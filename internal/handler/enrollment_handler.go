package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/eduplan/eduplan-api/internal/dto"
	"github.com/eduplan/eduplan-api/internal/models"
	"github.com/eduplan/eduplan-api/internal/service"
	appErrors "github.com/eduplan/eduplan-api/pkg/errors"
	"github.com/eduplan/eduplan-api/pkg/response"
)

// EnrollmentHandler exposes enrollment endpoints.
type EnrollmentHandler struct {
	service *service.EnrollmentService
}

// NewEnrollmentHandler constructs an enrollment handler.
func NewEnrollmentHandler(svc *service.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{service: svc}
}

// Students may only act on their own enrollments; admins are unrestricted.
func (h *EnrollmentHandler) authorizeStudent(c *gin.Context, studentID string) bool {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return false
	}
	if claims.Role == models.RoleStudent && claims.ProfileID != studentID {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "students may only manage their own enrollments"))
		return false
	}
	return true
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param groupId query string false "Filter by group"
// @Param periodId query string false "Filter by period"
// @Param state query string false "Filter by state"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	var filter models.EnrollmentFilter
	filter.StudentID = c.Query("studentId")
	filter.GroupID = c.Query("groupId")
	filter.PeriodID = c.Query("periodId")
	if state := c.Query("state"); state != "" {
		filter.State = models.EnrollmentState(state)
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	// Students see only their own enrollments.
	claims := claimsFromContext(c)
	if claims != nil && claims.Role == models.RoleStudent {
		filter.StudentID = claims.ProfileID
	}

	enrollments, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// Get godoc
// @Summary Get enrollment detail
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	enrollment, err := h.service.GetDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !h.authorizeStudent(c, enrollment.StudentID) {
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Create godoc
// @Summary Enroll a student into a group
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body dto.CreateEnrollmentRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	var req dto.CreateEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if !h.authorizeStudent(c, req.StudentID) {
		return
	}
	enrollment, err := h.service.Enroll(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Validate godoc
// @Summary Dry-run the enrollment constraint chain
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body dto.ValidateEnrollmentRequest true "Candidate enrollment"
// @Success 200 {object} response.Envelope
// @Router /enrollments/validate [post]
func (h *EnrollmentHandler) Validate(c *gin.Context) {
	var req dto.ValidateEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if !h.authorizeStudent(c, req.StudentID) {
		return
	}
	violation, err := h.service.Validate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, violation, nil, map[string]interface{}{
		"acceptable": violation == nil,
	})
}

// ChangeGroup godoc
// @Summary Move an active enrollment to another group
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body dto.UpdateEnrollmentRequest true "Target group"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id} [put]
func (h *EnrollmentHandler) ChangeGroup(c *gin.Context) {
	var req dto.UpdateEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	current, err := h.service.GetDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !h.authorizeStudent(c, current.StudentID) {
		return
	}
	enrollment, err := h.service.ChangeGroup(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Reactivate godoc
// @Summary Reactivate a withdrawn enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/reactivate [post]
func (h *EnrollmentHandler) Reactivate(c *gin.Context) {
	current, err := h.service.GetDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !h.authorizeStudent(c, current.StudentID) {
		return
	}
	enrollment, err := h.service.Reactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// StudentLoad godoc
// @Summary Get a student's active enrollments and weekly schedule
// @Tags Enrollments
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/load [get]
func (h *EnrollmentHandler) StudentLoad(c *gin.Context) {
	studentID := c.Param("id")
	if !h.authorizeStudent(c, studentID) {
		return
	}
	load, err := h.service.StudentLoad(c.Request.Context(), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, load, nil)
}

// Withdraw godoc
// @Summary Withdraw an enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 204
// @Router /enrollments/{id} [delete]
func (h *EnrollmentHandler) Withdraw(c *gin.Context) {
	current, err := h.service.GetDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !h.authorizeStudent(c, current.StudentID) {
		return
	}
	if err := h.service.Withdraw(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
