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

// ScheduleHandler exposes slot booking, conflict probing, and timetable
// endpoints.
type ScheduleHandler struct {
	service *service.ScheduleService
}

// NewScheduleHandler constructs a schedule handler.
func NewScheduleHandler(svc *service.ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{service: svc}
}

// List godoc
// @Summary List slots
// @Tags Schedule
// @Produce json
// @Param periodId query string false "Filter by period"
// @Param groupId query string false "Filter by group"
// @Param classroomId query string false "Filter by classroom"
// @Param teacherId query string false "Filter by teacher"
// @Param day query int false "Filter by day of week"
// @Param state query string false "Filter by state"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /slots [get]
func (h *ScheduleHandler) List(c *gin.Context) {
	var filter models.SlotFilter
	filter.PeriodID = c.Query("periodId")
	filter.GroupID = c.Query("groupId")
	filter.ClassroomID = c.Query("classroomId")
	filter.TeacherID = c.Query("teacherId")
	if rawDay := c.Query("day"); rawDay != "" {
		if day, err := strconv.Atoi(rawDay); err == nil {
			d := models.DayOfWeek(day)
			filter.Day = &d
		}
	}
	if state := c.Query("state"); state != "" {
		filter.State = models.SlotState(state)
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	slots, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// Get godoc
// @Summary Get one slot
// @Tags Schedule
// @Produce json
// @Param id path string true "Slot ID"
// @Success 200 {object} response.Envelope
// @Router /slots/{id} [get]
func (h *ScheduleHandler) Get(c *gin.Context) {
	slot, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slot, nil)
}

// Create godoc
// @Summary Book a slot
// @Tags Schedule
// @Accept json
// @Produce json
// @Param payload body dto.CreateSlotRequest true "Slot payload"
// @Success 201 {object} response.Envelope
// @Router /slots [post]
func (h *ScheduleHandler) Create(c *gin.Context) {
	var req dto.CreateSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	slot, err := h.service.CreateSlot(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, slot)
}

// Move godoc
// @Summary Move a slot to another day or window
// @Tags Schedule
// @Accept json
// @Produce json
// @Param id path string true "Slot ID"
// @Param payload body dto.MoveSlotRequest true "Move payload"
// @Success 200 {object} response.Envelope
// @Router /slots/{id}/move [post]
func (h *ScheduleHandler) Move(c *gin.Context) {
	var req dto.MoveSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	slot, err := h.service.MoveSlot(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slot, nil)
}

// Cancel godoc
// @Summary Cancel a slot
// @Tags Schedule
// @Produce json
// @Param id path string true "Slot ID"
// @Success 204
// @Router /slots/{id} [delete]
func (h *ScheduleHandler) Cancel(c *gin.Context) {
	if err := h.service.CancelSlot(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CheckConflict godoc
// @Summary Probe a candidate window for conflicts
// @Tags Schedule
// @Accept json
// @Produce json
// @Param payload body dto.CheckConflictRequest true "Candidate window"
// @Success 200 {object} response.Envelope
// @Router /slots/check-conflict [post]
func (h *ScheduleHandler) CheckConflict(c *gin.Context) {
	var req dto.CheckConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.service.CheckConflict(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil, map[string]interface{}{
		"has_conflict": result.HasConflict(),
	})
}

// GroupTimetable godoc
// @Summary Get a group's weekly timetable
// @Tags Schedule
// @Produce json
// @Param id path string true "Group ID"
// @Param periodId query string true "Period ID"
// @Success 200 {object} response.Envelope
// @Router /timetables/groups/{id} [get]
func (h *ScheduleHandler) GroupTimetable(c *gin.Context) {
	slots, err := h.service.GroupTimetable(c.Request.Context(), c.Param("id"), c.Query("periodId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// TeacherTimetable godoc
// @Summary Get a teacher's weekly timetable
// @Tags Schedule
// @Produce json
// @Param id path string true "Teacher ID"
// @Param periodId query string true "Period ID"
// @Success 200 {object} response.Envelope
// @Router /timetables/teachers/{id} [get]
func (h *ScheduleHandler) TeacherTimetable(c *gin.Context) {
	slots, err := h.service.TeacherTimetable(c.Request.Context(), c.Param("id"), c.Query("periodId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// StudentTimetable godoc
// @Summary Get a student's weekly timetable
// @Tags Schedule
// @Produce json
// @Param id path string true "Student ID"
// @Param periodId query string true "Period ID"
// @Success 200 {object} response.Envelope
// @Router /timetables/students/{id} [get]
func (h *ScheduleHandler) StudentTimetable(c *gin.Context) {
	studentID := c.Param("id")
	claims := claimsFromContext(c)
	if claims != nil && claims.Role == models.RoleStudent && claims.ProfileID != studentID {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "students may only view their own timetable"))
		return
	}
	slots, err := h.service.StudentTimetable(c.Request.Context(), studentID, c.Query("periodId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// ClassroomTimetable godoc
// @Summary Get a classroom's weekly timetable
// @Tags Schedule
// @Produce json
// @Param id path string true "Classroom ID"
// @Param periodId query string true "Period ID"
// @Success 200 {object} response.Envelope
// @Router /timetables/classrooms/{id} [get]
func (h *ScheduleHandler) ClassroomTimetable(c *gin.Context) {
	slots, err := h.service.ClassroomTimetable(c.Request.Context(), c.Param("id"), c.Query("periodId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}
