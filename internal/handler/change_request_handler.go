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

// ChangeRequestHandler exposes the schedule change request lifecycle.
type ChangeRequestHandler struct {
	service *service.ChangeRequestService
}

// NewChangeRequestHandler constructs a change request handler.
func NewChangeRequestHandler(svc *service.ChangeRequestService) *ChangeRequestHandler {
	return &ChangeRequestHandler{service: svc}
}

// Submit godoc
// @Summary Submit a schedule change request
// @Tags ChangeRequests
// @Accept json
// @Produce json
// @Param payload body dto.CreateChangeRequestRequest true "Proposal payload"
// @Success 201 {object} response.Envelope
// @Router /change-requests [post]
func (h *ChangeRequestHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if claims.ProfileID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "no teacher profile associated with this account"))
		return
	}
	var req dto.CreateChangeRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	request, err := h.service.Submit(c.Request.Context(), claims.ProfileID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// List godoc
// @Summary List change requests
// @Tags ChangeRequests
// @Produce json
// @Param teacherId query string false "Filter by teacher"
// @Param groupId query string false "Filter by group"
// @Param state query string false "Filter by state"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /change-requests [get]
func (h *ChangeRequestHandler) List(c *gin.Context) {
	var filter models.ChangeRequestFilter
	filter.TeacherID = c.Query("teacherId")
	filter.GroupID = c.Query("groupId")
	if state := c.Query("state"); state != "" {
		filter.State = models.ChangeRequestState(state)
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	// Teachers see only their own requests.
	claims := claimsFromContext(c)
	if claims != nil && claims.Role == models.RoleTeacher {
		filter.TeacherID = claims.ProfileID
	}

	requests, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// Get godoc
// @Summary Get one change request
// @Tags ChangeRequests
// @Produce json
// @Param id path string true "Change request ID"
// @Success 200 {object} response.Envelope
// @Router /change-requests/{id} [get]
func (h *ChangeRequestHandler) Get(c *gin.Context) {
	request, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	claims := claimsFromContext(c)
	if claims != nil && claims.Role == models.RoleTeacher && request.TeacherID != claims.ProfileID {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Approve godoc
// @Summary Approve a change request and move the slot
// @Tags ChangeRequests
// @Produce json
// @Param id path string true "Change request ID"
// @Success 200 {object} response.Envelope
// @Router /change-requests/{id}/approve [post]
func (h *ChangeRequestHandler) Approve(c *gin.Context) {
	request, err := h.service.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Reject godoc
// @Summary Reject a change request
// @Tags ChangeRequests
// @Produce json
// @Param id path string true "Change request ID"
// @Success 200 {object} response.Envelope
// @Router /change-requests/{id}/reject [post]
func (h *ChangeRequestHandler) Reject(c *gin.Context) {
	request, err := h.service.Reject(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}
