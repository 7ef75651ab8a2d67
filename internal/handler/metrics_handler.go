package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eduplan/eduplan-api/internal/service"
	appErrors "github.com/eduplan/eduplan-api/pkg/errors"
	"github.com/eduplan/eduplan-api/pkg/response"
)

// MetricsHandler exposes an aggregate snapshot for dashboards. The raw
// Prometheus endpoint is mounted separately.
type MetricsHandler struct {
	service *service.MetricsService
}

// NewMetricsHandler constructs a metrics handler.
func NewMetricsHandler(svc *service.MetricsService) *MetricsHandler {
	return &MetricsHandler{service: svc}
}

// Snapshot godoc
// @Summary Get aggregate system metrics
// @Tags Metrics
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /metrics/summary [get]
func (h *MetricsHandler) Snapshot(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "metrics service not configured"))
		return
	}
	response.JSON(c, http.StatusOK, h.service.Snapshot(), nil)
}
