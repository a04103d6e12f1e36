package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"odprt-chatbot/gateway/internal/analytics"
	apperrors "odprt-chatbot/gateway/pkg/errors"
	"odprt-chatbot/gateway/pkg/logger"
)

// DashboardHandler serves the admin analytics views.
type DashboardHandler struct {
	analytics *analytics.Service
	log       *logger.Logger
}

// NewDashboardHandler creates a dashboard handler.
func NewDashboardHandler(svc *analytics.Service, log *logger.Logger) *DashboardHandler {
	return &DashboardHandler{analytics: svc, log: log}
}

// RegisterRoutes mounts the dashboard routes on the given group.
func (h *DashboardHandler) RegisterRoutes(rg *gin.RouterGroup) {
	dash := rg.Group("/dashboard")
	{
		dash.GET("", h.Fetch)
		dash.GET("/export", h.Export)
	}
}

// Fetch returns the aggregates for the requested range. max_points thins
// the time series for narrow charts; the pie slices are shaped server side
// so the browser stays a pure renderer.
func (h *DashboardHandler) Fetch(c *gin.Context) {
	r, err := analytics.ParseRange(c.Query("start_date"), c.Query("end_date"))
	if err != nil {
		c.Error(apperrors.NewBadRequestError("INVALID_RANGE", err.Error()))
		return
	}

	stats, err := h.analytics.Fetch(c.Request.Context(), r)
	if err != nil {
		c.Error(toAppError(err))
		return
	}

	if raw := c.Query("max_points"); raw != "" {
		max, err := strconv.Atoi(raw)
		if err != nil || max < 1 {
			c.Error(apperrors.NewBadRequestError("INVALID_MAX_POINTS", "max_points must be a positive integer"))
			return
		}
		stats.UserQueriesOverTime = analytics.Downsample(stats.UserQueriesOverTime, max)
		stats.UserExperienceOverTime = analytics.Downsample(stats.UserExperienceOverTime, max)
	}

	c.JSON(http.StatusOK, gin.H{
		"stats":               stats,
		"intervention_slices": analytics.InterventionSlices(stats),
	})
}

// Export streams the range as an xlsx workbook attachment.
func (h *DashboardHandler) Export(c *gin.Context) {
	r, err := analytics.ParseRange(c.Query("start_date"), c.Query("end_date"))
	if err != nil {
		c.Error(apperrors.NewBadRequestError("INVALID_RANGE", err.Error()))
		return
	}

	stats, err := h.analytics.Fetch(c.Request.Context(), r)
	if err != nil {
		c.Error(toAppError(err))
		return
	}

	filename := analytics.ExportFilename(time.Now())
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := analytics.WriteXLSX(c.Writer, stats, r); err != nil {
		h.log.LogError(err, "dashboard export failed")
	}
}
