package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// analyticsOverview implements GET /api/v1/analytics — the
// AnalyticsOverview/Trends operation, defaulting to the trailing 7 days when
// from/to are omitted.
func (h *handler) analyticsOverview(c *gin.Context) {
	to := time.Now().UTC()
	from := to.Add(-7 * 24 * time.Hour)
	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid from timestamp", err)
			return
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid to timestamp", err)
			return
		}
		to = parsed
	}
	var projectID *int64
	if raw := c.Query("project_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid project_id", err)
			return
		}
		projectID = &id
	}

	buckets, err := h.svc.AnalyticsOverview(c.Request.Context(), projectID, from, to)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"buckets": buckets})
}
