package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"publishengine/internal/controlplane"
	"publishengine/internal/logging"
)

// handler holds the Service every route delegates to, plus a logger for
// request-scoped diagnostics beyond what loggingMiddleware already records.
type handler struct {
	svc    *controlplane.Service
	logger logging.Logger
}

// health implements GET /health, unauthenticated so a load balancer or
// orchestrator can probe it without a key.
func (h *handler) health(c *gin.Context) {
	components := h.svc.Health(c.Request.Context())
	status := http.StatusOK
	for _, comp := range components {
		if comp.Status != "healthy" {
			status = http.StatusServiceUnavailable
			break
		}
	}
	c.JSON(status, gin.H{"components": components})
}

func (h *handler) schedulerStatus(c *gin.Context) {
	status, err := h.svc.SchedulerStatus(c.Request.Context())
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *handler) governorStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.GovernorStatus())
}

// pathID parses the ":id" URL parameter, writing a 400 and returning ok=false
// on a malformed value.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid id", err)
		return 0, false
	}
	return id, true
}

// queryInt reads an integer query parameter, falling back to def when absent
// or malformed.
func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
