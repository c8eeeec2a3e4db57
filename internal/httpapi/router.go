// Package httpapi binds the control-surface operations of internal/
// controlplane to gin HTTP routes — a thin adapter, not a product: every
// handler decodes a request, calls one Service method, and maps the result
// (or error) to JSON. No business logic lives here.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"publishengine/internal/config"
	"publishengine/internal/controlplane"
	"publishengine/internal/logging"
)

// Deps is everything the router needs to bind routes to.
type Deps struct {
	Service *controlplane.Service
	Logger  logging.Logger
}

// NewRouter builds the gin engine: auth, logging, CORS, then every route.
func NewRouter(deps Deps, cfg config.HTTPConfig) http.Handler {
	logger := logging.OrNop(deps.Logger)
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(loggingMiddleware(logger))
	r.Use(corsMiddleware(cfg.AllowedOrigins))

	h := &handler{svc: deps.Service, logger: logger}

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/metrics-status", h.schedulerStatus) // lightweight JSON snapshot, not the Prometheus handler above

	api := r.Group("/api/v1")
	api.Use(authMiddleware(deps.Service, logger))
	{
		api.GET("/tasks", h.listTasks)
		api.POST("/tasks", h.createTask)
		api.GET("/tasks/:id", h.getTask)
		api.PATCH("/tasks/:id", h.updateTask)
		api.DELETE("/tasks/:id", h.deleteTask)
		api.POST("/tasks/:id/execute", h.executeTaskNow)
		api.POST("/tasks/:id/cancel", h.cancelTask)
		api.POST("/tasks/bulk", h.bulkAction)

		api.GET("/projects", h.listProjects)
		api.POST("/projects", h.createProject)
		api.GET("/projects/:id", h.getProject)
		api.PATCH("/projects/:id", h.updateProject)
		api.DELETE("/projects/:id", h.deleteProject)
		api.POST("/projects/:id/scan", h.scanProject)

		api.GET("/scheduler/status", h.schedulerStatus)
		api.GET("/governors/status", h.governorStatus)
		api.GET("/analytics", h.analyticsOverview)
	}

	return r
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	c := cors.DefaultConfig()
	if len(allowedOrigins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = allowedOrigins
	}
	c.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE"}
	c.AllowHeaders = []string{"Origin", "Content-Type", "X-Api-Key"}
	return cors.New(c)
}

func loggingMiddleware(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Info("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(started))
	}
}
