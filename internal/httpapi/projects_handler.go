package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"publishengine/internal/store"
)

func (h *handler) listProjects(c *gin.Context) {
	projects, err := h.svc.ListProjects(c.Request.Context())
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, projects)
}

func (h *handler) getProject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	project, err := h.svc.GetProject(c.Request.Context(), id)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// createProjectRequest is the CreateProject operation's JSON request body.
type createProjectRequest struct {
	OwnerID     int64  `json:"owner_id" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func (h *handler) createProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "malformed request body", err)
		return
	}
	project, err := h.svc.CreateProject(c.Request.Context(), store.Project{
		OwnerID:     req.OwnerID,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

// updateProjectRequest is the UpdateProject operation's JSON request body.
type updateProjectRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func (h *handler) updateProject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "malformed request body", err)
		return
	}
	project, err := h.svc.UpdateProject(c.Request.Context(), id, req.Name, req.Description)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *handler) deleteProject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteProject(c.Request.Context(), id); err != nil {
		mapServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// scanProject implements POST /api/v1/projects/:id/scan — the ScanProject
// operation's one-shot trigger, for an operator who doesn't want to wait for
// the Scanner's next periodic pass.
func (h *handler) scanProject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.svc.ScanProject(c.Request.Context(), id)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
