package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"publishengine/internal/apperrors"
	"publishengine/internal/controlplane"
	"publishengine/internal/store"
)

// listTasks implements GET /api/v1/tasks — filters: status, project_id,
// pagination (limit/offset), per the ListTasks operation.
func (h *handler) listTasks(c *gin.Context) {
	filter := store.TaskFilter{
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}
	if raw := c.Query("status"); raw != "" {
		status := store.TaskStatus(raw)
		filter.Status = &status
	}
	if raw := c.Query("project_id"); raw != "" {
		projectID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid project_id", err)
			return
		}
		filter.ProjectID = &projectID
	}

	page, err := h.svc.ListTasks(c.Request.Context(), filter)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *handler) getTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	task, err := h.svc.GetTask(c.Request.Context(), id)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// createTaskRequest is the CreateTask operation's JSON request body.
type createTaskRequest struct {
	ProjectID   int64      `json:"project_id" binding:"required"`
	SourceID    int64      `json:"source_id"`
	MediaPath   string     `json:"media_path" binding:"required"`
	ContentData []byte     `json:"content_data"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	Priority    int        `json:"priority"`
}

func (h *handler) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "malformed request body", err)
		return
	}
	id, err := h.svc.CreateTask(c.Request.Context(), controlplane.CreateTaskInput{
		ProjectID:   req.ProjectID,
		SourceID:    req.SourceID,
		MediaPath:   req.MediaPath,
		ContentData: req.ContentData,
		ScheduledAt: req.ScheduledAt,
		Priority:    req.Priority,
	})
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// updateTaskRequest is the UpdateTask operation's JSON request body.
type updateTaskRequest struct {
	ExpectedVersion int64      `json:"expected_version" binding:"required"`
	Priority        *int       `json:"priority"`
	ScheduledAt     *time.Time `json:"scheduled_at"`
}

func (h *handler) updateTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "malformed request body", err)
		return
	}
	task, err := h.svc.UpdateTask(c.Request.Context(), id, req.ExpectedVersion, store.TaskPatch{
		Priority:    req.Priority,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *handler) deleteTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteTask(c.Request.Context(), id); err != nil {
		mapServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// versionedActionRequest is shared by ExecuteTaskNow and CancelTask, both of
// which take an optimistic-lock version to guard against acting on a task
// that moved between the client's read and this call.
type versionedActionRequest struct {
	ExpectedVersion int64 `json:"expected_version" binding:"required"`
}

func (h *handler) executeTaskNow(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req versionedActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "malformed request body", err)
		return
	}
	if err := h.svc.ExecuteTaskNow(c.Request.Context(), id, req.ExpectedVersion); err != nil {
		mapServiceError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *handler) cancelTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req versionedActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "malformed request body", err)
		return
	}
	if err := h.svc.CancelTask(c.Request.Context(), id, req.ExpectedVersion); err != nil {
		mapServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// bulkActionRequest is the BulkAction operation's JSON request body.
type bulkActionRequest struct {
	IDs    []int64 `json:"ids" binding:"required"`
	Action string  `json:"action" binding:"required"`
}

func (h *handler) bulkAction(c *gin.Context) {
	var req bulkActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "malformed request body", err)
		return
	}
	if req.Action != "cancel" && req.Action != "delete" {
		writeError(c, http.StatusBadRequest, "unsupported action", &apperrors.ValidationError{Field: "action", Message: req.Action})
		return
	}
	results := h.svc.BulkAction(c.Request.Context(), req.IDs, req.Action)
	c.JSON(http.StatusOK, gin.H{"results": results})
}
