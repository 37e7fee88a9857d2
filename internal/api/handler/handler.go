package handler

import (
	"net/http"

	"taskline/internal/api/dto"
	"taskline/internal/auth"
	"taskline/internal/service"
	"taskline/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type TaskHandler struct {
	service *service.TaskService
	sweeper *worker.Sweeper
}

func NewTaskHandler(svc *service.TaskService, sweeper *worker.Sweeper) *TaskHandler {
	return &TaskHandler{service: svc, sweeper: sweeper}
}

func (h *TaskHandler) StartJob(c *gin.Context) {
	var req dto.StartJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID := uuid.Nil
	if req.SessionID != nil {
		sessionID = *req.SessionID
	}

	task, err := h.service.StartJob(c.Request.Context(), auth.UserID(c), req.Workflow, sessionID, req.Input)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, dto.StartJobResponse{
		JobID:     task.ID,
		TaskID:    task.ID,
		SessionID: task.SessionID,
	})
}

func (h *TaskHandler) RetryTask(c *gin.Context) {
	taskID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	task, err := h.service.RetryTask(c.Request.Context(), auth.UserID(c), taskID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) CancelTask(c *gin.Context) {
	taskID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.service.CancelTask(c.Request.Context(), auth.UserID(c), taskID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancellation requested"})
}

func (h *TaskHandler) ResumeTask(c *gin.Context) {
	taskID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	task, err := h.service.ResumeTask(c.Request.Context(), auth.UserID(c), taskID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) SessionTasks(c *gin.Context) {
	sessionID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	tasks, err := h.service.SessionTasks(c.Request.Context(), auth.UserID(c), sessionID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (h *TaskHandler) SessionEvents(c *gin.Context) {
	sessionID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	events, err := h.service.SessionEvents(c.Request.Context(), auth.UserID(c), sessionID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}

// Sweep is the periodic trigger entrypoint: claim a bounded batch, process
// it, report counts. Guarded by auth.RequireTrigger, not user auth.
func (h *TaskHandler) Sweep(c *gin.Context) {
	result, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func pathUUID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrUnknownWorkflow):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotRetryable):
		return http.StatusConflict
	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
