// Package api exposes the supervisor over HTTP.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/shepherd/shepherd/internal/common/errors"
	"github.com/shepherd/shepherd/internal/common/logger"
	"github.com/shepherd/shepherd/internal/events/bus"
	"github.com/shepherd/shepherd/internal/session"
	"github.com/shepherd/shepherd/internal/session/local"
	"github.com/shepherd/shepherd/internal/session/tmux"
	"github.com/shepherd/shepherd/internal/supervisor"
	"github.com/shepherd/shepherd/internal/supervisor/classifier"
	"github.com/shepherd/shepherd/internal/supervisor/evidence"
	"github.com/shepherd/shepherd/internal/task/models"
	"github.com/shepherd/shepherd/internal/task/store"
)

// TransportConfig carries the per-type transport settings used when a
// session is attached over the API.
type TransportConfig struct {
	Tmux  tmux.Config
	Local local.Config
}

// Handler serves the supervision API.
type Handler struct {
	controller *supervisor.Controller
	store      store.Store
	registry   *session.Registry
	eventBus   bus.EventBus
	transports TransportConfig
	logger     *logger.Logger
}

func NewHandler(controller *supervisor.Controller, taskStore store.Store, registry *session.Registry, eventBus bus.EventBus, transports TransportConfig, log *logger.Logger) *Handler {
	return &Handler{
		controller: controller,
		store:      taskStore,
		registry:   registry,
		eventBus:   eventBus,
		transports: transports,
		logger:     log.WithFields(zap.String("component", "api")),
	}
}

// SetupRoutes registers all routes on the router.
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.health)

	v1 := router.Group("/api/v1")
	{
		sessions := v1.Group("/sessions")
		{
			sessions.GET("", h.listSessions)
			sessions.POST("", h.attachSession)
			sessions.DELETE("/:id", h.detachSession)
			sessions.GET("/:id/conclusion", h.getConclusion)
			sessions.POST("/:id/tick", h.tick)
			sessions.POST("/:id/rearm", h.rearm)
		}
		v1.POST("/evaluate", h.evaluate)
		v1.GET("/tasks", h.listTasks)
		v1.POST("/tasks", h.createTask)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) getConclusion(c *gin.Context) {
	sessionID := c.Param("id")
	conclusion, ok := h.controller.Conclusion(sessionID)
	if !ok {
		h.abortWithError(c, apperrors.NotFound("conclusion for session", sessionID))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"phase":      h.controller.Phase(sessionID),
		"conclusion": conclusion,
	})
}

// tick forces an immediate evaluation of a session, outside the normal
// idle-driven cycle.
func (h *Handler) tick(c *gin.Context) {
	sessionID := c.Param("id")
	conclusion, err := h.controller.Evaluate(c.Request.Context(), sessionID, nil)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"phase":      h.controller.Phase(sessionID),
		"conclusion": conclusion,
	})
}

func (h *Handler) rearm(c *gin.Context) {
	sessionID := c.Param("id")
	if err := h.controller.Rearm(c.Request.Context(), sessionID); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"phase":      h.controller.Phase(sessionID),
	})
}

type evaluateRequest struct {
	SessionID string                  `json:"session_id"`
	RawOutput string                  `json:"raw_output" binding:"required"`
	ExitCode  *int                    `json:"exit_code,omitempty"`
	Task      *classifier.TaskContext `json:"task,omitempty"`
}

// evaluate classifies raw output without touching any live session. Useful
// for dry runs and for supervising sessions shepherd does not own.
func (h *Handler) evaluate(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abortWithError(c, apperrors.BadRequest(err.Error()))
		return
	}

	ev := evidence.Extract(req.RawOutput)
	conclusion := classifier.Classify(classifier.Observation{
		SessionID: req.SessionID,
		RawOutput: req.RawOutput,
		ExitCode:  req.ExitCode,
		Task:      req.Task,
	}, ev)

	c.JSON(http.StatusOK, gin.H{
		"conclusion": conclusion,
		"evidence":   ev,
	})
}

func (h *Handler) listTasks(c *gin.Context) {
	tasks, err := h.store.ListTasks(c.Request.Context())
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"total": len(tasks),
	})
}

type createTaskRequest struct {
	Title         string `json:"title" binding:"required"`
	Prompt        string `json:"prompt"`
	SessionID     string `json:"session_id"`
	MaxIterations int    `json:"max_iterations"`
}

func (h *Handler) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abortWithError(c, apperrors.BadRequest(err.Error()))
		return
	}

	task := &models.Task{
		Title:         req.Title,
		Prompt:        req.Prompt,
		SessionID:     req.SessionID,
		MaxIterations: req.MaxIterations,
	}
	if req.SessionID != "" {
		task.Status = models.StatusInProgress
	}
	if err := h.store.CreateTask(c.Request.Context(), task); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *Handler) abortWithError(c *gin.Context, err error) {
	status := apperrors.GetHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
