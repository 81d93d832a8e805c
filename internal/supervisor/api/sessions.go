package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/shepherd/shepherd/internal/common/errors"
	"github.com/shepherd/shepherd/internal/events"
	"github.com/shepherd/shepherd/internal/events/bus"
	"github.com/shepherd/shepherd/internal/session/local"
	"github.com/shepherd/shepherd/internal/session/tmux"
)

const (
	transportTmux  = "tmux"
	transportLocal = "local"
)

type attachSessionRequest struct {
	SessionID string `json:"session_id" binding:"required"`

	// Type selects the transport, "tmux" (default) or "local".
	Type string `json:"type"`

	// Target is the tmux pane target. Defaults to the session ID.
	Target string `json:"target"`

	// Command is the process to spawn for a local session.
	Command []string `json:"command"`
}

func (h *Handler) listSessions(c *gin.Context) {
	ids := h.registry.IDs()
	sessions := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		sessions = append(sessions, gin.H{
			"session_id": id,
			"phase":      h.controller.Phase(id),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// attachSession registers a session with the supervisor. Tmux sessions must
// already exist; local sessions are spawned under a PTY and observed until
// the process exits.
func (h *Handler) attachSession(c *gin.Context) {
	var req attachSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abortWithError(c, apperrors.BadRequest(err.Error()))
		return
	}

	if _, err := h.registry.Get(req.SessionID); err == nil {
		h.abortWithError(c, apperrors.Conflict(fmt.Sprintf("session %s is already attached", req.SessionID)))
		return
	}

	switch req.Type {
	case "", transportTmux:
		h.attachTmux(c, req)
	case transportLocal:
		h.attachLocal(c, req)
	default:
		h.abortWithError(c, apperrors.BadRequest(fmt.Sprintf("unknown transport type %q", req.Type)))
	}
}

func (h *Handler) attachTmux(c *gin.Context, req attachSessionRequest) {
	cfg := h.transports.Tmux
	cfg.Target = req.Target

	tr := tmux.New(req.SessionID, cfg, h.logger)
	if !tr.Alive(c.Request.Context()) {
		h.abortWithError(c, apperrors.NotFound("tmux session", tr.Target()))
		return
	}

	h.registry.Register(tr)
	h.logger.Info("tmux session attached",
		zap.String("session_id", req.SessionID),
		zap.String("target", tr.Target()))
	c.JSON(http.StatusCreated, gin.H{
		"session_id": req.SessionID,
		"type":       transportTmux,
		"target":     tr.Target(),
	})
}

func (h *Handler) attachLocal(c *gin.Context, req attachSessionRequest) {
	if len(req.Command) == 0 {
		h.abortWithError(c, apperrors.BadRequest("command is required for local sessions"))
		return
	}

	tr, err := local.Start(req.SessionID, req.Command, h.transports.Local, h.onLocalExit, h.logger)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	h.registry.Register(tr)
	h.logger.Info("local session started",
		zap.String("session_id", req.SessionID),
		zap.Strings("command", req.Command))
	c.JSON(http.StatusCreated, gin.H{
		"session_id": req.SessionID,
		"type":       transportLocal,
	})
}

// onLocalExit feeds process exits into the supervision loop so the
// classifier sees the exit code.
func (h *Handler) onLocalExit(sessionID string, exitCode int) {
	event := bus.NewEvent(events.SessionExited, "local-transport", map[string]interface{}{
		"session_id": sessionID,
		"exit_code":  exitCode,
	})
	subject := events.BuildSessionSubject(events.SessionExited, sessionID)
	if err := h.eventBus.Publish(context.Background(), subject, event); err != nil {
		h.logger.Warn("failed to publish exit event",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (h *Handler) detachSession(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := h.registry.Get(sessionID); err != nil {
		h.abortWithError(c, err)
		return
	}
	h.registry.Remove(sessionID)
	h.logger.Info("session detached", zap.String("session_id", sessionID))
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID})
}
