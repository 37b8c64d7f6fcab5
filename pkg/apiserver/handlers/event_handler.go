package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/servicehub/orchestrator/pkg/apiserver/middleware"
	"github.com/servicehub/orchestrator/pkg/orchestrator"
)

type EventHandler struct {
	orchestrator *orchestrator.Orchestrator
	logger       *zap.Logger
}

func NewEventHandler(o *orchestrator.Orchestrator, logger *zap.Logger) *EventHandler {
	return &EventHandler{orchestrator: o, logger: logger}
}

func (h *EventHandler) Publish(c *gin.Context) {
	var req orchestrator.PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	event, err := h.orchestrator.Publish(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

func (h *EventHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	event, err := h.orchestrator.GetEvent(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

// Retry resets the event for another round of processing.
func (h *EventHandler) Retry(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	event, err := h.orchestrator.RetryEvent(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info("event retry requested",
		zap.Uint64("event_id", id),
		zap.String("operator", c.GetString(middleware.ContextOperator)),
	)
	c.JSON(http.StatusOK, event)
}
