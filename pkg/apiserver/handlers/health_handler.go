package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/servicehub/orchestrator/pkg/model"
)

type HealthChecker interface {
	CheckSystemHealth(ctx context.Context) model.SystemHeartbeat
}

type HealthHandler struct {
	monitor HealthChecker
}

func NewHealthHandler(monitor HealthChecker) *HealthHandler {
	return &HealthHandler{monitor: monitor}
}

// Check answers 503 only when the heartbeat is critical, so a degraded
// replica stays in rotation.
func (h *HealthHandler) Check(c *gin.Context) {
	heartbeat := h.monitor.CheckSystemHealth(c.Request.Context())
	status := http.StatusOK
	if heartbeat.Status == model.StatusCritical {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, heartbeat)
}
