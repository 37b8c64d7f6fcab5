package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/servicehub/orchestrator/pkg/orchestrator"
)

func parseLimit(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func respondError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidEvent):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event", "details": err.Error()})
	case errors.Is(err, orchestrator.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, orchestrator.ErrEventBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "event is being processed"})
	default:
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
