package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/servicehub/orchestrator/pkg/orchestrator"
)

type StatsHandler struct {
	orchestrator *orchestrator.Orchestrator
	logger       *zap.Logger
}

func NewStatsHandler(o *orchestrator.Orchestrator, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{orchestrator: o, logger: logger}
}

// StatsWindow bounds the event counts when no ?since= is given.
const StatsWindow = 24 * time.Hour

// Get accepts an optional RFC 3339 ?since= lower bound on event creation.
func (h *StatsHandler) Get(c *gin.Context) {
	since := time.Now().UTC().Add(-StatsWindow)
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since", "details": err.Error()})
			return
		}
		since = parsed.UTC()
	}

	stats, err := h.orchestrator.Stats(c.Request.Context(), &since)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
