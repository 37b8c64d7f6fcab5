package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/servicehub/orchestrator/pkg/apiserver/middleware"
	"github.com/servicehub/orchestrator/pkg/model"
	"github.com/servicehub/orchestrator/pkg/orchestrator"
)

type DeadLetterHandler struct {
	orchestrator *orchestrator.Orchestrator
	logger       *zap.Logger
}

func NewDeadLetterHandler(o *orchestrator.Orchestrator, logger *zap.Logger) *DeadLetterHandler {
	return &DeadLetterHandler{orchestrator: o, logger: logger}
}

type deadLetterListResponse struct {
	Items []model.DeadLetterRecord `json:"items"`
	Count int                      `json:"count"`
	Limit int                      `json:"limit"`
}

func (h *DeadLetterHandler) List(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), orchestrator.DefaultDeadLetterLimit)
	if limit > orchestrator.MaxDeadLetterLimit {
		limit = orchestrator.MaxDeadLetterLimit
	}

	records, err := h.orchestrator.ListDeadLetters(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, deadLetterListResponse{Items: records, Count: len(records), Limit: limit})
}

func (h *DeadLetterHandler) Retry(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	event, err := h.orchestrator.RetryDeadLetter(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info("dead letter retry requested",
		zap.Uint64("dead_letter_id", id),
		zap.Uint64("event_id", event.ID),
		zap.String("operator", c.GetString(middleware.ContextOperator)),
	)
	c.JSON(http.StatusCreated, event)
}
