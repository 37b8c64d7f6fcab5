package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/servicehub/orchestrator/pkg/orchestrator"
)

type WorkflowHandler struct {
	orchestrator *orchestrator.Orchestrator
	logger       *zap.Logger
}

func NewWorkflowHandler(o *orchestrator.Orchestrator, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{orchestrator: o, logger: logger}
}

func (h *WorkflowHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	execution, err := h.orchestrator.GetWorkflow(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, execution)
}
