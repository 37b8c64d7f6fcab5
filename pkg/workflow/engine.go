// Package workflow tracks multi-step sagas started by events.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/servicehub/orchestrator/pkg/metrics"
	"github.com/servicehub/orchestrator/pkg/model"
	"github.com/servicehub/orchestrator/pkg/store"
)

var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrWorkflowTerminal = errors.New("workflow already finished")
	ErrInvalidStep      = errors.New("invalid workflow step")
)

type ExecutionStore interface {
	Create(ctx context.Context, execution *model.WorkflowExecution) error
	GetByID(ctx context.Context, id uint64) (*model.WorkflowExecution, error)
	FindRunning(ctx context.Context, name string, triggerEventID uint64) (*model.WorkflowExecution, error)
	Advance(ctx context.Context, id uint64, step int, label string, partial model.JSONB) (*model.WorkflowExecution, bool, error)
	Finish(ctx context.Context, id uint64, status model.WorkflowStatus, final model.JSONB, errMessage *string, now time.Time) (*model.WorkflowExecution, error)
}

type Engine struct {
	executions ExecutionStore
	logger     *zap.Logger
	now        func() time.Time
}

func NewEngine(executions ExecutionStore, logger *zap.Logger) *Engine {
	return &Engine{
		executions: executions,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// StartWorkflow opens a running execution of name for triggerEventID. A
// running execution for the same pair is returned as is, so a redelivered
// trigger resumes where the previous attempt stopped.
func (e *Engine) StartWorkflow(ctx context.Context, name string, triggerEventID uint64, totalSteps int) (*model.WorkflowExecution, error) {
	if name == "" {
		return nil, fmt.Errorf("workflow name is required")
	}
	if totalSteps <= 0 {
		return nil, fmt.Errorf("%w: workflow %s needs at least one step", ErrInvalidStep, name)
	}

	existing, err := e.executions.FindRunning(ctx, name, triggerEventID)
	if err == nil {
		e.logger.Info("resuming workflow",
			zap.String("workflow", name),
			zap.Uint64("workflow_id", existing.ID),
			zap.Int("steps_completed", existing.StepsCompleted),
		)
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	execution := &model.WorkflowExecution{
		WorkflowName:   name,
		TriggerEventID: triggerEventID,
		Status:         model.WorkflowRunning,
		TotalSteps:     totalSteps,
		ResultData:     model.JSONB{},
		StartedAt:      e.now(),
	}
	if err := e.executions.Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("create workflow execution: %w", err)
	}

	metrics.WorkflowsTotal.WithLabelValues(name, string(model.WorkflowRunning)).Inc()
	e.logger.Info("workflow started",
		zap.String("workflow", name),
		zap.Uint64("workflow_id", execution.ID),
		zap.Uint64("trigger_event_id", triggerEventID),
		zap.Int("total_steps", totalSteps),
	)
	return execution, nil
}

// AdvanceStep records step as completed. Re-delivering a step that is
// already recorded is a no-op that returns the current execution.
func (e *Engine) AdvanceStep(ctx context.Context, id uint64, step int, label string, partial model.JSONB) (*model.WorkflowExecution, error) {
	current, err := e.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if step < 1 || step > current.TotalSteps {
		return nil, fmt.Errorf("%w: step %d outside 1..%d", ErrInvalidStep, step, current.TotalSteps)
	}

	execution, changed, err := e.executions.Advance(ctx, id, step, label, partial)
	if err != nil {
		return nil, e.mapError(err)
	}
	if changed {
		metrics.WorkflowSteps.WithLabelValues(execution.WorkflowName, label).Inc()
		e.logger.Debug("workflow step completed",
			zap.Uint64("workflow_id", id),
			zap.Int("step", step),
			zap.String("label", label),
		)
	}
	return execution, nil
}

func (e *Engine) CompleteWorkflow(ctx context.Context, id uint64, final model.JSONB) (*model.WorkflowExecution, error) {
	execution, err := e.executions.Finish(ctx, id, model.WorkflowCompleted, final, nil, e.now())
	if err != nil {
		return nil, e.mapError(err)
	}
	metrics.WorkflowsTotal.WithLabelValues(execution.WorkflowName, string(model.WorkflowCompleted)).Inc()
	observeDuration(execution)
	e.logger.Info("workflow completed",
		zap.String("workflow", execution.WorkflowName),
		zap.Uint64("workflow_id", id),
		zap.Int64p("duration_ms", execution.DurationMs),
	)
	return execution, nil
}

func (e *Engine) FailWorkflow(ctx context.Context, id uint64, message string) (*model.WorkflowExecution, error) {
	message = model.Truncate(message, model.MaxErrorMessageLength)
	execution, err := e.executions.Finish(ctx, id, model.WorkflowFailed, nil, &message, e.now())
	if err != nil {
		return nil, e.mapError(err)
	}
	metrics.WorkflowsTotal.WithLabelValues(execution.WorkflowName, string(model.WorkflowFailed)).Inc()
	observeDuration(execution)
	e.logger.Warn("workflow failed",
		zap.String("workflow", execution.WorkflowName),
		zap.Uint64("workflow_id", id),
		zap.String("error", message),
	)
	return execution, nil
}

func (e *Engine) GetWorkflow(ctx context.Context, id uint64) (*model.WorkflowExecution, error) {
	execution, err := e.executions.GetByID(ctx, id)
	if err != nil {
		return nil, e.mapError(err)
	}
	return execution, nil
}

func (e *Engine) mapError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrWorkflowNotFound
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %v", ErrWorkflowTerminal, err)
	default:
		return err
	}
}

func observeDuration(execution *model.WorkflowExecution) {
	if execution.DurationMs == nil {
		return
	}
	seconds := float64(*execution.DurationMs) / 1000
	metrics.WorkflowDuration.WithLabelValues(execution.WorkflowName, string(execution.Status)).Observe(seconds)
}
