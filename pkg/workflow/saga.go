package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/servicehub/orchestrator/pkg/model"
)

// StepFunc performs one saga step. state holds the result data accumulated
// by earlier steps; the returned map is merged into it.
type StepFunc func(ctx context.Context, event model.Event, state model.JSONB) (model.JSONB, error)

type Step struct {
	Name string
	Run  StepFunc
}

// Saga runs a fixed sequence of steps for a trigger event and records the
// progress through the Engine. It runs forward only: a failing step fails
// the execution and completed steps are not undone.
type Saga struct {
	name   string
	steps  []Step
	engine *Engine
	logger *zap.Logger
}

func NewSaga(name string, engine *Engine, logger *zap.Logger, steps ...Step) *Saga {
	return &Saga{
		name:   name,
		steps:  steps,
		engine: engine,
		logger: logger.With(zap.String("workflow", name)),
	}
}

func (s *Saga) Name() string {
	return s.name
}

func (s *Saga) Steps() []string {
	names := make([]string, len(s.steps))
	for i, step := range s.steps {
		names[i] = step.Name
	}
	return names
}

// Handle implements handler.Handler.
func (s *Saga) Handle(ctx context.Context, event model.Event) (model.JSONB, error) {
	execution, err := s.Run(ctx, event)
	if err != nil {
		return nil, err
	}
	return model.JSONB{
		"workflow_id":     execution.ID,
		"workflow_status": string(execution.Status),
	}, nil
}

// Run starts or resumes the execution for event, skipping steps that are
// already recorded, and finishes it.
func (s *Saga) Run(ctx context.Context, event model.Event) (*model.WorkflowExecution, error) {
	execution, err := s.engine.StartWorkflow(ctx, s.name, event.ID, len(s.steps))
	if err != nil {
		return nil, err
	}

	for i, step := range s.steps {
		number := i + 1
		if number <= execution.StepsCompleted {
			continue
		}

		partial, err := step.Run(ctx, event, execution.ResultData.Clone())
		if err != nil {
			message := fmt.Sprintf("step %s failed: %v", step.Name, err)
			if _, failErr := s.engine.FailWorkflow(ctx, execution.ID, message); failErr != nil {
				s.logger.Error("failed to mark workflow failed",
					zap.Uint64("workflow_id", execution.ID),
					zap.Error(failErr),
				)
			}
			return nil, fmt.Errorf("workflow %s: %s", s.name, message)
		}

		execution, err = s.engine.AdvanceStep(ctx, execution.ID, number, step.Name, partial)
		if err != nil {
			return nil, err
		}
	}

	return s.engine.CompleteWorkflow(ctx, execution.ID, nil)
}
