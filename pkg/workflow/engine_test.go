package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/servicehub/orchestrator/pkg/model"
	"github.com/servicehub/orchestrator/pkg/store/storetest"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(storetest.New(t).Workflows(), zap.NewNop())
}

func TestStartWorkflowResumesRunningExecution(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	first, err := engine.StartWorkflow(ctx, "quote_approved_flow", 7, 4)
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowRunning, first.Status)
	assert.Equal(t, 4, first.TotalSteps)
	assert.Equal(t, 0, first.StepsCompleted)

	again, err := engine.StartWorkflow(ctx, "quote_approved_flow", 7, 4)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	other, err := engine.StartWorkflow(ctx, "quote_approved_flow", 8, 4)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	_, err = engine.StartWorkflow(ctx, "quote_approved_flow", 9, 0)
	assert.ErrorIs(t, err, ErrInvalidStep)
}

func TestAdvanceStepIsMonotonicAndIdempotent(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	execution, err := engine.StartWorkflow(ctx, "flow", 1, 3)
	require.NoError(t, err)

	execution, err = engine.AdvanceStep(ctx, execution.ID, 1, "create_job", model.JSONB{"job_id": "J-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, execution.StepsCompleted)
	assert.Equal(t, "create_job", execution.CurrentStep)

	execution, err = engine.AdvanceStep(ctx, execution.ID, 2, "create_work_order", model.JSONB{"work_order_id": "W-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, execution.StepsCompleted)

	// Redelivery of step 1 changes nothing.
	execution, err = engine.AdvanceStep(ctx, execution.ID, 1, "create_job", model.JSONB{"job_id": "J-2"})
	require.NoError(t, err)
	assert.Equal(t, 2, execution.StepsCompleted)
	assert.Equal(t, "create_work_order", execution.CurrentStep)
	assert.Equal(t, "J-1", execution.ResultData["job_id"])
	assert.Equal(t, "W-1", execution.ResultData["work_order_id"])

	_, err = engine.AdvanceStep(ctx, execution.ID, 4, "beyond", nil)
	assert.ErrorIs(t, err, ErrInvalidStep)
	_, err = engine.AdvanceStep(ctx, execution.ID, 0, "before", nil)
	assert.ErrorIs(t, err, ErrInvalidStep)
	_, err = engine.AdvanceStep(ctx, 999, 1, "missing", nil)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	execution, err = engine.AdvanceStep(ctx, execution.ID, 3, "create_deposit_payment", model.JSONB{"payment_id": "P-1"})
	require.NoError(t, err)
	_, err = engine.CompleteWorkflow(ctx, execution.ID, nil)
	require.NoError(t, err)

	// Redelivery after completion is still a no-op.
	execution, err = engine.AdvanceStep(ctx, execution.ID, 3, "create_deposit_payment", model.JSONB{"payment_id": "P-2"})
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowCompleted, execution.Status)
	assert.Equal(t, 3, execution.StepsCompleted)
	assert.Equal(t, "P-1", execution.ResultData["payment_id"])
}

func TestCompleteWorkflowOnlyOnce(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return start }

	execution, err := engine.StartWorkflow(ctx, "flow", 1, 1)
	require.NoError(t, err)
	_, err = engine.AdvanceStep(ctx, execution.ID, 1, "only", model.JSONB{"a": 1})
	require.NoError(t, err)

	engine.now = func() time.Time { return start.Add(2 * time.Second) }
	done, err := engine.CompleteWorkflow(ctx, execution.ID, model.JSONB{"b": 2})
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	require.NotNil(t, done.DurationMs)
	assert.EqualValues(t, 2000, *done.DurationMs)
	assert.EqualValues(t, 1, done.ResultData["a"])
	assert.EqualValues(t, 2, done.ResultData["b"])

	_, err = engine.CompleteWorkflow(ctx, execution.ID, nil)
	assert.ErrorIs(t, err, ErrWorkflowTerminal)
	_, err = engine.FailWorkflow(ctx, execution.ID, "late")
	assert.ErrorIs(t, err, ErrWorkflowTerminal)
	again, err := engine.AdvanceStep(ctx, execution.ID, 1, "only", nil)
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowCompleted, again.Status)

	failed, err := engine.StartWorkflow(ctx, "flow", 2, 2)
	require.NoError(t, err)
	_, err = engine.FailWorkflow(ctx, failed.ID, "step one failed")
	require.NoError(t, err)
	_, err = engine.AdvanceStep(ctx, failed.ID, 1, "only", nil)
	assert.ErrorIs(t, err, ErrWorkflowTerminal)
}

func TestFailWorkflowTruncatesMessage(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	execution, err := engine.StartWorkflow(ctx, "flow", 1, 2)
	require.NoError(t, err)

	long := make([]byte, model.MaxErrorMessageLength+500)
	for i := range long {
		long[i] = 'x'
	}
	failed, err := engine.FailWorkflow(ctx, execution.ID, string(long))
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Len(t, *failed.ErrorMessage, model.MaxErrorMessageLength)
}
