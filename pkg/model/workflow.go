package model

import "time"

type WorkflowStatus string

const (
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
)

// WorkflowExecution tracks one saga run started by an event. TriggerEventID
// is a plain reference; the execution does not own the event.
type WorkflowExecution struct {
	ID             uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	WorkflowName   string         `gorm:"type:varchar(200);not null;index:idx_workflow_trigger,priority:1" json:"workflow_name"`
	TriggerEventID uint64         `gorm:"not null;index:idx_workflow_trigger,priority:2" json:"trigger_event_id"`
	Status         WorkflowStatus `gorm:"type:varchar(20);not null;default:'running';index" json:"status"`
	TotalSteps     int            `gorm:"not null" json:"total_steps"`
	StepsCompleted int            `gorm:"not null;default:0" json:"steps_completed"`
	CurrentStep    string         `gorm:"type:varchar(200)" json:"current_step"`
	ResultData     JSONB          `gorm:"type:jsonb" json:"result_data"`
	ErrorMessage   *string        `gorm:"type:text" json:"error_message,omitempty"`
	StartedAt      time.Time      `gorm:"not null" json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	DurationMs     *int64         `json:"duration_ms,omitempty"`
}

func (WorkflowExecution) TableName() string {
	return "workflow_executions"
}

func (w *WorkflowExecution) IsTerminal() bool {
	return w.Status == WorkflowCompleted || w.Status == WorkflowFailed
}

func IsValidWorkflowStatus(status WorkflowStatus) bool {
	switch status {
	case WorkflowRunning, WorkflowCompleted, WorkflowFailed:
		return true
	default:
		return false
	}
}
