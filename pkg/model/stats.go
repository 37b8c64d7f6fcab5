package model

import "time"

// Stats is the aggregate counter view served on /stats.
type Stats struct {
	Since             *time.Time               `json:"since,omitempty"`
	EventsByStatus    map[EventStatus]int64    `json:"events_by_status"`
	WorkflowsByStatus map[WorkflowStatus]int64 `json:"workflows_by_status"`
	DeadLetterTotal   int64                    `json:"dead_letter_total"`
}
