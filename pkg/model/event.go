package model

import "time"

type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventProcessing EventStatus = "processing"
	EventCompleted  EventStatus = "completed"
	EventRetry      EventStatus = "retry"
	EventFailed     EventStatus = "failed"
)

// DefaultMaxRetries is used when the processor configuration does not set one.
const DefaultMaxRetries = 3

// MetadataRetriedFromDLQ marks an event re-published from a dead letter.
const MetadataRetriedFromDLQ = "retried_from_dlq"

type Event struct {
	ID            uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	EventType     string      `gorm:"type:varchar(200);not null;index" json:"event_type"`
	EventName     string      `gorm:"type:varchar(500)" json:"event_name"`
	SourceModule  string      `gorm:"type:varchar(100);index" json:"source_module"`
	TargetModules StringList  `json:"target_modules"`
	Payload       JSONB       `gorm:"type:jsonb;not null" json:"payload"`
	Metadata      JSONB       `gorm:"type:jsonb" json:"metadata"`
	Result        JSONB       `gorm:"type:jsonb" json:"result,omitempty"`
	Status        EventStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_events_claim,priority:1" json:"status"`
	RetryCount    int         `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries    int         `gorm:"not null" json:"max_retries"`
	LastError     string      `gorm:"type:text" json:"last_error,omitempty"`
	NextAttemptAt time.Time   `gorm:"not null;index:idx_events_claim,priority:2" json:"next_attempt_at"`
	ClaimedAt     *time.Time  `json:"claimed_at,omitempty"`
	ClaimedBy     string      `gorm:"type:varchar(64)" json:"claimed_by,omitempty"`
	ClaimToken    string      `gorm:"type:varchar(64);index" json:"-"`
	ProcessedAt   *time.Time  `json:"processed_at,omitempty"`
	CreatedAt     time.Time   `gorm:"not null;index" json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

func (Event) TableName() string {
	return "events"
}

// IsTerminal reports whether the processor will never touch the event again.
func (e *Event) IsTerminal() bool {
	return e.Status == EventCompleted || e.Status == EventFailed
}

// RetriesExhausted reports whether one more failure sends the event to the
// dead letter store.
func (e *Event) RetriesExhausted() bool {
	return e.RetryCount >= e.MaxRetries
}

func IsValidEventStatus(status EventStatus) bool {
	switch status {
	case EventPending, EventProcessing, EventCompleted, EventRetry, EventFailed:
		return true
	default:
		return false
	}
}

// AllEventStatuses lists statuses in lifecycle order.
func AllEventStatuses() []EventStatus {
	return []EventStatus{EventPending, EventProcessing, EventRetry, EventCompleted, EventFailed}
}
