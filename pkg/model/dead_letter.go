package model

import "time"

const (
	MaxErrorMessageLength = 1000
	MaxErrorStackLength   = 4000
)

// DeadLetterRecord is a diagnostic snapshot of an event that exhausted its
// retries. It does not own the event it references.
type DeadLetterRecord struct {
	ID           uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID      uint64     `gorm:"not null;index" json:"event_id"`
	EventType    string     `gorm:"type:varchar(200);not null;index" json:"event_type"`
	EventName    string     `gorm:"type:varchar(500)" json:"event_name"`
	SourceModule string     `gorm:"type:varchar(100)" json:"source_module"`
	Payload      JSONB      `gorm:"type:jsonb;not null" json:"payload"`
	Metadata     JSONB      `gorm:"type:jsonb" json:"metadata"`
	ErrorMessage string     `gorm:"type:text" json:"error_message"`
	ErrorStack   string     `gorm:"type:text" json:"error_stack,omitempty"`
	RetryCount   int        `gorm:"not null" json:"retry_count"`
	FailedAt     time.Time  `gorm:"not null;index" json:"failed_at"`
	ForwardedAt  *time.Time `gorm:"index" json:"forwarded_at,omitempty"`
}

func (DeadLetterRecord) TableName() string {
	return "dead_letter_events"
}

// NewDeadLetter snapshots event with the final error, capping both strings.
func NewDeadLetter(event *Event, errMessage, errStack string, failedAt time.Time) *DeadLetterRecord {
	return &DeadLetterRecord{
		EventID:      event.ID,
		EventType:    event.EventType,
		EventName:    event.EventName,
		SourceModule: event.SourceModule,
		Payload:      event.Payload.Clone(),
		Metadata:     event.Metadata.Clone(),
		ErrorMessage: Truncate(errMessage, MaxErrorMessageLength),
		ErrorStack:   Truncate(errStack, MaxErrorStackLength),
		RetryCount:   event.RetryCount,
		FailedAt:     failedAt,
	}
}

// Truncate caps s at limit bytes without splitting a UTF-8 sequence.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
