package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestJSONBValueAndScan(t *testing.T) {
	original := JSONB{"name": "orchestrator", "count": 2}

	value, err := original.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}

	data, ok := value.([]byte)
	if !ok {
		t.Fatalf("expected []byte value, got %T", value)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal value error: %v", err)
	}

	if decoded["name"] != "orchestrator" {
		t.Fatalf("expected name orchestrator, got %v", decoded["name"])
	}

	var scanned JSONB
	if err := scanned.Scan(data); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}

	if scanned["name"] != "orchestrator" {
		t.Fatalf("expected scanned name orchestrator, got %v", scanned["name"])
	}

	var fromString JSONB
	if err := fromString.Scan(string(data)); err != nil {
		t.Fatalf("Scan(string) error: %v", err)
	}
	if fromString["count"] != float64(2) {
		t.Fatalf("expected count 2, got %v", fromString["count"])
	}
}

func TestJSONBGormDataType(t *testing.T) {
	value := JSONB{"ok": true}
	if value.GormDataType() != "jsonb" {
		t.Fatalf("expected jsonb data type, got %q", value.GormDataType())
	}
}

func TestJSONBMergeOverwritesLaterKeys(t *testing.T) {
	base := JSONB{"job_id": 1, "status": "draft"}
	merged := base.Merge(map[string]interface{}{"status": "scheduled", "work_order_id": 7})

	if merged["job_id"] != 1 || merged["status"] != "scheduled" || merged["work_order_id"] != 7 {
		t.Fatalf("unexpected merge result: %v", merged)
	}
	if base["status"] != "draft" {
		t.Fatalf("merge mutated receiver: %v", base)
	}

	var empty JSONB
	if clone := empty.Clone(); clone == nil {
		t.Fatalf("expected non-nil clone of nil map")
	}
}

func TestStringListRoundTrip(t *testing.T) {
	list := StringList{"jobs", "work_orders", "payments"}

	value, err := list.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}

	var scanned StringList
	if err := scanned.Scan(value); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(scanned) != 3 || scanned[0] != "jobs" || scanned[2] != "payments" {
		t.Fatalf("unexpected list: %v", scanned)
	}
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("expected untouched string, got %q", got)
	}
	if got := Truncate(strings.Repeat("a", 20), 5); got != "aaaaa" {
		t.Fatalf("expected 5 bytes, got %q", got)
	}
	// "é" is two bytes; cutting at 2 must not split it.
	if got := Truncate("aé", 2); got != "a" {
		t.Fatalf("expected rune-safe cut, got %q", got)
	}
}

func TestNewDeadLetterCapsErrors(t *testing.T) {
	event := &Event{
		ID:           9,
		EventType:    "test.always_fail",
		SourceModule: "api",
		Payload:      JSONB{"quote_id": 42},
		RetryCount:   3,
	}
	failedAt := time.Now().UTC()

	record := NewDeadLetter(event, strings.Repeat("x", MaxErrorMessageLength+50), strings.Repeat("s", MaxErrorStackLength*2), failedAt)

	if record.EventID != 9 || record.RetryCount != 3 {
		t.Fatalf("unexpected record: %+v", record)
	}
	if len(record.ErrorMessage) != MaxErrorMessageLength {
		t.Fatalf("expected capped message, got %d bytes", len(record.ErrorMessage))
	}
	if len(record.ErrorStack) != MaxErrorStackLength {
		t.Fatalf("expected capped stack, got %d bytes", len(record.ErrorStack))
	}
	if record.Payload["quote_id"] != 42 {
		t.Fatalf("expected payload copy, got %v", record.Payload)
	}
	if record.Metadata == nil {
		t.Fatalf("expected non-nil metadata")
	}
}
