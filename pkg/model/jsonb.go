package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("failed to scan JSONB: %v", value)
	}
	return json.Unmarshal(data, j)
}

func (j JSONB) GormDataType() string {
	return "jsonb"
}

// Merge copies every key of other into a new map on top of j. Nested maps are
// replaced, not merged.
func (j JSONB) Merge(other map[string]interface{}) JSONB {
	merged := make(JSONB, len(j)+len(other))
	for key, value := range j {
		merged[key] = value
	}
	for key, value := range other {
		merged[key] = value
	}
	return merged
}

// Clone returns a shallow copy that is never nil.
func (j JSONB) Clone() JSONB {
	return j.Merge(nil)
}
