package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONMap is a free-form JSON object column.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*m = JSONMap{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("jsonmap: unsupported scan type %T", src)
	}
	if len(b) == 0 {
		*m = JSONMap{}
		return nil
	}
	out := JSONMap{}
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

// ExecutionLog is an append-only audit row, one per observed transition.
type ExecutionLog struct {
	ID              int64      `db:"id"                json:"id"`
	TaskID          string     `db:"task_id"           json:"task_id"`
	Status          TaskStatus `db:"status"            json:"status"`
	Timestamp       time.Time  `db:"logged_at"         json:"timestamp"`
	ExecutionTimeMs *int64     `db:"execution_time_ms" json:"execution_time_ms,omitempty"`
	ErrorDetails    JSONMap    `db:"error_details"     json:"error_details"`
	Metadata        JSONMap    `db:"metadata"          json:"metadata"`
}

// NewLog builds a log entry for the task's current status.
func NewLog(t *MessageTask, at time.Time) ExecutionLog {
	return ExecutionLog{
		TaskID:       t.ID,
		Status:       t.Status,
		Timestamp:    at,
		ErrorDetails: JSONMap{},
		Metadata:     JSONMap{},
	}
}

func (l ExecutionLog) WithElapsed(ms int64) ExecutionLog {
	l.ExecutionTimeMs = &ms
	return l
}
