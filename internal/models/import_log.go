package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ImportStatus captures bulk import lifecycle states. FAILED is terminal
// and distinct from PROCESSING so stalled logs are unambiguous.
type ImportStatus string

const (
	ImportStatusProcessing ImportStatus = "PROCESSING"
	ImportStatusCompleted  ImportStatus = "COMPLETED"
	ImportStatusFailed     ImportStatus = "FAILED"
)

// ImportLog is the persisted metadata of one bulk CSV import job.
// Imported and Skipped are updated cumulatively as chunks commit, so
// progress is observable while the job runs.
type ImportLog struct {
	ID           string       `db:"id" json:"id"`
	GroupName    string       `db:"group_name" json:"group_name"`
	UserID       string       `db:"user_id" json:"user_id"`
	Status       ImportStatus `db:"status" json:"status"`
	StartedAt    time.Time    `db:"started_at" json:"started_at"`
	CompletedAt  *time.Time   `db:"completed_at" json:"completed_at,omitempty"`
	Total        int          `db:"total" json:"total"`
	Imported     int          `db:"imported" json:"imported"`
	Skipped      int          `db:"skipped" json:"skipped"`
	SkipSamples  SkipSamples  `db:"skip_samples" json:"skip_samples,omitempty"`
	ErrorMessage *string      `db:"error_message" json:"error_message,omitempty"`
}

// SkipSamples holds a capped sample of row-level skip reasons persisted
// as JSONB alongside the aggregate counters.
type SkipSamples []SkipSample

// SkipSample records why a single CSV row was skipped.
type SkipSample struct {
	Row    int    `json:"row"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason"`
}

// Value marshals samples to JSON for persistence.
func (s SkipSamples) Value() (driver.Value, error) {
	if s == nil {
		s = SkipSamples{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal skip samples: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the sample slice.
func (s *SkipSamples) Scan(value interface{}) error {
	if value == nil {
		*s = SkipSamples{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for SkipSamples", value)
	}
	if len(data) == 0 {
		*s = SkipSamples{}
		return nil
	}
	if err := json.Unmarshal(data, s); err != nil {
		return fmt.Errorf("unmarshal skip samples: %w", err)
	}
	return nil
}
