package workload

import (
	"encoding/json"
	"time"
)

// Severity levels accepted by the ingestion service.
const (
	LevelDebug    = "DEBUG"
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

// Levels is the vocabulary the generator draws severities from.
var Levels = []string{LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical}

// WorkItem is one synthetic log record. It is never modified after Generate returns it.
type WorkItem struct {
	DeviceID string  `json:"device_id"`
	Sequence int     `json:"-"`
	Level    string  `json:"log_level"`
	Message  string  `json:"message"`
	Data     LogData `json:"log_data"`
}

// LogData is the free-form structured part of a record.
type LogData struct {
	TestID      int       `json:"test_id"`
	Timestamp   time.Time `json:"timestamp"`
	RandomValue float64   `json:"random_value"`
	Sequence    int       `json:"sequence"`
}

// BatchRequest is the body of POST /api/logs/batch.
type BatchRequest struct {
	Logs []WorkItem `json:"logs"`
}

// MarshalJSON implements json.Marshaler interface for WorkItem
func (w WorkItem) MarshalJSON() ([]byte, error) {
	type Alias WorkItem
	return json.Marshal((Alias)(w))
}

// UnmarshalJSON implements json.Unmarshaler interface for WorkItem.
// Sequence is restored from the structured data since it is not sent on its own.
func (w *WorkItem) UnmarshalJSON(data []byte) error {
	type Alias WorkItem
	if err := json.Unmarshal(data, (*Alias)(w)); err != nil {
		return err
	}
	w.Sequence = w.Data.Sequence
	return nil
}
