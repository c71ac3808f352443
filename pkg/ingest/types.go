package ingest

import (
	"encoding/json"
	"time"

	"logbench/pkg/workload"
)

// Endpoints of the ingestion service.
const (
	PathLog    = "/api/log"
	PathBatch  = "/api/logs/batch"
	PathLogs   = "/api/logs/{device_id}"
	PathStats  = "/api/stats"
	PathHealth = "/health"
)

// StoredLog is a record as kept by the ingestion service.
type StoredLog struct {
	ID         int64            `json:"id"`
	DeviceID   string           `json:"device_id"`
	Level      string           `json:"log_level"`
	Message    string           `json:"message"`
	Data       workload.LogData `json:"log_data"`
	ReceivedAt time.Time        `json:"received_at"`
}

// RecentLogs is the response of GET /api/logs/{device_id}.
type RecentLogs struct {
	DeviceID string      `json:"device_id"`
	Count    int         `json:"count"`
	Logs     []StoredLog `json:"logs"`
}

// Stats is the response of GET /api/stats.
type Stats struct {
	TotalLogs   int64            `json:"total_logs"`
	Devices     int              `json:"devices"`
	LogsByLevel map[string]int64 `json:"logs_by_level"`
}

// SanityReport records the post-test reads against the ingestion service.
// It is informational and never part of the measured path.
type SanityReport struct {
	DeviceID      string  `json:"device_id"`
	RecentStatus  int     `json:"recent_status"`
	RecentCount   int     `json:"recent_count"`
	RecentLatency float64 `json:"recent_latency_ms"`
	RecentError   string  `json:"recent_error,omitempty"`
	Stats         *Stats  `json:"stats,omitempty"`
	StatsError    string  `json:"stats_error,omitempty"`
}

// MarshalJSON implements json.Marshaler interface for SanityReport
func (s SanityReport) MarshalJSON() ([]byte, error) {
	type Alias SanityReport
	return json.Marshal((Alias)(s))
}

// UnmarshalJSON implements json.Unmarshaler interface for SanityReport
func (s *SanityReport) UnmarshalJSON(data []byte) error {
	type Alias SanityReport
	return json.Unmarshal(data, (*Alias)(s))
}
