package loadtest

import (
	"encoding/json"
	"time"

	"logbench/pkg/collector"
	"logbench/pkg/dispatch"
	"logbench/pkg/ingest"
	"logbench/pkg/promquery"
	"logbench/pkg/stats"
)

// TestReport is the root artifact of one run.
type TestReport struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  float64   `json:"total_duration"` // in seconds

	Iterations int           `json:"num_iterations"`
	Interval   float64       `json:"iteration_interval"` // in seconds
	Config     Config        `json:"config"`
	Targets    stats.Targets `json:"targets"`

	Results  []stats.IterationResult `json:"iterations"`
	Dilution stats.Dilution          `json:"dilution"`

	Sanity    *ingest.SanityReport     `json:"sanity,omitempty"`
	Resources *collector.ResourceData  `json:"resources,omitempty"`
	Metrics   *promquery.ExportResult  `json:"metrics,omitempty"`
	Server    *promquery.ServerSummary `json:"server_metrics,omitempty"`

	Interrupted bool   `json:"interrupted"`
	Error       string `json:"error,omitempty"`
}

// MarshalJSON implements json.Marshaler interface for TestReport
func (r TestReport) MarshalJSON() ([]byte, error) {
	type Alias TestReport
	return json.Marshal((Alias)(r))
}

// UnmarshalJSON implements json.Unmarshaler interface for TestReport
func (r *TestReport) UnmarshalJSON(data []byte) error {
	type Alias TestReport
	return json.Unmarshal(data, (*Alias)(r))
}

// BatchSize is the number of records per request the run used.
func (r *TestReport) BatchSize() int {
	if r.Config.Mode() == dispatch.ModeBatch {
		return r.Config.BatchSize
	}
	return 1
}

// Completed returns the number of iterations that produced a result.
func (r *TestReport) Completed() int {
	return len(r.Results)
}
