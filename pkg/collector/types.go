package collector

import (
	"encoding/json"
	"time"
)

// Config defines the host sampler configuration
type Config struct {
	Enabled     bool          `mapstructure:"enabled" json:"enabled"`
	Interval    time.Duration `mapstructure:"interval" json:"interval" validate:"gte=0"`
	ProcessName string        `mapstructure:"process_name" json:"process_name"` // process to watch, optional
}

// ResourceData contains all host samples taken during a run
type ResourceData struct {
	Config    Config    `json:"config"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  float64   `json:"duration"` // in seconds
	Summary   Summary   `json:"summary"`
	Samples   []Sample  `json:"samples"`
}

// Sample represents a single measurement point
type Sample struct {
	Timestamp       time.Time `json:"timestamp"`
	CPUPercent      float64   `json:"cpu_percent"`
	MemoryUsedBytes int64     `json:"memory_used_bytes"`
	MemoryPercent   float64   `json:"memory_percent"`
	Network         NetworkIO `json:"network"`
	ProcessRunning  bool      `json:"process_running"`
}

// NetworkIO holds counter deltas since the previous sample
type NetworkIO struct {
	BytesReceived   int64 `json:"bytes_received"`
	BytesSent       int64 `json:"bytes_sent"`
	PacketsReceived int64 `json:"packets_received"`
	PacketsSent     int64 `json:"packets_sent"`
}

// Summary aggregates the samples of a run
type Summary struct {
	Samples       int     `json:"samples"`
	CPUAvg        float64 `json:"cpu_avg"`
	CPUMax        float64 `json:"cpu_max"`
	MemoryAvg     float64 `json:"memory_avg"`
	MemoryMax     float64 `json:"memory_max"`
	BytesReceived int64   `json:"bytes_received"`
	BytesSent     int64   `json:"bytes_sent"`
}

func (r ResourceData) MarshalJSON() ([]byte, error) {
	type Alias ResourceData
	return json.Marshal((Alias)(r))
}

func (r *ResourceData) UnmarshalJSON(data []byte) error {
	type Alias ResourceData
	return json.Unmarshal(data, (*Alias)(r))
}

// Summarize aggregates samples.
func Summarize(samples []Sample) Summary {
	s := Summary{Samples: len(samples)}
	if len(samples) == 0 {
		return s
	}

	var cpuSum, memSum float64
	for _, sample := range samples {
		cpuSum += sample.CPUPercent
		memSum += sample.MemoryPercent
		s.CPUMax = max(s.CPUMax, sample.CPUPercent)
		s.MemoryMax = max(s.MemoryMax, sample.MemoryPercent)
		s.BytesReceived += sample.Network.BytesReceived
		s.BytesSent += sample.Network.BytesSent
	}
	s.CPUAvg = cpuSum / float64(len(samples))
	s.MemoryAvg = memSum / float64(len(samples))
	return s
}
