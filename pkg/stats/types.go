package stats

import (
	"encoding/json"
	"time"
)

// Default targets an iteration is checked against.
const (
	DefaultThroughputTarget = 10000.0
	DefaultP95Target        = 100.0
)

// Snapshot is the configuration an iteration ran with.
type Snapshot struct {
	Devices       int    `json:"num_devices"`
	LogsPerDevice int    `json:"logs_per_device"`
	TotalLogs     int    `json:"total_logs"`
	Concurrency   int    `json:"concurrent_limit"`
	BatchSize     int    `json:"batch_size"`
	Batching      bool   `json:"use_batch_api"`
	BaseURL       string `json:"base_url"`
}

// Targets are the pass thresholds of an iteration.
type Targets struct {
	Throughput float64 `mapstructure:"throughput" json:"throughput" validate:"gte=0"` // units per second
	P95        float64 `mapstructure:"p95_ms" json:"p95_ms" validate:"gte=0"`
}

// DefaultTargets returns the default thresholds.
func DefaultTargets() Targets {
	return Targets{Throughput: DefaultThroughputTarget, P95: DefaultP95Target}
}

// TargetCheck records which targets an iteration achieved.
type TargetCheck struct {
	ThroughputTarget   float64 `json:"throughput_target"`
	ThroughputAchieved bool    `json:"throughput_achieved"`
	P95Target          float64 `json:"p95_target"`
	P95Achieved        bool    `json:"p95_achieved"`
	ZeroFailures       bool    `json:"zero_failures"`
}

// LatencyStats describes latencies of successful outcomes, in milliseconds.
type LatencyStats struct {
	Avg     float64        `json:"avg"`
	Min     float64        `json:"min"`
	Max     float64        `json:"max"`
	StdDev  float64        `json:"stddev"`
	P50     float64        `json:"p50"`
	P95     float64        `json:"p95"`
	P99     float64        `json:"p99"`
	Buckets map[string]int `json:"buckets"`
}

// IterationResult is the aggregate over all outcomes of one iteration.
type IterationResult struct {
	Iteration       int       `json:"iteration"`
	TotalIterations int       `json:"total_iterations"`
	Timestamp       time.Time `json:"timestamp"`
	Config          Snapshot  `json:"config"`

	Elapsed float64 `json:"elapsed_time"` // in seconds

	TotalRequests      int     `json:"total_requests"`
	SuccessfulRequests int     `json:"successful_requests"`
	FailedRequests     int     `json:"failed_requests"`
	RequestSuccessRate float64 `json:"request_success_rate"` // percentage

	TotalLogs      int     `json:"total_logs_sent"`
	SuccessfulLogs int     `json:"successful_logs"`
	LogSuccessRate float64 `json:"log_success_rate"` // percentage

	Throughput  float64 `json:"throughput"`   // successful units per second
	RequestRate float64 `json:"request_rate"` // successful requests per second

	Latency  LatencyStats   `json:"latency"`
	Errors   map[string]int `json:"errors"`
	Failures map[string]int `json:"failures_by_reason"`

	Targets TargetCheck `json:"targets"`
}

// MarshalJSON implements json.Marshaler interface for IterationResult
func (r IterationResult) MarshalJSON() ([]byte, error) {
	type Alias IterationResult
	return json.Marshal((Alias)(r))
}

// UnmarshalJSON implements json.Unmarshaler interface for IterationResult
func (r *IterationResult) UnmarshalJSON(data []byte) error {
	type Alias IterationResult
	return json.Unmarshal(data, (*Alias)(r))
}

// CheckTargets evaluates r against t and stores the verdict in r.Targets.
func (r *IterationResult) CheckTargets(t Targets) {
	r.Targets = TargetCheck{
		ThroughputTarget:   t.Throughput,
		ThroughputAchieved: r.Throughput >= t.Throughput,
		P95Target:          t.P95,
		P95Achieved:        r.Latency.P95 <= t.P95,
		ZeroFailures:       r.FailedRequests == 0,
	}
}
