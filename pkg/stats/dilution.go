package stats

import (
	"math"
	"time"
)

// ConsistencyTolerance is the relative error allowed between the corrected
// throughput and corrected request rate times batch size.
const ConsistencyTolerance = 0.01

// Dilution separates rates averaged over the whole run, pacing pauses
// included, from rates over active working time only.
type Dilution struct {
	Iterations int     `json:"iterations"`
	Interval   float64 `json:"interval"` // in seconds
	BatchSize  int     `json:"batch_size"`
	Batching   bool    `json:"batching"`

	TotalWorkTime    float64 `json:"total_work_time"`
	TotalWaitTime    float64 `json:"total_wait_time"`
	TotalElapsedTime float64 `json:"total_elapsed_time"`
	WorkRatio        float64 `json:"work_ratio"`

	SuccessfulRequests int `json:"successful_requests"`
	SuccessfulLogs     int `json:"successful_logs"`

	MeasuredRequestRate  float64 `json:"measured_request_rate"`
	MeasuredThroughput   float64 `json:"measured_throughput"`
	CorrectedRequestRate float64 `json:"corrected_request_rate"`
	CorrectedThroughput  float64 `json:"corrected_throughput"`
}

// Correct computes the dilution of the given iteration results, which were
// separated by interval. batchSize and batching describe the dispatch mode and
// are only used by Consistent.
func Correct(results []IterationResult, interval time.Duration, batchSize int, batching bool) Dilution {
	d := Dilution{
		Iterations: len(results),
		Interval:   interval.Seconds(),
		BatchSize:  batchSize,
		Batching:   batching,
	}

	for _, r := range results {
		d.TotalWorkTime += r.Elapsed
		d.SuccessfulRequests += r.SuccessfulRequests
		d.SuccessfulLogs += r.SuccessfulLogs
	}
	if d.Iterations > 1 {
		d.TotalWaitTime = d.Interval * float64(d.Iterations-1)
	}
	d.TotalElapsedTime = d.TotalWorkTime + d.TotalWaitTime

	if d.TotalElapsedTime > 0 {
		d.WorkRatio = d.TotalWorkTime / d.TotalElapsedTime
		d.MeasuredRequestRate = float64(d.SuccessfulRequests) / d.TotalElapsedTime
		d.MeasuredThroughput = float64(d.SuccessfulLogs) / d.TotalElapsedTime
	}
	if d.TotalWorkTime > 0 {
		d.CorrectedRequestRate = float64(d.SuccessfulRequests) / d.TotalWorkTime
		d.CorrectedThroughput = float64(d.SuccessfulLogs) / d.TotalWorkTime
	}
	return d
}

// Diluted reports whether pacing pauses contributed to the elapsed time.
func (d Dilution) Diluted() bool {
	return d.TotalWaitTime > 0
}

// Consistent reports whether the corrected throughput matches the corrected
// request rate times the batch size within tolerance. It always holds outside
// batching mode.
func (d Dilution) Consistent(tolerance float64) bool {
	if !d.Batching || d.CorrectedThroughput == 0 {
		return true
	}
	expected := d.CorrectedRequestRate * float64(d.BatchSize)
	return math.Abs(expected-d.CorrectedThroughput)/d.CorrectedThroughput < tolerance
}
