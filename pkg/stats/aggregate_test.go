package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logbench/pkg/dispatch"
)

func ok(latency float64, count int) dispatch.Outcome {
	return dispatch.Outcome{Success: true, Latency: latency, Status: 200, Count: count}
}

func TestAggregate_AllSucceed(t *testing.T) {
	outcomes := []dispatch.Outcome{ok(30, 2), ok(10, 2), ok(40, 2), ok(20, 2)}

	r := Aggregate(outcomes, 2*time.Second)

	assert.Equal(t, 4, r.TotalRequests)
	assert.Equal(t, 4, r.SuccessfulRequests)
	assert.Equal(t, 0, r.FailedRequests)
	assert.Equal(t, 8, r.TotalLogs)
	assert.Equal(t, 8, r.SuccessfulLogs)
	assert.Equal(t, 30.0, r.Latency.P50)
	assert.Equal(t, 40.0, r.Latency.P95)
	assert.Equal(t, 40.0, r.Latency.P99)
	assert.Equal(t, 10.0, r.Latency.Min)
	assert.Equal(t, 40.0, r.Latency.Max)
	assert.Equal(t, 25.0, r.Latency.Avg)
	assert.InDelta(t, 11.18, r.Latency.StdDev, 0.1)
	assert.Equal(t, 4.0, r.Throughput)
	assert.Equal(t, 2.0, r.RequestRate)
	assert.Equal(t, 100.0, r.RequestSuccessRate)
	assert.Empty(t, r.Errors)
}

func TestAggregate_OneTimeout(t *testing.T) {
	outcomes := []dispatch.Outcome{
		ok(10, 2), ok(20, 2), ok(30, 2),
		{Latency: 30000, Reason: dispatch.ReasonTimeout, Error: dispatch.TimeoutError, Count: 2},
	}

	r := Aggregate(outcomes, time.Second)

	assert.Equal(t, 4, r.TotalRequests)
	assert.Equal(t, 3, r.SuccessfulRequests)
	assert.Equal(t, 1, r.FailedRequests)
	assert.Equal(t, 8, r.TotalLogs)
	assert.Equal(t, 6, r.SuccessfulLogs)
	assert.Equal(t, map[string]int{"timeout": 1}, r.Errors)
	assert.Equal(t, map[string]int{"timeout": 1}, r.Failures)
	assert.Equal(t, 30.0, r.Latency.Max, "failed latencies are excluded")
	assert.Equal(t, 75.0, r.RequestSuccessRate)
}

func TestAggregate_ErrorLabels(t *testing.T) {
	outcomes := []dispatch.Outcome{
		{Status: 500, Reason: dispatch.ReasonApplication, Count: 1},
		{Status: 500, Reason: dispatch.ReasonApplication, Count: 1},
		{Status: 429, Reason: dispatch.ReasonApplication, Error: "too many requests", Count: 1},
		{Reason: dispatch.ReasonTransport, Error: "connection refused", Count: 1},
	}

	r := Aggregate(outcomes, time.Second)

	assert.Equal(t, map[string]int{
		"status 500":         2,
		"too many requests":  1,
		"connection refused": 1,
	}, r.Errors)
	assert.Equal(t, map[string]int{"application": 3, "transport": 1}, r.Failures)
	assert.Equal(t, 0.0, r.Latency.P50)
	assert.Equal(t, 0.0, r.Latency.P99)
	assert.Equal(t, 0.0, r.Throughput)
}

func TestAggregate_ZeroElapsed(t *testing.T) {
	r := Aggregate([]dispatch.Outcome{ok(5, 1)}, 0)

	assert.Equal(t, 0.0, r.Throughput)
	assert.Equal(t, 0.0, r.RequestRate)
}

func TestAggregate_Empty(t *testing.T) {
	r := Aggregate(nil, time.Second)

	assert.Equal(t, 0, r.TotalRequests)
	assert.Equal(t, 0.0, r.RequestSuccessRate)
	assert.Len(t, r.Latency.Buckets, len(BucketLabels()))
}

func TestAggregate_Invariants(t *testing.T) {
	var outcomes []dispatch.Outcome
	for i := 0; i < 257; i++ {
		if i%7 == 0 {
			outcomes = append(outcomes, dispatch.Outcome{Status: 503, Reason: dispatch.ReasonApplication, Count: 5})
			continue
		}
		outcomes = append(outcomes, ok(float64((i*37)%200), 5))
	}

	r := Aggregate(outcomes, 3*time.Second)

	assert.Equal(t, r.TotalRequests, r.SuccessfulRequests+r.FailedRequests)
	assert.Equal(t, float64(r.SuccessfulLogs)/3, r.Throughput)
	assert.LessOrEqual(t, r.Latency.P50, r.Latency.P95)
	assert.LessOrEqual(t, r.Latency.P95, r.Latency.P99)

	total := 0
	for _, n := range r.Latency.Buckets {
		total += n
	}
	assert.Equal(t, r.SuccessfulRequests, total)
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"empty", nil, 0.5, 0},
		{"single p50", []float64{7}, 0.5, 7},
		{"single p99", []float64{7}, 0.99, 7},
		{"four p50", []float64{10, 20, 30, 40}, 0.5, 30},
		{"four p95", []float64{10, 20, 30, 40}, 0.95, 40},
		{"clamped p100", []float64{10, 20, 30, 40}, 1.0, 40},
		{"ten p90", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.9, 10},
		{"p0", []float64{1, 2, 3}, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Percentile(tt.sorted, tt.p))
		})
	}
}

func TestBuckets(t *testing.T) {
	outcomes := []dispatch.Outcome{ok(5, 1), ok(10, 1), ok(99.9, 1), ok(150, 1), ok(2500, 1)}

	r := Aggregate(outcomes, time.Second)

	require.NotNil(t, r.Latency.Buckets)
	assert.Equal(t, 1, r.Latency.Buckets["<10ms"])
	assert.Equal(t, 1, r.Latency.Buckets["10-50ms"])
	assert.Equal(t, 1, r.Latency.Buckets["50-100ms"])
	assert.Equal(t, 1, r.Latency.Buckets["100-200ms"])
	assert.Equal(t, 1, r.Latency.Buckets[">2s"])
	assert.Equal(t, 0, r.Latency.Buckets["1s-2s"])
}

func TestCheckTargets(t *testing.T) {
	r := Aggregate([]dispatch.Outcome{ok(50, 100), ok(120, 100)}, 10*time.Millisecond)
	r.CheckTargets(DefaultTargets())

	assert.True(t, r.Targets.ThroughputAchieved)
	assert.False(t, r.Targets.P95Achieved)
	assert.True(t, r.Targets.ZeroFailures)
	assert.Equal(t, DefaultP95Target, r.Targets.P95Target)
}
