package stats

import (
	"math"
	"sort"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"logbench/pkg/dispatch"
)

// Latencies are recorded in the histogram in microseconds, up to one hour.
const (
	histogramMin     = 1
	histogramMax     = int64(time.Hour / time.Microsecond)
	histogramSigFigs = 3
)

// latencyBuckets are upper bounds in milliseconds; the last bucket is open.
var latencyBuckets = []struct {
	label string
	upper float64
}{
	{"<10ms", 10},
	{"10-50ms", 50},
	{"50-100ms", 100},
	{"100-200ms", 200},
	{"200-500ms", 500},
	{"500ms-1s", 1000},
	{"1s-2s", 2000},
	{">2s", math.Inf(1)},
}

// BucketLabels returns the latency bucket labels in ascending order.
func BucketLabels() []string {
	labels := make([]string, len(latencyBuckets))
	for i, b := range latencyBuckets {
		labels[i] = b.label
	}
	return labels
}

// Aggregate reduces the outcomes of one iteration and its wall time into an
// IterationResult. It does not fill in iteration metadata or targets.
func Aggregate(outcomes []dispatch.Outcome, elapsed time.Duration) IterationResult {
	result := IterationResult{
		Elapsed:  elapsed.Seconds(),
		Errors:   map[string]int{},
		Failures: map[string]int{},
	}

	latencies := make([]float64, 0, len(outcomes))
	for _, o := range outcomes {
		result.TotalRequests++
		result.TotalLogs += o.Count

		if o.Success {
			result.SuccessfulRequests++
			result.SuccessfulLogs += o.Count
			latencies = append(latencies, o.Latency)
			continue
		}
		result.Errors[o.ErrorLabel()]++
		result.Failures[string(o.Reason)]++
	}
	result.FailedRequests = result.TotalRequests - result.SuccessfulRequests

	if result.TotalRequests > 0 {
		result.RequestSuccessRate = float64(result.SuccessfulRequests) / float64(result.TotalRequests) * 100
	}
	if result.TotalLogs > 0 {
		result.LogSuccessRate = float64(result.SuccessfulLogs) / float64(result.TotalLogs) * 100
	}

	if result.Elapsed > 0 {
		result.Throughput = float64(result.SuccessfulLogs) / result.Elapsed
		result.RequestRate = float64(result.SuccessfulRequests) / result.Elapsed
	}

	sort.Float64s(latencies)
	result.Latency = summarizeLatencies(latencies)
	return result
}

func summarizeLatencies(sorted []float64) LatencyStats {
	s := LatencyStats{Buckets: make(map[string]int, len(latencyBuckets))}
	for _, b := range latencyBuckets {
		s.Buckets[b.label] = 0
	}
	if len(sorted) == 0 {
		return s
	}

	h := hdrhistogram.New(histogramMin, histogramMax, histogramSigFigs)
	var sum float64
	for _, v := range sorted {
		sum += v
		_ = h.RecordValue(clampMicros(v))
		s.Buckets[bucketFor(v)]++
	}

	s.Avg = sum / float64(len(sorted))
	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]
	s.StdDev = h.StdDev() / 1000
	s.P50 = Percentile(sorted, 0.50)
	s.P95 = Percentile(sorted, 0.95)
	s.P99 = Percentile(sorted, 0.99)
	return s
}

// Percentile returns the element of sorted at index floor(len*p), clamped to
// the last index. There is no interpolation between neighbours. An empty
// slice yields 0.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(math.Floor(float64(len(sorted)) * p))
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	if index < 0 {
		index = 0
	}
	return sorted[index]
}

func bucketFor(latency float64) string {
	for _, b := range latencyBuckets {
		if latency < b.upper {
			return b.label
		}
	}
	return latencyBuckets[len(latencyBuckets)-1].label
}

func clampMicros(ms float64) int64 {
	us := int64(ms * 1000)
	if us < histogramMin {
		return histogramMin
	}
	if us > histogramMax {
		return histogramMax
	}
	return us
}
