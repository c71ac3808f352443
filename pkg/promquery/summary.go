package promquery

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// BatchEndpoint is the endpoint label value of the batch write path.
const BatchEndpoint = "/api/logs/batch"

// Stat is the max and mean of a server metric over a test window.
type Stat struct {
	Max     float64 `json:"max"`
	Avg     float64 `json:"avg"`
	Samples int     `json:"samples"`
}

func newStat(values []float64, scale float64) Stat {
	var st Stat
	for _, v := range values {
		v *= scale
		if st.Samples == 0 || v > st.Max {
			st.Max = v
		}
		st.Avg += v
		st.Samples++
	}
	if st.Samples > 0 {
		st.Avg /= float64(st.Samples)
	}
	return st
}

// ServerSummary is what the ingestion service itself reported while a test ran.
type ServerSummary struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	QPS        Stat      `json:"qps"`
	BatchQPS   Stat      `json:"qps_batch"`
	Throughput Stat      `json:"throughput"`
	P95Ms      Stat      `json:"p95_response_time_ms"`
	P99Ms      Stat      `json:"p99_response_time_ms"`
	ErrorRate  Stat      `json:"error_rate"`
	Errors     []string  `json:"errors,omitempty"`
}

type summaryQuery struct {
	expr  string
	scale float64
	stat  func(*ServerSummary) *Stat
}

func summaryQueries(batchSize int) []summaryQuery {
	batchRate := fmt.Sprintf(`sum(rate(http_requests_total{endpoint=%q}[1m]))`, BatchEndpoint)
	return []summaryQuery{
		{"sum(rate(http_requests_total[1m]))", 1, func(s *ServerSummary) *Stat { return &s.QPS }},
		{batchRate, 1, func(s *ServerSummary) *Stat { return &s.BatchQPS }},
		{fmt.Sprintf("%s * %d", batchRate, batchSize), 1, func(s *ServerSummary) *Stat { return &s.Throughput }},
		{"histogram_quantile(0.95, sum by (le) (rate(http_request_duration_seconds_bucket[5m])))", 1000, func(s *ServerSummary) *Stat { return &s.P95Ms }},
		{"histogram_quantile(0.99, sum by (le) (rate(http_request_duration_seconds_bucket[5m])))", 1000, func(s *ServerSummary) *Stat { return &s.P99Ms }},
		{`sum(rate(http_requests_total{status=~"4..|5.."}[1m]))`, 1, func(s *ServerSummary) *Stat { return &s.ErrorRate }},
	}
}

// ServerSummary evaluates the service side request metrics over the unpadded
// window [start, end]. A failed query leaves its stat at zero and is reported
// in the returned error and in Errors.
func (e *Exporter) ServerSummary(ctx context.Context, start, end time.Time, batchSize int) (*ServerSummary, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	summary := &ServerSummary{Start: start, End: end}

	var errs *multierror.Error
	for _, q := range summaryQueries(batchSize) {
		values, err := e.client.Values(ctx, q.expr, start, end, e.config.Step)
		if err != nil {
			e.logger.Warn().Err(err).Str("query", q.expr).Msg("Server metric query failed")
			errs = multierror.Append(errs, err)
			summary.Errors = append(summary.Errors, err.Error())
			continue
		}
		*q.stat(summary) = newStat(values, q.scale)
	}

	e.logger.Info().
		Float64("qps_max", summary.QPS.Max).
		Float64("throughput_max", summary.Throughput.Max).
		Float64("p95_ms_max", summary.P95Ms.Max).
		Float64("p99_ms_max", summary.P99Ms.Max).
		Float64("error_rate_max", summary.ErrorRate.Max).
		Msg("Server metrics summary")
	return summary, errs.ErrorOrNil()
}
