package promquery

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"logbench/pkg/timeseries"
)

// Query is one named range query.
type Query struct {
	Name        string `mapstructure:"name" json:"name" validate:"required"`
	Expr        string `mapstructure:"expr" json:"expr" validate:"required"`
	Description string `mapstructure:"description" json:"description"`
}

// DefaultQueries are the throughput series exported after a run.
func DefaultQueries() []Query {
	return []Query{
		{
			Name:        "logs_per_second",
			Expr:        "sum(irate(logs_received_total[5s]))",
			Description: "logs/s, instantaneous",
		},
		{
			Name:        "logs_per_second_30s",
			Expr:        "sum(rate(logs_received_total[30s]))",
			Description: "logs/s, 30s average",
		},
		{
			Name:        "redis_messages_per_second",
			Expr:        "sum(irate(redis_stream_messages_total{status='success'}[5s]))",
			Description: "redis msg/s, instantaneous",
		},
		{
			Name:        "pg_inserts_per_second",
			Expr:        `sum(irate(pg_stat_database_tup_inserted{datname="logsdb"}[5s]))`,
			Description: "pg rows/s, instantaneous",
		},
		{
			Name:        "http_requests_per_second",
			Expr:        "sum(irate(http_requests_total[5s]))",
			Description: "http req/s, instantaneous",
		},
	}
}

const pathQueryRange = "/api/v1/query_range"

// Client runs range queries against a Prometheus server.
type Client struct {
	client  api.Client
	api     v1.API
	timeout time.Duration
}

// NewClient creates a client for the server at address. A zero timeout
// leaves each query bounded only by its context.
func NewClient(address string, timeout time.Duration) (*Client, error) {
	c, err := api.NewClient(api.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}
	return &Client{client: c, api: v1.NewAPI(c), timeout: timeout}, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.api.Buildinfo(ctx); err != nil {
		return fmt.Errorf("prometheus unreachable: %w", err)
	}
	return nil
}

// Sample is one decoded point of a range query.
type Sample struct {
	Time  time.Time
	Value float64
}

// Stream is one labelled series of a range query result.
type Stream struct {
	Metric  model.Metric
	Samples []Sample
}

type rangeResponse struct {
	Status    string `json:"status"`
	ErrorType string `json:"errorType"`
	Error     string `json:"error"`
	Data      struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric model.Metric         `json:"metric"`
			Values [][2]json.RawMessage `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

// QueryRange evaluates expr over [start, end] at the given step. Samples whose
// value is null, NaN or infinite are skipped; the rest of the stream is kept.
func (c *Client) QueryRange(ctx context.Context, expr string, start, end time.Time, step time.Duration) ([]Stream, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	form := url.Values{}
	form.Set("query", expr)
	form.Set("start", formatTime(start))
	form.Set("end", formatTime(end))
	form.Set("step", strconv.FormatFloat(step.Seconds(), 'f', -1, 64))

	u := c.client.URL(pathQueryRange, nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("range query %q: %w", expr, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, body, err := c.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("range query %q failed: %w", expr, err)
	}

	var out rangeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("range query %q: bad response (status %d): %w", expr, resp.StatusCode, err)
	}
	if out.Status != "success" {
		return nil, fmt.Errorf("range query %q failed: %s: %s", expr, out.ErrorType, out.Error)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("range query %q failed: status %d", expr, resp.StatusCode)
	}
	if out.Data.ResultType != string(model.ValMatrix) {
		return nil, fmt.Errorf("range query %q returned %s, want matrix", expr, out.Data.ResultType)
	}

	streams := make([]Stream, 0, len(out.Data.Result))
	for _, r := range out.Data.Result {
		stream := Stream{Metric: r.Metric, Samples: make([]Sample, 0, len(r.Values))}
		for _, pair := range r.Values {
			sample, ok, err := decodeSample(pair)
			if err != nil {
				return nil, fmt.Errorf("range query %q: %w", expr, err)
			}
			if ok {
				stream.Samples = append(stream.Samples, sample)
			}
		}
		streams = append(streams, stream)
	}
	return streams, nil
}

// decodeSample parses a [timestamp, "value"] pair. ok is false for a missing
// value: null, NaN or an infinity.
func decodeSample(pair [2]json.RawMessage) (Sample, bool, error) {
	ts, err := strconv.ParseFloat(string(pair[0]), 64)
	if err != nil {
		return Sample{}, false, fmt.Errorf("bad sample timestamp %s: %w", pair[0], err)
	}

	var raw *string
	if err := json.Unmarshal(pair[1], &raw); err != nil {
		return Sample{}, false, fmt.Errorf("bad sample value %s: %w", pair[1], err)
	}
	if raw == nil {
		return Sample{}, false, nil
	}
	v, err := strconv.ParseFloat(*raw, 64)
	if err != nil {
		return Sample{}, false, fmt.Errorf("bad sample value %q: %w", *raw, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Sample{}, false, nil
	}
	return Sample{Time: time.UnixMilli(int64(math.Round(ts * 1000))), Value: v}, true, nil
}

func formatTime(t time.Time) string {
	return strconv.FormatFloat(float64(t.Unix())+float64(t.Nanosecond())/1e9, 'f', -1, 64)
}

// Series runs q and converts the first returned stream into a MetricSeries.
// An empty result yields an empty series.
func (c *Client) Series(ctx context.Context, q Query, start, end time.Time, step time.Duration) (*timeseries.MetricSeries, error) {
	series := timeseries.NewSeries(q.Name, q.Description)

	streams, err := c.QueryRange(ctx, q.Expr, start, end, step)
	if err != nil {
		return series, err
	}
	if len(streams) == 0 {
		return series, nil
	}
	for _, sample := range streams[0].Samples {
		series.Add(sample.Time, sample.Value)
	}
	return series, nil
}

// Values runs expr and returns the values of every returned stream.
func (c *Client) Values(ctx context.Context, expr string, start, end time.Time, step time.Duration) ([]float64, error) {
	streams, err := c.QueryRange(ctx, expr, start, end, step)
	if err != nil {
		return nil, err
	}
	var values []float64
	for _, stream := range streams {
		for _, sample := range stream.Samples {
			values = append(values, sample.Value)
		}
	}
	return values, nil
}
