package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"logbench/pkg/dispatch"
	"logbench/pkg/workload"
)

// maxErrorBody bounds how much of a failed response is kept as the error description.
const maxErrorBody = 4096

// Client talks to the ingestion service. It implements dispatch.Sender.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ dispatch.Sender = (*Client)(nil)

// NewClient creates a client for baseURL whose connection pool can hold
// maxConns connections to the service.
func NewClient(baseURL string, maxConns int) *Client {
	if maxConns <= 0 {
		maxConns = 100
	}

	transport := &http.Transport{
		MaxIdleConns:        maxConns,
		MaxIdleConnsPerHost: maxConns,
		MaxConnsPerHost:     maxConns,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// per-attempt deadlines come from the caller's context
		httpClient: &http.Client{Transport: transport},
	}
}

// SendOne posts a single record to /api/log.
func (c *Client) SendOne(ctx context.Context, item workload.WorkItem) (dispatch.Response, error) {
	return c.post(ctx, PathLog, item)
}

// SendBatch posts records to /api/logs/batch.
func (c *Client) SendBatch(ctx context.Context, items []workload.WorkItem) (dispatch.Response, error) {
	return c.post(ctx, PathBatch, workload.BatchRequest{Logs: items})
}

func (c *Client) post(ctx context.Context, path string, body any) (dispatch.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return dispatch.Response{}, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return dispatch.Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return dispatch.Response{}, err
	}
	defer resp.Body.Close()

	result := dispatch.Response{StatusCode: resp.StatusCode}
	if result.Succeeded() {
		// drain so the connection goes back to the pool
		_, _ = io.Copy(io.Discard, resp.Body)
		return result, nil
	}

	text, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return result, err
	}
	result.Body = strings.TrimSpace(string(text))
	return result, nil
}

// RecentLogs reads the latest records of a device. The returned status is
// set whenever the service answered.
func (c *Client) RecentLogs(ctx context.Context, deviceID string, limit int) (*RecentLogs, int, error) {
	u := fmt.Sprintf("%s/api/logs/%s?limit=%d", c.baseURL, url.PathEscape(deviceID), limit)

	var out RecentLogs
	status, err := c.getJSON(ctx, u, &out)
	if err != nil {
		return nil, status, err
	}
	return &out, status, nil
}

// Stats reads the aggregate counters of the service.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var out Stats
	if _, err := c.getJSON(ctx, c.baseURL+PathStats, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

// Sanity performs the post-test reads. Failures are recorded in the report,
// never returned.
func (c *Client) Sanity(ctx context.Context, deviceID string, limit int) SanityReport {
	report := SanityReport{DeviceID: deviceID}

	start := time.Now()
	recent, status, err := c.RecentLogs(ctx, deviceID, limit)
	report.RecentLatency = float64(time.Since(start).Nanoseconds()) / 1e6
	report.RecentStatus = status
	if err != nil {
		report.RecentError = err.Error()
	} else {
		report.RecentCount = recent.Count
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		report.StatsError = err.Error()
	} else {
		report.Stats = stats
	}
	return report
}
