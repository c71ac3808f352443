package promquery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const t0 = 1764064800 // 2025-11-25 10:00:00 UTC

type fakeProm struct {
	// values per query expression; a nil slice yields an empty result
	values map[string][][2]any
	fail   map[string]bool
}

func (f *fakeProm) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/query_range", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		query := r.Form.Get("query")
		w.Header().Set("Content-Type", "application/json")
		if f.fail[query] {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":    "error",
				"errorType": "bad_data",
				"error":     "parse error",
			})
			return
		}

		result := []map[string]any{}
		if values, ok := f.values[query]; ok {
			result = append(result, map[string]any{"metric": map[string]string{}, "values": values})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data":   map[string]any{"resultType": "matrix", "result": result},
		})
	})
	mux.HandleFunc("/api/v1/status/buildinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"status":"success","data":{"version":"2.53.0","revision":"","branch":"","buildUser":"","buildDate":"","goVersion":"go1.22"}}`)
	})
	return mux
}

func point(offset int, v string) [2]any {
	return [2]any{float64(t0 + offset), v}
}

func testConfig(t *testing.T, url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.OutputDir = t.TempDir()
	cfg.Queries = []Query{
		{Name: "logs_per_second", Expr: "logs", Description: "logs/s"},
		{Name: "http_requests_per_second", Expr: "http", Description: "req/s"},
	}
	cfg.TopK = 2
	return cfg
}

func newExporter(t *testing.T, prom *fakeProm) (*Exporter, Config) {
	srv := httptest.NewServer(prom.handler())
	t.Cleanup(srv.Close)

	cfg := testConfig(t, srv.URL)
	client, err := NewClient(cfg.URL, cfg.Timeout)
	require.NoError(t, err)
	return NewExporter(client, cfg, zerolog.Nop()).WithLocation(time.UTC), cfg
}

func TestClient_Ping(t *testing.T) {
	srv := httptest.NewServer((&fakeProm{}).handler())
	defer srv.Close()

	client, err := NewClient(srv.URL, time.Second)
	require.NoError(t, err)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestClient_SeriesDropsNaN(t *testing.T) {
	srv := httptest.NewServer((&fakeProm{values: map[string][][2]any{
		"q": {point(0, "1.5"), point(1, "NaN"), point(2, "3")},
	}}).handler())
	defer srv.Close()

	client, err := NewClient(srv.URL, time.Second)
	require.NoError(t, err)

	s, err := client.Series(context.Background(), Query{Name: "q", Expr: "q"}, time.Unix(t0, 0), time.Unix(t0+2, 0), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 1.5, s.Points[int64(t0)*1000])
}

func TestClient_SeriesDropsNull(t *testing.T) {
	srv := httptest.NewServer((&fakeProm{values: map[string][][2]any{
		"logs": {point(0, "5"), {float64(t0 + 1), nil}, point(2, "10"), point(3, "NaN"), point(4, "+Inf")},
	}}).handler())
	defer srv.Close()

	client, err := NewClient(srv.URL, time.Second)
	require.NoError(t, err)

	s, err := client.Series(context.Background(), Query{Name: "logs", Expr: "logs"}, time.Unix(t0, 0), time.Unix(t0+4, 0), time.Second)
	require.NoError(t, err)
	assert.Equal(t, map[int64]float64{
		int64(t0) * 1000:   5,
		int64(t0+2) * 1000: 10,
	}, s.Points)
}

func TestClient_QueryRangeSendsWindow(t *testing.T) {
	forms := make(chan url.Values, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		forms <- r.Form
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"status":"success","data":{"resultType":"matrix","result":[]}}`)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, time.Second)
	require.NoError(t, err)

	streams, err := client.QueryRange(context.Background(), "up", time.Unix(t0, 500e6), time.Unix(t0+60, 0), 500*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, streams)
	form := <-forms
	assert.Equal(t, "up", form.Get("query"))
	assert.Equal(t, "1764064800.5", form.Get("start"))
	assert.Equal(t, "1764064860", form.Get("end"))
	assert.Equal(t, "0.5", form.Get("step"))
}

func TestClient_QueryRangeRejectsVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"status":"success","data":{"resultType":"vector","result":[]}}`)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, time.Second)
	require.NoError(t, err)

	_, err = client.QueryRange(context.Background(), "up", time.Unix(t0, 0), time.Unix(t0+1, 0), time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want matrix")
}

func TestExport_WritesAllTables(t *testing.T) {
	prom := &fakeProm{values: map[string][][2]any{
		"logs": {point(0, "5"), point(1, "0"), point(3, "10"), point(4, "15")},
		"http": {point(0, "5"), point(1, "20"), point(2, "0"), point(3, "15")},
	}}
	exporter, cfg := newExporter(t, prom)

	start := time.Unix(t0, 0).UTC()
	result, err := exporter.Export(context.Background(), start, start.Add(4*time.Second))

	require.NoError(t, err)
	assert.False(t, result.NoData)
	assert.Equal(t, 5, result.Rows)
	assert.Equal(t, 10.0, result.Median)
	assert.Equal(t, 1, result.FilteredRows)
	assert.Equal(t, 2, result.TopRows)
	assert.Equal(t, start.Add(-time.Minute), result.Start)
	require.Len(t, result.Files, 3)

	base := filepath.Join(cfg.OutputDir, "throughput_metrics_20251125_100000")
	assert.Equal(t, []string{base + ".csv", base + "_filtered.csv", base + "_top2.csv"}, result.Files)

	aligned, err := os.ReadFile(base + ".csv")
	require.NoError(t, err)
	assert.Equal(t, "\ufefftimestamp,logs_per_second (logs/s),http_requests_per_second (req/s)\n"+
		"2025-11-25 10:00:00,5,5\n"+
		"2025-11-25 10:00:01,0,20\n"+
		"2025-11-25 10:00:02,,0\n"+
		"2025-11-25 10:00:03,10,15\n"+
		"2025-11-25 10:00:04,15,\n", string(aligned))

	filtered, err := os.ReadFile(base + "_filtered.csv")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(filtered), "2025-11-25 10:00:04,15,\n"))

	top, err := os.ReadFile(base + "_top2.csv")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(top)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "2025-11-25 10:00:01"))
	assert.True(t, strings.HasPrefix(lines[2], "2025-11-25 10:00:03"))

	require.Len(t, result.Summaries, 2)
	assert.Equal(t, 4, result.Summaries[0].Count)
}

func TestExport_PartialFailureKeepsData(t *testing.T) {
	prom := &fakeProm{
		values: map[string][][2]any{"logs": {point(0, "5"), point(1, "7")}},
		fail:   map[string]bool{"http": true},
	}
	exporter, _ := newExporter(t, prom)

	start := time.Unix(t0, 0)
	result, err := exporter.Export(context.Background(), start, start.Add(time.Second))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "http_requests_per_second")
	assert.False(t, result.NoData)
	assert.Equal(t, 2, result.Rows)
	// aligned and filtered only: the top reference column is empty
	assert.Len(t, result.Files, 2)
}

func TestExport_NoData(t *testing.T) {
	exporter, cfg := newExporter(t, &fakeProm{})

	start := time.Unix(t0, 0)
	result, err := exporter.Export(context.Background(), start, start.Add(time.Second))

	require.NoError(t, err)
	assert.True(t, result.NoData)
	assert.Empty(t, result.Files)

	entries, err := os.ReadDir(cfg.OutputDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExport_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	cfg := testConfig(t, srv.URL)
	client, err := NewClient(cfg.URL, time.Second)
	require.NoError(t, err)
	exporter := NewExporter(client, cfg, zerolog.Nop())

	start := time.Unix(t0, 0)
	result, err := exporter.Export(context.Background(), start, start.Add(time.Second))

	require.Error(t, err)
	require.NotNil(t, result)
	assert.True(t, result.NoData)
}
