package promquery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"logbench/pkg/timeseries"
)

// Config controls where and how metrics are exported.
type Config struct {
	URL             string        `mapstructure:"url" json:"url" validate:"required,url"`
	Timeout         time.Duration `mapstructure:"timeout" json:"timeout"`
	Step            time.Duration `mapstructure:"step" json:"step" validate:"gt=0"`
	Padding         time.Duration `mapstructure:"padding" json:"padding" validate:"gte=0"`
	SettleDelay     time.Duration `mapstructure:"settle_delay" json:"settle_delay" validate:"gte=0"`
	OutputDir       string        `mapstructure:"output_dir" json:"output_dir" validate:"required"`
	FilterReference string        `mapstructure:"filter_reference" json:"filter_reference" validate:"required"`
	TopReference    string        `mapstructure:"top_reference" json:"top_reference" validate:"required"`
	TopK            int           `mapstructure:"top_k" json:"top_k" validate:"gt=0"`
	Queries         []Query       `mapstructure:"queries" json:"queries" validate:"dive"`
}

// DefaultConfig returns the export settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		URL:             "http://localhost:9090",
		Timeout:         30 * time.Second,
		Step:            time.Second,
		Padding:         time.Minute,
		SettleDelay:     10 * time.Second,
		OutputDir:       "./results",
		FilterReference: "logs_per_second",
		TopReference:    "http_requests_per_second",
		TopK:            20,
		Queries:         DefaultQueries(),
	}
}

// ExportResult describes the files written by one export.
type ExportResult struct {
	Start        time.Time            `json:"start"`
	End          time.Time            `json:"end"`
	Files        []string             `json:"files"`
	Rows         int                  `json:"rows"`
	FilteredRows int                  `json:"filtered_rows"`
	TopRows      int                  `json:"top_rows"`
	Median       float64              `json:"median"`
	Summaries    []timeseries.Summary `json:"summaries"`
	NoData       bool                 `json:"no_data"`
}

// Exporter pulls the configured series for a test window and writes the
// aligned, median filtered and top-K tables as CSV.
type Exporter struct {
	client *Client
	config Config
	logger zerolog.Logger
	loc    *time.Location
}

// NewExporter creates an exporter.
func NewExporter(client *Client, config Config, logger zerolog.Logger) *Exporter {
	if len(config.Queries) == 0 {
		config.Queries = DefaultQueries()
	}
	return &Exporter{
		client: client,
		config: config,
		logger: logger,
		loc:    time.Local,
	}
}

// WithLocation sets the zone timestamps are written in.
func (e *Exporter) WithLocation(loc *time.Location) *Exporter {
	e.loc = loc
	return e
}

// SettleDelay is how long to wait after a test before its metrics are complete.
func (e *Exporter) SettleDelay() time.Duration {
	return e.config.SettleDelay
}

// Export queries the window [start-padding, end+padding]. Query failures are
// collected and returned alongside whatever data was obtained; if nothing was
// obtained the result reports NoData and no file is written.
func (e *Exporter) Export(ctx context.Context, start, end time.Time) (*ExportResult, error) {
	from := start.Add(-e.config.Padding)
	to := end.Add(e.config.Padding)
	result := &ExportResult{Start: from, End: to}

	var errs *multierror.Error
	series := make([]*timeseries.MetricSeries, 0, len(e.config.Queries))
	for _, q := range e.config.Queries {
		s, err := e.client.Series(ctx, q, from, to, e.config.Step)
		if err != nil {
			e.logger.Warn().Err(err).Str("query", q.Name).Msg("Metric query failed")
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", q.Name, err))
		}
		series = append(series, s)
	}

	table := timeseries.Align(series...)
	result.Rows = len(table.Rows)
	if table.Empty() {
		result.NoData = true
		e.logger.Warn().Time("start", from).Time("end", to).Msg("No metric data in window")
		return result, errs.ErrorOrNil()
	}
	result.Summaries = timeseries.Summarize(table)

	if err := os.MkdirAll(e.config.OutputDir, 0755); err != nil {
		return result, multierror.Append(errs, fmt.Errorf("failed to create output directory: %w", err))
	}
	base := filepath.Join(e.config.OutputDir, "throughput_metrics_"+start.In(e.loc).Format("20060102_150405"))

	if err := e.save(result, table, base+".csv"); err != nil {
		return result, multierror.Append(errs, err)
	}

	filtered, median, err := timeseries.MedianFilter(table, e.config.FilterReference)
	switch {
	case err == nil:
		result.Median = median
		result.FilteredRows = len(filtered.Rows)
		if err := e.save(result, filtered, base+"_filtered.csv"); err != nil {
			errs = multierror.Append(errs, err)
		}
	case errors.Is(err, timeseries.ErrNoData):
		e.logger.Info().Str("reference", e.config.FilterReference).Msg("Nothing to filter by median")
	default:
		errs = multierror.Append(errs, err)
	}

	top, err := timeseries.TopK(table, e.config.TopReference, e.config.TopK)
	switch {
	case err == nil:
		result.TopRows = len(top.Rows)
		if err := e.save(result, top, fmt.Sprintf("%s_top%d.csv", base, e.config.TopK)); err != nil {
			errs = multierror.Append(errs, err)
		}
	case errors.Is(err, timeseries.ErrNoData):
		e.logger.Info().Str("reference", e.config.TopReference).Msg("Nothing to rank")
	default:
		errs = multierror.Append(errs, err)
	}

	for _, s := range result.Summaries {
		e.logger.Info().
			Str("metric", s.Name).
			Int("count", s.Count).
			Float64("min", s.Min).
			Float64("max", s.Max).
			Float64("mean", s.Mean).
			Float64("median", s.Median).
			Msg("Metric summary")
	}
	return result, errs.ErrorOrNil()
}

func (e *Exporter) save(result *ExportResult, table *timeseries.Table, path string) error {
	if err := table.SaveCSV(path, e.loc); err != nil {
		return err
	}
	result.Files = append(result.Files, path)
	e.logger.Info().Str("file", path).Int("rows", len(table.Rows)).Msg("Wrote metrics table")
	return nil
}
