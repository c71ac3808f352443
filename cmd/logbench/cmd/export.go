package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"logbench/pkg/promquery"
	"logbench/pkg/timeseries"
)

var (
	errNoWindow = errors.New("either --run, --duration or both --start and --end are required")
	errBadTop   = errors.New("--top must be positive")
)

// Export the ingestion service's metrics for a time window.
func exportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export throughput metrics from Prometheus as CSV.",
		Long: `Export throughput metrics from Prometheus as CSV.

The window is taken from a stored report (--run), the last --duration, or
--start and --end. Times are RFC3339 or "2006-01-02 15:04:05" in local time.
The window is padded by metrics.padding on both sides.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, runID, err := exportWindow(cmd, app)
			if err != nil {
				return err
			}

			metrics := app.Config.Metrics.Config
			if cmd.Flags().Changed("output") {
				metrics.OutputDir, _ = cmd.Flags().GetString("output")
			}
			if cmd.Flags().Changed("top") {
				metrics.TopK, _ = cmd.Flags().GetInt("top")
				if metrics.TopK <= 0 {
					return fmt.Errorf("%w, got %d", errBadTop, metrics.TopK)
				}
			}

			client, err := promquery.NewClient(metrics.URL, metrics.Timeout)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()
			if err := client.Ping(ctx); err != nil {
				return fmt.Errorf("prometheus at %s is not reachable: %w", metrics.URL, err)
			}

			exporter := promquery.NewExporter(client, metrics, app.Logger)
			result, exportErr := exporter.Export(ctx, start, end)
			if result == nil {
				return exportErr
			}

			out := cmd.OutOrStdout()
			if result.NoData {
				fmt.Fprintf(out, "No data between %s and %s\n", result.Start.Format(time.RFC3339), result.End.Format(time.RFC3339))
			}
			for _, f := range result.Files {
				fmt.Fprintf(out, "Wrote %s\n", f)
			}
			for _, s := range result.Summaries {
				fmt.Fprintf(out, "%-28s n=%-5d min=%-10.2f max=%-10.2f mean=%-10.2f median=%.2f\n",
					s.Name, s.Count, s.Min, s.Max, s.Mean, s.Median)
			}

			if runID != "" {
				server, err := attachMetrics(ctx, app, exporter, runID, result)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Server: %.1f req/s max, p95 %.1fms max, p99 %.1fms max, %.2f errors/s max\n",
					server.QPS.Max, server.P95Ms.Max, server.P99Ms.Max, server.ErrorRate.Max)
			}
			return exportErr
		},
	}

	cmd.Flags().String("run", "", "ID of a stored report whose window is exported")
	cmd.Flags().String("start", "", "Start of the window")
	cmd.Flags().String("end", "", "End of the window")
	cmd.Flags().Duration("duration", 0, "Export the window ending now")
	cmd.Flags().String("output", "", "Output directory (default metrics.output_dir)")
	cmd.Flags().Int("top", 0, "Rows kept in the top table (default metrics.top_k)")

	return cmd
}

func exportWindow(cmd *cobra.Command, app *App) (time.Time, time.Time, string, error) {
	flags := cmd.Flags()
	runID, _ := flags.GetString("run")
	startFlag, _ := flags.GetString("start")
	endFlag, _ := flags.GetString("end")
	duration, _ := flags.GetDuration("duration")

	switch {
	case runID != "":
		fs, err := app.storage()
		if err != nil {
			return time.Time{}, time.Time{}, "", err
		}
		report, err := fs.Load(runID)
		if err != nil {
			return time.Time{}, time.Time{}, "", err
		}
		return report.StartTime, report.EndTime, runID, nil

	case duration > 0:
		end := time.Now()
		return end.Add(-duration), end, "", nil

	case startFlag != "" && endFlag != "":
		start, err := parseTime(startFlag)
		if err != nil {
			return time.Time{}, time.Time{}, "", err
		}
		end, err := parseTime(endFlag)
		if err != nil {
			return time.Time{}, time.Time{}, "", err
		}
		if !end.After(start) {
			return time.Time{}, time.Time{}, "", fmt.Errorf("end %s is not after start %s", endFlag, startFlag)
		}
		return start, end, "", nil
	}
	return time.Time{}, time.Time{}, "", errNoWindow
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(timeseries.TimestampLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t, nil
}

// attachMetrics stores the export result and the server side summary of the
// run's unpadded window in its report.
func attachMetrics(ctx context.Context, app *App, exporter *promquery.Exporter, runID string, result *promquery.ExportResult) (*promquery.ServerSummary, error) {
	fs, err := app.storage()
	if err != nil {
		return nil, err
	}
	report, err := fs.Load(runID)
	if err != nil {
		return nil, err
	}

	server, err := exporter.ServerSummary(ctx, report.StartTime, report.EndTime, report.BatchSize())
	if err != nil {
		app.Logger.Warn().Err(err).Msg("Server metrics incomplete")
	}
	report.Metrics = result
	report.Server = server
	return server, fs.Save(runID, report)
}
