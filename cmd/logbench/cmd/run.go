package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	"logbench/pkg/collector"
	"logbench/pkg/ingest"
	"logbench/pkg/loadtest"
	"logbench/pkg/promquery"
	"logbench/pkg/stats"
)

const progressTemplate = `{{string . "prefix"}} {{counters . }} {{bar . }} {{percent . }} {{etime . }}`

// Run a load test in the foreground and store its report.
func runCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test against the ingestion service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyRunFlags(cmd, &app.Config.LoadTest); err != nil {
				return err
			}
			config := app.Config.LoadTest
			if err := config.Validate(); err != nil {
				return err
			}

			export := app.Config.Metrics.Enabled
			if cmd.Flags().Changed("export") {
				export, _ = cmd.Flags().GetBool("export")
			}
			quiet, _ := cmd.Flags().GetBool("no-progress")

			fs, err := app.storage()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			client := ingest.NewClient(config.BaseURL, config.Concurrency)
			orchestrator := loadtest.NewOrchestrator(config, client, app.Logger).WithSanity(client)
			if app.Config.Resources.Enabled {
				orchestrator.WithSampler(collector.NewSampler(app.Config.Resources, app.Logger))
			}

			var bar *pb.ProgressBar
			if !quiet {
				bar = pb.ProgressBarTemplate(progressTemplate).New(config.Iterations)
				bar.Set("prefix", "iterations")
				bar.SetWriter(os.Stderr)
				bar.Start()
				orchestrator.OnIteration(func(stats.IterationResult) { bar.Increment() })
			}

			report, runErr := orchestrator.Run(ctx)
			if bar != nil {
				bar.Finish()
			}
			if report == nil {
				return runErr
			}

			if runErr == nil && export {
				exportReport(cmd, app, report)
			}

			if err := fs.Save(report.ID, report); err != nil {
				return fmt.Errorf("failed to save report: %w", err)
			}
			printReport(cmd, report)
			fmt.Fprintf(cmd.OutOrStdout(), "\nReport saved as %s\n", report.ID)
			return runErr
		},
	}

	cmd.Flags().String("url", "", "Base URL of the ingestion service")
	cmd.Flags().Int("devices", 0, "Number of simulated devices")
	cmd.Flags().Int("logs-per-device", 0, "Logs each device sends per iteration")
	cmd.Flags().Int("concurrency", 0, "Maximum requests in flight")
	cmd.Flags().Int("batch-size", 0, "Logs per batch request")
	cmd.Flags().Bool("single", false, "Send one log per request instead of batches")
	cmd.Flags().Int("iterations", 0, "Number of iterations")
	cmd.Flags().Duration("interval", 0, "Pause between iterations")
	cmd.Flags().Float64("max-rps", 0, "Cap on request starts per second, 0 for none")
	cmd.Flags().Bool("export", false, "Export metrics for the test window afterwards (default metrics.enabled)")
	cmd.Flags().Bool("no-progress", false, "Do not draw a progress bar")

	return cmd
}

func applyRunFlags(cmd *cobra.Command, c *loadtest.Config) error {
	flags := cmd.Flags()
	var err error
	if flags.Changed("url") {
		c.BaseURL, err = flags.GetString("url")
	}
	if err == nil && flags.Changed("devices") {
		c.Devices, err = flags.GetInt("devices")
	}
	if err == nil && flags.Changed("logs-per-device") {
		c.LogsPerDevice, err = flags.GetInt("logs-per-device")
	}
	if err == nil && flags.Changed("concurrency") {
		c.Concurrency, err = flags.GetInt("concurrency")
	}
	if err == nil && flags.Changed("batch-size") {
		c.BatchSize, err = flags.GetInt("batch-size")
	}
	if err == nil && flags.Changed("single") {
		var single bool
		single, err = flags.GetBool("single")
		c.Batching = !single
	}
	if err == nil && flags.Changed("iterations") {
		c.Iterations, err = flags.GetInt("iterations")
	}
	if err == nil && flags.Changed("interval") {
		c.Interval, err = flags.GetDuration("interval")
	}
	if err == nil && flags.Changed("max-rps") {
		c.MaxRPS, err = flags.GetFloat64("max-rps")
	}
	return err
}

func exportReport(cmd *cobra.Command, app *App, report *loadtest.TestReport) {
	client, err := promquery.NewClient(app.Config.Metrics.URL, app.Config.Metrics.Timeout)
	if err != nil {
		app.Logger.Error().Err(err).Msg("Failed to create metrics client")
		return
	}
	exporter := promquery.NewExporter(client, app.Config.Metrics.Config, app.Logger)

	ctx, cancel := signalContext()
	defer cancel()

	app.Logger.Info().Dur("delay", exporter.SettleDelay()).Msg("Waiting for metrics to settle")
	select {
	case <-time.After(exporter.SettleDelay()):
	case <-ctx.Done():
		return
	}

	result, err := exporter.Export(ctx, report.StartTime, report.EndTime)
	if err != nil {
		app.Logger.Warn().Err(err).Msg("Metrics export incomplete")
	}
	report.Metrics = result

	server, err := exporter.ServerSummary(ctx, report.StartTime, report.EndTime, report.BatchSize())
	if err != nil {
		app.Logger.Warn().Err(err).Msg("Server metrics incomplete")
	}
	report.Server = server
	if result != nil {
		for _, f := range result.Files {
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", f)
		}
	}
}

func printReport(cmd *cobra.Command, report *loadtest.TestReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n======= SUMMARY =======\n")
	fmt.Fprintf(out, "Run %s: %d/%d iteration(s) in %.1fs\n",
		report.ID, report.Completed(), report.Iterations, report.Duration)
	if report.Interrupted {
		fmt.Fprintf(out, "Interrupted: %s\n", report.Error)
	}

	for _, r := range report.Results {
		fmt.Fprintf(out, "#%-3d %6.2fs  req %d/%d  logs %d/%d  %9.1f logs/s  p50 %7.1fms  p95 %7.1fms  p99 %7.1fms\n",
			r.Iteration, r.Elapsed,
			r.SuccessfulRequests, r.TotalRequests,
			r.SuccessfulLogs, r.TotalLogs,
			r.Throughput, r.Latency.P50, r.Latency.P95, r.Latency.P99)
		for label, n := range r.Errors {
			fmt.Fprintf(out, "     error %q x%d\n", label, n)
		}
	}

	d := report.Dilution
	if d.Iterations == 0 {
		return
	}
	fmt.Fprintf(out, "\nWork time %.2fs, wait time %.2fs (work ratio %.1f%%)\n", d.TotalWorkTime, d.TotalWaitTime, d.WorkRatio*100)
	fmt.Fprintf(out, "Measured:  %.1f req/s, %.1f logs/s\n", d.MeasuredRequestRate, d.MeasuredThroughput)
	fmt.Fprintf(out, "Corrected: %.1f req/s, %.1f logs/s\n", d.CorrectedRequestRate, d.CorrectedThroughput)

	if sv := report.Server; sv != nil {
		fmt.Fprintf(out, "Server:    %.1f req/s max (%.1f avg), %.1f logs/s max, p95 %.1fms, p99 %.1fms, %.2f errors/s max\n",
			sv.QPS.Max, sv.QPS.Avg, sv.Throughput.Max, sv.P95Ms.Max, sv.P99Ms.Max, sv.ErrorRate.Max)
	}

	if report.Sanity != nil {
		s := report.Sanity
		switch {
		case s.RecentError != "":
			fmt.Fprintf(out, "Sanity read of %s failed: %s\n", s.DeviceID, s.RecentError)
		default:
			fmt.Fprintf(out, "Sanity read of %s returned %d log(s)\n", s.DeviceID, s.RecentCount)
		}
	}
}
