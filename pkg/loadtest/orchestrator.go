package loadtest

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"logbench/pkg/collector"
	"logbench/pkg/dispatch"
	"logbench/pkg/ingest"
	"logbench/pkg/stats"
	"logbench/pkg/workload"
)

// State is the phase an orchestrator is in.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCooling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCooling:
		return "cooling"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// SanityChecker reads back from the ingestion service after a run.
type SanityChecker interface {
	Sanity(ctx context.Context, deviceID string, limit int) ingest.SanityReport
}

// Orchestrator runs the configured iterations against a sender. Iterations
// share nothing but the list of results: each gets a fresh admission gate
// and outcome collection.
type Orchestrator struct {
	config    Config
	sender    dispatch.Sender
	generator *workload.Generator
	recorder  dispatch.Recorder
	logger    zerolog.Logger

	runID       string
	sampler     *collector.Sampler
	sanity      SanityChecker
	onIteration func(stats.IterationResult)

	state     atomic.Int32
	completed atomic.Int32
}

// NewOrchestrator creates an orchestrator. The configuration is expected to be valid.
func NewOrchestrator(config Config, sender dispatch.Sender, logger zerolog.Logger) *Orchestrator {
	var src rand.Source
	if config.Seed != 0 {
		src = rand.NewSource(config.Seed)
	}
	return &Orchestrator{
		config:    config,
		sender:    sender,
		generator: workload.NewGenerator(src),
		recorder:  dispatch.NopRecorder{},
		logger:    logger,
	}
}

// WithRunID sets the ID recorded in the report. By default a random one is used.
func (o *Orchestrator) WithRunID(id string) *Orchestrator {
	o.runID = id
	return o
}

// WithGenerator replaces the workload generator.
func (o *Orchestrator) WithGenerator(g *workload.Generator) *Orchestrator {
	o.generator = g
	return o
}

// WithRecorder sets the recorder attempts are reported to.
func (o *Orchestrator) WithRecorder(r dispatch.Recorder) *Orchestrator {
	o.recorder = r
	return o
}

// WithSampler samples host resources for the duration of Run.
func (o *Orchestrator) WithSampler(s *collector.Sampler) *Orchestrator {
	o.sampler = s
	return o
}

// WithSanity enables the post-test read-back.
func (o *Orchestrator) WithSanity(c SanityChecker) *Orchestrator {
	o.sanity = c
	return o
}

// OnIteration registers a callback invoked after every iteration.
func (o *Orchestrator) OnIteration(fn func(stats.IterationResult)) *Orchestrator {
	o.onIteration = fn
	return o
}

// State returns the current phase.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Completed returns the number of finished iterations of the current run.
func (o *Orchestrator) Completed() int {
	return int(o.completed.Load())
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
}

// Run executes all iterations, pausing for the configured interval between
// them. Attempt failures never stop a run; only ctx does, in which case the
// partial report is returned together with the context error.
func (o *Orchestrator) Run(ctx context.Context) (*TestReport, error) {
	id := o.runID
	if id == "" {
		id = uuid.NewString()
	}
	report := &TestReport{
		ID:         id,
		StartTime:  time.Now(),
		Iterations: o.config.Iterations,
		Interval:   o.config.Interval.Seconds(),
		Config:     o.config,
		Targets:    o.config.Targets,
		Results:    make([]stats.IterationResult, 0, o.config.Iterations),
	}
	logger := o.logger.With().Str("run_id", id).Logger()
	o.completed.Store(0)

	var resources chan *collector.ResourceData
	samplerCtx, stopSampler := context.WithCancel(ctx)
	defer stopSampler()
	if o.sampler != nil {
		resources = make(chan *collector.ResourceData, 1)
		go func() { resources <- o.sampler.Run(samplerCtx) }()
	}

	logger.Info().
		Int("iterations", o.config.Iterations).
		Int("devices", o.config.Devices).
		Int("logs_per_device", o.config.LogsPerDevice).
		Int("concurrency", o.config.Concurrency).
		Str("mode", string(o.config.Mode())).
		Int("batch_size", o.config.BatchSize).
		Dur("interval", o.config.Interval).
		Msg("Starting load test")

	runErr := o.iterate(ctx, report, logger)
	o.setState(StateIdle)

	report.EndTime = time.Now()
	report.Duration = report.EndTime.Sub(report.StartTime).Seconds()
	report.Dilution = stats.Correct(report.Results, o.config.Interval, o.config.BatchSize, o.config.Batching)
	o.logDilution(logger, report.Dilution)

	if runErr != nil {
		report.Interrupted = true
		report.Error = runErr.Error()
	} else if o.sanity != nil && o.config.Sanity.Enabled {
		report.Sanity = o.readBack(ctx, logger)
	}

	if resources != nil {
		stopSampler()
		report.Resources = <-resources
	}
	return report, runErr
}

func (o *Orchestrator) iterate(ctx context.Context, report *TestReport, logger zerolog.Logger) error {
	for i := 1; i <= o.config.Iterations; i++ {
		result, err := o.RunIteration(ctx, i)
		if result.TotalRequests > 0 || err == nil {
			report.Results = append(report.Results, result)
			o.completed.Add(1)
		}
		if err != nil {
			logger.Warn().Err(err).Int("iteration", i).Msg("Load test interrupted")
			return err
		}

		logger.Info().
			Int("iteration", i).
			Float64("elapsed_s", result.Elapsed).
			Int("total_requests", result.TotalRequests).
			Int("failed_requests", result.FailedRequests).
			Float64("throughput", result.Throughput).
			Float64("request_rate", result.RequestRate).
			Float64("p95_ms", result.Latency.P95).
			Msg("Iteration completed")
		if o.onIteration != nil {
			o.onIteration(result)
		}

		if i < o.config.Iterations && o.config.Interval > 0 {
			o.setState(StateCooling)
			if err := sleep(ctx, o.config.Interval); err != nil {
				logger.Warn().Err(err).Int("iteration", i).Msg("Load test interrupted while cooling")
				return err
			}
		}
	}
	return nil
}

// RunIteration runs iteration n: every device dispatches its records
// concurrently through one shared gate, and the iteration ends when all of
// them are done. If ctx ends meanwhile the partial result is returned with
// the context's error.
func (o *Orchestrator) RunIteration(ctx context.Context, n int) (stats.IterationResult, error) {
	o.setState(StateRunning)

	devices := make([][]workload.WorkItem, o.config.Devices)
	for d := range devices {
		devices[d] = o.generator.ForDevice(workload.DeviceID(o.config.DevicePrefix, d), o.config.LogsPerDevice)
	}

	gate := dispatch.NewGate(o.config.Concurrency, o.config.MaxRPS)
	dispatcher := dispatch.NewDispatcher(o.sender, o.config.DispatchOptions(o.recorder))
	perDevice := make([][]dispatch.Outcome, len(devices))

	start := time.Now()
	var g errgroup.Group
	for d, items := range devices {
		d, items := d, items
		g.Go(func() error {
			perDevice[d] = dispatcher.Dispatch(ctx, items, gate)
			return ctx.Err()
		})
	}
	err := g.Wait()
	elapsed := time.Since(start)

	var outcomes []dispatch.Outcome
	for _, out := range perDevice {
		outcomes = append(outcomes, out...)
	}

	result := stats.Aggregate(outcomes, elapsed)
	result.Iteration = n
	result.TotalIterations = o.config.Iterations
	result.Timestamp = start
	result.Config = o.config.Snapshot()
	result.CheckTargets(o.config.Targets)
	return result, err
}

func (o *Orchestrator) readBack(ctx context.Context, logger zerolog.Logger) *ingest.SanityReport {
	if err := sleep(ctx, o.config.Sanity.Delay); err != nil {
		return nil
	}
	limit := o.config.Sanity.Limit
	if limit <= 0 {
		limit = 10
	}

	report := o.sanity.Sanity(ctx, workload.DeviceID(o.config.DevicePrefix, 0), limit)
	event := logger.Info()
	if report.RecentError != "" || report.StatsError != "" {
		event = logger.Warn()
	}
	event.
		Str("device_id", report.DeviceID).
		Int("recent_status", report.RecentStatus).
		Int("recent_count", report.RecentCount).
		Str("recent_error", report.RecentError).
		Str("stats_error", report.StatsError).
		Msg("Sanity read completed")
	return &report
}

func (o *Orchestrator) logDilution(logger zerolog.Logger, d stats.Dilution) {
	if d.Iterations == 0 {
		return
	}
	logger.Info().
		Float64("work_time_s", d.TotalWorkTime).
		Float64("wait_time_s", d.TotalWaitTime).
		Float64("work_ratio", d.WorkRatio).
		Float64("measured_request_rate", d.MeasuredRequestRate).
		Float64("corrected_request_rate", d.CorrectedRequestRate).
		Float64("measured_throughput", d.MeasuredThroughput).
		Float64("corrected_throughput", d.CorrectedThroughput).
		Msg("Dilution corrected rates")
	if !d.Consistent(stats.ConsistencyTolerance) {
		logger.Warn().
			Float64("corrected_throughput", d.CorrectedThroughput).
			Float64("expected", d.CorrectedRequestRate*float64(d.BatchSize)).
			Msg("Corrected throughput does not match request rate times batch size")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
