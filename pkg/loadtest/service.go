package loadtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"logbench/pkg/collector"
	"logbench/pkg/dispatch"
	"logbench/pkg/exp"
	"logbench/pkg/ingest"
	"logbench/pkg/promquery"
)

type runKey struct{}

// runParams travels with the context handed to the manager.
type runParams struct {
	id     string
	config Config
}

// Service manages load test runs using the exp framework
type Service struct {
	*exp.Manager[*TestReport]

	fs       *exp.FileStorage[*TestReport]
	config   Config
	logger   zerolog.Logger
	recorder dispatch.Recorder
	sampling collector.Config
	exporter *promquery.Exporter
	export   bool

	mu      sync.Mutex
	current *Orchestrator
}

// Status extends the manager status with the progress of the current run.
type Status struct {
	exp.Status
	Phase      string `json:"phase"`
	Completed  int    `json:"completed_iterations"`
	Iterations int    `json:"total_iterations"`
}

// NewService creates a new load test service storing reports under storagePath
func NewService(storagePath string, config Config, logger zerolog.Logger) (*Service, error) {
	fs, err := exp.NewFileStorage[*TestReport](storagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file storage: %w", err)
	}

	s := &Service{
		fs:       fs,
		config:   config,
		logger:   logger,
		recorder: dispatch.NopRecorder{},
	}
	s.Manager = exp.NewManager(fs, s.collect, logger)
	return s, nil
}

// WithRecorder reports every attempt of every run to r.
func (s *Service) WithRecorder(r dispatch.Recorder) *Service {
	s.recorder = r
	return s
}

// WithSampling samples host resources during runs when c is enabled.
func (s *Service) WithSampling(c collector.Config) *Service {
	s.sampling = c
	return s
}

// WithExporter enables Export. When auto is set, every completed run is
// exported once its metrics have settled.
func (s *Service) WithExporter(e *promquery.Exporter, auto bool) *Service {
	s.exporter = e
	s.export = auto
	return s
}

// Config returns the configuration runs use unless overridden.
func (s *Service) Config() Config {
	return s.config
}

// StartRun starts a run in the background and returns its ID. A nil override
// runs with the service configuration.
func (s *Service) StartRun(ctx context.Context, override *Config, timeout time.Duration) (string, error) {
	config := s.config
	if override != nil {
		config = *override
	}
	if err := config.Validate(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	ctx = context.WithValue(ctx, runKey{}, runParams{id: id, config: config})
	if err := s.Manager.Start(ctx, id, timeout); err != nil {
		return "", err
	}
	return id, nil
}

// StopRun cancels the current run. Its partial report is saved.
func (s *Service) StopRun() error {
	return s.Manager.Stop()
}

// Status returns the manager state and iteration progress.
func (s *Service) Status() Status {
	status := Status{Status: s.Manager.Status(), Phase: StateIdle.String()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && status.State == exp.Running {
		status.Phase = s.current.State().String()
		status.Completed = s.current.Completed()
		status.Iterations = s.current.config.Iterations
	}
	return status
}

// Export queries metrics for the window of a stored run and saves the
// export summary into its report.
func (s *Service) Export(ctx context.Context, id string) (*promquery.ExportResult, error) {
	if s.exporter == nil {
		return nil, errors.New("metrics export is not configured")
	}
	report, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	result, err := s.exporter.Export(ctx, report.StartTime, report.EndTime)
	server, serverErr := s.exporter.ServerSummary(ctx, report.StartTime, report.EndTime, report.BatchSize())
	if serverErr != nil {
		s.logger.Warn().Err(serverErr).Str("run_id", id).Msg("Server metrics incomplete")
	}
	report.Server = server
	if result != nil {
		report.Metrics = result
		if saveErr := s.fs.Save(id, report); saveErr != nil {
			return result, fmt.Errorf("failed to save report %s: %w", id, saveErr)
		}
	}
	return result, err
}

func (s *Service) collect(ctx context.Context) (*TestReport, error) {
	params, ok := ctx.Value(runKey{}).(runParams)
	if !ok {
		return nil, errors.New("run configuration missing from context")
	}

	client := ingest.NewClient(params.config.BaseURL, params.config.Concurrency)
	orchestrator := NewOrchestrator(params.config, client, s.logger).
		WithRunID(params.id).
		WithRecorder(s.recorder).
		WithSanity(client)
	if s.sampling.Enabled {
		orchestrator.WithSampler(collector.NewSampler(s.sampling, s.logger))
	}

	s.mu.Lock()
	s.current = orchestrator
	s.mu.Unlock()

	report, err := orchestrator.Run(ctx)
	if err != nil || s.exporter == nil || !s.export {
		return report, err
	}

	if err := sleep(ctx, s.exporter.SettleDelay()); err != nil {
		return report, nil
	}
	result, exportErr := s.exporter.Export(ctx, report.StartTime, report.EndTime)
	if exportErr != nil {
		s.logger.Warn().Err(exportErr).Str("run_id", params.id).Msg("Metrics export incomplete")
	}
	report.Metrics = result

	server, serverErr := s.exporter.ServerSummary(ctx, report.StartTime, report.EndTime, report.BatchSize())
	if serverErr != nil {
		s.logger.Warn().Err(serverErr).Str("run_id", params.id).Msg("Server metrics incomplete")
	}
	report.Server = server
	return report, nil
}
