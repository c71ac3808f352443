package exp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrAlreadyRunning = errors.New("a run is already in progress")
	ErrNotRunning     = errors.New("no run in progress")
)

// Run states reported by Manager.Status.
const (
	Pending = "Pending"
	Running = "Running"
)

// Status describes the manager's current run.
type Status struct {
	State     string    `json:"state"`
	ID        string    `json:"id,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	LastID    string    `json:"last_id,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Manager runs at most one experiment at a time and serves stored results.
type Manager[T Data] struct {
	logger    zerolog.Logger
	collector CollectFunc[T]
	fs        *FileStorage[T]

	mu      sync.Mutex
	current *Experiment[T]
}

func NewManager[T Data](fs *FileStorage[T], collector CollectFunc[T], logger zerolog.Logger) *Manager[T] {
	return &Manager[T]{
		logger:    logger,
		collector: collector,
		fs:        fs,
	}
}

// Start launches a run saved under id. The run is detached from ctx's
// cancellation but keeps its values.
func (m *Manager[T]) Start(ctx context.Context, id string, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && !m.current.IsDone() {
		return ErrAlreadyRunning
	}

	e := NewExperiment(id, m.fs, m.collector, m.logger)
	if err := e.Start(context.WithoutCancel(ctx), timeout); err != nil {
		return err
	}
	m.current = e
	m.logger.Info().Str("run_id", id).Dur("timeout", timeout).Msg("Run started")
	return nil
}

// Stop cancels the current run and waits until its result is saved.
func (m *Manager[T]) Stop() error {
	m.mu.Lock()
	e := m.current
	m.mu.Unlock()

	if e == nil || e.IsDone() {
		return ErrNotRunning
	}
	e.Stop()
	m.logger.Info().Str("run_id", e.id).Msg("Run stopped")
	return nil
}

// Wait blocks until the current run, if any, finishes.
func (m *Manager[T]) Wait() {
	m.mu.Lock()
	e := m.current
	m.mu.Unlock()

	if e != nil {
		e.Wait()
	}
}

func (m *Manager[T]) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return Status{State: Pending}
	}
	if !m.current.IsDone() {
		return Status{State: Running, ID: m.current.id, StartedAt: m.current.startedAt}
	}

	s := Status{State: Pending, LastID: m.current.id}
	if err := m.current.Err(); err != nil {
		s.LastError = err.Error()
	}
	return s
}

func (m *Manager[T]) Get(id string) (T, error) {
	return m.fs.Load(id)
}

func (m *Manager[T]) List() ([]Info, error) {
	return m.fs.List()
}
