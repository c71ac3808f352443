package exp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Data is anything a background run can produce and persist.
type Data interface {
	json.Marshaler
	json.Unmarshaler
}

// CollectFunc performs a run. When ctx is cancelled it should return what it
// has collected so far together with the context error.
type CollectFunc[T Data] func(ctx context.Context) (T, error)

// Experiment is one background run whose result is saved under its ID.
type Experiment[T Data] struct {
	id        string
	startedAt time.Time
	logger    zerolog.Logger
	collect   CollectFunc[T]
	fs        *FileStorage[T]

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// NewExperiment creates an experiment that saves into fs.
func NewExperiment[T Data](id string, fs *FileStorage[T], collect CollectFunc[T], logger zerolog.Logger) *Experiment[T] {
	return &Experiment[T]{
		id:      id,
		fs:      fs,
		collect: collect,
		logger:  logger.With().Str("run_id", id).Logger(),
		done:    make(chan struct{}),
	}
}

// Start runs the collector in the background. A zero timeout means the run
// lasts until it completes or Stop is called.
func (e *Experiment[T]) Start(parent context.Context, timeout time.Duration) error {
	if e.id == "" {
		return fmt.Errorf("id must not be empty")
	}
	if e.collect == nil {
		return fmt.Errorf("no collect function set")
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	e.cancel = cancel
	e.startedAt = time.Now()

	go func() {
		defer close(e.done)
		defer cancel()

		data, err := e.collect(ctx)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			e.logger.Error().Err(err).Msg("Run failed")
			e.setErr(err)
			return
		}
		if err != nil {
			e.logger.Warn().Err(err).Msg("Run interrupted, saving partial result")
			e.setErr(err)
		}
		if saveErr := e.fs.Save(e.id, data); saveErr != nil {
			e.logger.Error().Err(saveErr).Msg("Failed to save result")
			e.setErr(saveErr)
			return
		}
		e.logger.Info().Msg("Run result saved")
	}()
	return nil
}

func (e *Experiment[T]) setErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Err returns the error the run ended with, if any.
func (e *Experiment[T]) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Stop cancels the run and waits for it to finish saving.
func (e *Experiment[T]) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	<-e.done
}

// Wait blocks until the run finishes.
func (e *Experiment[T]) Wait() {
	<-e.done
}

// IsDone reports whether the run has finished.
func (e *Experiment[T]) IsDone() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}
