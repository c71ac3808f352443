package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"logbench/pkg/workload"
)

// Mode selects how a device's records are turned into Attempts.
type Mode string

const (
	ModeBatch  Mode = "batch"
	ModeSingle Mode = "single"
)

// Sender issues Attempts against the ingestion service.
type Sender interface {
	SendOne(ctx context.Context, item workload.WorkItem) (Response, error)
	SendBatch(ctx context.Context, items []workload.WorkItem) (Response, error)
}

// Options configures a Dispatcher.
type Options struct {
	Mode          Mode
	BatchSize     int
	SingleTimeout time.Duration
	BatchTimeout  time.Duration
	Recorder      Recorder
}

// Dispatcher sends one device's records without exceeding the admission gate
// shared across an iteration. It never retries: every Attempt yields exactly one Outcome.
type Dispatcher struct {
	sender   Sender
	opts     Options
	recorder Recorder
	now      func() time.Time
}

// NewDispatcher creates a dispatcher for the given sender.
func NewDispatcher(sender Sender, opts Options) *Dispatcher {
	if opts.Mode == "" {
		opts.Mode = ModeBatch
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Dispatcher{
		sender:   sender,
		opts:     opts,
		recorder: recorder,
		now:      time.Now,
	}
}

// Mode returns the dispatch mode.
func (d *Dispatcher) Mode() Mode {
	return d.opts.Mode
}

// BatchSize returns the configured batch size.
func (d *Dispatcher) BatchSize() int {
	return d.opts.BatchSize
}

// Gate bounds the number of in-flight Attempts of an iteration. Limiter is optional
// and caps the rate at which Attempts are admitted.
type Gate struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// NewGate creates an admission gate with the given number of slots.
// A maxRPS of zero leaves the admission rate unbounded.
func NewGate(slots int, maxRPS float64) *Gate {
	if slots <= 0 {
		slots = 1
	}
	g := &Gate{sem: semaphore.NewWeighted(int64(slots))}
	if maxRPS > 0 {
		burst := int(maxRPS)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(maxRPS), burst)
	}
	return g
}

func (g *Gate) acquire(ctx context.Context) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return g.sem.Acquire(ctx, 1)
}

func (g *Gate) release() {
	g.sem.Release(1)
}

// Dispatch sends items and returns one Outcome per issued Attempt. In batch mode
// the device's batches go out one after another; in single mode every record is
// its own concurrent Attempt. Attempts that were never admitted because ctx was
// cancelled produce no Outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, items []workload.WorkItem, gate *Gate) []Outcome {
	if d.opts.Mode == ModeSingle {
		return d.dispatchSingle(ctx, items, gate)
	}
	return d.dispatchBatches(ctx, items, gate)
}

func (d *Dispatcher) dispatchBatches(ctx context.Context, items []workload.WorkItem, gate *Gate) []Outcome {
	batches := Batch(items, d.opts.BatchSize)
	outcomes := make([]Outcome, 0, len(batches))

	for _, batch := range batches {
		outcome, ok := d.attempt(ctx, gate, len(batch), d.opts.BatchTimeout, func(ctx context.Context) (Response, error) {
			return d.sender.SendBatch(ctx, batch)
		})
		if !ok {
			break
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (d *Dispatcher) dispatchSingle(ctx context.Context, items []workload.WorkItem, gate *Gate) []Outcome {
	slots := make([]Outcome, len(items))
	issued := make([]bool, len(items))

	var wg sync.WaitGroup
	for i := range items {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item := items[i]
			slots[i], issued[i] = d.attempt(ctx, gate, 1, d.opts.SingleTimeout, func(ctx context.Context) (Response, error) {
				return d.sender.SendOne(ctx, item)
			})
		}(i)
	}
	wg.Wait()

	outcomes := make([]Outcome, 0, len(items))
	for i, ok := range issued {
		if ok {
			outcomes = append(outcomes, slots[i])
		}
	}
	return outcomes
}

// attempt admits one Attempt through the gate and records its Outcome. It
// returns false if the Attempt was never issued.
func (d *Dispatcher) attempt(ctx context.Context, gate *Gate, count int, timeout time.Duration, send func(context.Context) (Response, error)) (Outcome, bool) {
	if err := gate.acquire(ctx); err != nil {
		return Outcome{}, false
	}
	defer gate.release()

	d.recorder.InFlight(1)
	defer d.recorder.InFlight(-1)

	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := d.now()
	resp, err := send(attemptCtx)
	outcome := newOutcome(resp, err, attemptCtx, d.now().Sub(start), count)

	d.recorder.Observe(d.opts.Mode, outcome)
	return outcome, true
}

// Batch partitions items into consecutive chunks of at most size elements.
func Batch[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end])
	}
	return batches
}
