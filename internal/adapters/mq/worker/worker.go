// Package worker drains queued violation batches into persistent storage.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/proctor/internal/adapters/mq/queue"
	"github.com/okian/proctor/internal/domain/violation"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

const (
	defaultWorkerMultiplier = 2
	defaultRetries          = 2
	defaultBackoff          = 50 * time.Millisecond
	poolShutdownTimeout     = 30 * time.Second
)

// Sink persists a batch and reports how many entries were new.
type Sink interface {
	SaveViolations(ctx context.Context, batch violation.Batch) (int, error)
}

// Forgetter releases a batch fingerprint so a client retry is accepted again
// after the batch could not be persisted.
type Forgetter interface {
	Unrecord(ctx context.Context, id string)
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Worker processes queued jobs.
type Worker interface {
	// Run processes jobs until the queue is drained and closed or ctx is canceled.
	Run(ctx context.Context)

	// Shutdown waits for Run to return.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue     Queue
	sink      Sink
	forgetter Forgetter
	name      string
	retries   int
	backoff   time.Duration

	done   chan struct{}
	logger logger.Logger
}

// NewInMemoryWorker creates a worker reading from q and writing to sink.
func NewInMemoryWorker(q Queue, sink Sink, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:   q,
		sink:    sink,
		name:    "worker",
		retries: defaultRetries,
		backoff: defaultBackoff,
		done:    make(chan struct{}),
		logger:  logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			metrics.AddWorkerActive(1)
			if err := w.process(ctx, j); err != nil {
				w.logger.Error(ctx, "batch dropped",
					logger.String("session_id", j.Batch.SessionID),
					logger.Int("violations", len(j.Batch.Violations)),
					logger.Error(err),
				)
			}
			metrics.AddWorkerActive(-1)
		}
	}
}

// Shutdown waits for Run to return or ctx to expire.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, j queue.Job) error { //nolint:gocritic // hugeParam: received by value from the channel
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	var err error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				err = ctx.Err()
				attempt = w.retries
				continue
			case <-time.After(w.backoff * time.Duration(attempt)):
			}
		}
		var inserted int
		inserted, err = w.sink.SaveViolations(ctx, j.Batch)
		if err == nil {
			metrics.RecordViolationsIngested(inserted)
			if skipped := len(j.Batch.Violations) - inserted; skipped > 0 {
				w.logger.Debug(ctx, "entries already stored",
					logger.String("session_id", j.Batch.SessionID),
					logger.Int("skipped", skipped))
			}
			return nil
		}
		metrics.RecordWorkerError()
		metrics.RecordError("worker", "save_failed")
	}

	if w.forgetter != nil && j.Fingerprint != "" {
		w.forgetter.Unrecord(ctx, j.Fingerprint)
	}
	return fmt.Errorf("save batch for session %s: %w", j.Batch.SessionID, err)
}

// Pool manages multiple workers.
type Pool struct {
	workers  []*InMemoryWorker
	queue    Queue
	stopOnce sync.Once
	logger   logger.Logger
}

// NewPool creates workerCount workers sharing q and sink. opts apply to every worker.
func NewPool(workerCount int, q Queue, sink Sink, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		p.workers[i] = NewInMemoryWorker(q, sink, workerOpts...)
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Shutdown closes the queue, lets workers drain what was already accepted,
// and waits for them up to ctx's deadline (or poolShutdownTimeout).
func (p *Pool) Shutdown(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		if closer, ok := p.queue.(interface{ Close() error }); ok {
			if cerr := closer.Close(); cerr != nil {
				p.logger.Error(ctx, "error closing queue", logger.Error(cerr))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
		defer cancel()

		for i, w := range p.workers {
			if werr := w.Shutdown(shutdownCtx); werr != nil {
				p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
				err = werr
			}
		}
	})
	return err
}
