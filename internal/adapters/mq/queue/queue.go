// Package queue buffers accepted violation batches between the HTTP ingest
// handler and the persistence workers.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/proctor/internal/domain/violation"
	"github.com/okian/proctor/pkg/metrics"
)

const defaultQueueCapacity = 10_000

// Job is one accepted batch waiting to be persisted.
type Job struct {
	Batch       violation.Batch
	Fingerprint string
	EnqueuedAt  time.Time
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a job. Returns false if the queue is full or closed.
	Enqueue(ctx context.Context, j Job) bool

	// Dequeue returns a channel that receives jobs as they become available.
	// The channel is closed once the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan Job

	// Len returns the current number of queued jobs.
	Len(ctx context.Context) int

	// Close stops accepting jobs; queued jobs can still be drained.
	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	jobs     chan Job
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a new in-memory queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.jobs = make(chan Job, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0)

	return q
}

// Enqueue adds a job without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, j Job) bool { //nolint:gocritic // hugeParam: passed by value into the channel
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordError("queue", "closed")
		return false
	}
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now()
	}

	select {
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		metrics.RecordError("queue", "context_cancelled")
		return false
	default:
	}

	select {
	case q.jobs <- j:
		metrics.RecordQueueEnqueue()
		q.observeSize()
		return true
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordError("queue", "queue_full")
		return false
	}
}

// Dequeue returns a channel that receives jobs until the queue is closed
// and drained or ctx is done.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Job {
	out := make(chan Job)
	go func() {
		defer close(out)
		for j := range q.jobs {
			select {
			case out <- j:
				metrics.RecordQueueDequeue()
				q.observeSize()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued jobs.
func (q *InMemoryQueue) Len(_ context.Context) int {
	return q.observeSize()
}

func (q *InMemoryQueue) observeSize() int {
	size := len(q.jobs)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
	return size
}

// Close stops accepting jobs. Idempotent.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.jobs)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
