// Package service provides the ingest backend service that implements the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/okian/proctor/internal/adapters/mq/queue"
	workerpool "github.com/okian/proctor/internal/adapters/mq/worker"
	"github.com/okian/proctor/internal/adapters/repository"
	"github.com/okian/proctor/internal/domain/dedupe"
	"github.com/okian/proctor/internal/domain/exam"
	"github.com/okian/proctor/internal/domain/violation"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

// Sentinel errors.
var (
	ErrNotStarted = errors.New("service not started")
)

// Service implements the API dependencies for the proctoring backend.
type Service struct {
	mu sync.RWMutex

	store   repository.Store
	deduper dedupe.Deduper
	queue   *queue.InMemoryQueue
	pool    *workerpool.Pool

	workerCount  int
	queueSize    int
	dedupeSize   int
	databasePath string
	ownsStore    bool

	started bool
	logger  logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of ingest workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the ingest queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the batch fingerprint cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithDatabasePath sets the SQLite file opened at Start.
func WithDatabasePath(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.databasePath = path
		}
	}
}

// WithStore uses an already opened store instead of opening one at Start.
// The caller keeps ownership and closes it.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:  runtime.NumCPU() * 2,
		queueSize:    10_000,
		dedupeSize:   100_000,
		databasePath: ":memory:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens storage and starts the ingest pipeline.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting proctoring backend")

	if s.store == nil {
		store, err := repository.Open(ctx, s.databasePath)
		if err != nil {
			return fmt.Errorf("open repository %s: %w", s.databasePath, err)
		}
		s.store = store
		s.ownsStore = true
		s.logger.Info(ctx, "using sqlite store", logger.String("path", s.databasePath))
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.store, workerpool.WithForgetter(s.deduper))
	// Workers outlive the request context that started the service.
	s.pool.Start(context.WithoutCancel(ctx))

	s.started = true
	s.logger.Info(ctx, "proctoring backend started",
		logger.Int("workers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
		logger.Int("dedupe_size", s.dedupeSize),
	)
	return nil
}

// Stop drains the ingest queue and closes storage it opened.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping proctoring backend")

	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown incomplete", logger.Error(err))
	}
	if s.ownsStore {
		if err := s.store.Close(); err != nil {
			s.logger.Error(ctx, "closing store", logger.Error(err))
		}
		s.store = nil
		s.ownsStore = false
	}

	s.started = false
	s.logger.Info(ctx, "proctoring backend stopped")
}

func (s *Service) ready() (repository.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.store, nil
}

// SeenAndRecord atomically checks if a batch fingerprint was seen and records it if not.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	s.mu.RLock()
	d := s.deduper
	s.mu.RUnlock()
	if d == nil {
		return false
	}
	seen := d.SeenAndRecord(ctx, id)
	if seen {
		metrics.RecordViolationDuplicate()
	}
	return seen
}

// Unrecord forgets a fingerprint so the batch can be retried.
func (s *Service) Unrecord(ctx context.Context, id string) {
	s.mu.RLock()
	d := s.deduper
	s.mu.RUnlock()
	if d != nil {
		d.Unrecord(ctx, id)
	}
}

// Size returns the number of remembered fingerprints.
func (s *Service) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}

// Enqueue submits a validated batch for asynchronous persistence.
// Returns false on backpressure or when the service is not running.
func (s *Service) Enqueue(ctx context.Context, batch violation.Batch, fingerprint string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return false
	}
	ok := s.queue.Enqueue(ctx, queue.Job{Batch: batch, Fingerprint: fingerprint})
	if ok {
		s.logger.Debug(ctx, "batch queued",
			logger.String("session_id", batch.SessionID),
			logger.Int("violations", len(batch.Violations)))
	}
	return ok
}

// FindActive returns the active session for key.
func (s *Service) FindActive(ctx context.Context, key exam.Key) (exam.Session, error) {
	store, err := s.ready()
	if err != nil {
		return exam.Session{}, err
	}
	if err := key.Validate(); err != nil {
		return exam.Session{}, err
	}
	return store.FindActive(ctx, key)
}

// CreateSession stores a new session, assigning an id when missing.
func (s *Service) CreateSession(ctx context.Context, sess exam.Session) (exam.Session, error) {
	store, err := s.ready()
	if err != nil {
		return exam.Session{}, err
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.Status == "" {
		sess.Status = exam.StatusInProgress
	}
	created, err := store.Create(ctx, sess)
	if err != nil {
		return exam.Session{}, err
	}
	metrics.RecordSessionTransition(string(created.Status))
	s.logger.Info(ctx, "session created",
		logger.String("session_id", created.ID),
		logger.String("key", created.Key().String()))
	return created, nil
}

// GetSession returns a session by id.
func (s *Service) GetSession(ctx context.Context, id string) (exam.Session, error) {
	store, err := s.ready()
	if err != nil {
		return exam.Session{}, err
	}
	return store.Get(ctx, id)
}

// UpdateSession overwrites a session (last write wins).
func (s *Service) UpdateSession(ctx context.Context, sess exam.Session) (exam.Session, error) {
	store, err := s.ready()
	if err != nil {
		return exam.Session{}, err
	}
	updated, err := store.Update(ctx, sess)
	if err != nil {
		return exam.Session{}, err
	}
	if updated.Status.Terminal() {
		metrics.RecordSessionTransition(string(updated.Status))
	}
	return updated, nil
}

// Violations returns the stored violations for a session.
func (s *Service) Violations(ctx context.Context, sessionID string) ([]violation.Log, error) {
	store, err := s.ready()
	if err != nil {
		return nil, err
	}
	return store.Violations(ctx, sessionID)
}

// Keys of the GetStats map, also the JSON keys served on GET /stats.
const (
	StatStarted        = "started"
	StatWorkers        = "workers"
	StatQueueCapacity  = "queue_capacity"
	StatQueueLength    = "queue_length"
	StatDedupeCapacity = "dedupe_capacity"
	StatFingerprints   = "fingerprints"
	StatSessions       = "sessions"
	StatActiveSessions = "active_sessions"
	StatViolations     = "violations"
)

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]any{
		StatStarted:        s.started,
		StatWorkers:        s.workerCount,
		StatQueueCapacity:  s.queueSize,
		StatDedupeCapacity: s.dedupeSize,
	}
	if s.started {
		stats[StatQueueLength] = s.queue.Len(ctx)
		stats[StatFingerprints] = s.deduper.Size()
		if counts, err := s.store.Count(ctx); err == nil {
			stats[StatSessions] = counts.Sessions
			stats[StatActiveSessions] = counts.ActiveSessions
			stats[StatViolations] = counts.Violations
		} else {
			s.logger.Warn(ctx, "counting store rows", logger.Error(err))
		}
	}
	return stats
}
