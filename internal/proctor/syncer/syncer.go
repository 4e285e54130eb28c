// Package syncer moves the engine's local state to the backend: violation
// logs are sent incrementally behind a watermark and the session record is
// checkpointed last-write-wins. Failures are counted and logged; the data
// stays local and is retried on the next cycle.
package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/proctor/internal/domain/exam"
	"github.com/okian/proctor/internal/domain/violation"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

// Default timings and sizes.
const (
	DefaultFlushInterval      = 15 * time.Second
	DefaultCheckpointInterval = 30 * time.Second
	DefaultMaxBatch           = 100
)

// Source is the ordered local violation log.
type Source interface {
	// Since returns a copy of the entries after the first offset ones.
	Since(offset int) []violation.Log
}

// Snapshotter returns the current session record.
type Snapshotter interface {
	Snapshot() exam.Session
}

// Backend is the remote side of the sync.
type Backend interface {
	PostViolations(ctx context.Context, batch violation.Batch) (Ack, error)
	Update(ctx context.Context, s exam.Session) (exam.Session, error)
}

// Syncer flushes violations and checkpoints the session on fixed intervals.
type Syncer struct {
	src     Source
	session Snapshotter
	backend Backend
	logger  logger.Logger

	flushInterval      time.Duration
	checkpointInterval time.Duration
	maxBatch           int
	flushThreshold     int64

	// flushMu serializes every round trip so the watermark only moves forward.
	flushMu sync.Mutex
	sent    atomic.Int64
	unsent  atomic.Int64
	kick    chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates an idle Syncer.
func New(src Source, session Snapshotter, backend Backend, opts ...Option) *Syncer {
	s := &Syncer{
		src:                src,
		session:            session,
		backend:            backend,
		flushInterval:      DefaultFlushInterval,
		checkpointInterval: DefaultCheckpointInterval,
		maxBatch:           DefaultMaxBatch,
		kick:               make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("syncer")
	}
	return s
}

// Forward notes a newly recorded violation. It never blocks; past the flush
// threshold it asks the loop for an early flush.
func (s *Syncer) Forward(violation.Log) {
	n := s.unsent.Add(1)
	metrics.UpdateSyncPending(int(n))
	if s.flushThreshold > 0 && n >= s.flushThreshold {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

// Sent returns the watermark: how many local entries the backend has acknowledged.
func (s *Syncer) Sent() int {
	return int(s.sent.Load())
}

// FlushViolations sends every entry past the watermark, in batches, and
// advances the watermark after each acknowledged batch. Nothing is sent
// before the session has an id.
func (s *Syncer) FlushViolations(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	sess := s.session.Snapshot()
	if sess.ID == "" {
		return nil
	}
	logs := s.src.Since(int(s.sent.Load()))
	for len(logs) > 0 {
		n := min(len(logs), s.maxBatch)
		batch := violation.Batch{
			SessionID:   sess.ID,
			CandidateID: sess.CandidateID,
			JobID:       sess.JobID,
			Violations:  logs[:n],
		}
		start := time.Now()
		ack, err := s.backend.PostViolations(ctx, batch)
		metrics.RecordSyncLatency("violations", float64(time.Since(start).Milliseconds()))
		if err != nil {
			metrics.RecordSyncFlush("violations", "error")
			s.logger.Warn(ctx, "violation flush failed",
				logger.String("session_id", sess.ID),
				logger.Int("pending", len(logs)),
				logger.Error(err))
			return err
		}
		outcome := "ok"
		if ack.Duplicate {
			outcome = "duplicate"
		}
		metrics.RecordSyncFlush("violations", outcome)
		s.sent.Add(int64(n))
		metrics.UpdateSyncPending(int(max(s.unsent.Add(-int64(n)), 0)))
		logs = logs[n:]
	}
	return nil
}

// Checkpoint writes the current session snapshot to the backend.
func (s *Syncer) Checkpoint(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	sess := s.session.Snapshot()
	if sess.ID == "" {
		return nil
	}
	start := time.Now()
	_, err := s.backend.Update(ctx, sess)
	metrics.RecordSyncLatency("session", float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordSyncFlush("session", "error")
		s.logger.Warn(ctx, "session checkpoint failed", logger.String("session_id", sess.ID), logger.Error(err))
		return err
	}
	metrics.RecordSyncFlush("session", "ok")
	return nil
}

// FlushAll drains violations and then checkpoints the session.
func (s *Syncer) FlushAll(ctx context.Context) error {
	return errors.Join(s.FlushViolations(ctx), s.Checkpoint(ctx))
}

// Start runs the flush and checkpoint loops in the background. Calling it
// on a running Syncer is a no-op.
func (s *Syncer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(runCtx)
	}()
}

// Run flushes on every tick until ctx is done. Errors are already logged
// by the flush methods and are retried on the next tick.
func (s *Syncer) Run(ctx context.Context) {
	flush := time.NewTicker(s.flushInterval)
	defer flush.Stop()
	checkpoint := time.NewTicker(s.checkpointInterval)
	defer checkpoint.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-flush.C:
			_ = s.FlushViolations(ctx)
		case <-s.kick:
			_ = s.FlushViolations(ctx)
		case <-checkpoint.C:
			_ = s.Checkpoint(ctx)
		}
	}
}

// Stop ends the background loops and waits for them. Safe to call
// repeatedly and before Start. It does not flush.
func (s *Syncer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.started = false
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}
