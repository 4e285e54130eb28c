package syncer

import (
	"time"

	"github.com/okian/proctor/pkg/logger"
)

// Option applies a configuration option to the Syncer.
type Option func(*Syncer)

// WithFlushInterval sets how often unsent violations are flushed.
func WithFlushInterval(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

// WithCheckpointInterval sets how often the session record is written.
func WithCheckpointInterval(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.checkpointInterval = d
		}
	}
}

// WithMaxBatch caps the entries per POST.
func WithMaxBatch(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.maxBatch = n
		}
	}
}

// WithFlushThreshold triggers an early flush once n entries are unsent. Zero disables it.
func WithFlushThreshold(n int) Option {
	return func(s *Syncer) {
		if n >= 0 {
			s.flushThreshold = int64(n)
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.logger = l
		}
	}
}
