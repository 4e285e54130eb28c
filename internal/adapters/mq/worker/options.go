package worker

import (
	"time"

	"github.com/okian/proctor/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithForgetter releases fingerprints of batches that could not be saved.
func WithForgetter(f Forgetter) Option {
	return func(w *InMemoryWorker) {
		w.forgetter = f
	}
}

// WithRetries sets how many times a failed save is retried, with linear backoff.
func WithRetries(retries int, backoff time.Duration) Option {
	return func(w *InMemoryWorker) {
		if retries >= 0 {
			w.retries = retries
		}
		if backoff > 0 {
			w.backoff = backoff
		}
	}
}
