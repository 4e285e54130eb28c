package aggregator

import (
	"time"

	"github.com/okian/proctor/internal/domain/violation"
	"github.com/okian/proctor/pkg/logger"
)

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithCooldown drops entries of type t recorded less than d after the previous one.
func WithCooldown(t violation.Type, d time.Duration) Option {
	return func(a *Aggregator) {
		a.cooldowns[t] = d
	}
}

// WithObserver registers an observer.
func WithObserver(obs Observer) Option {
	return func(a *Aggregator) {
		if obs != nil {
			a.observers = append(a.observers, obs)
		}
	}
}

// WithForwarder registers a forwarder.
func WithForwarder(f Forwarder) Option {
	return func(a *Aggregator) {
		if f != nil {
			a.forwarders = append(a.forwarders, f)
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}
