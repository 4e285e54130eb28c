package session

import (
	"time"

	"github.com/okian/proctor/pkg/logger"
)

// Defaults.
const (
	DefaultDuration      = 30 * time.Minute
	DefaultMaxViolations = 5
)

// Option applies a configuration option to the Machine.
type Option func(*Machine)

// WithDuration sets the full duration of a newly created session.
func WithDuration(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.duration = d
		}
	}
}

// WithMaxViolations sets the count at which auto-fail ends the session.
func WithMaxViolations(n int) Option {
	return func(m *Machine) {
		m.maxViolations = n
	}
}

// WithAutoFail enables or disables ending the session at the violation limit.
func WithAutoFail(enabled bool) Option {
	return func(m *Machine) {
		m.autoFail = enabled
	}
}

// WithTickInterval sets how often Run advances the countdown.
func WithTickInterval(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.tickInterval = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// WithOnTimeUp is called once when the countdown reaches zero.
func WithOnTimeUp(h Handler) Option {
	return func(m *Machine) {
		m.onTimeUp = h
	}
}

// WithOnMalpractice is called once when auto-fail ends the session.
func WithOnMalpractice(h Handler) Option {
	return func(m *Machine) {
		m.onMalpractice = h
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}
