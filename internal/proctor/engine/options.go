package engine

import (
	"time"

	"github.com/okian/proctor/internal/proctor/face"
	"github.com/okian/proctor/internal/proctor/lockdown"
	"github.com/okian/proctor/internal/proctor/session"
	"github.com/okian/proctor/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithBackend replaces the HTTP client built from the configured backend URL.
func WithBackend(b Backend) Option {
	return func(e *Engine) {
		if b != nil {
			e.backend = b
		}
	}
}

// WithCapture sets the camera source. Without one the camera is reported unsupported.
func WithCapture(c face.Capture) Option {
	return func(e *Engine) {
		e.capture = c
	}
}

// WithLoaders sets the face detector tiers, richest first.
func WithLoaders(loaders ...face.Loader) Option {
	return func(e *Engine) {
		e.loaders = append([]face.Loader(nil), loaders...)
	}
}

// WithSurface sets the camera preview surface.
func WithSurface(s face.Surface) Option {
	return func(e *Engine) {
		e.surface = s
	}
}

// WithNavigator enables the navigation lockdown over the host's history.
func WithNavigator(n lockdown.Navigator) Option {
	return func(e *Engine) {
		e.navigator = n
	}
}

// WithWarn sets how blocked navigation is reported to the candidate.
func WithWarn(fn func(msg string)) Option {
	return func(e *Engine) {
		e.warn = fn
	}
}

// WithNotify is told about every accepted violation.
func WithNotify(fn Notify) Option {
	return func(e *Engine) {
		e.notify = fn
	}
}

// WithOnTimeUp is called after the final flush when the countdown runs out.
// The handler must not call Stop.
func WithOnTimeUp(h session.Handler) Option {
	return func(e *Engine) {
		e.onTimeUp = h
	}
}

// WithOnMalpractice is called after the final flush when the violation limit
// ends the session. The handler must not call Stop.
func WithOnMalpractice(h session.Handler) Option {
	return func(e *Engine) {
		e.onMalpractice = h
	}
}

// WithClock overrides the time source of the session and the analyzer.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
