package face

import (
	"time"

	"github.com/okian/proctor/internal/domain/violation"
	"github.com/okian/proctor/pkg/logger"
)

// Default timings.
const (
	DefaultAnalysisInterval    = time.Second
	DefaultHealthCheckInterval = 5 * time.Second
	DefaultDetectionTimeout    = 2 * time.Second
)

// Option applies a configuration option to the Analyzer.
type Option func(*Analyzer)

// WithLoaders sets the detector tiers, richest first.
func WithLoaders(loaders ...Loader) Option {
	return func(a *Analyzer) {
		a.loaders = append([]Loader(nil), loaders...)
	}
}

// WithSurface attaches the stream to a preview surface while running.
func WithSurface(s Surface) Option {
	return func(a *Analyzer) {
		a.surface = s
	}
}

// WithAnalysisInterval sets the frame-analysis tick.
func WithAnalysisInterval(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.analysisInterval = d
		}
	}
}

// WithHealthCheckInterval sets the capture-health tick.
func WithHealthCheckInterval(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.healthInterval = d
		}
	}
}

// WithDetectionTimeout bounds a single Detect call.
func WithDetectionTimeout(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.detectionTimeout = d
		}
	}
}

// WithCooldown sets the minimum spacing between two logs of type t.
func WithCooldown(t violation.Type, d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.cooldowns[t] = d
		}
	}
}

// WithGazeTolerance sets the looking-away band.
func WithGazeTolerance(tol float64) Option {
	return func(a *Analyzer) {
		if tol > 0 {
			a.gaze.Tolerance = tol
		}
	}
}

// WithPauseAfter sets the continuous absence that triggers OnSustainedAbsence.
// Zero disables it.
func WithPauseAfter(d time.Duration) Option {
	return func(a *Analyzer) {
		if d >= 0 {
			a.pauseAfter = d
		}
	}
}

// WithOnSustainedAbsence is called once when absence reaches the pause threshold.
func WithOnSustainedAbsence(fn func(reason string)) Option {
	return func(a *Analyzer) {
		a.onAbsence = fn
	}
}

// WithOnPresenceRestored is called once when a face returns after sustained absence.
func WithOnPresenceRestored(fn func()) Option {
	return func(a *Analyzer) {
		a.onRestored = fn
	}
}

// WithClock overrides the time source used by the background loops.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}
