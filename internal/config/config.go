// Package config defines process configuration for the proctoring engine,
// the ingest backend and the simulator, and the koanf loading hooks.
//
// Conventions:
// - Flat koanf keys so PROCTOR_<KEY> env vars map one-to-one.
// - Durations accept Go duration strings ("15s", "500ms").
// - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"context"
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Backend (proctord).

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`
	// DatabasePath is the SQLite file; ":memory:" keeps everything in process.
	DatabasePath string `koanf:"database_path"`
	// QueueSize bounds the in-memory ingest queue.
	QueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of ingest workers.
	WorkerCount int `koanf:"worker_count"`
	// DedupeSize sets the size of the batch fingerprint cache.
	DedupeSize int `koanf:"dedupe_size"`

	// Engine.

	// BackendURL is the base URL of the backend the engine syncs to.
	BackendURL string `koanf:"backend_url"`
	// RequestTimeout bounds each backend call.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	ExamDuration  time.Duration `koanf:"exam_duration"`
	MaxViolations int           `koanf:"max_violations"`
	AutoFail      bool          `koanf:"auto_fail"`
	AutoPause     bool          `koanf:"auto_pause"`

	ViolationFlushInterval    time.Duration `koanf:"violation_flush_interval"`
	SessionCheckpointInterval time.Duration `koanf:"session_checkpoint_interval"`

	AnalysisInterval         time.Duration `koanf:"analysis_interval"`
	HealthCheckInterval      time.Duration `koanf:"health_check_interval"`
	DetectionTimeout         time.Duration `koanf:"detection_timeout"`
	NoFaceCooldown           time.Duration `koanf:"no_face_cooldown"`
	MultipleFacesCooldown    time.Duration `koanf:"multiple_faces_cooldown"`
	LookingAwayCooldown      time.Duration `koanf:"looking_away_cooldown"`
	DetectionTimeoutCooldown time.Duration `koanf:"detection_timeout_cooldown"`
	// PauseAfter is the continuous absence that asks the session to pause.
	PauseAfter    time.Duration `koanf:"pause_after"`
	GazeTolerance float64       `koanf:"gaze_tolerance"`

	// PasteMinLength: external pastes at or below this length are ignored.
	PasteMinLength int `koanf:"paste_min_length"`
	// PasteSuspiciousLength: pastes longer than this are flagged suspicious.
	PasteSuspiciousLength int `koanf:"paste_suspicious_length"`
}

// New returns a Config populated with defaults. Context is accepted first to
// follow the project-wide convention and is currently unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",

		Addr:         ":9080",
		DatabasePath: "proctor.db",
		QueueSize:    10_000,
		WorkerCount:  runtime.NumCPU() * 2,
		DedupeSize:   100_000,

		BackendURL:     "http://localhost:9080",
		RequestTimeout: 10 * time.Second,

		ExamDuration:  30 * time.Minute,
		MaxViolations: 5,
		AutoFail:      true,
		AutoPause:     false,

		ViolationFlushInterval:    15 * time.Second,
		SessionCheckpointInterval: 30 * time.Second,

		AnalysisInterval:         time.Second,
		HealthCheckInterval:      5 * time.Second,
		DetectionTimeout:         2 * time.Second,
		NoFaceCooldown:           10 * time.Second,
		MultipleFacesCooldown:    10 * time.Second,
		LookingAwayCooldown:      5 * time.Second,
		DetectionTimeoutCooldown: 10 * time.Second,
		PauseAfter:               30 * time.Second,
		GazeTolerance:            0.35,

		PasteMinLength:        20,
		PasteSuspiciousLength: 200,
	}
}
