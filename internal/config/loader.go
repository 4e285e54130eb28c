package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PROCTOR_"

// EnvConfigPath names the env var pointing at an optional YAML file.
const EnvConfigPath = "PROCTOR_CONFIG"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if PROCTOR_CONFIG is set
//  3. env (prefix PROCTOR_)
func Load(ctx context.Context) (*Config, error) {
	return LoadFile(ctx, os.Getenv(EnvConfigPath))
}

// LoadFile is Load with an explicit YAML path; an empty path skips the file layer.
func LoadFile(ctx context.Context, path string) (*Config, error) {
	base := New(ctx)

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// PROCTOR_QUEUE_SIZE -> queue_size. Underscores are preserved to match
	// the flat koanf tags on the struct.
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, strings.ToLower(EnvPrefix))
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid field, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.DedupeSize <= 0:
		return fmt.Errorf("%w: dedupe_size must be positive", ErrInvalidConfig)
	case c.ExamDuration <= 0:
		return fmt.Errorf("%w: exam_duration must be positive", ErrInvalidConfig)
	case c.AutoFail && c.MaxViolations <= 0:
		return fmt.Errorf("%w: max_violations must be positive when auto_fail is on", ErrInvalidConfig)
	case c.ViolationFlushInterval <= 0 || c.SessionCheckpointInterval <= 0:
		return fmt.Errorf("%w: sync intervals must be positive", ErrInvalidConfig)
	case c.AnalysisInterval <= 0 || c.HealthCheckInterval <= 0 || c.DetectionTimeout <= 0:
		return fmt.Errorf("%w: analyzer intervals must be positive", ErrInvalidConfig)
	case c.GazeTolerance <= 0:
		return fmt.Errorf("%w: gaze_tolerance must be positive", ErrInvalidConfig)
	case c.PasteMinLength < 0 || c.PasteSuspiciousLength < c.PasteMinLength:
		return fmt.Errorf("%w: paste_suspicious_length must be >= paste_min_length >= 0", ErrInvalidConfig)
	}
	return nil
}
