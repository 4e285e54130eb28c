package config_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/okian/proctor/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.ExamDuration, convey.ShouldEqual, 30*time.Minute)
				convey.So(cfg.PasteMinLength, convey.ShouldEqual, 20)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("PROCTOR_ADDR", ":8080")
			_ = os.Setenv("PROCTOR_QUEUE_SIZE", "500")
			_ = os.Setenv("PROCTOR_MAX_VIOLATIONS", "3")
			_ = os.Setenv("PROCTOR_AUTO_PAUSE", "true")
			_ = os.Setenv("PROCTOR_VIOLATION_FLUSH_INTERVAL", "5s")
			_ = os.Setenv("PROCTOR_GAZE_TOLERANCE", "0.5")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 500)
				convey.So(cfg.MaxViolations, convey.ShouldEqual, 3)
				convey.So(cfg.AutoPause, convey.ShouldBeTrue)
				convey.So(cfg.ViolationFlushInterval, convey.ShouldEqual, 5*time.Second)
				convey.So(cfg.GazeTolerance, convey.ShouldEqual, 0.5)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
addr: ":9090"
worker_count: 24
exam_duration: 45m
no_face_cooldown: 7s
backend_url: "http://backend:9080"
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("PROCTOR_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file and keep other defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 24)
				convey.So(cfg.ExamDuration, convey.ShouldEqual, 45*time.Minute)
				convey.So(cfg.NoFaceCooldown, convey.ShouldEqual, 7*time.Second)
				convey.So(cfg.BackendURL, convey.ShouldEqual, "http://backend:9080")
				convey.So(cfg.MaxViolations, convey.ShouldEqual, 5)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
addr: ":9090"
worker_count: 24
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("PROCTOR_CONFIG", tmpFile)
			_ = os.Setenv("PROCTOR_WORKER_COUNT", "32")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 32)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("PROCTOR_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("PROCTOR_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("PROCTOR_QUEUE_SIZE", "invalid")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with zero workers", func() {
			_ = os.Setenv("PROCTOR_WORKER_COUNT", "0")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should fail validation", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "worker_count")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func TestConfigWatch(t *testing.T) {
	convey.Convey("Given a watched config file", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		clearConfigEnvVars()

		convey.Convey("When watching without a path", func() {
			err := config.Watch(ctx, "", func(*config.Config) {}, nil)

			convey.Convey("Then it is rejected", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the file is rewritten", func() {
			tmpFile := createTempConfigFile("log_level: info\n")
			defer func() { _ = os.Remove(tmpFile) }()

			changes := make(chan *config.Config, 4)
			err := config.Watch(ctx, tmpFile, func(c *config.Config) { changes <- c }, nil)
			convey.So(err, convey.ShouldBeNil)

			convey.So(os.WriteFile(tmpFile, []byte("log_level: debug\n"), 0o600), convey.ShouldBeNil)

			convey.Convey("Then the new level is delivered", func() {
				var got *config.Config
				timeout := time.After(5 * time.Second)
			loop:
				for {
					select {
					case c := <-changes:
						if c.LogLevel == "debug" {
							got = c
							break loop
						}
					case <-timeout:
						break loop
					}
				}
				convey.So(got, convey.ShouldNotBeNil)
			})
		})
	})
}

func clearConfigEnvVars() {
	envVars := []string{
		"PROCTOR_CONFIG",
		"PROCTOR_ADDR",
		"PROCTOR_QUEUE_SIZE",
		"PROCTOR_WORKER_COUNT",
		"PROCTOR_MAX_VIOLATIONS",
		"PROCTOR_AUTO_PAUSE",
		"PROCTOR_VIOLATION_FLUSH_INTERVAL",
		"PROCTOR_GAZE_TOLERANCE",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "proctor-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
