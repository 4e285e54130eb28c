package simulate

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/okian/proctor/pkg/logger"
)

// Log file permission.
const (
	logFilePermission = 0600
)

// SetupLogging initializes the global logger for a run. With a log file the
// output goes to both stdout and the file; the returned func closes the file.
func SetupLogging(config *Config) (func() error, error) {
	var (
		opts    []logger.Option
		closeFn = func() error { return nil }
	)
	if config.LogJSON {
		opts = append(opts, logger.WithJSON())
	}
	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
		if err != nil {
			return nil, fmt.Errorf("failed to create log file: %w", err)
		}
		opts = append(opts, logger.WithWriter(io.MultiWriter(os.Stdout, file)))
		closeFn = file.Close
	}

	if err := logger.Init(opts...); err != nil {
		_ = closeFn()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if config.Verbose {
		_ = logger.SetLevelString("debug")
	}
	if config.LogFile != "" {
		logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", config.LogFile))
	}
	return closeFn, nil
}
