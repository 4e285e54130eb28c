// Command proctor-sim replays seeded candidate behaviour through real
// proctoring engines against a running backend and verifies what it stored.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/okian/proctor/internal/domain/exam"
	"github.com/okian/proctor/internal/simulate"
	"github.com/spf13/cobra"
)

// Default configuration constants.
const (
	defaultURL         = "http://localhost:9080"
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := simulate.NewConfig(defaultURL)
	cfg.Workers = runtime.NumCPU() * defaultWorkers
	var (
		assessment string
		runTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:           "proctor-sim",
		Short:         "Replay seeded candidate behaviour against a proctoring backend",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.Assessment = exam.AssessmentType(assessment)
			if !cfg.Assessment.Valid() {
				return fmt.Errorf("unknown assessment type %q", assessment)
			}
			closeLog, err := simulate.SetupLogging(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
			defer cancel()
			_, err = simulate.Run(ctx, cfg)
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", cfg.BaseURL, "base URL of the backend")
	f.IntVar(&cfg.Candidates, "candidates", cfg.Candidates, "number of simulated candidates")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "candidates driven concurrently")
	f.Int64Var(&cfg.Seed, "seed", cfg.Seed, "scenario seed")
	f.IntVar(&cfg.Actions, "actions", cfg.Actions, "maximum actions per candidate")
	f.StringVar(&cfg.JobID, "job", "", "job id every candidate sits (default: generated)")
	f.StringVar(&assessment, "assessment", string(cfg.Assessment), "assessment type: psychometric, technical or coding")
	f.DurationVar(&cfg.ExamDuration, "duration", cfg.ExamDuration, "exam duration")
	f.IntVar(&cfg.MaxViolations, "max-violations", cfg.MaxViolations, "violation limit per session")
	f.BoolVar(&cfg.AutoFail, "auto-fail", cfg.AutoFail, "end sessions in malpractice at the limit")
	f.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "backend request timeout")
	f.DurationVar(&cfg.VerifyTimeout, "verify-timeout", cfg.VerifyTimeout, "how long to wait for the backend to store every log")
	f.DurationVar(&runTimeout, "run-timeout", defaultTestTimeout, "overall run timeout")
	f.StringVar(&cfg.OutputFile, "output", "", "file to save the generated scenarios to")
	f.StringVar(&cfg.LogFile, "log", "", "file to copy log output to")
	f.BoolVar(&cfg.Verbose, "verbose", false, "enable debug logging")
	f.BoolVar(&cfg.LogJSON, "json", false, "emit JSON log lines")
	return cmd
}
