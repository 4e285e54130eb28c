package simulate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/okian/proctor/internal/config"
	"github.com/okian/proctor/internal/domain/exam"
	"github.com/okian/proctor/internal/proctor/engine"
	"github.com/okian/proctor/internal/proctor/sensors"
	"github.com/okian/proctor/internal/proctor/session"
	"github.com/okian/proctor/internal/proctor/syncer"
	"github.com/okian/proctor/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	filePermission      = 0600
)

// Run generates the scenarios, drives one engine per candidate against the
// backend at config.BaseURL and verifies what the backend stored.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	stats := &Stats{
		StartTime: time.Now(),
	}
	if config.JobID == "" {
		config.JobID = "sim-" + uuid.NewString()
	}
	if config.Assessment == "" {
		config.Assessment = exam.Technical
	}

	logger.Get().Info(ctx, "starting proctor simulation",
		logger.String("baseURL", config.BaseURL),
		logger.Int("candidates", config.Candidates),
		logger.Int("workers", config.Workers),
		logger.Int64("seed", config.Seed),
		logger.String("jobID", config.JobID),
		logger.Int("maxViolations", config.MaxViolations),
		logger.Bool("autoFail", config.AutoFail),
		logger.Duration("timeout", config.Timeout))

	client := syncer.NewClient(config.BaseURL, syncer.WithTimeout(config.Timeout))

	// Step 1: Check backend health
	if err := checkServiceHealth(ctx, client); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Generate scenarios
	scenarios, err := generateScenarios(ctx, config, stats)
	if err != nil {
		return stats, fmt.Errorf("scenario generation failed: %w", err)
	}

	// Step 3: Drive candidates concurrently
	results := runCandidates(ctx, config, client, scenarios, stats)

	// Step 4: Verify the backend against the local logs
	verifyErr := verifyResults(ctx, config, client, results, stats)

	// Step 5: Save scenarios to file
	if config.OutputFile != "" {
		if err := saveScenariosToFile(ctx, config.OutputFile, scenarios); err != nil {
			logger.Get().Warn(ctx, "failed to save scenarios to file", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	if verifyErr != nil {
		return stats, fmt.Errorf("result verification failed: %w", verifyErr)
	}
	logger.Get().Info(ctx, "simulation completed successfully")
	return stats, nil
}

// checkServiceHealth verifies the backend is running.
func checkServiceHealth(ctx context.Context, client *syncer.Client) error {
	logger.Get().Info(ctx, "checking service health")
	if err := client.Healthy(ctx); err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// runCandidates drives the scenarios through a pool of config.Workers workers.
func runCandidates(ctx context.Context, config *Config, client *syncer.Client, scenarios []Scenario, stats *Stats) []Result {
	logger.Get().Info(ctx, "running candidates",
		logger.Int("candidates", len(scenarios)),
		logger.Int("workers", config.Workers))

	results := make([]Result, len(scenarios))
	var (
		failed  int64
		applied int64
	)

	workers := max(1, min(config.Workers, len(scenarios)))
	jobs := make(chan int, workers*2)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res := runCandidate(ctx, config, client, scenarios[i])
				if res.Err != nil {
					atomic.AddInt64(&failed, 1)
					logger.Get().Warn(ctx, "candidate run failed",
						logger.String("candidate", res.Candidate),
						logger.Error(res.Err))
				}
				atomic.AddInt64(&applied, int64(res.Applied))
				results[i] = res
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range scenarios {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()
	wg.Wait()

	for i := range results {
		if results[i].Candidate == "" {
			results[i] = Result{Candidate: scenarios[i].Candidate, Err: ctx.Err()}
			failed++
		}
	}

	stats.CandidatesRun = len(results) - int(failed)
	stats.CandidatesFailed = int(failed)
	stats.ActionsApplied = int(applied)
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		stats.ViolationsLogged += len(r.Logs)
		switch r.Status {
		case exam.StatusCompleted:
			stats.Completed++
		case exam.StatusMalpractice:
			stats.Malpractice++
		}
	}

	logger.Get().Info(ctx, "candidates finished",
		logger.Int("run", stats.CandidatesRun),
		logger.Int("failed", stats.CandidatesFailed),
		logger.Int("completed", stats.Completed),
		logger.Int("malpractice", stats.Malpractice))
	return results
}

// runCandidate replays one scenario through a fresh engine in virtual time.
func runCandidate(ctx context.Context, config *Config, client *syncer.Client, s Scenario) Result {
	res := Result{Candidate: s.Candidate}
	key := exam.Key{CandidateID: s.Candidate, JobID: config.JobID, AssessmentType: config.Assessment}
	clock := newVirtualClock(time.Now())
	start := clock.Now()

	e, err := engine.New(engineConfig(ctx, config), key,
		engine.WithBackend(client),
		engine.WithClock(clock.Now),
		engine.WithLogger(logger.Get().Named("engine").With(logger.String("candidate", s.Candidate))))
	if err != nil {
		res.Err = err
		return res
	}
	defer e.Stop()

	sess, err := e.StartExam(ctx)
	if err != nil {
		res.Err = fmt.Errorf("starting exam: %w", err)
		return res
	}
	res.SessionID = sess.ID

	for _, a := range s.Actions {
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}
		if err := apply(e, clock, start, a); err != nil {
			res.Err = fmt.Errorf("applying %s at %s: %w", a.Kind, a.At, err)
			return res
		}
		res.Applied++
		if e.Status().State.Terminal() {
			break
		}
	}

	if !e.Status().State.Terminal() {
		if _, err := e.EndExam(ctx); err != nil {
			res.Err = fmt.Errorf("ending exam: %w", err)
			return res
		}
	}
	res.Logs = e.Logs()
	switch e.Status().State {
	case session.Completed:
		res.Status = exam.StatusCompleted
	case session.Malpractice:
		res.Status = exam.StatusMalpractice
	}
	return res
}

// engineConfig derives the engine settings from the run configuration. Syncing
// happens on the final flush so every log goes out once.
func engineConfig(ctx context.Context, sim *Config) *config.Config {
	cfg := config.New(ctx)
	cfg.BackendURL = sim.BaseURL
	cfg.RequestTimeout = sim.Timeout
	cfg.ExamDuration = sim.ExamDuration
	cfg.MaxViolations = sim.MaxViolations
	cfg.AutoFail = sim.AutoFail
	cfg.ViolationFlushInterval = time.Hour
	cfg.SessionCheckpointInterval = time.Hour
	if sim.PasteMinLength > 0 {
		cfg.PasteMinLength = sim.PasteMinLength
	}
	return cfg
}

// apply performs one action at its virtual time.
func apply(e *engine.Engine, clock *virtualClock, start time.Time, a Action) error {
	at := start.Add(a.At)
	end := start.Add(a.End())
	clock.Set(at)
	sn := e.Sensors()

	switch a.Kind {
	case KindAnswer:
		return e.SaveCodeForQuestion(a.Question, a.Text)
	case KindHideTab:
		sn.Visibility.Hidden(at)
		clock.Set(end)
		sn.Visibility.Visible(end)
	case KindBlur:
		sn.Focus.Blur(at)
		clock.Set(end)
		sn.Focus.Focused(end)
	case KindCopyEditor:
		sn.Clipboard.Copy(a.Text, sensors.SourceEditor, at)
	case KindCopyQuestion:
		sn.Clipboard.Copy(a.Text, sensors.SourceQuestion, at)
	case KindPasteInternal, KindPasteExternal:
		sn.Clipboard.Paste(a.Text, at)
	case KindDevtools:
		sn.Keys.Handle(sensors.KeyEvent{Key: "I", Ctrl: true, Shift: true, At: at})
	case KindViewSource:
		sn.Keys.Handle(sensors.KeyEvent{Key: "u", Ctrl: true, At: at})
	case KindContextMenu:
		sn.ContextMenu.Handle()
	case KindBreak:
		if err := e.PauseExam("proctor break"); err != nil {
			return err
		}
		clock.Set(end)
		return e.ResumeExam()
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}

// saveScenariosToFile writes the scenarios as a JSON array.
func saveScenariosToFile(ctx context.Context, filename string, scenarios []Scenario) error {
	if len(scenarios) == 0 {
		return errors.New("no scenarios to save")
	}

	dir := filepath.Dir(filename)
	if dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(scenarios, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal scenarios: %w", err)
	}
	if err := os.WriteFile(filename, append(data, '\n'), filePermission); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	logger.Get().Info(ctx, "scenarios saved to file", logger.String("filename", filename))
	return nil
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var candidatesPerSecond float64
	if stats.Duration > 0 {
		candidatesPerSecond = float64(stats.CandidatesRun) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("candidatesGenerated", stats.CandidatesGenerated),
		logger.Int("candidatesRun", stats.CandidatesRun),
		logger.Int("candidatesFailed", stats.CandidatesFailed),
		logger.Int("completed", stats.Completed),
		logger.Int("malpractice", stats.Malpractice),
		logger.Int("actionsApplied", stats.ActionsApplied),
		logger.Int("violationsLogged", stats.ViolationsLogged),
		logger.Int("violationsStored", stats.ViolationsStored),
		logger.Int("mismatches", stats.Mismatches),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("candidatesPerSecond", candidatesPerSecond))
}
