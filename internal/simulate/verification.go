package simulate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/okian/proctor/internal/domain/exam"
	"github.com/okian/proctor/internal/domain/violation"
	"github.com/okian/proctor/internal/proctor/syncer"
	"github.com/okian/proctor/pkg/logger"
)

const verifyPollInterval = 50 * time.Millisecond

// ErrMismatch reports that the backend disagrees with a candidate's local state.
var ErrMismatch = errors.New("backend does not match local state")

// verifyResults checks every finished candidate against the backend.
func verifyResults(ctx context.Context, config *Config, client *syncer.Client, results []Result, stats *Stats) error {
	logger.Get().Info(ctx, "verifying results")

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		stored, err := verifyCandidate(ctx, config, client, r)
		stats.ViolationsStored += stored
		if err != nil {
			stats.Mismatches++
			logger.Get().Warn(ctx, "candidate mismatch",
				logger.String("candidate", r.Candidate),
				logger.String("sessionID", r.SessionID),
				logger.Error(err))
			errs = append(errs, fmt.Errorf("candidate %s: %w", r.Candidate, err))
		}
	}
	if stats.CandidatesFailed > 0 {
		errs = append(errs, fmt.Errorf("%d candidates failed to run", stats.CandidatesFailed))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	logger.Get().Info(ctx, "all results verified", logger.Int("candidates", len(results)))
	return nil
}

// verifyCandidate returns how many of r's logs the backend stored and an error
// wrapping ErrMismatch when the outcome, the session or the logs disagree.
func verifyCandidate(ctx context.Context, config *Config, client *syncer.Client, r Result) (int, error) {
	wantMalpractice := config.AutoFail && r.counted() >= config.MaxViolations
	if wantMalpractice != (r.Status == exam.StatusMalpractice) {
		return 0, fmt.Errorf("%w: status %q with %d violations", ErrMismatch, r.Status, r.counted())
	}

	want := logKeys(r.SessionID, r.Logs)
	var got []string
	deadline := time.Now().Add(config.VerifyTimeout)
	for {
		logs, err := client.Violations(ctx, r.SessionID)
		if err != nil {
			return 0, err
		}
		got = logKeys(r.SessionID, logs)
		if slices.Equal(got, want) || !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return len(got), ctx.Err()
		case <-time.After(verifyPollInterval):
		}
	}
	if !slices.Equal(got, want) {
		return len(got), fmt.Errorf("%w: stored %d logs, logged %d", ErrMismatch, len(got), len(want))
	}

	key := exam.Key{CandidateID: r.Candidate, JobID: config.JobID, AssessmentType: config.Assessment}
	if _, err := client.FindActive(ctx, key); !errors.Is(err, exam.ErrNotFound) {
		return len(got), fmt.Errorf("%w: session still active after it ended (%v)", ErrMismatch, err)
	}
	return len(got), nil
}

// logKeys returns the sorted identity keys of logs.
func logKeys(sessionID string, logs []violation.Log) []string {
	keys := make([]string, len(logs))
	for i, l := range logs {
		keys[i] = l.Key(sessionID)
	}
	slices.Sort(keys)
	return keys
}
