package simulate

import (
	"time"

	"github.com/okian/proctor/internal/domain/exam"
	"github.com/okian/proctor/internal/domain/violation"
)

// Config holds configuration for a simulation run
type Config struct {
	BaseURL        string              // Base URL of the backend
	Candidates     int                 // Number of simulated candidates
	Workers        int                 // Number of candidates driven concurrently
	Seed           int64               // Scenario seed; equal seeds give equal scenarios
	Actions        int                 // Upper bound on actions per candidate
	JobID          string              // Job every candidate sits; generated when empty
	Assessment     exam.AssessmentType // Assessment every candidate sits
	ExamDuration   time.Duration       // Exam length handed to each engine
	MaxViolations  int                 // Violation limit per session
	AutoFail       bool                // End sessions in malpractice at the limit
	Timeout        time.Duration       // Backend request timeout
	VerifyTimeout  time.Duration       // How long to wait for the backend to store every log
	OutputFile     string              // Where to save the generated scenarios; empty skips saving
	LogFile        string              // Log file for run output
	Verbose        bool                // Enable debug logging
	LogJSON        bool                // Emit JSON log lines
	PasteMinLength int                 // Mirrors the engine's external paste floor
}

// Defaults for a simulation run.
const (
	DefaultCandidates    = 20
	DefaultActions       = 40
	DefaultSeed          = 1
	DefaultTimeout       = 10 * time.Second
	DefaultVerifyTimeout = 30 * time.Second
)

// NewConfig returns a Config with defaults matching the engine's.
func NewConfig(baseURL string) *Config {
	return &Config{
		BaseURL:        baseURL,
		Candidates:     DefaultCandidates,
		Workers:        4,
		Seed:           DefaultSeed,
		Actions:        DefaultActions,
		Assessment:     exam.Technical,
		ExamDuration:   30 * time.Minute,
		MaxViolations:  5,
		AutoFail:       true,
		Timeout:        DefaultTimeout,
		VerifyTimeout:  DefaultVerifyTimeout,
		PasteMinLength: 20,
	}
}

// Stats holds run statistics
type Stats struct {
	CandidatesGenerated int
	CandidatesRun       int
	CandidatesFailed    int
	Completed           int
	Malpractice         int
	ActionsApplied      int
	ViolationsLogged    int
	ViolationsStored    int
	Mismatches          int
	StartTime           time.Time
	EndTime             time.Time
	Duration            time.Duration
}

// Result is what one candidate's run produced locally.
type Result struct {
	Candidate string
	SessionID string
	Status    exam.Status
	Applied   int
	Logs      []violation.Log
	Err       error
}

// counted returns the logs that count toward the violation limit.
func (r Result) counted() int {
	n := 0
	for _, l := range r.Logs {
		if l.Type != violation.AutoFail {
			n++
		}
	}
	return n
}
