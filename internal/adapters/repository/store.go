// Package repository persists exam sessions and their violation logs.
package repository

import (
	"context"

	"github.com/okian/proctor/internal/domain/exam"
	"github.com/okian/proctor/internal/domain/violation"
)

// Counts summarizes what the store holds.
type Counts struct {
	Sessions       int `json:"sessions"`
	ActiveSessions int `json:"active_sessions"`
	Violations     int `json:"violations"`
}

// Store provides read/write access to sessions and violations.
type Store interface {
	exam.Store

	// Get returns the session with id, or exam.ErrNotFound.
	Get(ctx context.Context, id string) (exam.Session, error)

	// SaveViolations appends the batch entries. Entries already stored under
	// the same (session, type, timestamp) are skipped, so retried batches are
	// harmless. Returns the number of newly stored entries.
	SaveViolations(ctx context.Context, batch violation.Batch) (int, error)

	// Violations returns a session's entries ordered by timestamp.
	Violations(ctx context.Context, sessionID string) ([]violation.Log, error)

	// Count returns store totals.
	Count(ctx context.Context) (Counts, error)

	Close() error
}
