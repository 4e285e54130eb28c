// Package exam defines the persisted exam session record and the store
// contract shared by the engine's sync client and the backend repository.
package exam

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AssessmentType names the kind of assessment screen a session belongs to.
type AssessmentType string

const (
	Psychometric AssessmentType = "psychometric"
	Technical    AssessmentType = "technical"
	Coding       AssessmentType = "coding"
)

// Valid reports whether a is a known assessment type.
func (a AssessmentType) Valid() bool {
	switch a {
	case Psychometric, Technical, Coding:
		return true
	}
	return false
}

// Status is the persisted lifecycle status.
type Status string

const (
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusMalpractice Status = "malpractice"
)

// Terminal reports whether s can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusMalpractice
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusInProgress || s.Terminal()
}

// Sentinel errors.
var (
	ErrNotFound       = errors.New("session not found")
	ErrActiveExists   = errors.New("an active session already exists for this key")
	ErrInvalidKey     = errors.New("invalid session key")
	ErrInvalidSession = errors.New("invalid session")
)

// Key identifies the single active session a candidate may hold per job and assessment.
type Key struct {
	CandidateID    string         `json:"candidate_id"`
	JobID          string         `json:"job_id"`
	AssessmentType AssessmentType `json:"assessment_type"`
}

// Validate checks every component of the key.
func (k Key) Validate() error {
	if k.CandidateID == "" || k.JobID == "" {
		return fmt.Errorf("%w: candidate_id and job_id are required", ErrInvalidKey)
	}
	if !k.AssessmentType.Valid() {
		return fmt.Errorf("%w: unknown assessment_type %q", ErrInvalidKey, k.AssessmentType)
	}
	return nil
}

func (k Key) String() string {
	return k.CandidateID + "/" + k.JobID + "/" + string(k.AssessmentType)
}

// Session is the persisted exam session record.
type Session struct {
	ID                   string         `json:"id"`
	CandidateID          string         `json:"candidate_id"`
	JobID                string         `json:"job_id"`
	AssessmentType       AssessmentType `json:"assessment_type"`
	StartTime            time.Time      `json:"start_time"`
	TimeRemainingSeconds int            `json:"time_remaining_seconds"`
	IsActive             bool           `json:"is_active"`
	ViolationCount       int            `json:"violation_count"`
	Status               Status         `json:"status"`
	CodesByQuestion      map[int]string `json:"codes_by_question"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// NewSession builds a fresh in-progress session for key with the full duration.
func NewSession(id string, key Key, duration time.Duration, now time.Time) Session {
	return Session{
		ID:                   id,
		CandidateID:          key.CandidateID,
		JobID:                key.JobID,
		AssessmentType:       key.AssessmentType,
		StartTime:            now.UTC(),
		TimeRemainingSeconds: int(duration / time.Second),
		IsActive:             true,
		Status:               StatusInProgress,
		CodesByQuestion:      map[int]string{},
		UpdatedAt:            now.UTC(),
	}
}

// Key returns the session's identifying tuple.
func (s Session) Key() Key {
	return Key{CandidateID: s.CandidateID, JobID: s.JobID, AssessmentType: s.AssessmentType}
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	out := s
	out.CodesByQuestion = make(map[int]string, len(s.CodesByQuestion))
	for k, v := range s.CodesByQuestion {
		out.CodesByQuestion[k] = v
	}
	return out
}

// Validate checks the fields the store relies on.
func (s Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSession)
	}
	if err := s.Key().Validate(); err != nil {
		return err
	}
	if !s.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidSession, s.Status)
	}
	if s.TimeRemainingSeconds < 0 || s.ViolationCount < 0 {
		return fmt.Errorf("%w: negative counters", ErrInvalidSession)
	}
	if s.Status.Terminal() && s.IsActive {
		return fmt.Errorf("%w: terminal session cannot be active", ErrInvalidSession)
	}
	return nil
}

// Store persists sessions. Implementations guarantee at most one active
// session per Key.
type Store interface {
	// FindActive returns the active session for key, or ErrNotFound.
	FindActive(ctx context.Context, key Key) (Session, error)
	// Create stores a new session; ErrActiveExists when key already has one.
	Create(ctx context.Context, s Session) (Session, error)
	// Update overwrites the stored session (last write wins); ErrNotFound if unknown.
	Update(ctx context.Context, s Session) (Session, error)
}
