package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/okian/proctor/internal/domain/exam"
	"github.com/okian/proctor/internal/domain/violation"
	"github.com/okian/proctor/pkg/metrics"

	_ "modernc.org/sqlite" // SQLite driver.
)

const memoryPath = ":memory:"

// SQLiteStore implements Store on a single SQLite database.
type SQLiteStore struct {
	db          *sql.DB
	now         func() time.Time
	busyTimeout time.Duration
}

var _ Store = (*SQLiteStore)(nil)

// Open opens or creates the database at path and applies migrations.
// ":memory:" keeps the data in process.
func Open(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{now: time.Now, busyTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}

	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	s.db = db

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`PRAGMA busy_timeout = %d;`, s.busyTimeout.Milliseconds()),
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			candidate_id TEXT NOT NULL,
			job_id TEXT NOT NULL,
			assessment_type TEXT NOT NULL,
			start_time TEXT NOT NULL,
			time_remaining_seconds INTEGER NOT NULL,
			is_active INTEGER NOT NULL,
			violation_count INTEGER NOT NULL,
			status TEXT NOT NULL,
			codes_by_question TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_active_key
			ON sessions(candidate_id, job_id, assessment_type) WHERE is_active = 1;`,
		`CREATE TABLE IF NOT EXISTS violations (
			session_id TEXT NOT NULL,
			type TEXT NOT NULL,
			reason TEXT NOT NULL,
			duration INTEGER NOT NULL,
			context TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			seq INTEGER NOT NULL DEFAULT 0,
			received_at TEXT NOT NULL,
			UNIQUE (session_id, type, timestamp_ms, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_violations_session ON violations(session_id, timestamp_ms);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const sessionColumns = `id, candidate_id, job_id, assessment_type, start_time, time_remaining_seconds,
	is_active, violation_count, status, codes_by_question, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (exam.Session, error) {
	var (
		sess      exam.Session
		startTime string
		updatedAt string
		codes     string
		active    int
	)
	if err := row.Scan(&sess.ID, &sess.CandidateID, &sess.JobID, &sess.AssessmentType, &startTime,
		&sess.TimeRemainingSeconds, &active, &sess.ViolationCount, &sess.Status, &codes, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return exam.Session{}, exam.ErrNotFound
		}
		return exam.Session{}, err
	}
	sess.IsActive = active == 1
	var err error
	if sess.StartTime, err = time.Parse(time.RFC3339Nano, startTime); err != nil {
		return exam.Session{}, err
	}
	if sess.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return exam.Session{}, err
	}
	sess.CodesByQuestion = map[int]string{}
	if err := json.Unmarshal([]byte(codes), &sess.CodesByQuestion); err != nil {
		return exam.Session{}, err
	}
	return sess, nil
}

func encodeCodes(codes map[int]string) (string, error) {
	if codes == nil {
		codes = map[int]string{}
	}
	raw, err := json.Marshal(codes)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func observeQuery(start time.Time) {
	metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
}

func observeWrite(start time.Time) {
	metrics.RecordRepositoryWriteLatency(float64(time.Since(start).Microseconds()) / 1000)
}

// FindActive returns the active session for key.
func (s *SQLiteStore) FindActive(ctx context.Context, key exam.Key) (exam.Session, error) {
	defer observeQuery(time.Now())
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE candidate_id = ? AND job_id = ? AND assessment_type = ? AND is_active = 1`,
		key.CandidateID, key.JobID, string(key.AssessmentType))
	return scanSession(row)
}

// Get returns the session with id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (exam.Session, error) {
	defer observeQuery(time.Now())
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// Create inserts a new session. An active session for the same key yields
// exam.ErrActiveExists.
func (s *SQLiteStore) Create(ctx context.Context, sess exam.Session) (exam.Session, error) {
	defer observeWrite(time.Now())
	if err := sess.Validate(); err != nil {
		return exam.Session{}, err
	}
	sess = sess.Clone()
	sess.UpdatedAt = s.now().UTC()
	if sess.StartTime.IsZero() {
		sess.StartTime = sess.UpdatedAt
	}
	codes, err := encodeCodes(sess.CodesByQuestion)
	if err != nil {
		return exam.Session{}, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.CandidateID, sess.JobID, string(sess.AssessmentType),
		sess.StartTime.UTC().Format(time.RFC3339Nano), sess.TimeRemainingSeconds,
		boolInt(sess.IsActive), sess.ViolationCount, string(sess.Status), codes,
		sess.UpdatedAt.Format(time.RFC3339Nano))
	if isUniqueViolation(err) {
		if strings.Contains(err.Error(), "sessions.id") {
			return exam.Session{}, fmt.Errorf("%w: %s", ErrDuplicateID, sess.ID)
		}
		return exam.Session{}, fmt.Errorf("%w: %s", exam.ErrActiveExists, sess.Key())
	}
	if err != nil {
		return exam.Session{}, err
	}
	return sess, nil
}

// Update overwrites the stored session. A stored terminal session only
// accepts the same terminal status again.
func (s *SQLiteStore) Update(ctx context.Context, sess exam.Session) (out exam.Session, err error) {
	defer observeWrite(time.Now())
	if err := sess.Validate(); err != nil {
		return exam.Session{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return exam.Session{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current, err := scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sess.ID))
	if err != nil {
		return exam.Session{}, err
	}
	if current.Key() != sess.Key() {
		return exam.Session{}, fmt.Errorf("%w: key of session %s cannot change", exam.ErrInvalidSession, sess.ID)
	}
	if current.Status.Terminal() && sess.Status != current.Status {
		return exam.Session{}, fmt.Errorf("%w: %s is %s", ErrSessionClosed, sess.ID, current.Status)
	}

	sess = sess.Clone()
	sess.StartTime = current.StartTime
	sess.UpdatedAt = s.now().UTC()
	codes, err := encodeCodes(sess.CodesByQuestion)
	if err != nil {
		return exam.Session{}, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET time_remaining_seconds = ?, is_active = ?, violation_count = ?,
			status = ?, codes_by_question = ?, updated_at = ?
		 WHERE id = ?`,
		sess.TimeRemainingSeconds, boolInt(sess.IsActive), sess.ViolationCount,
		string(sess.Status), codes, sess.UpdatedAt.Format(time.RFC3339Nano), sess.ID)
	if isUniqueViolation(err) {
		return exam.Session{}, fmt.Errorf("%w: %s", exam.ErrActiveExists, sess.Key())
	}
	if err != nil {
		return exam.Session{}, err
	}
	if err = tx.Commit(); err != nil {
		return exam.Session{}, err
	}
	return sess, nil
}

// SaveViolations stores the batch in one transaction.
func (s *SQLiteStore) SaveViolations(ctx context.Context, batch violation.Batch) (inserted int, err error) {
	defer observeWrite(time.Now())
	if err := batch.Validate(); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO violations (session_id, type, reason, duration, context, timestamp_ms, seq, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer func() { _ = stmt.Close() }()

	received := s.now().UTC().Format(time.RFC3339Nano)
	for _, l := range batch.Violations {
		res, execErr := stmt.ExecContext(ctx, batch.SessionID, string(l.Type), l.Reason, l.Duration, l.Context, l.Timestamp, l.Seq, received)
		if execErr != nil {
			err = execErr
			return 0, err
		}
		n, raErr := res.RowsAffected()
		if raErr != nil {
			err = raErr
			return 0, err
		}
		inserted += int(n)
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// Violations returns the stored entries for sessionID.
func (s *SQLiteStore) Violations(ctx context.Context, sessionID string) ([]violation.Log, error) {
	defer observeQuery(time.Now())
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, reason, duration, context, timestamp_ms, seq FROM violations
		 WHERE session_id = ? ORDER BY timestamp_ms ASC, seq ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []violation.Log{}
	for rows.Next() {
		var l violation.Log
		if err := rows.Scan(&l.Type, &l.Reason, &l.Duration, &l.Context, &l.Timestamp, &l.Seq); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns totals across the store.
func (s *SQLiteStore) Count(ctx context.Context) (Counts, error) {
	defer observeQuery(time.Now())
	var c Counts
	err := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(*) FROM sessions WHERE is_active = 1),
			(SELECT COUNT(*) FROM violations)`).Scan(&c.Sessions, &c.ActiveSessions, &c.Violations)
	return c, err
}
