// Package session drives one exam session through its lifecycle:
// not_started -> active <-> paused -> completed | malpractice.
//
// The countdown is wall-clock based: while active, the remaining time is the
// remaining time at the last resume minus the whole seconds elapsed since.
// Pausing freezes it. Terminal states are final and reject every mutation.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/okian/proctor/internal/domain/exam"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

// State is the lifecycle state.
type State string

const (
	NotStarted  State = "not_started"
	Active      State = "active"
	Paused      State = "paused"
	Completed   State = "completed"
	Malpractice State = "malpractice"
)

// Terminal reports whether s accepts no further transitions.
func (s State) Terminal() bool {
	return s == Completed || s == Malpractice
}

const (
	evStart       = "start"
	evPause       = "pause"
	evResume      = "resume"
	evComplete    = "complete"
	evTimeout     = "timeout"
	evMalpractice = "malpractice"
)

// Sentinel errors.
var (
	ErrNotStarted        = errors.New("session not started")
	ErrPaused            = errors.New("session is paused")
	ErrTerminal          = errors.New("session has ended")
	ErrInvalidTransition = errors.New("invalid session transition")
)

// Handler is told about a terminal transition with the final session snapshot.
type Handler func(s exam.Session)

// Machine owns one exam session. Safe for concurrent use; handlers run
// after the internal lock is released.
type Machine struct {
	store         exam.Store
	key           exam.Key
	duration      time.Duration
	maxViolations int
	autoFail      bool
	tickInterval  time.Duration
	now           func() time.Time
	logger        logger.Logger
	onTimeUp      Handler
	onMalpractice Handler

	mu        sync.Mutex
	fsm       *fsm.FSM
	sess      exam.Session
	atResume  int
	resumedAt time.Time
	reason    string
}

// New creates a machine for key. Nothing is read from the store until Start.
func New(store exam.Store, key exam.Key, opts ...Option) (*Machine, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("session store is required")
	}
	m := &Machine{
		store:         store,
		key:           key,
		duration:      DefaultDuration,
		maxViolations: DefaultMaxViolations,
		autoFail:      true,
		tickInterval:  time.Second,
		now:           time.Now,
		fsm: fsm.NewFSM(
			string(NotStarted),
			fsm.Events{
				{Name: evStart, Src: []string{string(NotStarted)}, Dst: string(Active)},
				{Name: evPause, Src: []string{string(Active)}, Dst: string(Paused)},
				{Name: evResume, Src: []string{string(Paused)}, Dst: string(Active)},
				{Name: evComplete, Src: []string{string(Active), string(Paused)}, Dst: string(Completed)},
				{Name: evTimeout, Src: []string{string(Active)}, Dst: string(Completed)},
				{Name: evMalpractice, Src: []string{string(Active), string(Paused)}, Dst: string(Malpractice)},
			},
			fsm.Callbacks{},
		),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logger.Get().Named("session")
	}
	return m, nil
}

// Start resumes the active session for the key or creates a new one with
// the full duration. Start on a running session returns its snapshot.
func (m *Machine) Start(ctx context.Context) (exam.Session, error) {
	m.mu.Lock()
	st := m.state()
	if st != NotStarted {
		defer m.mu.Unlock()
		if st.Terminal() {
			return exam.Session{}, ErrTerminal
		}
		return m.snapshot(m.now()), nil
	}
	m.mu.Unlock()

	sess, resumed, err := m.load(ctx)
	if err != nil {
		return exam.Session{}, err
	}
	if sess.CodesByQuestion == nil {
		sess.CodesByQuestion = map[int]string{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state() != NotStarted {
		return m.snapshot(m.now()), nil
	}
	if err := m.fire(ctx, evStart); err != nil {
		return exam.Session{}, err
	}
	m.sess = sess
	m.atResume = sess.TimeRemainingSeconds
	m.resumedAt = m.now()
	metrics.AddSessionsActive(1)
	m.logger.Info(ctx, "exam session started",
		logger.String("session_id", sess.ID),
		logger.Bool("resumed", resumed),
		logger.Int("remaining_seconds", sess.TimeRemainingSeconds),
		logger.Int("violations", sess.ViolationCount))
	return m.sess.Clone(), nil
}

func (m *Machine) load(ctx context.Context) (exam.Session, bool, error) {
	found, err := m.store.FindActive(ctx, m.key)
	if err == nil {
		return found.Clone(), true, nil
	}
	if !errors.Is(err, exam.ErrNotFound) {
		return exam.Session{}, false, fmt.Errorf("finding active session: %w", err)
	}

	created, err := m.store.Create(ctx, exam.NewSession(uuid.NewString(), m.key, m.duration, m.now()))
	if err == nil {
		return created.Clone(), false, nil
	}
	if !errors.Is(err, exam.ErrActiveExists) {
		return exam.Session{}, false, fmt.Errorf("creating session: %w", err)
	}
	// Another tab created it between our lookup and insert.
	found, err = m.store.FindActive(ctx, m.key)
	if err != nil {
		return exam.Session{}, false, fmt.Errorf("finding active session: %w", err)
	}
	return found.Clone(), true, nil
}

// Tick advances the countdown to now and returns the remaining seconds.
// Reaching zero completes the session and calls the time-up handler once.
func (m *Machine) Tick(now time.Time) int {
	m.mu.Lock()
	if m.state() != Active {
		defer m.mu.Unlock()
		return m.sess.TimeRemainingSeconds
	}
	m.sess.TimeRemainingSeconds = m.remaining(now)
	if m.sess.TimeRemainingSeconds > 0 {
		defer m.mu.Unlock()
		return m.sess.TimeRemainingSeconds
	}
	if err := m.finish(context.Background(), evTimeout, exam.StatusCompleted, now); err != nil {
		m.mu.Unlock()
		return 0
	}
	final := m.sess.Clone()
	m.mu.Unlock()

	m.logger.Info(context.Background(), "exam time is up", logger.String("session_id", final.ID))
	if m.onTimeUp != nil {
		m.onTimeUp(final)
	}
	return 0
}

// Run ticks the countdown until ctx is done or the session ends.
func (m *Machine) Run(ctx context.Context) {
	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(m.now())
			if m.State().Terminal() {
				return
			}
		}
	}
}

// Pause freezes the countdown and answer editing. Pausing a paused session
// is a no-op.
func (m *Machine) Pause(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch st := m.state(); {
	case st == Paused:
		return nil
	case st == NotStarted:
		return ErrNotStarted
	case st.Terminal():
		return ErrTerminal
	}
	now := m.now()
	m.sess.TimeRemainingSeconds = m.remaining(now)
	if err := m.fire(context.Background(), evPause); err != nil {
		return err
	}
	m.reason = reason
	m.sess.UpdatedAt = now.UTC()
	m.logger.Info(context.Background(), "exam paused",
		logger.String("session_id", m.sess.ID), logger.String("reason", reason))
	return nil
}

// Resume restarts the countdown from the frozen remaining time. Resuming an
// active session is a no-op.
func (m *Machine) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch st := m.state(); {
	case st == Active:
		return nil
	case st == NotStarted:
		return ErrNotStarted
	case st.Terminal():
		return ErrTerminal
	}
	if err := m.fire(context.Background(), evResume); err != nil {
		return err
	}
	m.atResume = m.sess.TimeRemainingSeconds
	m.resumedAt = m.now()
	m.reason = ""
	m.sess.UpdatedAt = m.resumedAt.UTC()
	m.logger.Info(context.Background(), "exam resumed", logger.String("session_id", m.sess.ID))
	return nil
}

// RecordViolation increments the violation count and returns it. With
// auto-fail enabled, reaching the maximum ends the session as malpractice
// and calls the malpractice handler once.
func (m *Machine) RecordViolation() (int, error) {
	m.mu.Lock()
	switch st := m.state(); {
	case st == NotStarted:
		m.mu.Unlock()
		return 0, ErrNotStarted
	case st.Terminal():
		n := m.sess.ViolationCount
		m.mu.Unlock()
		return n, ErrTerminal
	}
	now := m.now()
	m.sess.ViolationCount++
	m.sess.UpdatedAt = now.UTC()
	count := m.sess.ViolationCount
	if !m.autoFail || m.maxViolations <= 0 || count < m.maxViolations {
		m.mu.Unlock()
		return count, nil
	}
	if m.state() == Active {
		m.sess.TimeRemainingSeconds = m.remaining(now)
	}
	if err := m.finish(context.Background(), evMalpractice, exam.StatusMalpractice, now); err != nil {
		m.mu.Unlock()
		return count, err
	}
	final := m.sess.Clone()
	m.mu.Unlock()

	m.logger.Warn(context.Background(), "violation limit reached",
		logger.String("session_id", final.ID), logger.Int("violations", count))
	if m.onMalpractice != nil {
		m.onMalpractice(final)
	}
	return count, nil
}

// SaveCode stores the answer for question index. Refused while paused or ended.
func (m *Machine) SaveCode(index int, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch st := m.state(); {
	case st == NotStarted:
		return ErrNotStarted
	case st == Paused:
		return ErrPaused
	case st.Terminal():
		return ErrTerminal
	}
	m.sess.CodesByQuestion[index] = code
	m.sess.UpdatedAt = m.now().UTC()
	return nil
}

// Complete ends the session on explicit submission.
func (m *Machine) Complete(ctx context.Context) (exam.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch st := m.state(); {
	case st == NotStarted:
		return exam.Session{}, ErrNotStarted
	case st.Terminal():
		return m.sess.Clone(), ErrTerminal
	case st == Active:
		m.sess.TimeRemainingSeconds = m.remaining(m.now())
	}
	if err := m.finish(ctx, evComplete, exam.StatusCompleted, m.now()); err != nil {
		return exam.Session{}, err
	}
	m.logger.Info(ctx, "exam submitted", logger.String("session_id", m.sess.ID))
	return m.sess.Clone(), nil
}

// Snapshot returns a deep copy of the session with the countdown brought up to date.
func (m *Machine) Snapshot() exam.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(m.now())
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state()
}

// PauseReason returns the reason given to the current pause, if any.
func (m *Machine) PauseReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// Remaining returns the seconds left on the countdown.
func (m *Machine) Remaining() int {
	return m.Snapshot().TimeRemainingSeconds
}

func (m *Machine) state() State {
	return State(m.fsm.Current())
}

func (m *Machine) snapshot(now time.Time) exam.Session {
	s := m.sess.Clone()
	if m.state() == Active {
		s.TimeRemainingSeconds = m.remaining(now)
	}
	return s
}

func (m *Machine) remaining(now time.Time) int {
	elapsed := int(now.Sub(m.resumedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	if r := m.atResume - elapsed; r > 0 {
		return r
	}
	return 0
}

// finish moves to a terminal state. Callers hold m.mu.
func (m *Machine) finish(ctx context.Context, event string, status exam.Status, now time.Time) error {
	if err := m.fire(ctx, event); err != nil {
		return err
	}
	m.sess.Status = status
	m.sess.IsActive = false
	m.sess.UpdatedAt = now.UTC()
	m.reason = ""
	metrics.AddSessionsActive(-1)
	return nil
}

// fire applies event and records the transition. Callers hold m.mu.
func (m *Machine) fire(ctx context.Context, event string) error {
	from := m.fsm.Current()
	if err := m.fsm.Event(ctx, event); err != nil {
		return fmt.Errorf("%w: %s from %s: %v", ErrInvalidTransition, event, from, err)
	}
	metrics.RecordSessionTransition(m.fsm.Current())
	return nil
}
