// Package engine wires the proctoring components into the single surface a
// hosting UI talks to: sensors and the face analyzer feed the aggregator,
// the aggregator drives the exam session, and the syncer mirrors both to
// the backend.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/proctor/internal/config"
	"github.com/okian/proctor/internal/domain/exam"
	"github.com/okian/proctor/internal/domain/violation"
	"github.com/okian/proctor/internal/proctor/aggregator"
	"github.com/okian/proctor/internal/proctor/face"
	"github.com/okian/proctor/internal/proctor/lockdown"
	"github.com/okian/proctor/internal/proctor/sensors"
	"github.com/okian/proctor/internal/proctor/session"
	"github.com/okian/proctor/internal/proctor/syncer"
	"github.com/okian/proctor/pkg/logger"
)

// Backend is everything the engine needs from the remote side.
type Backend interface {
	exam.Store
	syncer.Backend
}

// Notify is told about every accepted violation with the running total.
type Notify func(l violation.Log, total int)

// Status is a read-only view of the engine.
type Status struct {
	State            session.State
	SessionID        string
	RemainingSeconds int
	// Violations is the session's count, including any restored on resume.
	// Violations logged before StartExam are added when the session starts.
	Violations int
	// Logged is the number of entries in this run's local log.
	Logged      int
	Paused      bool
	PauseReason string
	Camera      face.Snapshot
	SyncedLogs  int
}

// Engine is one proctored exam attempt.
type Engine struct {
	cfg     *config.Config
	key     exam.Key
	backend Backend
	logger  logger.Logger
	now     func() time.Time

	capture   face.Capture
	loaders   []face.Loader
	surface   face.Surface
	navigator lockdown.Navigator
	warn      func(string)

	notify        Notify
	onTimeUp      session.Handler
	onMalpractice session.Handler

	agg      *aggregator.Aggregator
	machine  *session.Machine
	analyzer *face.Analyzer
	monitor  *sensors.Monitor
	guard    *lockdown.Controller
	sync     *syncer.Syncer

	mu             sync.Mutex
	pausedByCamera bool
	// Violations logged before the session started, counted once it does.
	pending  int
	counting bool

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	finalOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// New builds an engine for key from cfg. Nothing runs until StartExam.
func New(cfg *config.Config, key exam.Key, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.New(context.Background())
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:  cfg,
		key:  key,
		now:  time.Now,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Get().Named("engine")
	}
	if e.backend == nil {
		e.backend = syncer.NewClient(cfg.BackendURL, syncer.WithTimeout(cfg.RequestTimeout))
	}
	e.runCtx, e.runCancel = context.WithCancel(context.Background())

	e.agg = aggregator.New(
		aggregator.WithObserver(e.onViolation),
		aggregator.WithLogger(e.logger.Named("aggregator")),
	)

	machine, err := session.New(e.backend, key,
		session.WithDuration(cfg.ExamDuration),
		session.WithMaxViolations(cfg.MaxViolations),
		session.WithAutoFail(cfg.AutoFail),
		session.WithClock(e.now),
		session.WithOnTimeUp(e.timeUp),
		session.WithOnMalpractice(e.malpractice),
		session.WithLogger(e.logger.Named("session")),
	)
	if err != nil {
		return nil, fmt.Errorf("building session: %w", err)
	}
	e.machine = machine

	e.sync = syncer.New(e.agg, e.machine, e.backend,
		syncer.WithFlushInterval(cfg.ViolationFlushInterval),
		syncer.WithCheckpointInterval(cfg.SessionCheckpointInterval),
		syncer.WithLogger(e.logger.Named("syncer")),
	)
	e.agg.AddForwarder(e.sync)

	pauseAfter := time.Duration(0)
	if cfg.AutoPause {
		pauseAfter = cfg.PauseAfter
	}
	faceOpts := []face.Option{
		face.WithLoaders(e.loaders...),
		face.WithAnalysisInterval(cfg.AnalysisInterval),
		face.WithHealthCheckInterval(cfg.HealthCheckInterval),
		face.WithDetectionTimeout(cfg.DetectionTimeout),
		face.WithCooldown(violation.NoFace, cfg.NoFaceCooldown),
		face.WithCooldown(violation.MultipleFaces, cfg.MultipleFacesCooldown),
		face.WithCooldown(violation.LookingAway, cfg.LookingAwayCooldown),
		face.WithCooldown(violation.FaceDetectionTimeout, cfg.DetectionTimeoutCooldown),
		face.WithGazeTolerance(cfg.GazeTolerance),
		face.WithPauseAfter(pauseAfter),
		face.WithOnSustainedAbsence(e.absent),
		face.WithOnPresenceRestored(e.present),
		face.WithClock(e.now),
		face.WithLogger(e.logger.Named("face")),
	}
	if e.surface != nil {
		faceOpts = append(faceOpts, face.WithSurface(e.surface))
	}
	e.analyzer = face.NewAnalyzer(e.agg, e.capture, faceOpts...)

	e.monitor = sensors.NewMonitor(e.agg,
		sensors.WithClipboardOptions(
			sensors.WithPasteMinLength(cfg.PasteMinLength),
			sensors.WithPasteSuspiciousLength(cfg.PasteSuspiciousLength),
		),
		sensors.WithClock(e.now),
		sensors.WithLogger(e.logger.Named("sensors")),
	)

	e.guard = lockdown.New(e.navigator, func() bool { return e.machine.State() == session.Active },
		lockdown.WithWarn(e.warn),
		lockdown.WithLogger(e.logger.Named("lockdown")),
	)
	return e, nil
}

// InitializeCamera acquires the camera and starts face analysis. Capture
// failures are recorded and returned as *face.CameraError.
func (e *Engine) InitializeCamera(ctx context.Context) error {
	return e.analyzer.Start(ctx)
}

// StopCamera releases the camera. Safe to call repeatedly.
func (e *Engine) StopCamera() {
	e.analyzer.Stop()
}

// AttachHost starts reading environment signals from host.
func (e *Engine) AttachHost(ctx context.Context, host any) {
	e.monitor.Attach(ctx, host)
}

// RecordViolation records l and reports whether it was kept.
func (e *Engine) RecordViolation(l violation.Log) bool {
	return e.agg.Record(l)
}

// ViolationCount returns the number of violations recorded in this run.
func (e *Engine) ViolationCount() int {
	return e.agg.Count()
}

// Logs returns a copy of this run's violation log.
func (e *Engine) Logs() []violation.Log {
	return e.agg.Logs()
}

func (e *Engine) CameraActive() bool { return e.analyzer.Snapshot().CameraActive }
func (e *Engine) FaceDetectionActive() bool { return e.analyzer.Snapshot().FaceDetectionActive }
func (e *Engine) CurrentFaceCount() int { return e.analyzer.Snapshot().FaceCount }
func (e *Engine) IsPaused() bool { return e.machine.State() == session.Paused }
func (e *Engine) PauseReason() string { return e.machine.PauseReason() }

// StartExam resumes or creates the session and starts the countdown, the
// sync loops and the navigation guard.
func (e *Engine) StartExam(ctx context.Context) (exam.Session, error) {
	sess, err := e.machine.Start(ctx)
	if err != nil {
		return exam.Session{}, err
	}
	e.startOnce.Do(func() {
		if e.runCtx.Err() != nil {
			return
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.machine.Run(e.runCtx)
		}()
		e.sync.Start(e.runCtx)
		e.guard.Engage()
		e.logger.Info(ctx, "exam started",
			logger.String("session_id", sess.ID),
			logger.String("key", e.key.String()),
			logger.Int("remaining_seconds", sess.TimeRemainingSeconds))
	})
	if e.countPending() > 0 {
		sess = e.machine.Snapshot()
	}
	return sess, nil
}

// countPending adds the violations held back before the session started.
func (e *Engine) countPending() int {
	e.mu.Lock()
	n := e.pending
	e.pending = 0
	e.counting = true
	e.mu.Unlock()
	for i := 0; i < n; i++ {
		e.count()
	}
	return n
}

// EndExam submits the exam and waits for the final flush.
func (e *Engine) EndExam(ctx context.Context) (exam.Session, error) {
	sess, err := e.machine.Complete(ctx)
	if err != nil {
		return sess, err
	}
	e.finalize(ctx, "submitted", nil, sess)
	return e.machine.Snapshot(), nil
}

// PauseExam freezes the countdown and answer editing.
func (e *Engine) PauseExam(reason string) error {
	return e.machine.Pause(reason)
}

// ResumeExam restarts the countdown.
func (e *Engine) ResumeExam() error {
	e.mu.Lock()
	e.pausedByCamera = false
	e.mu.Unlock()
	return e.machine.Resume()
}

// SaveCodeForQuestion stores an answer; it reaches the backend on the next checkpoint.
func (e *Engine) SaveCodeForQuestion(index int, code string) error {
	return e.machine.SaveCode(index, code)
}

// SendLogsOnCompletion flushes every unsent violation and the session record now.
func (e *Engine) SendLogsOnCompletion(ctx context.Context) error {
	return e.sync.FlushAll(ctx)
}

// Sensors exposes the individual sensors for hosts that call them directly.
func (e *Engine) Sensors() *sensors.Monitor { return e.monitor }

// Lockdown exposes the navigation guard for the host's popstate and unload hooks.
func (e *Engine) Lockdown() *lockdown.Controller { return e.guard }

// Done is closed once the engine has torn down after a terminal transition or Stop.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Status returns a snapshot of the whole engine.
func (e *Engine) Status() Status {
	sess := e.machine.Snapshot()
	state := e.machine.State()
	return Status{
		State:            state,
		SessionID:        sess.ID,
		RemainingSeconds: sess.TimeRemainingSeconds,
		Violations:       sess.ViolationCount,
		Logged:           e.agg.Count(),
		Paused:           state == session.Paused,
		PauseReason:      e.machine.PauseReason(),
		Camera:           e.analyzer.Snapshot(),
		SyncedLogs:       e.sync.Sent(),
	}
}

// Stop tears everything down without a final flush. Safe to call repeatedly.
func (e *Engine) Stop() {
	e.stopOnce.Do(e.teardown)
	<-e.done
}

// onViolation is the only path from the log into the session count. The
// host hears about l before any escalation it causes.
func (e *Engine) onViolation(l violation.Log, total int) {
	if e.notify != nil {
		e.notify(l, total)
	}
	if l.Type == violation.AutoFail {
		return
	}
	e.mu.Lock()
	if !e.counting {
		e.pending++
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.count()
}

func (e *Engine) count() {
	if _, err := e.machine.RecordViolation(); err != nil && !errors.Is(err, session.ErrTerminal) {
		e.logger.Warn(context.Background(), "counting violation", logger.Error(err))
	}
}

func (e *Engine) absent(reason string) {
	if err := e.machine.Pause(reason); err != nil {
		e.logger.Debug(context.Background(), "auto-pause skipped", logger.Error(err))
		return
	}
	e.mu.Lock()
	e.pausedByCamera = true
	e.mu.Unlock()
}

func (e *Engine) present() {
	e.mu.Lock()
	byCamera := e.pausedByCamera
	e.pausedByCamera = false
	e.mu.Unlock()
	if !byCamera {
		return
	}
	if err := e.machine.Resume(); err != nil {
		e.logger.Debug(context.Background(), "auto-resume skipped", logger.Error(err))
	}
}

func (e *Engine) timeUp(final exam.Session) {
	e.finalize(context.Background(), "time_up", e.onTimeUp, final)
}

func (e *Engine) malpractice(final exam.Session) {
	e.agg.Record(violation.New(violation.AutoFail, e.now()).
		WithReason(violation.ReasonMaxViolations).
		WithContext(fmt.Sprintf("violations=%d", final.ViolationCount)))
	e.finalize(context.Background(), "malpractice", e.onMalpractice, final)
}

// finalize runs once per session: drain both queues, then tear down in the
// background and tell the host. It may be called from any component's goroutine.
func (e *Engine) finalize(ctx context.Context, why string, h session.Handler, final exam.Session) {
	e.finalOnce.Do(func() {
		e.guard.Release()
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.RequestTimeout)
		defer cancel()
		if err := e.sync.FlushAll(fctx); err != nil {
			e.logger.Warn(ctx, "final flush incomplete", logger.String("reason", why), logger.Error(err))
		}
		e.logger.Info(ctx, "exam ended",
			logger.String("session_id", final.ID),
			logger.String("reason", why),
			logger.String("status", string(final.Status)))
		go e.stopOnce.Do(e.teardown)
		if h != nil {
			h(e.machine.Snapshot())
		}
	})
}

func (e *Engine) teardown() {
	e.runCancel()
	e.sync.Stop()
	e.analyzer.Stop()
	e.monitor.Detach()
	e.guard.Release()
	e.wg.Wait()
	close(e.done)
}
