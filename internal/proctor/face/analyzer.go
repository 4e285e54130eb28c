// Package face estimates how many faces are in front of the camera and
// whether the candidate is looking at the screen, and turns sustained
// anomalies into violation logs.
//
// Sampling and logging are decoupled: frames are classified on every
// analysis tick, but a violation of a given type is only logged when the
// previous one of that type is older than its cooldown.
package face

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/proctor/internal/domain/violation"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

// Recorder accepts violation logs.
type Recorder interface {
	Record(l violation.Log) bool
}

// Observation is the classification of one analyzed frame.
type Observation struct {
	Faces int
	Gaze  Gaze
}

// Snapshot is a read-only view of the analyzer's runtime state.
type Snapshot struct {
	CameraActive        bool
	FaceDetectionActive bool
	FaceCount           int
	Gaze                Gaze
	LastDetected        time.Time
	Tier                string
}

// Analyzer owns the capture stream, the chosen detector and the cooldown state.
type Analyzer struct {
	rec     Recorder
	capture Capture
	loaders []Loader
	surface Surface
	logger  logger.Logger
	now     func() time.Time

	analysisInterval time.Duration
	healthInterval   time.Duration
	detectionTimeout time.Duration
	cooldowns        map[violation.Type]time.Duration
	gaze             GazeEstimator
	pauseAfter       time.Duration
	onAbsence        func(reason string)
	onRestored       func()

	mu           sync.Mutex
	stream       Stream
	attached     bool
	tier         Tier
	healthy      bool
	faceCount    int
	gazeState    Gaze
	lastDetected time.Time
	lastEmitted  map[violation.Type]time.Time
	absentSince  time.Time
	noFaceAnchor time.Time
	absent       bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAnalyzer creates an idle analyzer. Nothing is acquired until Start.
func NewAnalyzer(rec Recorder, capture Capture, opts ...Option) *Analyzer {
	a := &Analyzer{
		rec:              rec,
		capture:          capture,
		now:              time.Now,
		analysisInterval: DefaultAnalysisInterval,
		healthInterval:   DefaultHealthCheckInterval,
		detectionTimeout: DefaultDetectionTimeout,
		cooldowns: map[violation.Type]time.Duration{
			violation.NoFace:               10 * time.Second,
			violation.MultipleFaces:        10 * time.Second,
			violation.LookingAway:          5 * time.Second,
			violation.FaceDetectionTimeout: 10 * time.Second,
		},
		gaze:        GazeEstimator{Tolerance: defaultGazeTolerance, NeutralPitch: defaultNeutralPitch},
		lastEmitted: make(map[violation.Type]time.Time),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logger.Get().Named("face")
	}
	return a
}

// Start acquires the stream, selects a detector tier and starts the health
// and analysis loops. A capture failure is logged as camera_failure and
// returned as *CameraError. A missing detector is not an error: the camera
// stays on and face monitoring is disabled. Start on a running analyzer is a no-op.
func (a *Analyzer) Start(ctx context.Context) error {
	a.mu.Lock()
	running := a.stream != nil
	a.mu.Unlock()
	if running {
		return nil
	}
	if a.capture == nil {
		return a.cameraFailed(&CameraError{Reason: violation.ReasonUnsupported, Err: ErrUnsupported})
	}

	stream, err := a.capture.Open(ctx)
	if err != nil {
		return a.cameraFailed(&CameraError{Reason: classifyCamera(err), Err: err})
	}

	tier, terr := SelectTier(ctx, a.loaders...)

	a.mu.Lock()
	if a.stream != nil {
		a.mu.Unlock()
		_ = stream.Close()
		return nil
	}
	a.stream = stream
	a.tier = tier
	a.healthy = true
	a.faceCount = 0
	a.gazeState = GazeUnknown
	a.absentSince, a.noFaceAnchor = time.Time{}, time.Time{}
	a.absent = false
	// ctx bounds acquisition only; the loops end on Stop.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	if a.surface != nil {
		a.surface.Attach(stream)
		a.attached = true
	}
	a.loop(runCtx, a.healthInterval, a.CheckHealth)
	if terr == nil {
		a.loop(runCtx, a.analysisInterval, func(now time.Time) { a.Analyze(runCtx, now) })
	}
	a.mu.Unlock()

	if terr != nil {
		a.logger.Warn(ctx, "face detection disabled", logger.Error(terr))
		metrics.RecordCameraFailure(violation.ReasonDetectorUnavailable)
		a.rec.Record(violation.New(violation.CameraFailure, a.now()).
			WithReason(violation.ReasonDetectorUnavailable).
			WithContext("face monitoring disabled"))
		return nil
	}
	a.logger.Info(ctx, "face analyzer started", logger.String("tier", tier.Name))
	return nil
}

func (a *Analyzer) cameraFailed(cerr *CameraError) error {
	metrics.RecordCameraFailure(cerr.Reason)
	a.logger.Warn(context.Background(), "camera unavailable", logger.String("reason", cerr.Reason), logger.Error(cerr.Err))
	a.rec.Record(violation.New(violation.CameraFailure, a.now()).WithReason(cerr.Reason))
	return cerr
}

func (a *Analyzer) loop(ctx context.Context, every time.Duration, tick func(now time.Time)) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick(a.now())
			}
		}
	}()
}

// CheckHealth logs camera_failure once when the stream loses its live tracks.
func (a *Analyzer) CheckHealth(now time.Time) {
	a.mu.Lock()
	stream := a.stream
	a.mu.Unlock()
	if stream == nil {
		return
	}

	tracks := stream.Tracks()
	ok := len(tracks) > 0
	for _, t := range tracks {
		if t.State != TrackLive {
			ok = false
		}
	}

	a.mu.Lock()
	if a.stream != stream {
		a.mu.Unlock()
		return
	}
	wasHealthy := a.healthy
	a.healthy = ok
	a.mu.Unlock()

	if wasHealthy && !ok {
		metrics.RecordCameraFailure(violation.ReasonTrackEnded)
		a.rec.Record(violation.New(violation.CameraFailure, now).
			WithReason(violation.ReasonTrackEnded).
			WithContext(fmt.Sprintf("tracks=%d", len(tracks))))
	}
}

type detectResult struct {
	faces []Face
	err   error
}

// Analyze grabs one frame, runs the detector under the detection deadline,
// and feeds the result to Observe.
func (a *Analyzer) Analyze(ctx context.Context, now time.Time) {
	a.mu.Lock()
	stream, tier := a.stream, a.tier
	a.mu.Unlock()
	if stream == nil || tier.Detector == nil {
		return
	}

	dctx, cancel := context.WithTimeout(ctx, a.detectionTimeout)
	defer cancel()

	frame, err := stream.Frame(dctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			a.detectionTimedOut(now)
			return
		}
		metrics.RecordFaceDetectorError()
		a.logger.Debug(ctx, "frame grab failed", logger.Error(err))
		return
	}

	// Detectors are not trusted to honour ctx.
	done := make(chan detectResult, 1)
	go func() {
		faces, err := tier.Detector.Detect(dctx, frame)
		done <- detectResult{faces: faces, err: err}
	}()

	var res detectResult
	select {
	case res = <-done:
	case <-dctx.Done():
		if ctx.Err() == nil {
			a.detectionTimedOut(now)
		}
		return
	}
	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) {
			a.detectionTimedOut(now)
			return
		}
		metrics.RecordFaceDetectorError()
		a.logger.Debug(ctx, "face detection failed", logger.Error(res.err))
		return
	}
	metrics.RecordFaceAnalysisTick(tier.Name)

	obs := Observation{Faces: len(res.faces)}
	if len(res.faces) == 1 && res.faces[0].Landmarks != nil {
		obs.Gaze, _, _ = a.gaze.Estimate(*res.faces[0].Landmarks)
	}
	a.Observe(now, obs)
}

func (a *Analyzer) detectionTimedOut(now time.Time) {
	a.mu.Lock()
	emit := a.gate(violation.FaceDetectionTimeout, now)
	a.mu.Unlock()
	if emit {
		a.rec.Record(violation.New(violation.FaceDetectionTimeout, now).
			WithReason(violation.ReasonDetectionTimeout).
			WithDuration(a.detectionTimeout))
	}
}

// gate reports whether a log of type t may be emitted at now and, if so,
// marks it emitted. Callers hold a.mu.
func (a *Analyzer) gate(t violation.Type, now time.Time) bool {
	if last, ok := a.lastEmitted[t]; ok && now.Sub(last) < a.cooldowns[t] {
		return false
	}
	a.lastEmitted[t] = now
	return true
}

// Observe applies the classification contract to one sample.
func (a *Analyzer) Observe(now time.Time, obs Observation) {
	var (
		emit       []violation.Log
		wentAbsent bool
		restored   bool
		absentFor  time.Duration
	)

	a.mu.Lock()
	a.faceCount = obs.Faces
	switch {
	case obs.Faces <= 0:
		a.faceCount = 0
		a.gazeState = GazeUnknown
		if a.absentSince.IsZero() {
			a.absentSince = now
			a.noFaceAnchor = now
		}
		absentFor = now.Sub(a.absentSince)
		if now.Sub(a.noFaceAnchor) >= a.cooldowns[violation.NoFace] {
			emit = append(emit, violation.New(violation.NoFace, now).
				WithReason(violation.ReasonNoFace).
				WithDuration(absentFor))
			a.noFaceAnchor = now
			a.lastEmitted[violation.NoFace] = now
		}
		if a.pauseAfter > 0 && !a.absent && absentFor >= a.pauseAfter {
			a.absent = true
			wentAbsent = true
		}
	default:
		a.absentSince, a.noFaceAnchor = time.Time{}, time.Time{}
		a.lastDetected = now
		if a.absent {
			a.absent = false
			restored = true
		}
		if obs.Faces == 1 {
			a.gazeState = obs.Gaze
			if obs.Gaze == GazeAway && a.gate(violation.LookingAway, now) {
				emit = append(emit, violation.New(violation.LookingAway, now).WithReason(violation.ReasonLookingAway))
			}
		} else {
			a.gazeState = GazeUnknown
			if a.gate(violation.MultipleFaces, now) {
				emit = append(emit, violation.New(violation.MultipleFaces, now).
					WithReason(violation.ReasonMultipleFaces).
					WithContext(fmt.Sprintf("faces=%d", obs.Faces)))
			}
		}
	}
	a.mu.Unlock()

	for _, l := range emit {
		a.rec.Record(l)
	}
	if wentAbsent && a.onAbsence != nil {
		a.onAbsence(fmt.Sprintf("No face detected for %d seconds", violation.Seconds(absentFor)))
	}
	if restored && a.onRestored != nil {
		a.onRestored()
	}
}

// Stop releases the stream, stops both loops and detaches the surface.
// Safe to call repeatedly and before Start.
func (a *Analyzer) Stop() {
	a.mu.Lock()
	cancel, stream, attached := a.cancel, a.stream, a.attached
	a.cancel, a.stream, a.attached = nil, nil, false
	a.tier = Tier{}
	a.healthy = false
	a.faceCount = 0
	a.gazeState = GazeUnknown
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
	if attached {
		a.surface.Detach()
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			a.logger.Warn(context.Background(), "closing camera stream", logger.Error(err))
		}
		a.logger.Info(context.Background(), "face analyzer stopped")
	}
}

// Snapshot returns the current runtime state.
func (a *Analyzer) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		CameraActive:        a.stream != nil && a.healthy,
		FaceDetectionActive: a.stream != nil && a.tier.Detector != nil,
		FaceCount:           a.faceCount,
		Gaze:                a.gazeState,
		LastDetected:        a.lastDetected,
		Tier:                a.tier.Name,
	}
}
