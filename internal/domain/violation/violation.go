// Package violation defines the violation log entry, its closed type
// vocabulary, and the batch shape sent from the engine to the backend.
package violation

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Type is the closed vocabulary of violation kinds.
type Type string

const (
	CameraFailure        Type = "camera_failure"
	TabSwitch            Type = "tab_switch"
	WindowBlur           Type = "window_blur"
	CopyAttempt          Type = "copy_attempt"
	PasteAttempt         Type = "paste_attempt"
	CutAttempt           Type = "cut_attempt"
	DisallowedKey        Type = "disallowed_key"
	NoFace               Type = "no_face"
	MultipleFaces        Type = "multiple_faces"
	LookingAway          Type = "looking_away"
	FaceDetectionTimeout Type = "face_detection_timeout"
	AutoFail             Type = "auto_fail"
)

var allTypes = []Type{
	CameraFailure, TabSwitch, WindowBlur, CopyAttempt, PasteAttempt, CutAttempt,
	DisallowedKey, NoFace, MultipleFaces, LookingAway, FaceDetectionTimeout, AutoFail,
}

// Types returns every known violation type.
func Types() []Type {
	out := make([]Type, len(allTypes))
	copy(out, allTypes)
	return out
}

// Valid reports whether t belongs to the vocabulary.
func (t Type) Valid() bool {
	for _, k := range allTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Reason codes carried in Log.Reason.
const (
	ReasonTabVisible          = "TAB_VISIBLE"
	ReasonWindowFocus         = "WINDOW_FOCUS"
	ReasonExternalPaste       = "EXTERNAL_PASTE"
	ReasonQuestionCopy        = "QUESTION_COPY"
	ReasonQuestionCut         = "QUESTION_CUT"
	ReasonDevtoolsShortcut    = "DEVTOOLS_SHORTCUT"
	ReasonViewSourceShortcut  = "VIEW_SOURCE_SHORTCUT"
	ReasonNoFace              = "NO_FACE"
	ReasonMultipleFaces       = "MULTIPLE_FACES"
	ReasonLookingAway         = "LOOKING_AWAY"
	ReasonDetectionTimeout    = "DETECTION_TIMEOUT"
	ReasonPermissionDenied    = "PERMISSION_DENIED"
	ReasonNoDevice            = "NO_DEVICE"
	ReasonDeviceBusy          = "DEVICE_BUSY"
	ReasonUnsupported         = "UNSUPPORTED"
	ReasonTrackEnded          = "TRACK_ENDED"
	ReasonDetectorUnavailable = "DETECTOR_UNAVAILABLE"
	ReasonMaxViolations       = "MAX_VIOLATIONS"
)

// Sentinel validation errors.
var (
	ErrInvalidType      = errors.New("invalid violation type")
	ErrMissingTimestamp = errors.New("violation timestamp is required")
	ErrNegativeDuration = errors.New("violation duration must not be negative")
	ErrNegativeSeq      = errors.New("violation seq must not be negative")
	ErrMissingSession   = errors.New("session_id is required")
	ErrEmptyBatch       = errors.New("batch has no violations")
)

// Log is one recorded violation. Values are never mutated after creation;
// the With* helpers return modified copies.
type Log struct {
	Type   Type   `json:"type"`
	Reason string `json:"reason,omitempty"`
	// Duration is in whole seconds.
	Duration  int    `json:"duration,omitempty"`
	Context   string `json:"context,omitempty"`
	Timestamp int64  `json:"timestamp"`
	// Seq is the 1-based position in the session's log, set by the recorder.
	// It keeps entries of one type within the same millisecond apart.
	Seq int `json:"seq,omitempty"`
}

// New creates a Log of type t stamped at the given instant (epoch ms).
func New(t Type, at time.Time) Log {
	return Log{Type: t, Timestamp: at.UnixMilli()}
}

func (l Log) WithReason(reason string) Log {
	l.Reason = reason
	return l
}

// WithDuration sets the duration rounded to the nearest second.
func (l Log) WithDuration(d time.Duration) Log {
	l.Duration = Seconds(d)
	return l
}

func (l Log) WithContext(context string) Log {
	l.Context = context
	return l
}

// Time returns the timestamp as a time.Time.
func (l Log) Time() time.Time {
	return time.UnixMilli(l.Timestamp)
}

// Validate checks the fields every consumer relies on.
func (l Log) Validate() error {
	if !l.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, l.Type)
	}
	if l.Timestamp <= 0 {
		return ErrMissingTimestamp
	}
	if l.Duration < 0 {
		return ErrNegativeDuration
	}
	if l.Seq < 0 {
		return ErrNegativeSeq
	}
	return nil
}

// Key is the idempotency fingerprint of l within a session.
func (l Log) Key(sessionID string) string {
	key := sessionID + "|" + string(l.Type) + "|" + strconv.FormatInt(l.Timestamp, 10)
	if l.Seq > 0 {
		key += "#" + strconv.Itoa(l.Seq)
	}
	return key
}

// Seconds rounds d to whole seconds.
func Seconds(d time.Duration) int {
	return int(math.Round(d.Seconds()))
}

// Batch is the body of POST /violations.
type Batch struct {
	SessionID   string `json:"session_id"`
	CandidateID string `json:"candidate_id,omitempty"`
	JobID       string `json:"job_id,omitempty"`
	Violations  []Log  `json:"violations"`
}

// Validate checks the batch and every entry in it.
func (b Batch) Validate() error {
	if b.SessionID == "" {
		return ErrMissingSession
	}
	if len(b.Violations) == 0 {
		return ErrEmptyBatch
	}
	for i, l := range b.Violations {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("violations[%d]: %w", i, err)
		}
	}
	return nil
}

// Fingerprint identifies the batch content so a retried POST of the same
// batch can be acknowledged without reprocessing.
func (b Batch) Fingerprint() string {
	h := sha256.New()
	for _, l := range b.Violations {
		h.Write([]byte(l.Key(b.SessionID)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
