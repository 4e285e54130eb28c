// Package sensors turns raw environment signals (tab visibility, window
// focus, clipboard activity, key presses) into violation logs.
//
// Every sensor takes the event time explicitly so hosts can replay recorded
// input and tests can run in virtual time.
package sensors

import (
	"sync"
	"time"

	"github.com/okian/proctor/internal/domain/violation"
)

// Recorder accepts violation logs. The aggregator satisfies it.
type Recorder interface {
	Record(l violation.Log) bool
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(l violation.Log) bool

// Record calls f(l).
func (f RecorderFunc) Record(l violation.Log) bool { return f(l) }

// transition emits one log per away/back cycle carrying the time spent away.
type transition struct {
	rec    Recorder
	typ    violation.Type
	reason string

	mu    sync.Mutex
	away  bool
	since time.Time
}

func (t *transition) leave(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.away {
		return
	}
	t.away = true
	t.since = now
}

func (t *transition) back(now time.Time) bool {
	t.mu.Lock()
	if !t.away {
		t.mu.Unlock()
		return false
	}
	t.away = false
	d := now.Sub(t.since)
	t.mu.Unlock()

	if d < 0 {
		d = 0
	}
	t.rec.Record(violation.New(t.typ, now).WithReason(t.reason).WithDuration(d))
	return true
}

func (t *transition) isAway() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.away
}

// Visibility tracks the tab hidden/visible cycle.
type Visibility struct{ t transition }

// NewVisibility creates a visibility sensor.
func NewVisibility(rec Recorder) *Visibility {
	return &Visibility{t: transition{rec: rec, typ: violation.TabSwitch, reason: violation.ReasonTabVisible}}
}

// Hidden marks the tab hidden. Repeated calls while hidden keep the first start time.
func (v *Visibility) Hidden(now time.Time) { v.t.leave(now) }

// Visible ends a hidden period and reports whether a log was emitted.
func (v *Visibility) Visible(now time.Time) bool { return v.t.back(now) }

// IsHidden reports whether the tab is currently hidden.
func (v *Visibility) IsHidden() bool { return v.t.isAway() }

// Focus tracks the window blur/focus cycle.
type Focus struct{ t transition }

// NewFocus creates a focus sensor.
func NewFocus(rec Recorder) *Focus {
	return &Focus{t: transition{rec: rec, typ: violation.WindowBlur, reason: violation.ReasonWindowFocus}}
}

// Blur marks the window unfocused.
func (f *Focus) Blur(now time.Time) { f.t.leave(now) }

// Focused ends a blur period and reports whether a log was emitted.
func (f *Focus) Focused(now time.Time) bool { return f.t.back(now) }

// IsBlurred reports whether the window is currently unfocused.
func (f *Focus) IsBlurred() bool { return f.t.isAway() }

// ContextMenu suppresses the secondary-click menu. It never logs.
type ContextMenu struct{}

// Handle reports that the default action must be suppressed.
func (ContextMenu) Handle() bool { return true }
