package sensors

import (
	"strings"
	"time"

	"github.com/okian/proctor/internal/domain/violation"
)

// KeyEvent is one key press with its modifier state.
type KeyEvent struct {
	Key   string
	Ctrl  bool
	Meta  bool
	Shift bool
	Alt   bool
	At    time.Time
}

// Combo renders the event as "Ctrl+Shift+I".
func (e KeyEvent) Combo() string {
	var parts []string
	if e.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if e.Meta {
		parts = append(parts, "Cmd")
	}
	if e.Alt {
		parts = append(parts, "Alt")
	}
	if e.Shift {
		parts = append(parts, "Shift")
	}
	return strings.Join(append(parts, strings.ToUpper(e.Key)), "+")
}

// Keys blocks developer-tool and view-source shortcuts.
type Keys struct {
	rec Recorder
}

// NewKeys creates a key-combo sensor.
func NewKeys(rec Recorder) *Keys {
	return &Keys{rec: rec}
}

// Handle logs a blocked combo and reports whether the default action must be suppressed.
func (k *Keys) Handle(e KeyEvent) bool {
	reason, blocked := classifyKey(e)
	if !blocked {
		return false
	}
	k.rec.Record(violation.New(violation.DisallowedKey, e.At).WithReason(reason).WithContext(e.Combo()))
	return true
}

func classifyKey(e KeyEvent) (string, bool) {
	key := strings.ToUpper(e.Key)
	if key == "F12" {
		return violation.ReasonDevtoolsShortcut, true
	}
	mod := e.Ctrl || e.Meta
	switch key {
	case "I", "J", "C":
		// Ctrl/Cmd+Shift+I/J/C, and Cmd+Alt+I/J/C on macOS.
		if (mod && e.Shift) || (e.Meta && e.Alt) {
			return violation.ReasonDevtoolsShortcut, true
		}
	case "U":
		if mod {
			return violation.ReasonViewSourceShortcut, true
		}
	}
	return "", false
}
