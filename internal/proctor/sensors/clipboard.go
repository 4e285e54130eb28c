package sensors

import (
	"crypto/sha256"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/okian/proctor/internal/domain/violation"
)

// Source is the surface a copy or cut came from.
type Source string

const (
	// SourceEditor is the candidate's own answer area.
	SourceEditor Source = "editor"
	// SourceQuestion is the question text shown to the candidate.
	SourceQuestion Source = "question"
)

// Paste context values.
const (
	ContextExternalPaste   = "external_paste"
	ContextSuspiciousPaste = "suspicious_large_paste"
)

const (
	defaultPasteMinLength        = 20
	defaultPasteSuspiciousLength = 200
)

// Clipboard tells internal round-trips apart from external pastes. Only a
// hash of the last internal copy is kept.
type Clipboard struct {
	rec           Recorder
	minLen        int
	suspiciousLen int

	mu       sync.Mutex
	internal [sha256.Size]byte
	has      bool
}

// ClipboardOption configures a Clipboard.
type ClipboardOption func(*Clipboard)

// WithPasteMinLength ignores external pastes of at most n characters.
func WithPasteMinLength(n int) ClipboardOption {
	return func(c *Clipboard) {
		if n >= 0 {
			c.minLen = n
		}
	}
}

// WithPasteSuspiciousLength flags pastes longer than n characters.
func WithPasteSuspiciousLength(n int) ClipboardOption {
	return func(c *Clipboard) {
		if n > 0 {
			c.suspiciousLen = n
		}
	}
}

// NewClipboard creates a clipboard sensor.
func NewClipboard(rec Recorder, opts ...ClipboardOption) *Clipboard {
	c := &Clipboard{rec: rec, minLen: defaultPasteMinLength, suspiciousLen: defaultPasteSuspiciousLength}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Copy handles a copy. Editor copies become the internal clipboard; copies of
// question text are logged.
func (c *Clipboard) Copy(text string, src Source, now time.Time) bool {
	return c.take(text, src, now, violation.CopyAttempt, violation.ReasonQuestionCopy)
}

// Cut handles a cut, with the same rules as Copy.
func (c *Clipboard) Cut(text string, src Source, now time.Time) bool {
	return c.take(text, src, now, violation.CutAttempt, violation.ReasonQuestionCut)
}

func (c *Clipboard) take(text string, src Source, now time.Time, typ violation.Type, reason string) bool {
	if src != SourceQuestion {
		c.mu.Lock()
		c.internal = sha256.Sum256([]byte(text))
		c.has = true
		c.mu.Unlock()
		return false
	}
	if text == "" {
		return false
	}
	return c.rec.Record(violation.New(typ, now).
		WithReason(reason).
		WithContext("length=" + strconv.Itoa(utf8.RuneCountInString(text))))
}

// Paste handles a paste into the answer area and reports whether it was logged.
func (c *Clipboard) Paste(text string, now time.Time) bool {
	sum := sha256.Sum256([]byte(text))
	c.mu.Lock()
	internal := c.has && sum == c.internal
	c.mu.Unlock()
	if internal {
		return false
	}

	n := utf8.RuneCountInString(text)
	if n <= c.minLen {
		return false
	}
	ctx := ContextExternalPaste
	if n > c.suspiciousLen {
		ctx = ContextSuspiciousPaste
	}
	return c.rec.Record(violation.New(violation.PasteAttempt, now).
		WithReason(violation.ReasonExternalPaste).
		WithContext(ctx + " length=" + strconv.Itoa(n)))
}
