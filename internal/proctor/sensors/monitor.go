package sensors

import (
	"context"
	"sync"
	"time"

	"github.com/okian/proctor/pkg/logger"
)

// VisibilityEvent reports a tab visibility change.
type VisibilityEvent struct {
	Hidden bool
	At     time.Time
}

// FocusEvent reports a window focus change.
type FocusEvent struct {
	Focused bool
	At      time.Time
}

// ClipboardOp names a clipboard action.
type ClipboardOp string

const (
	OpCopy  ClipboardOp = "copy"
	OpCut   ClipboardOp = "cut"
	OpPaste ClipboardOp = "paste"
)

// ClipboardEvent reports a clipboard action. Source is ignored for pastes.
type ClipboardEvent struct {
	Op     ClipboardOp
	Text   string
	Source Source
	At     time.Time
}

// KeyPress carries a key event and a hook to cancel its default action.
type KeyPress struct {
	Event   KeyEvent
	Prevent func()
}

// ContextMenuEvent carries a hook to cancel the secondary-click menu.
type ContextMenuEvent struct {
	Prevent func()
}

// Host capabilities. A host implements any subset; Attach checks for each.
type (
	VisibilitySource  interface{ VisibilityChanges() <-chan VisibilityEvent }
	FocusSource       interface{ FocusChanges() <-chan FocusEvent }
	ClipboardSource   interface{ ClipboardEvents() <-chan ClipboardEvent }
	KeySource         interface{ KeyPresses() <-chan KeyPress }
	ContextMenuSource interface{ ContextMenus() <-chan ContextMenuEvent }
)

// Monitor owns one instance of every sensor and pumps host events into them.
type Monitor struct {
	Visibility  *Visibility
	Focus       *Focus
	Clipboard   *Clipboard
	Keys        *Keys
	ContextMenu ContextMenu

	now    func() time.Time
	logger logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// MonitorOption configures a Monitor.
type MonitorOption func(*monitorOptions)

type monitorOptions struct {
	clipboard []ClipboardOption
	now       func() time.Time
	logger    logger.Logger
}

// WithClock stamps host events that arrive without a time.
func WithClock(now func() time.Time) MonitorOption {
	return func(o *monitorOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithClipboardOptions passes options to the clipboard sensor.
func WithClipboardOptions(opts ...ClipboardOption) MonitorOption {
	return func(o *monitorOptions) { o.clipboard = append(o.clipboard, opts...) }
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) MonitorOption {
	return func(o *monitorOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewMonitor creates every sensor over rec.
func NewMonitor(rec Recorder, opts ...MonitorOption) *Monitor {
	var o monitorOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = logger.Get().Named("sensors")
	}
	return &Monitor{
		Visibility: NewVisibility(rec),
		Focus:      NewFocus(rec),
		Clipboard:  NewClipboard(rec, o.clipboard...),
		Keys:       NewKeys(rec),
		now:        o.now,
		logger:     o.logger,
	}
}

// Attach starts pumping the capabilities host offers. Capabilities it lacks
// are skipped. A previous attachment is detached first.
func (m *Monitor) Attach(ctx context.Context, host any) {
	m.Detach()

	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, m.cancel = context.WithCancel(ctx)

	var attached []string
	if src, ok := host.(VisibilitySource); ok {
		if ch := src.VisibilityChanges(); ch != nil {
			attached = append(attached, "visibility")
			pump(ctx, &m.wg, ch, func(e VisibilityEvent) {
				e.At = m.stamp(e.At)
				if e.Hidden {
					m.Visibility.Hidden(e.At)
				} else {
					m.Visibility.Visible(e.At)
				}
			})
		}
	}
	if src, ok := host.(FocusSource); ok {
		if ch := src.FocusChanges(); ch != nil {
			attached = append(attached, "focus")
			pump(ctx, &m.wg, ch, func(e FocusEvent) {
				e.At = m.stamp(e.At)
				if e.Focused {
					m.Focus.Focused(e.At)
				} else {
					m.Focus.Blur(e.At)
				}
			})
		}
	}
	if src, ok := host.(ClipboardSource); ok {
		if ch := src.ClipboardEvents(); ch != nil {
			attached = append(attached, "clipboard")
			pump(ctx, &m.wg, ch, m.handleClipboard)
		}
	}
	if src, ok := host.(KeySource); ok {
		if ch := src.KeyPresses(); ch != nil {
			attached = append(attached, "keys")
			pump(ctx, &m.wg, ch, func(p KeyPress) {
				p.Event.At = m.stamp(p.Event.At)
				if m.Keys.Handle(p.Event) && p.Prevent != nil {
					p.Prevent()
				}
			})
		}
	}
	if src, ok := host.(ContextMenuSource); ok {
		if ch := src.ContextMenus(); ch != nil {
			attached = append(attached, "context_menu")
			pump(ctx, &m.wg, ch, func(e ContextMenuEvent) {
				if m.ContextMenu.Handle() && e.Prevent != nil {
					e.Prevent()
				}
			})
		}
	}
	m.logger.Debug(ctx, "sensors attached", logger.Any("capabilities", attached))
}

func (m *Monitor) handleClipboard(e ClipboardEvent) {
	e.At = m.stamp(e.At)
	switch e.Op {
	case OpCopy:
		m.Clipboard.Copy(e.Text, e.Source, e.At)
	case OpCut:
		m.Clipboard.Cut(e.Text, e.Source, e.At)
	case OpPaste:
		m.Clipboard.Paste(e.Text, e.At)
	}
}

// stamp returns at, or the monitor's clock when the host left it unset.
func (m *Monitor) stamp(at time.Time) time.Time {
	if at.IsZero() {
		return m.now()
	}
	return at
}

// Detach stops every pump and waits for them to exit. Safe to call repeatedly.
func (m *Monitor) Detach() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

func pump[T any](ctx context.Context, wg *sync.WaitGroup, ch <-chan T, handle func(T)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				handle(e)
			}
		}
	}()
}
