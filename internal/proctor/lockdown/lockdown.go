// Package lockdown keeps the candidate on the exam page while a session is
// active: back-navigation is undone and leaving the page asks for confirmation.
package lockdown

import (
	"context"
	"sync"

	"github.com/okian/proctor/pkg/logger"
)

// Messages shown to the candidate.
const (
	BackBlockedMessage = "Navigation is disabled during the exam."
	LeaveMessage       = "Leaving this page will end your exam. Are you sure?"
)

// Navigator is the host's history and unload control.
type Navigator interface {
	// Location returns the current page location.
	Location() string
	// PushState adds a history entry for location.
	PushState(location string)
	// SetLeaveGuard arms or disarms the native leave confirmation.
	SetLeaveGuard(enabled bool)
}

// Controller guards navigation for the lifetime of a session.
type Controller struct {
	nav    Navigator
	active func() bool
	warn   func(msg string)
	logger logger.Logger

	mu       sync.Mutex
	engaged  bool
	location string
}

// Option applies a configuration option to the Controller.
type Option func(*Controller)

// WithWarn sets the callback used to tell the candidate a navigation was blocked.
func WithWarn(fn func(msg string)) Option {
	return func(c *Controller) {
		c.warn = fn
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a disengaged controller. active reports whether the session
// is currently running; the guard only bites while it returns true.
func New(nav Navigator, active func() bool, opts ...Option) *Controller {
	c := &Controller{nav: nav, active: active}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("lockdown")
	}
	if c.active == nil {
		c.active = func() bool { return false }
	}
	return c
}

// Engage pushes a guard history entry and arms the leave confirmation.
// Engaging twice is a no-op.
func (c *Controller) Engage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engaged || c.nav == nil {
		return
	}
	c.location = c.nav.Location()
	c.nav.PushState(c.location)
	c.nav.SetLeaveGuard(true)
	c.engaged = true
	c.logger.Debug(context.Background(), "navigation lockdown engaged", logger.String("location", c.location))
}

// OnPopState handles a back/forward navigation. While the session is
// active it re-asserts the exam location, warns, and reports true.
func (c *Controller) OnPopState() bool {
	c.mu.Lock()
	if !c.engaged || !c.active() {
		c.mu.Unlock()
		return false
	}
	c.nav.PushState(c.location)
	warn := c.warn
	c.mu.Unlock()

	if warn != nil {
		warn(BackBlockedMessage)
	}
	return true
}

// OnBeforeUnload reports whether the host must show the leave confirmation.
func (c *Controller) OnBeforeUnload() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engaged && c.active()
}

// Engaged reports whether the guard is armed.
func (c *Controller) Engaged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engaged
}

// Release disarms the guard. Safe to call repeatedly.
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.engaged {
		return
	}
	c.nav.SetLeaveGuard(false)
	c.engaged = false
	c.logger.Debug(context.Background(), "navigation lockdown released")
}
