// Package aggregator is the single sink every detected violation flows
// through. It keeps the ordered in-memory log, applies per-type cooldowns, and
// fans each accepted entry out to the escalation observer and the outbound
// forwarders.
package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/okian/proctor/internal/domain/violation"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

// Observer is told about every accepted entry together with the running total.
type Observer func(l violation.Log, total int)

// Forwarder receives a copy of every accepted entry. Forward must not block.
type Forwarder interface {
	Forward(l violation.Log)
}

// ForwarderFunc adapts a function to Forwarder.
type ForwarderFunc func(l violation.Log)

// Forward calls f(l).
func (f ForwarderFunc) Forward(l violation.Log) { f(l) }

// Aggregator appends violations in insertion order. Safe for concurrent use.
type Aggregator struct {
	mu        sync.RWMutex
	logs      []violation.Log
	lastAt    map[violation.Type]int64
	cooldowns map[violation.Type]time.Duration

	observers  []Observer
	forwarders []Forwarder
	logger     logger.Logger
}

// New creates an empty Aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		lastAt:    make(map[violation.Type]int64),
		cooldowns: make(map[violation.Type]time.Duration),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logger.Get().Named("aggregator")
	}
	return a
}

// Record appends l unless it is invalid or inside the per-type cooldown, and
// reports whether l was kept. Entries sharing a type and millisecond are all
// kept; Seq is set to the entry's position so their keys stay distinct.
// Observers and forwarders run after the log lock is released.
func (a *Aggregator) Record(l violation.Log) bool {
	ctx := context.Background()
	if err := l.Validate(); err != nil {
		metrics.RecordViolationRejected("invalid")
		a.logger.Warn(ctx, "dropping invalid violation", logger.Error(err))
		return false
	}

	a.mu.Lock()
	if cd, ok := a.cooldowns[l.Type]; ok && cd > 0 {
		if last, ok := a.lastAt[l.Type]; ok && l.Timestamp-last < cd.Milliseconds() {
			a.mu.Unlock()
			metrics.RecordViolationRejected("cooldown")
			return false
		}
	}
	a.lastAt[l.Type] = l.Timestamp
	l.Seq = len(a.logs) + 1
	a.logs = append(a.logs, l)
	total := len(a.logs)
	observers := a.observers
	forwarders := a.forwarders
	a.mu.Unlock()

	metrics.RecordViolation(string(l.Type))
	a.logger.Debug(ctx, "violation recorded",
		logger.String("type", string(l.Type)),
		logger.String("reason", l.Reason),
		logger.Int("total", total))

	for _, obs := range observers {
		obs(l, total)
	}
	for _, f := range forwarders {
		f.Forward(l)
	}
	return true
}

// Count returns the number of recorded violations.
func (a *Aggregator) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.logs)
}

// Logs returns a copy of the full ordered log.
func (a *Aggregator) Logs() []violation.Log {
	return a.Since(0)
}

// Since returns a copy of the entries after the first offset ones.
func (a *Aggregator) Since(offset int) []violation.Log {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(a.logs) {
		return nil
	}
	out := make([]violation.Log, len(a.logs)-offset)
	copy(out, a.logs[offset:])
	return out
}

// Subscribe adds an observer after construction.
func (a *Aggregator) Subscribe(obs Observer) {
	if obs == nil {
		return
	}
	a.mu.Lock()
	a.observers = append(a.observers[:len(a.observers):len(a.observers)], obs)
	a.mu.Unlock()
}

// AddForwarder adds a forwarder after construction.
func (a *Aggregator) AddForwarder(f Forwarder) {
	if f == nil {
		return
	}
	a.mu.Lock()
	a.forwarders = append(a.forwarders[:len(a.forwarders):len(a.forwarders)], f)
	a.mu.Unlock()
}
