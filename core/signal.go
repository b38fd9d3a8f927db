package core

import (
	"sync"
	"time"
)

// SignalKind labels cross-cutting notifications emitted by the scheduler
// and bridge loops.
type SignalKind string

const (
	// SignalAgentError reports a template hook failure (execution fault).
	SignalAgentError SignalKind = "agent_error"
	// SignalResourceWarning reports a resource gauge above its threshold.
	SignalResourceWarning SignalKind = "resource_warning"
	// SignalBridgeError reports a routing or delivery failure inside the
	// bridge drain loop.
	SignalBridgeError SignalKind = "bridge_error"
	// SignalGovernanceDenial reports an action blocked by governance.
	SignalGovernanceDenial SignalKind = "governance_denial"
)

// Signal is a diagnostic notification. Signals are advisory; dropping one
// under pressure never affects scheduling or routing.
type Signal struct {
	Kind      SignalKind     `json:"kind"`
	Source    string         `json:"source"`
	Error     string         `json:"error,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notifier fans signals into a bounded channel. Publishing never blocks:
// when the buffer is full the signal is counted as dropped instead of
// stalling a tick or drain loop.
type Notifier struct {
	mu      sync.Mutex
	ch      chan Signal
	dropped int64
	closed  bool
}

// NewNotifier creates a notifier with the given buffer capacity (minimum 1).
func NewNotifier(capacity int) *Notifier {
	if capacity < 1 {
		capacity = 1
	}
	return &Notifier{ch: make(chan Signal, capacity)}
}

// Publish offers a signal to the channel, stamping the time if unset.
func (n *Notifier) Publish(s Signal) {
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		n.dropped++
		return
	}
	select {
	case n.ch <- s:
	default:
		n.dropped++
	}
}

// Signals returns the receive side of the notification channel.
func (n *Notifier) Signals() <-chan Signal { return n.ch }

// Dropped returns how many signals were discarded due to a full buffer.
func (n *Notifier) Dropped() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

// Close closes the channel. Subsequent publishes are counted as dropped.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.closed = true
		close(n.ch)
	}
}
