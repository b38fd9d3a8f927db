package testutil

import (
	"errors"
	"sync"

	"github.com/hupe1980/agentbridge/core"
)

// RecorderPlatform is a configurable platform double. It records every
// envelope it receives and returns a canned result, an error, or a panic,
// depending on configuration. It also implements the optional sync and
// tunnel hooks so bridge tests can exercise them.
type RecorderPlatform struct {
	mu sync.Mutex

	// Result is returned from ReceiveMessage when Err and PanicMsg are unset.
	Result any
	// Err, when set, is returned from ReceiveMessage.
	Err error
	// PanicMsg, when set, makes ReceiveMessage panic.
	PanicMsg string
	// SyncData is returned from GetSyncData when non-nil.
	SyncData map[string]any

	received []core.Envelope
	applied  []map[string]any
	recorded []map[string]any
	tunnels  []string
}

// NewRecorderPlatform creates an empty recorder.
func NewRecorderPlatform() *RecorderPlatform { return &RecorderPlatform{} }

// ReceiveMessage records the envelope and responds per configuration.
func (p *RecorderPlatform) ReceiveMessage(env core.Envelope) (any, error) {
	p.mu.Lock()
	p.received = append(p.received, env)
	p.mu.Unlock()
	if p.PanicMsg != "" {
		panic(p.PanicMsg)
	}
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Result, nil
}

// Received returns a copy of all recorded envelopes.
func (p *RecorderPlatform) Received() []core.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.Envelope, len(p.received))
	copy(out, p.received)
	return out
}

// GetSyncData returns the configured sync contribution.
func (p *RecorderPlatform) GetSyncData() map[string]any {
	if p.SyncData == nil {
		return map[string]any{}
	}
	return p.SyncData
}

// ApplySyncData records the pushed aggregate.
func (p *RecorderPlatform) ApplySyncData(data map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, data)
}

// Applied returns every aggregate pushed via ApplySyncData.
func (p *RecorderPlatform) Applied() []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]map[string]any(nil), p.applied...)
}

// RecordSync records the privileged full aggregate (sink hook).
func (p *RecorderPlatform) RecordSync(data map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recorded = append(p.recorded, data)
}

// Recorded returns every aggregate handed to RecordSync.
func (p *RecorderPlatform) Recorded() []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]map[string]any(nil), p.recorded...)
}

// OnTunnelCreated records the peer platform name.
func (p *RecorderPlatform) OnTunnelCreated(_, otherPlatform string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tunnels = append(p.tunnels, otherPlatform)
}

// TunnelPeers returns the peers observed via OnTunnelCreated.
func (p *RecorderPlatform) TunnelPeers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tunnels...)
}

// HandlerlessPlatform exposes no message handler at all. Delivering to it
// yields a warning result instead of an error.
type HandlerlessPlatform struct{}

// BridgeHandlerPlatform exposes only HandleBridgeMessage, to exercise the
// secondary handler path.
type BridgeHandlerPlatform struct {
	mu       sync.Mutex
	received []core.Envelope
}

// HandleBridgeMessage records the envelope.
func (p *BridgeHandlerPlatform) HandleBridgeMessage(env core.Envelope) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = append(p.received, env)
	return map[string]any{"handled": true}, nil
}

// Received returns a copy of all recorded envelopes.
func (p *BridgeHandlerPlatform) Received() []core.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.Envelope, len(p.received))
	copy(out, p.received)
	return out
}

// ErrPlatformFailure is a reusable failure sentinel for platform doubles.
var ErrPlatformFailure = errors.New("platform failure")
