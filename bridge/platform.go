package bridge

import (
	"github.com/hupe1980/agentbridge/core"
)

// The platform contract is structural: a registered platform is any value
// exposing at least one of the two message handlers below. The optional
// interfaces are probed with type assertions at the call site, mirroring
// how the bridge discovers capabilities at delivery time.

// MessageReceiver is the primary inbound handler. The bridge prefers it
// over HandleBridgeMessage when a platform exposes both.
type MessageReceiver interface {
	ReceiveMessage(env core.Envelope) (any, error)
}

// BridgeMessageHandler is the alternative inbound handler for platforms
// that distinguish bridge traffic from direct messages.
type BridgeMessageHandler interface {
	HandleBridgeMessage(env core.Envelope) (any, error)
}

// StateExporter lets a platform expose a state snapshot to peers.
type StateExporter interface {
	ExportState(opts map[string]any) map[string]any
}

// SyncSource contributes data to a synchronization round.
type SyncSource interface {
	GetSyncData() map[string]any
}

// SyncTarget receives the aggregate of a synchronization round.
type SyncTarget interface {
	ApplySyncData(data map[string]any)
}

// SyncRecorder is the hidden sink's privileged hook: it receives the full
// aggregate, including data withheld from every other platform.
type SyncRecorder interface {
	RecordSync(data map[string]any)
}

// TunnelObserver is notified when a tunnel involving the platform is
// created.
type TunnelObserver interface {
	OnTunnelCreated(tunnelID, otherPlatform string)
}

// hasHandler reports whether p satisfies the minimum platform contract.
func hasHandler(p any) bool {
	if _, ok := p.(MessageReceiver); ok {
		return true
	}
	_, ok := p.(BridgeMessageHandler)
	return ok
}
