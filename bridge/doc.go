// Package bridge routes envelopes between named peer platforms under a
// directed permission matrix. It owns:
//
//   - The routing table (exact and wildcard entries, hidden-sink
//     default-deny, fail-open elsewhere)
//   - A bounded message queue drained on the bridge's own cadence
//   - Four delivery patterns: broadcast, whisper, cascade and mirror
//   - Tunnels (advisory channel metadata, never a routing bypass)
//   - Synchronization (aggregate sync data fan-out with sink privileges)
//   - A bounded rolling audit history
//
// Platforms are registered under a name and probed structurally for the
// uniform contract: ReceiveMessage or HandleBridgeMessage (one required),
// plus optional sync, export and tunnel hooks. The scheduler registers
// itself as the "runtime" platform through the same contract.
package bridge
