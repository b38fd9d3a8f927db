// Package core provides the foundational domain types and interfaces shared
// by the AgentBridge scheduler and message bridge. It defines:
//
//   - Agents (registered units of work with a lifecycle state machine)
//   - Envelopes (addressed, timestamped message units with a stable wire shape)
//   - Templates (the closed set of four agent behavior kinds)
//   - ExecContext (the capability surface handed to template hooks)
//   - The failure taxonomy (validation, routing, governance, capacity, ...)
//   - Signals (bounded cross-cutting notifications)
//
// The package intentionally keeps implementation concerns (registry storage,
// tick loops, routing policy) out of scope, exposing small interfaces so the
// scheduler and bridge packages can evolve independently without cycles.
package core
