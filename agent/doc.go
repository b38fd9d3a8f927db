// Package agent contains the four built-in behavior templates dispatched by
// the scheduler: basic, mirror, sovereign and ephemeral. The set is closed;
// DefaultTemplateSet is the exhaustive kind -> behavior mapping.
//
// Design principles:
//   - Templates are stateless; all per-agent state lives in the agent's
//     private memory map
//   - Templates only see the world through core.ExecContext; the registry
//     and other agents' memory stay out of reach
//   - Optional capabilities (ReceiveMessage, Terminate) are separate
//     interfaces asserted by the scheduler at the call site
//
// Execution model: Initialize runs once at creation, Execute on every
// scheduled tick. An Execute hook requests its own termination by returning
// core.ErrLifespanElapsed, which the scheduler treats as a self_terminate
// action rather than a fault.
package agent
