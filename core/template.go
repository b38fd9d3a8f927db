package core

import (
	"errors"
	"math/rand"
	"time"

	"github.com/hupe1980/agentbridge/logging"
)

// ErrLifespanElapsed is returned from a template's Execute hook to request
// the agent's own termination. The scheduler treats it as a self_terminate
// action, not as an execution fault.
var ErrLifespanElapsed = errors.New("lifespan elapsed")

// ExecContext is the capability surface handed to a template hook while it
// runs. It exposes exactly: scoped structured logging, agent messaging,
// child spawning, current time and a random source. Templates never receive
// the registry, the scheduler internals or another agent's memory; the
// context is the only channel out.
type ExecContext interface {
	// AgentID returns the id of the agent this context is scoped to.
	AgentID() string
	// Logger returns a logger scoped to the agent.
	Logger() logging.Logger
	// SendMessage delivers payload to another agent as an agent_message
	// envelope.
	SendMessage(targetID string, payload any) error
	// Spawn creates a child agent under the context's agent, subject to the
	// children cap and governance.
	Spawn(cfg AgentConfig) (*Agent, error)
	// Now returns the current time as seen by the scheduler clock.
	Now() time.Time
	// Rand returns the context's random source.
	Rand() *rand.Rand
}

// Template defines the behavior of one agent kind. Initialize runs once at
// creation, Execute runs on every scheduled tick. Both receive the agent's
// own record (for private memory access) and an ExecContext.
//
// ReceiveMessage and Terminate are optional capabilities expressed as
// separate interfaces; the scheduler type-asserts for them at the call site.
type Template interface {
	Kind() TemplateKind
	Defaults() TemplateDefaults
	Initialize(a *Agent, ctx ExecContext) error
	Execute(a *Agent, ctx ExecContext) error
}

// MessageReceiver is implemented by templates that handle incoming
// envelopes directly. Agents whose template lacks it get a bounded inbox in
// their private memory instead.
type MessageReceiver interface {
	ReceiveMessage(a *Agent, env Envelope) error
}

// Terminator is implemented by templates with teardown work. Terminate
// failures are logged, never propagated.
type Terminator interface {
	Terminate(a *Agent, ctx ExecContext) error
}

// TemplateSet is the closed kind -> Template mapping used by the registry
// and scheduler.
type TemplateSet map[TemplateKind]Template

// ForKind returns the template registered for k.
func (ts TemplateSet) ForKind(k TemplateKind) (Template, bool) {
	t, ok := ts[k]
	return t, ok
}
