package agent

import (
	"github.com/hupe1980/agentbridge/core"
)

// Memory keys shared by the built-in templates. Values under these keys are
// template-owned; external code should treat them as opaque.
const (
	memTicks       = "ticks"
	memLastMessage = "last_message"
	memReceived    = "received_count"
)

// BasicTemplate is the general-purpose worker. It counts its ticks and
// records the most recent envelope it received.
type BasicTemplate struct{}

// NewBasicTemplate constructs the basic template.
func NewBasicTemplate() *BasicTemplate { return &BasicTemplate{} }

// Kind returns core.KindBasic.
func (t *BasicTemplate) Kind() core.TemplateKind { return core.KindBasic }

// Defaults returns the basic template defaults: priority 0, up to 3 children.
func (t *BasicTemplate) Defaults() core.TemplateDefaults {
	return core.TemplateDefaults{Priority: 0, MaxChildren: 3, Affinity: 0.5}
}

// Initialize seeds the tick counter.
func (t *BasicTemplate) Initialize(a *core.Agent, ctx core.ExecContext) error {
	a.Memory[memTicks] = 0
	ctx.Logger().Debug("basic agent initialized", "agent_id", a.ID)
	return nil
}

// Execute performs one generic tick.
func (t *BasicTemplate) Execute(a *core.Agent, ctx core.ExecContext) error {
	ticks, _ := a.Memory[memTicks].(int)
	a.Memory[memTicks] = ticks + 1
	ctx.Logger().Debug("basic agent ticked", "agent_id", a.ID, "ticks", ticks+1)
	return nil
}

// ReceiveMessage stores the envelope as the agent's last message and bumps
// the received counter.
func (t *BasicTemplate) ReceiveMessage(a *core.Agent, env core.Envelope) error {
	a.Memory[memLastMessage] = env
	count, _ := a.Memory[memReceived].(int)
	a.Memory[memReceived] = count + 1
	return nil
}
