package agent

import (
	"github.com/hupe1980/agentbridge/core"
)

const (
	memLifespan = "lifespan"
	memAge      = "age"

	// defaultLifespanTicks is the lifespan applied when the config memory
	// does not carry one.
	defaultLifespanTicks = 5
)

// EphemeralTemplate is a short-lived low-priority agent. Each tick ages it;
// once its lifespan elapses it requests its own termination by returning
// core.ErrLifespanElapsed, which the scheduler executes as a self_terminate
// action.
//
// A lifespan (in ticks) can be supplied through the config memory under the
// "lifespan" key.
type EphemeralTemplate struct{}

// NewEphemeralTemplate constructs the ephemeral template.
func NewEphemeralTemplate() *EphemeralTemplate { return &EphemeralTemplate{} }

// Kind returns core.KindEphemeral.
func (t *EphemeralTemplate) Kind() core.TemplateKind { return core.KindEphemeral }

// Defaults returns the ephemeral template defaults: negative priority, no
// children.
func (t *EphemeralTemplate) Defaults() core.TemplateDefaults {
	return core.TemplateDefaults{Priority: -5, MaxChildren: 0, Affinity: 0.3}
}

// Initialize seeds the age counter and resolves the lifespan.
func (t *EphemeralTemplate) Initialize(a *core.Agent, ctx core.ExecContext) error {
	a.Memory[memAge] = 0
	if _, ok := a.Memory[memLifespan].(int); !ok {
		a.Memory[memLifespan] = defaultLifespanTicks
	}
	ctx.Logger().Debug("ephemeral agent initialized", "agent_id", a.ID, "lifespan", a.Memory[memLifespan])
	return nil
}

// Execute ages the agent and requests termination once the lifespan elapses.
func (t *EphemeralTemplate) Execute(a *core.Agent, ctx core.ExecContext) error {
	age, _ := a.Memory[memAge].(int)
	age++
	a.Memory[memAge] = age

	lifespan, _ := a.Memory[memLifespan].(int)
	if age >= lifespan {
		ctx.Logger().Debug("ephemeral agent expiring", "agent_id", a.ID, "age", age)
		return core.ErrLifespanElapsed
	}
	return nil
}

// Terminate logs the final age. Best-effort; the registry ignores failures.
func (t *EphemeralTemplate) Terminate(a *core.Agent, ctx core.ExecContext) error {
	age, _ := a.Memory[memAge].(int)
	ctx.Logger().Debug("ephemeral agent terminated", "agent_id", a.ID, "age", age)
	return nil
}
