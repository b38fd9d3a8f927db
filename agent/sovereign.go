package agent

import (
	"github.com/hupe1980/agentbridge/core"
)

// SovereignTemplate is the high-priority singleton style agent. It spawns no
// children, the default governance ruleset never terminates it, and it does
// not implement MessageReceiver: envelopes addressed to it land in its
// bounded inbox for inspection on its own tick.
type SovereignTemplate struct{}

// NewSovereignTemplate constructs the sovereign template.
func NewSovereignTemplate() *SovereignTemplate { return &SovereignTemplate{} }

// Kind returns core.KindSovereign.
func (t *SovereignTemplate) Kind() core.TemplateKind { return core.KindSovereign }

// Defaults returns the sovereign template defaults: priority 10, no children.
func (t *SovereignTemplate) Defaults() core.TemplateDefaults {
	return core.TemplateDefaults{Priority: 10, MaxChildren: 0, Affinity: 0.9}
}

// Initialize seeds the tick counter.
func (t *SovereignTemplate) Initialize(a *core.Agent, ctx core.ExecContext) error {
	a.Memory[memTicks] = 0
	ctx.Logger().Debug("sovereign agent initialized", "agent_id", a.ID)
	return nil
}

// Execute performs one tick, draining nothing: the inbox stays in memory
// until external code inspects it.
func (t *SovereignTemplate) Execute(a *core.Agent, ctx core.ExecContext) error {
	ticks, _ := a.Memory[memTicks].(int)
	a.Memory[memTicks] = ticks + 1
	return nil
}
