package agent

import (
	"github.com/hupe1980/agentbridge/core"
)

const (
	memReflections = "reflections"
	memSpawnedID   = "spawned_mirror_id"

	// mirrorLogCap bounds the per-agent reflection log (drop-oldest).
	mirrorLogCap = 25
	// mirrorMaxGeneration is the deepest generation a mirror will self-spawn to.
	mirrorMaxGeneration = 7
)

// MirrorTemplate accumulates a bounded log of every envelope it receives.
// Once it has observed traffic it spawns a single deeper mirror, up to
// generation 7, building a reflection chain down the agent tree.
type MirrorTemplate struct{}

// NewMirrorTemplate constructs the mirror template.
func NewMirrorTemplate() *MirrorTemplate { return &MirrorTemplate{} }

// Kind returns core.KindMirror.
func (t *MirrorTemplate) Kind() core.TemplateKind { return core.KindMirror }

// Defaults returns the mirror template defaults: priority 1, up to 7 children.
func (t *MirrorTemplate) Defaults() core.TemplateDefaults {
	return core.TemplateDefaults{Priority: 1, MaxChildren: 7, Affinity: 0.6}
}

// Initialize seeds the empty reflection log.
func (t *MirrorTemplate) Initialize(a *core.Agent, ctx core.ExecContext) error {
	a.Memory[memReflections] = []core.Envelope{}
	ctx.Logger().Debug("mirror agent initialized", "agent_id", a.ID, "generation", a.Generation)
	return nil
}

// Execute spawns a deeper mirror once this mirror has received at least one
// envelope. A mirror spawns at most one child itself; wider fan-out happens
// through explicit SpawnChild calls.
func (t *MirrorTemplate) Execute(a *core.Agent, ctx core.ExecContext) error {
	if _, done := a.Memory[memSpawnedID]; done {
		return nil
	}
	if a.Generation >= mirrorMaxGeneration {
		return nil
	}
	if len(t.Reflections(a)) == 0 {
		return nil
	}

	child, err := ctx.Spawn(core.AgentConfig{
		Name: a.Name + "-reflection",
		Kind: core.KindMirror,
	})
	if err != nil {
		// Depth or capacity limits ending the chain are expected, not faults.
		ctx.Logger().Debug("mirror spawn stopped", "agent_id", a.ID, "reason", err.Error())
		a.Memory[memSpawnedID] = ""
		return nil
	}
	a.Memory[memSpawnedID] = child.ID
	ctx.Logger().Info("mirror spawned deeper reflection", "agent_id", a.ID, "child_id", child.ID, "generation", child.Generation)
	return nil
}

// ReceiveMessage appends the envelope to the bounded reflection log.
func (t *MirrorTemplate) ReceiveMessage(a *core.Agent, env core.Envelope) error {
	log := t.Reflections(a)
	log = append(log, env)
	if len(log) > mirrorLogCap {
		log = log[len(log)-mirrorLogCap:]
	}
	a.Memory[memReflections] = log
	return nil
}

// Reflections returns the agent's retained reflection log, oldest first.
func (t *MirrorTemplate) Reflections(a *core.Agent) []core.Envelope {
	log, _ := a.Memory[memReflections].([]core.Envelope)
	return log
}
