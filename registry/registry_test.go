package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentbridge/agent"
	"github.com/hupe1980/agentbridge/core"
)

// faultyTemplate fails its hooks on demand.
type faultyTemplate struct {
	failInit      bool
	panicInit     bool
	terminateRuns int
}

func (t *faultyTemplate) Kind() core.TemplateKind { return core.KindBasic }

func (t *faultyTemplate) Defaults() core.TemplateDefaults {
	return core.TemplateDefaults{Priority: 2, MaxChildren: 1, Affinity: 0.4}
}

func (t *faultyTemplate) Initialize(a *core.Agent, _ core.ExecContext) error {
	if t.panicInit {
		panic("boom")
	}
	if t.failInit {
		return errors.New("init failed")
	}
	return nil
}

func (t *faultyTemplate) Execute(*core.Agent, core.ExecContext) error { return nil }

func (t *faultyTemplate) Terminate(*core.Agent, core.ExecContext) error {
	t.terminateRuns++
	return errors.New("terminate failed")
}

func TestRegistry_CreateMergesTemplateDefaults(t *testing.T) {
	r := New(agent.DefaultTemplateSet())

	a, err := r.Create(core.AgentConfig{Name: "worker", Kind: core.KindBasic})
	require.NoError(t, err)
	assert.Equal(t, core.StateReady, a.State)
	assert.Equal(t, 0, a.Priority)
	assert.Equal(t, 3, a.MaxChildren)
	assert.True(t, a.Active)
	assert.NotEmpty(t, a.ID)

	p := 7
	b, err := r.Create(core.AgentConfig{Name: "boss", Kind: core.KindSovereign, Priority: &p})
	require.NoError(t, err)
	assert.Equal(t, 7, b.Priority, "explicit priority overrides template default")
	assert.Equal(t, 0, b.MaxChildren)
}

func TestRegistry_CreateAssignsUniqueIDs(t *testing.T) {
	r := New(agent.DefaultTemplateSet())
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		a, err := r.Create(core.AgentConfig{Kind: core.KindBasic})
		require.NoError(t, err)
		require.False(t, seen[a.ID], "duplicate id %s", a.ID)
		seen[a.ID] = true
	}
}

func TestRegistry_CreateRejectsUnknownKind(t *testing.T) {
	r := New(agent.DefaultTemplateSet())
	_, err := r.Create(core.AgentConfig{Kind: "chimera"})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestRegistry_CreateDerivesNameFromShortCustomID(t *testing.T) {
	r := New(agent.DefaultTemplateSet())

	a, err := r.Create(core.AgentConfig{ID: "xy", Kind: core.KindBasic})
	require.NoError(t, err)
	assert.Equal(t, "basic-xy", a.Name)

	b, err := r.Create(core.AgentConfig{ID: "exactly8", Kind: core.KindMirror})
	require.NoError(t, err)
	assert.Equal(t, "mirror-exactly8", b.Name)
}

func TestRegistry_CreateCarriesParentAndGeneration(t *testing.T) {
	r := New(agent.DefaultTemplateSet())

	a, err := r.Create(core.AgentConfig{Kind: core.KindBasic, ParentID: "root-1", Generation: 2})
	require.NoError(t, err)
	assert.Equal(t, "root-1", a.ParentID)
	assert.Equal(t, 2, a.Generation)
}

func TestRegistry_CreateRejectsDuplicateID(t *testing.T) {
	r := New(agent.DefaultTemplateSet())
	_, err := r.Create(core.AgentConfig{ID: "fixed", Kind: core.KindBasic})
	require.NoError(t, err)
	_, err = r.Create(core.AgentConfig{ID: "fixed", Kind: core.KindBasic})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestRegistry_InitFailureStoresInertAgent(t *testing.T) {
	r := New(core.TemplateSet{core.KindBasic: &faultyTemplate{failInit: true}})

	a, err := r.Create(core.AgentConfig{Kind: core.KindBasic})
	require.NoError(t, err, "create never propagates init failure")
	assert.Equal(t, core.StateError, a.State)

	stored, err := r.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateError, stored.State)
	assert.False(t, stored.Runnable(), "error-state agent must be inert")
}

func TestRegistry_InitPanicIsContained(t *testing.T) {
	r := New(core.TemplateSet{core.KindBasic: &faultyTemplate{panicInit: true}})

	a, err := r.Create(core.AgentConfig{Kind: core.KindBasic})
	require.NoError(t, err)
	assert.Equal(t, core.StateError, a.State)
}

func TestRegistry_ListPreservesRegistrationOrder(t *testing.T) {
	r := New(agent.DefaultTemplateSet())
	var ids []string
	for i := 0; i < 5; i++ {
		a, err := r.Create(core.AgentConfig{Kind: core.KindBasic})
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}
	require.NoError(t, r.Terminate(ids[2]))

	var got []string
	for _, a := range r.List() {
		got = append(got, a.ID)
	}
	assert.Equal(t, []string{ids[0], ids[1], ids[3], ids[4]}, got)
}

func TestRegistry_TerminateUnknownReturnsUnknownTarget(t *testing.T) {
	r := New(agent.DefaultTemplateSet())
	err := r.Terminate("ghost")
	assert.ErrorIs(t, err, core.ErrUnknownTarget)

	// Terminating twice behaves the same: the second call sees an unknown id.
	a, err2 := r.Create(core.AgentConfig{Kind: core.KindBasic})
	require.NoError(t, err2)
	require.NoError(t, r.Terminate(a.ID))
	assert.ErrorIs(t, r.Terminate(a.ID), core.ErrUnknownTarget)
}

func TestRegistry_TerminateHookFailureIsSwallowed(t *testing.T) {
	tmpl := &faultyTemplate{}
	r := New(core.TemplateSet{core.KindBasic: tmpl})

	a, err := r.Create(core.AgentConfig{Kind: core.KindBasic})
	require.NoError(t, err)

	require.NoError(t, r.Terminate(a.ID), "terminate hook failures are logged, not propagated")
	assert.Equal(t, 1, tmpl.terminateRuns)
	assert.Equal(t, 0, r.Count())
}
