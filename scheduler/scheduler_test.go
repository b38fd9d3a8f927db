package scheduler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentbridge/agent"
	"github.com/hupe1980/agentbridge/core"
	"github.com/hupe1980/agentbridge/governance"
	"github.com/hupe1980/agentbridge/registry"
)

// recordingTemplate registers under the basic kind and records execution
// order by agent name. Failures can be injected per agent.
type recordingTemplate struct {
	mu       sync.Mutex
	executed []string
	received map[string][]core.Envelope
	execErr  map[string]error
	recvErr  map[string]error
}

func newRecordingTemplate() *recordingTemplate {
	return &recordingTemplate{
		received: make(map[string][]core.Envelope),
		execErr:  make(map[string]error),
		recvErr:  make(map[string]error),
	}
}

func (t *recordingTemplate) Kind() core.TemplateKind { return core.KindBasic }

func (t *recordingTemplate) Defaults() core.TemplateDefaults {
	return core.TemplateDefaults{Priority: 0, MaxChildren: 3, Affinity: 0.5}
}

func (t *recordingTemplate) Initialize(*core.Agent, core.ExecContext) error { return nil }

func (t *recordingTemplate) Execute(a *core.Agent, _ core.ExecContext) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executed = append(t.executed, a.Name)
	return t.execErr[a.Name]
}

func (t *recordingTemplate) ReceiveMessage(a *core.Agent, env core.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.recvErr[a.Name]; err != nil {
		return err
	}
	t.received[a.Name] = append(t.received[a.Name], env)
	return nil
}

func (t *recordingTemplate) executionOrder() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.executed...)
}

func newTestScheduler(t *testing.T, set core.TemplateSet) *Scheduler {
	t.Helper()
	if set == nil {
		set = agent.DefaultTemplateSet()
	}
	return New(registry.New(set), WithRandSeed(1))
}

func mustCreate(t *testing.T, s *Scheduler, cfg core.AgentConfig) *core.Agent {
	t.Helper()
	a, err := s.CreateAgent(cfg)
	require.NoError(t, err)
	require.Equal(t, core.StateReady, a.State)
	return a
}

func intPtr(v int) *int { return &v }

func TestTick_PriorityOrderWithStableTies(t *testing.T) {
	tmpl := newRecordingTemplate()
	s := newTestScheduler(t, core.TemplateSet{core.KindBasic: tmpl})

	mustCreate(t, s, core.AgentConfig{Name: "A", Kind: core.KindBasic, Priority: intPtr(5)})
	mustCreate(t, s, core.AgentConfig{Name: "B", Kind: core.KindBasic, Priority: intPtr(1)})
	mustCreate(t, s, core.AgentConfig{Name: "C", Kind: core.KindBasic, Priority: intPtr(5)})
	mustCreate(t, s, core.AgentConfig{Name: "D", Kind: core.KindBasic, Priority: intPtr(-1)})

	executed := s.Tick()
	assert.Equal(t, 4, executed)
	assert.Equal(t, []string{"A", "C", "B", "D"}, tmpl.executionOrder(),
		"descending priority, registration order breaks ties")
}

func TestTick_SkipsSuspendedAndInactiveAgents(t *testing.T) {
	tmpl := newRecordingTemplate()
	s := newTestScheduler(t, core.TemplateSet{core.KindBasic: tmpl})

	mustCreate(t, s, core.AgentConfig{Name: "runs", Kind: core.KindBasic})
	parked := mustCreate(t, s, core.AgentConfig{Name: "parked", Kind: core.KindBasic})
	require.NoError(t, s.SuspendAgent(parked.ID))

	assert.Equal(t, 1, s.Tick())
	assert.Equal(t, []string{"runs"}, tmpl.executionOrder())

	require.NoError(t, s.ResumeAgent(parked.ID))
	assert.Equal(t, 2, s.Tick())
}

func TestExecuteAgent_FaultAccounting(t *testing.T) {
	tmpl := newRecordingTemplate()
	tmpl.execErr["flaky"] = errors.New("tick exploded")
	s := newTestScheduler(t, core.TemplateSet{core.KindBasic: tmpl})

	a := mustCreate(t, s, core.AgentConfig{Name: "flaky", Kind: core.KindBasic})

	err := s.ExecuteAgent(a.ID)
	require.Error(t, err)

	// Fault path: counted, signaled, agent stays schedulable.
	assert.Equal(t, core.StateReady, a.State)
	assert.EqualValues(t, 1, a.Stats.ErrorCount)
	assert.EqualValues(t, 0, a.Stats.RunCount)

	m := s.Metrics()
	assert.EqualValues(t, 1, m.TotalExecutions)
	assert.EqualValues(t, 1, m.FailedExecutions)
	assert.EqualValues(t, 0, m.SuccessfulExecutions)

	select {
	case sig := <-s.Signals():
		assert.Equal(t, core.SignalAgentError, sig.Kind)
		assert.Equal(t, a.ID, sig.Source)
	default:
		t.Fatal("expected an agent_error signal")
	}
}

func TestExecuteAgent_PanicIsContained(t *testing.T) {
	s := newTestScheduler(t, core.TemplateSet{core.KindBasic: panicTemplate{}})
	a := mustCreate(t, s, core.AgentConfig{Name: "boom", Kind: core.KindBasic})

	err := s.ExecuteAgent(a.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook panic")
	assert.Equal(t, core.StateReady, a.State)
}

type panicTemplate struct{}

func (panicTemplate) Kind() core.TemplateKind { return core.KindBasic }
func (panicTemplate) Defaults() core.TemplateDefaults {
	return core.TemplateDefaults{Priority: 0, MaxChildren: 0, Affinity: 0.5}
}
func (panicTemplate) Initialize(*core.Agent, core.ExecContext) error { return nil }
func (panicTemplate) Execute(*core.Agent, core.ExecContext) error    { panic("boom") }

func TestExecuteAgent_SuccessUpdatesStats(t *testing.T) {
	tmpl := newRecordingTemplate()
	s := newTestScheduler(t, core.TemplateSet{core.KindBasic: tmpl})
	a := mustCreate(t, s, core.AgentConfig{Name: "ok", Kind: core.KindBasic})

	require.NoError(t, s.ExecuteAgent(a.ID))
	require.NoError(t, s.ExecuteAgent(a.ID))

	assert.EqualValues(t, 2, a.Stats.RunCount)
	assert.False(t, a.Stats.LastRunAt.IsZero())
	m := s.Metrics()
	assert.EqualValues(t, 2, m.SuccessfulExecutions)
}

func TestSendMessage_RoundTrip(t *testing.T) {
	tmpl := newRecordingTemplate()
	s := newTestScheduler(t, core.TemplateSet{core.KindBasic: tmpl})

	a := mustCreate(t, s, core.AgentConfig{Name: "A", Kind: core.KindBasic})
	b := mustCreate(t, s, core.AgentConfig{Name: "B", Kind: core.KindBasic})

	require.NoError(t, s.SendMessage(a.ID, b.ID, "hello"))

	got := tmpl.received["B"]
	require.Len(t, got, 1)
	assert.Equal(t, core.TypeAgentMessage, got[0].Type)
	assert.Equal(t, a.ID, got[0].From)
	assert.Equal(t, "hello", got[0].Payload)
}

func TestSendMessage_UnknownPartiesRejected(t *testing.T) {
	s := newTestScheduler(t, nil)
	a := mustCreate(t, s, core.AgentConfig{Kind: core.KindBasic})

	assert.ErrorIs(t, s.SendMessage("ghost", a.ID, "x"), core.ErrUnknownTarget)
	assert.ErrorIs(t, s.SendMessage(a.ID, "ghost", "x"), core.ErrUnknownTarget)

	// The runtime itself is a valid sender without being a registered agent.
	assert.NoError(t, s.SendMessage(RuntimePlatformName, a.ID, "x"))
}

func TestSendMessage_InboxBoundedDropOldest(t *testing.T) {
	s := New(registry.New(agent.DefaultTemplateSet()), WithInboxCapacity(3), WithRandSeed(1))

	// Sovereign has no ReceiveMessage hook, so mail lands in the inbox.
	sov := mustCreate(t, s, core.AgentConfig{Name: "king", Kind: core.KindSovereign})
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SendMessage(RuntimePlatformName, sov.ID, i))
	}

	inbox, _ := sov.Memory["inbox"].([]core.Envelope)
	require.Len(t, inbox, 3)
	assert.Equal(t, 2, inbox[0].Payload, "oldest envelopes dropped first")
	assert.Equal(t, 4, inbox[2].Payload)
}

func TestBroadcast_PartialFailureIsolation(t *testing.T) {
	tmpl := newRecordingTemplate()
	tmpl.recvErr["bad"] = errors.New("refusing mail")
	s := newTestScheduler(t, core.TemplateSet{core.KindBasic: tmpl})

	mustCreate(t, s, core.AgentConfig{Name: "good1", Kind: core.KindBasic})
	mustCreate(t, s, core.AgentConfig{Name: "bad", Kind: core.KindBasic})
	mustCreate(t, s, core.AgentConfig{Name: "good2", Kind: core.KindBasic})

	results := s.Broadcast("ping", nil)
	require.Len(t, results, 3)

	faulted := 0
	for _, r := range results {
		if r.Faulted() {
			faulted++
		}
	}
	assert.Equal(t, 1, faulted, "one failing target never blocks the rest")
	assert.Len(t, tmpl.received["good1"], 1)
	assert.Len(t, tmpl.received["good2"], 1)
}

func TestSpawnChild_InheritanceAndHierarchy(t *testing.T) {
	s := newTestScheduler(t, nil)

	parent := mustCreate(t, s, core.AgentConfig{Name: "root", Kind: core.KindBasic, Priority: intPtr(5), Affinity: 0.8})

	child, err := s.SpawnChild(parent.ID, core.AgentConfig{Name: "kid", Kind: core.KindBasic})
	require.NoError(t, err)

	assert.Equal(t, parent.ID, child.ParentID)
	assert.Equal(t, 1, child.Generation)
	assert.Equal(t, 4, child.Priority, "unset priority lands one below the parent")
	assert.InDelta(t, 0.65, child.Affinity, 0.001, "affinity averaged with the parent")
	assert.Contains(t, parent.ChildIDs, child.ID)

	// Explicit priority is honored untouched.
	child2, err := s.SpawnChild(parent.ID, core.AgentConfig{Kind: core.KindBasic, Priority: intPtr(9)})
	require.NoError(t, err)
	assert.Equal(t, 9, child2.Priority)
}

func TestSpawnChild_GenerationBound(t *testing.T) {
	s := newTestScheduler(t, nil)

	a := mustCreate(t, s, core.AgentConfig{Name: "g0", Kind: core.KindBasic})
	for gen := 1; gen <= 4; gen++ {
		child, err := s.SpawnChild(a.ID, core.AgentConfig{Kind: core.KindBasic})
		require.NoError(t, err, "spawn into generation %d should pass", gen)
		require.Equal(t, gen, child.Generation)
		a = child
	}

	// The generation 4 parent is past the spawn bound.
	_, err := s.SpawnChild(a.ID, core.AgentConfig{Kind: core.KindBasic})
	assert.ErrorIs(t, err, core.ErrGovernanceDenied)

	select {
	case sig := <-s.Signals():
		assert.Equal(t, core.SignalGovernanceDenial, sig.Kind)
	default:
		t.Fatal("expected a governance_denial signal")
	}
}

func TestSpawnChild_ChildrenCapBeforeGovernance(t *testing.T) {
	s := newTestScheduler(t, nil)

	parent := mustCreate(t, s, core.AgentConfig{Name: "full", Kind: core.KindBasic})
	parent.Generation = 9 // governance would deny too; capacity must win
	parent.MaxChildren = 0

	_, err := s.SpawnChild(parent.ID, core.AgentConfig{Kind: core.KindBasic})
	assert.ErrorIs(t, err, core.ErrCapacityExceeded)
	assert.NotErrorIs(t, err, core.ErrGovernanceDenied)
}

func TestSpawnChild_CapCountsExistingChildren(t *testing.T) {
	s := newTestScheduler(t, nil)
	parent := mustCreate(t, s, core.AgentConfig{Kind: core.KindBasic}) // cap 3

	for i := 0; i < 3; i++ {
		_, err := s.SpawnChild(parent.ID, core.AgentConfig{Kind: core.KindEphemeral})
		require.NoError(t, err)
	}
	_, err := s.SpawnChild(parent.ID, core.AgentConfig{Kind: core.KindEphemeral})
	assert.ErrorIs(t, err, core.ErrCapacityExceeded)
}

func TestTerminateAgent_GovernanceProtectsMirrorAndSovereign(t *testing.T) {
	s := newTestScheduler(t, nil)

	m := mustCreate(t, s, core.AgentConfig{Kind: core.KindMirror})
	sov := mustCreate(t, s, core.AgentConfig{Kind: core.KindSovereign})
	b := mustCreate(t, s, core.AgentConfig{Kind: core.KindBasic})

	assert.ErrorIs(t, s.TerminateAgent(m.ID), core.ErrGovernanceDenied)
	assert.ErrorIs(t, s.TerminateAgent(sov.ID), core.ErrGovernanceDenied)
	assert.NoError(t, s.TerminateAgent(b.ID))

	// Termination is not idempotent: the second call sees an unknown id.
	assert.ErrorIs(t, s.TerminateAgent(b.ID), core.ErrUnknownTarget)
}

func TestTick_EphemeralSelfTerminates(t *testing.T) {
	s := newTestScheduler(t, nil)

	e := mustCreate(t, s, core.AgentConfig{
		Kind:   core.KindEphemeral,
		Memory: map[string]any{"lifespan": 2},
	})

	assert.Equal(t, 1, s.Tick())
	_, err := s.Registry().Get(e.ID)
	require.NoError(t, err, "agent survives the first tick")

	assert.Equal(t, 1, s.Tick())
	_, err = s.Registry().Get(e.ID)
	assert.ErrorIs(t, err, core.ErrUnknownTarget, "lifespan elapsed on the second tick")

	// Self-termination counts as a successful run, not a fault.
	m := s.Metrics()
	assert.EqualValues(t, 0, m.FailedExecutions)
	assert.EqualValues(t, 2, m.SuccessfulExecutions)
}

func TestMonitorTick_ResourceWarning(t *testing.T) {
	s := New(registry.New(agent.DefaultTemplateSet()), WithCPUWarnThreshold(0.05), WithRandSeed(1))

	for i := 0; i < 10; i++ {
		mustCreate(t, s, core.AgentConfig{Kind: core.KindBasic})
	}
	s.MonitorTick()

	m := s.Metrics()
	assert.InDelta(t, 0.1, m.CPUGauge, 0.001)
	assert.InDelta(t, 0.2, m.MemoryGauge, 0.001)

	select {
	case sig := <-s.Signals():
		assert.Equal(t, core.SignalResourceWarning, sig.Kind)
	default:
		t.Fatal("expected a resource_warning signal above the threshold")
	}
}

func TestScheduler_StartPauseResumeShutdown(t *testing.T) {
	s := New(registry.New(agent.DefaultTemplateSet()),
		WithTickInterval(5*time.Millisecond),
		WithMonitorInterval(5*time.Millisecond),
		WithRandSeed(1),
	)
	mustCreate(t, s, core.AgentConfig{Kind: core.KindBasic})

	require.NoError(t, s.Start())
	assert.Error(t, s.Start(), "double start rejected")

	time.Sleep(25 * time.Millisecond)
	s.Pause()
	m := s.Metrics()
	assert.Greater(t, m.TotalExecutions, int64(0), "loop ticked while running")

	require.NoError(t, s.Resume())
	s.Shutdown()

	assert.Equal(t, 0, s.Registry().Count(), "shutdown terminates every agent, governance bypassed")
}

func TestShutdown_BypassesGovernanceButRestoresIt(t *testing.T) {
	s := newTestScheduler(t, nil)
	mustCreate(t, s, core.AgentConfig{Kind: core.KindSovereign})
	mustCreate(t, s, core.AgentConfig{Kind: core.KindMirror})

	s.Shutdown()
	assert.Equal(t, 0, s.Registry().Count())
	assert.True(t, s.Governance().Enabled(), "governance toggle restored after shutdown")
}

func TestScheduler_ConcurrentTickAndDelivery(t *testing.T) {
	s := newTestScheduler(t, nil)
	a := mustCreate(t, s, core.AgentConfig{Name: "worker", Kind: core.KindBasic})

	// The tick path and the delivery path both mutate the agent's memory.
	// Run them from separate goroutines and check that every tick and every
	// envelope landed exactly once.
	const sends = 200
	var wg sync.WaitGroup
	wg.Add(2)

	ticked := 0
	go func() {
		defer wg.Done()
		for i := 0; i < sends; i++ {
			ticked += s.Tick()
		}
	}()

	var sendErr error
	go func() {
		defer wg.Done()
		for i := 0; i < sends; i++ {
			if err := s.SendMessage(RuntimePlatformName, a.ID, i); err != nil {
				sendErr = err
				return
			}
		}
	}()
	wg.Wait()

	require.NoError(t, sendErr)
	assert.Equal(t, ticked, a.Memory["ticks"])
	assert.Equal(t, sends, a.Memory["received_count"])
}

// lineageTemplate snapshots the hierarchy fields as they appear during the
// Initialize hook.
type lineageTemplate struct{}

func (lineageTemplate) Kind() core.TemplateKind { return core.KindBasic }
func (lineageTemplate) Defaults() core.TemplateDefaults {
	return core.TemplateDefaults{Priority: 0, MaxChildren: 3, Affinity: 0.5}
}
func (lineageTemplate) Initialize(a *core.Agent, _ core.ExecContext) error {
	a.Memory["init_parent"] = a.ParentID
	a.Memory["init_generation"] = a.Generation
	return nil
}
func (lineageTemplate) Execute(*core.Agent, core.ExecContext) error { return nil }

func TestSpawnChild_LineageVisibleDuringInitialize(t *testing.T) {
	s := newTestScheduler(t, core.TemplateSet{core.KindBasic: lineageTemplate{}})

	parent := mustCreate(t, s, core.AgentConfig{Name: "root", Kind: core.KindBasic})
	assert.Equal(t, "", parent.Memory["init_parent"])
	assert.Equal(t, 0, parent.Memory["init_generation"])

	child, err := s.SpawnChild(parent.ID, core.AgentConfig{Kind: core.KindBasic})
	require.NoError(t, err)
	assert.Equal(t, parent.ID, child.Memory["init_parent"],
		"parent link already set when Initialize runs")
	assert.Equal(t, 1, child.Memory["init_generation"])
}

func TestExecuteAgent_CustomGovernanceDenial(t *testing.T) {
	denyExec := governance.New(governance.WithRule(
		func(_ *core.Agent, action governance.Action, _ map[string]any) bool {
			return action != governance.ActionExecute
		},
	))
	s := New(registry.New(agent.DefaultTemplateSet()), WithGovernance(denyExec), WithRandSeed(1))

	a := mustCreate(t, s, core.AgentConfig{Kind: core.KindBasic})
	err := s.ExecuteAgent(a.ID)
	assert.ErrorIs(t, err, core.ErrGovernanceDenied)
	assert.Equal(t, core.StateReady, a.State, "denied agent reverts to ready")

	m := s.Metrics()
	assert.EqualValues(t, 0, m.TotalExecutions, "denied executions are not counted as attempts")
	assert.Greater(t, m.OverrideCount, int64(0))
}
