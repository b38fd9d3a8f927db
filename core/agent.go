package core

import (
	"time"
)

// TemplateKind identifies one of the four built-in behavior templates. The
// set is closed: every agent record carries exactly one kind and the
// scheduler dispatches behavior through the TemplateSet for that kind.
type TemplateKind string

const (
	// KindBasic is the general-purpose worker template.
	KindBasic TemplateKind = "basic"
	// KindMirror accumulates received envelopes and may self-spawn deeper
	// mirrors down the generation tree.
	KindMirror TemplateKind = "mirror"
	// KindSovereign is a high-priority agent exempt from governance
	// termination and forbidden from spawning children.
	KindSovereign TemplateKind = "sovereign"
	// KindEphemeral is a low-priority agent with a bounded lifespan that
	// requests its own termination once the lifespan elapses.
	KindEphemeral TemplateKind = "ephemeral"
)

// Valid reports whether k names one of the four built-in templates.
func (k TemplateKind) Valid() bool {
	switch k {
	case KindBasic, KindMirror, KindSovereign, KindEphemeral:
		return true
	}
	return false
}

// AgentState is the lifecycle state of an agent record.
//
// Transitions: initializing -> ready -> executing -> ready (steady loop),
// ready <-> suspended, any non-terminal state -> terminating -> removed.
// The error state is entered only from initializing or executing on an
// unhandled failure and is terminal until the agent is explicitly
// terminated and recreated.
type AgentState string

const (
	// StateInitializing is the state during template initialization.
	StateInitializing AgentState = "initializing"
	// StateReady marks an agent eligible for the next tick.
	StateReady AgentState = "ready"
	// StateExecuting marks an agent whose Execute hook is running.
	StateExecuting AgentState = "executing"
	// StateSuspended marks an agent parked outside the tick set.
	StateSuspended AgentState = "suspended"
	// StateTerminating marks an agent being torn down.
	StateTerminating AgentState = "terminating"
	// StateError marks an agent whose initialization failed. The record is
	// retained but inert until explicitly terminated.
	StateError AgentState = "error"
)

// ExecutionStats aggregates per-agent execution accounting. AvgExecMillis is
// maintained as an incremental running average over successful runs.
type ExecutionStats struct {
	LastRunAt     time.Time `json:"last_run_at"`
	RunCount      int64     `json:"run_count"`
	ErrorCount    int64     `json:"error_count"`
	AvgExecMillis float64   `json:"avg_exec_millis"`
}

// RecordRun folds one successful execution duration into the running
// average and bumps the run counter.
func (s *ExecutionStats) RecordRun(at time.Time, elapsed time.Duration) {
	s.LastRunAt = at
	s.RunCount++
	ms := float64(elapsed.Microseconds()) / 1000.0
	s.AvgExecMillis += (ms - s.AvgExecMillis) / float64(s.RunCount)
}

// Agent is the registry record for one unit of work. All mutation happens
// inside the scheduler's own tick or message handling; agents never touch
// another agent's record directly, only envelopes cross that boundary.
//
// Memory is agent-private scratch space. The bounded inbox for agents whose
// template does not implement MessageReceiver lives under the "inbox" key.
type Agent struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Kind     TemplateKind `json:"kind"`
	State    AgentState   `json:"state"`
	Active   bool         `json:"active"`
	Affinity float64      `json:"affinity"`

	Memory map[string]any `json:"-"`
	Stats  ExecutionStats `json:"stats"`

	ParentID    string   `json:"parent_id,omitempty"`
	Generation  int      `json:"generation"`
	MaxChildren int      `json:"max_children"`
	Priority    int      `json:"priority"`
	ChildIDs    []string `json:"child_ids,omitempty"`
}

// Runnable reports whether the agent belongs in the next tick's task set.
func (a *Agent) Runnable() bool {
	return a.State == StateReady && a.Active
}

// AgentConfig is the caller-supplied shape for creating an agent. Zero
// values defer to the template defaults for the requested kind.
//
// ParentID and Generation are set by the scheduler's spawn path so the
// record carries its place in the hierarchy before the Initialize hook
// runs. Zero values mean a root agent.
type AgentConfig struct {
	ID         string         `json:"id,omitempty"`
	Name       string         `json:"name"`
	Kind       TemplateKind   `json:"kind"`
	Priority   *int           `json:"priority,omitempty"`
	Affinity   float64        `json:"affinity,omitempty"`
	Memory     map[string]any `json:"memory,omitempty"`
	ParentID   string         `json:"parent_id,omitempty"`
	Generation int            `json:"generation,omitempty"`
}

// TemplateDefaults are the per-kind defaults merged into an AgentConfig at
// creation time.
type TemplateDefaults struct {
	Priority    int
	MaxChildren int
	Affinity    float64
}
