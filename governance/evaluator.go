// Package governance implements the policy layer advising the scheduler
// whether an agent action (execute, spawn, terminate) is allowed. Evaluation
// is a pure rule function; decisions are appended to a bounded log for
// auditing. The evaluator never performs the action itself.
package governance

import (
	"sync"
	"time"

	"github.com/hupe1980/agentbridge/core"
	"github.com/hupe1980/agentbridge/logging"
)

// Action names the agent operations subject to governance.
type Action string

const (
	// ActionExecute gates running an agent's Execute hook.
	ActionExecute Action = "execute"
	// ActionSpawn gates creating a child agent.
	ActionSpawn Action = "spawn"
	// ActionTerminate gates forced termination of an agent.
	ActionTerminate Action = "terminate"
	// ActionSelfTerminate is an agent requesting its own removal. It is a
	// different action from ActionTerminate and is always allowed by the
	// default rules.
	ActionSelfTerminate Action = "self_terminate"
)

// Decision is one appended entry in the decision log. Entries are never
// mutated after insertion.
type Decision struct {
	AgentID   string         `json:"agent_id"`
	Action    Action         `json:"action"`
	Context   map[string]any `json:"context,omitempty"`
	Allowed   bool           `json:"allowed"`
	Authority string         `json:"authority"`
	Timestamp time.Time      `json:"timestamp"`
}

// Rule decides whether an action is allowed for an agent. Rules must be
// pure: no side effects, no mutation of the agent record.
type Rule func(agent *core.Agent, action Action, ctx map[string]any) bool

// maxSpawnGeneration bounds the depth of the spawn tree.
const maxSpawnGeneration = 3

// DefaultRule reproduces the built-in ruleset:
//
//   - execute is always allowed for sovereign agents regardless of other rules
//   - spawn is denied once agent.Generation > 3
//   - terminate is denied for mirror and sovereign agents (they may still
//     self-terminate, which is a different action)
//   - everything else defaults to allowed
func DefaultRule(agent *core.Agent, action Action, _ map[string]any) bool {
	switch action {
	case ActionExecute:
		return true
	case ActionSpawn:
		return agent.Generation <= maxSpawnGeneration
	case ActionTerminate:
		return agent.Kind != core.KindMirror && agent.Kind != core.KindSovereign
	default:
		return true
	}
}

// Options configures an Evaluator.
type Options struct {
	// Rule replaces the default ruleset.
	Rule Rule
	// LogCapacity bounds the decision log (drop-oldest). The source kept
	// the log unbounded; bounding it is a deliberate hardening.
	LogCapacity int
	// Enabled toggles evaluation. When false every action is allowed and
	// nothing is logged.
	Enabled bool
	// Logger receives diagnostic output. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Evaluator applies the rule function and records decisions. Safe for
// concurrent use.
type Evaluator struct {
	mu      sync.RWMutex
	rule    Rule
	log     *core.Ring[Decision]
	enabled bool
	logger  logging.Logger

	overrides int64
}

// New constructs an Evaluator with the default ruleset enabled.
func New(optFns ...func(o *Options)) *Evaluator {
	opts := Options{
		Rule:        DefaultRule,
		LogCapacity: 1000,
		Enabled:     true,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Rule == nil {
		opts.Rule = DefaultRule
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Evaluator{
		rule:    opts.Rule,
		log:     core.NewRing[Decision](opts.LogCapacity),
		enabled: opts.Enabled,
		logger:  opts.Logger,
	}
}

// WithRule overrides the default ruleset.
func WithRule(r Rule) func(o *Options) {
	return func(o *Options) { o.Rule = r }
}

// WithLogCapacity bounds the decision log.
func WithLogCapacity(n int) func(o *Options) {
	return func(o *Options) { o.LogCapacity = n }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// Disabled constructs the evaluator switched off: every action is allowed
// without logging.
func Disabled() func(o *Options) {
	return func(o *Options) { o.Enabled = false }
}

// Evaluate applies the rule function and appends the decision to the log.
// When the evaluator is disabled it returns an allow decision and logs
// nothing.
func (e *Evaluator) Evaluate(agent *core.Agent, action Action, ctx map[string]any) Decision {
	d := Decision{
		AgentID:   agent.ID,
		Action:    action,
		Context:   ctx,
		Allowed:   true,
		Authority: "governance",
		Timestamp: time.Now().UTC(),
	}

	e.mu.RLock()
	enabled := e.enabled
	rule := e.rule
	e.mu.RUnlock()

	if !enabled {
		return d
	}

	d.Allowed = rule(agent, action, ctx)
	e.Log(d)

	if !d.Allowed {
		e.mu.Lock()
		e.overrides++
		e.mu.Unlock()
		e.logger.Debug("governance denied action", "agent_id", agent.ID, "action", string(action))
	}
	return d
}

// Log appends a decision to the bounded decision log.
func (e *Evaluator) Log(d Decision) {
	e.log.Push(d)
}

// Decisions returns a snapshot of the retained decision log, oldest first.
func (e *Evaluator) Decisions() []Decision {
	return e.log.Snapshot()
}

// Overrides returns the number of denials issued since construction.
func (e *Evaluator) Overrides() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.overrides
}

// Enabled reports whether evaluation is active.
func (e *Evaluator) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// SetEnabled toggles evaluation at runtime.
func (e *Evaluator) SetEnabled(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = on
}
