// Package registry holds agent records and drives template lifecycle hooks
// (initialize on creation, terminate on removal). It is a process-local,
// mutex-guarded store preserving registration order; scheduling concerns
// live entirely in the scheduler package.
package registry

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/hupe1980/agentbridge/core"
	"github.com/hupe1980/agentbridge/logging"
)

// ContextFactory builds the capability surface handed to a template hook for
// one agent. The scheduler installs its own factory; without one the
// registry falls back to an inert context that can log but not message or
// spawn.
type ContextFactory func(a *core.Agent) core.ExecContext

// Options configures a Registry.
type Options struct {
	// Templates is the closed kind -> behavior mapping.
	Templates core.TemplateSet
	// Logger receives diagnostic output. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Registry is the in-memory agent store. All exported methods are safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	agents    map[string]*core.Agent
	order     []string
	templates core.TemplateSet
	logger    logging.Logger
	ctxFn     ContextFactory
}

// New constructs a Registry backed by the given template set.
func New(templates core.TemplateSet, optFns ...func(o *Options)) *Registry {
	opts := Options{
		Templates: templates,
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Registry{
		agents:    make(map[string]*core.Agent),
		templates: opts.Templates,
		logger:    opts.Logger,
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// SetContextFactory installs the ExecContext factory used for lifecycle
// hooks. The scheduler calls this during wiring.
func (r *Registry) SetContextFactory(fn ContextFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctxFn = fn
}

// Create allocates an agent record: generates an id if absent, merges the
// template defaults for the requested kind with the config, runs the
// template's Initialize hook, and transitions initializing -> ready. If
// Initialize fails the agent moves to the error state but remains stored,
// inert, until explicitly terminated.
func (r *Registry) Create(cfg core.AgentConfig) (*core.Agent, error) {
	if !cfg.Kind.Valid() {
		return nil, &core.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown template kind %q", cfg.Kind)}
	}
	tmpl, ok := r.templates.ForKind(cfg.Kind)
	if !ok {
		return nil, &core.ValidationError{Field: "kind", Message: fmt.Sprintf("no template registered for kind %q", cfg.Kind)}
	}

	id := cfg.ID
	if id == "" {
		id = core.NewID()
	}

	defaults := tmpl.Defaults()
	a := &core.Agent{
		ID:          id,
		Name:        cfg.Name,
		Kind:        cfg.Kind,
		State:       core.StateInitializing,
		Active:      true,
		Affinity:    defaults.Affinity,
		Memory:      make(map[string]any),
		ParentID:    cfg.ParentID,
		Generation:  cfg.Generation,
		MaxChildren: defaults.MaxChildren,
		Priority:    defaults.Priority,
	}
	if a.Name == "" {
		a.Name = fmt.Sprintf("%s-%s", cfg.Kind, shortID(id))
	}
	if cfg.Priority != nil {
		a.Priority = *cfg.Priority
	}
	if cfg.Affinity > 0 {
		a.Affinity = cfg.Affinity
	}
	for k, v := range cfg.Memory {
		a.Memory[k] = v
	}

	r.mu.Lock()
	if _, exists := r.agents[id]; exists {
		r.mu.Unlock()
		return nil, &core.ValidationError{Field: "id", Message: fmt.Sprintf("agent id %q already registered", id)}
	}
	r.agents[id] = a
	r.order = append(r.order, id)
	r.mu.Unlock()

	if err := r.runHook(func() error { return tmpl.Initialize(a, r.contextFor(a)) }); err != nil {
		a.State = core.StateError
		r.logger.Error("agent initialization failed", "agent_id", id, "error", err.Error())
		return a, nil
	}

	a.State = core.StateReady
	r.logger.Debug("agent created", "agent_id", id, "kind", string(cfg.Kind))
	return a, nil
}

// Get returns the agent record for id.
func (r *Registry) Get(id string) (*core.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, &core.UnknownTargetError{Target: id}
	}
	return a, nil
}

// List returns all agent records in registration order.
func (r *Registry) List() []*core.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Agent, 0, len(r.order))
	for _, id := range r.order {
		if a, ok := r.agents[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Terminate runs the template's Terminate hook (best-effort; failures are
// logged, not propagated) and removes the record. Terminating an unknown id
// returns core.ErrUnknownTarget, never panics.
func (r *Registry) Terminate(id string) error {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return &core.UnknownTargetError{Target: id}
	}
	a.State = core.StateTerminating
	r.mu.Unlock()

	if tmpl, ok := r.templates.ForKind(a.Kind); ok {
		if term, ok := tmpl.(core.Terminator); ok {
			if err := r.runHook(func() error { return term.Terminate(a, r.contextFor(a)) }); err != nil {
				r.logger.Warn("terminate hook failed", "agent_id", id, "error", err.Error())
			}
		}
	}

	r.mu.Lock()
	delete(r.agents, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.logger.Debug("agent terminated", "agent_id", id)
	return nil
}

// Template returns the behavior template for the agent's kind.
func (r *Registry) Template(kind core.TemplateKind) (core.Template, bool) {
	return r.templates.ForKind(kind)
}

// shortID returns a compact display form of an agent id. Generated uuids
// are truncated; caller-supplied ids may be arbitrarily short.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// runHook invokes a lifecycle hook converting panics into errors so a
// misbehaving template cannot crash the registry.
func (r *Registry) runHook(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("hook panic: %v", rec)
		}
	}()
	return fn()
}

func (r *Registry) contextFor(a *core.Agent) core.ExecContext {
	r.mu.RLock()
	fn := r.ctxFn
	r.mu.RUnlock()
	if fn != nil {
		return fn(a)
	}
	return &inertContext{agentID: a.ID, logger: r.logger, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// inertContext is the fallback capability surface used when no scheduler is
// wired in: logging and time work, messaging and spawning do not.
type inertContext struct {
	agentID string
	logger  logging.Logger
	rnd     *rand.Rand
}

func (c *inertContext) AgentID() string        { return c.agentID }
func (c *inertContext) Logger() logging.Logger { return c.logger }
func (c *inertContext) Now() time.Time         { return time.Now().UTC() }
func (c *inertContext) Rand() *rand.Rand       { return c.rnd }

func (c *inertContext) SendMessage(string, any) error {
	return fmt.Errorf("messaging unavailable: no scheduler attached")
}

func (c *inertContext) Spawn(core.AgentConfig) (*core.Agent, error) {
	return nil, fmt.Errorf("spawning unavailable: no scheduler attached")
}
