// Package agentbridge provides a high-level façade over the execution
// scheduler and the cross-platform message bridge, enabling rapid
// construction of governed agent runtimes. Most applications interact with
// this package by:
//  1. Creating an AgentBridge via New() (optionally overriding cadences,
//     governance and the routing table via config)
//  2. Registering peer platforms alongside the built-in "runtime" platform
//  3. Creating agents and starting the periodic loops
//
// The façade delegates execution to scheduler.Scheduler and routing to
// bridge.Bridge while keeping setup ergonomics concise. All defaults are
// safe for local development and testing; production deployments typically
// supply a structured logger and a configured routing table.
package agentbridge

import (
	"fmt"

	"github.com/hupe1980/agentbridge/agent"
	"github.com/hupe1980/agentbridge/bridge"
	"github.com/hupe1980/agentbridge/core"
	"github.com/hupe1980/agentbridge/governance"
	"github.com/hupe1980/agentbridge/logging"
	"github.com/hupe1980/agentbridge/registry"
	"github.com/hupe1980/agentbridge/scheduler"
)

// Options configures the AgentBridge instance.
type Options struct {
	// Config carries cadences, capacities, the routing table and the
	// governance toggle. Defaults to DefaultConfig().
	Config *Config
	// Templates overrides the built-in template set.
	Templates core.TemplateSet
	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// AgentBridge is the high-level façade aggregating the scheduler, the
// bridge and their shared wiring.
type AgentBridge struct {
	sched  *scheduler.Scheduler
	brdg   *bridge.Bridge
	logger logging.Logger
}

// New creates a new AgentBridge instance with optional overrides. The
// scheduler is registered with the bridge as the "runtime" platform.
func New(optFns ...func(o *Options)) (*AgentBridge, error) {
	opts := Options{
		Config: DefaultConfig(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Config == nil {
		opts.Config = DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Templates == nil {
		opts.Templates = agent.DefaultTemplateSet()
	}
	cfg := opts.Config

	govFns := []func(o *governance.Options){governance.WithLogger(componentLogger(opts.Logger, "governance"))}
	if !cfg.GovernanceEnabled {
		govFns = append(govFns, governance.Disabled())
	}
	gov := governance.New(govFns...)

	reg := registry.New(opts.Templates, registry.WithLogger(componentLogger(opts.Logger, "registry")))

	sched := scheduler.New(reg,
		scheduler.WithTickInterval(cfg.TickInterval.Std()),
		scheduler.WithMonitorInterval(cfg.MonitorInterval.Std()),
		scheduler.WithCPUWarnThreshold(cfg.CPUWarnThreshold),
		scheduler.WithInboxCapacity(cfg.InboxCapacity),
		scheduler.WithGovernance(gov),
		scheduler.WithLogger(componentLogger(opts.Logger, "scheduler")),
	)

	brdg, err := bridge.New(
		bridge.WithHiddenSink(cfg.HiddenSink),
		bridge.WithSecret(cfg.Secret),
		bridge.WithQueueCapacity(cfg.QueueCapacity),
		bridge.WithHistoryCapacity(cfg.HistoryCapacity),
		bridge.WithDrainInterval(cfg.DrainInterval.Std()),
		bridge.WithLogger(componentLogger(opts.Logger, "bridge")),
	)
	if err != nil {
		return nil, fmt.Errorf("create bridge: %w", err)
	}

	if len(cfg.Routes) > 0 {
		brdg.Routes().Load(cfg.Routes)
	}

	if err := brdg.RegisterPlatform(scheduler.RuntimePlatformName, sched); err != nil {
		return nil, fmt.Errorf("register runtime platform: %w", err)
	}

	return &AgentBridge{sched: sched, brdg: brdg, logger: opts.Logger}, nil
}

// componentLogger scopes the rich logger to one component; a plain Logger
// is shared as-is.
func componentLogger(l logging.Logger, component string) logging.Logger {
	if al, ok := l.(*logging.AgentBridgeLogger); ok {
		return al.WithComponent(component)
	}
	return l
}

// WithConfig overrides the default configuration.
func WithConfig(cfg *Config) func(o *Options) {
	return func(o *Options) { o.Config = cfg }
}

// WithTemplates overrides the built-in template set.
func WithTemplates(ts core.TemplateSet) func(o *Options) {
	return func(o *Options) { o.Templates = ts }
}

// WithLogger sets the diagnostic logger for every component.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// Scheduler exposes the execution scheduler.
func (ab *AgentBridge) Scheduler() *scheduler.Scheduler { return ab.sched }

// Bridge exposes the message bridge.
func (ab *AgentBridge) Bridge() *bridge.Bridge { return ab.brdg }

// CreateAgent registers a new root agent.
func (ab *AgentBridge) CreateAgent(cfg core.AgentConfig) (*core.Agent, error) {
	return ab.sched.CreateAgent(cfg)
}

// RegisterPlatform adds a named peer platform to the bridge.
func (ab *AgentBridge) RegisterPlatform(name string, p any) error {
	return ab.brdg.RegisterPlatform(name, p)
}

// Start launches the scheduler tick loop, the resource monitor and the
// bridge drain loop.
func (ab *AgentBridge) Start() error {
	if err := ab.sched.Start(); err != nil {
		return err
	}
	if err := ab.brdg.Start(); err != nil {
		ab.sched.Pause()
		return err
	}
	return nil
}

// Pause stops all periodic loops without dropping in-flight state.
func (ab *AgentBridge) Pause() {
	ab.sched.Pause()
	ab.brdg.Pause()
}

// Resume restarts the loops after a Pause.
func (ab *AgentBridge) Resume() error {
	if err := ab.sched.Resume(); err != nil {
		return err
	}
	return ab.brdg.Resume()
}

// Shutdown pauses the loops, terminates every registered agent and closes
// every tunnel.
func (ab *AgentBridge) Shutdown() {
	ab.sched.Shutdown()
	ab.brdg.Shutdown()
}
