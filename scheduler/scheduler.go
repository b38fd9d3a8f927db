package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agentbridge/core"
	"github.com/hupe1980/agentbridge/governance"
	"github.com/hupe1980/agentbridge/logging"
	"github.com/hupe1980/agentbridge/registry"
)

// RuntimePlatformName is the platform name under which the scheduler is
// addressed by the bridge.
const RuntimePlatformName = "runtime"

// Options configures a Scheduler.
type Options struct {
	// TickInterval is the cadence of the execution loop.
	TickInterval time.Duration
	// MonitorInterval is the cadence of the resource monitoring loop.
	MonitorInterval time.Duration
	// CPUWarnThreshold triggers a resource warning signal when the
	// synthetic CPU gauge exceeds it.
	CPUWarnThreshold float64
	// InboxCapacity bounds the per-agent inbox (drop-oldest).
	InboxCapacity int
	// SignalBufferSize bounds the outbound signal channel.
	SignalBufferSize int
	// RandSeed seeds the scheduler's random source. Zero means seeded from
	// the clock.
	RandSeed int64
	// Governance overrides the default evaluator.
	Governance *governance.Evaluator
	// Logger receives diagnostic output. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Metrics is a point-in-time snapshot of the process-wide execution
// counters and gauges. Counters reset only on process restart.
type Metrics struct {
	TotalExecutions      int64   `json:"total_executions"`
	SuccessfulExecutions int64   `json:"successful_executions"`
	FailedExecutions     int64   `json:"failed_executions"`
	OverrideCount        int64   `json:"override_count"`
	QueueLength          int     `json:"queue_length"`
	AgentCount           int     `json:"agent_count"`
	ExecutingCount       int     `json:"executing_count"`
	MemoryGauge          float64 `json:"memory_gauge"`
	CPUGauge             float64 `json:"cpu_gauge"`
}

// SendResult reports one target's outcome of a broadcast.
type SendResult struct {
	AgentID string `json:"agent_id"`
	Err     error  `json:"-"`
}

// Faulted reports whether delivery to this target failed.
func (r SendResult) Faulted() bool { return r.Err != nil }

// Scheduler drives agent execution. Construct with New, then either call
// Tick manually or Start the periodic loops.
type Scheduler struct {
	reg      *registry.Registry
	gov      *governance.Evaluator
	logger   logging.Logger
	notifier *core.Notifier

	tickInterval     time.Duration
	monitorInterval  time.Duration
	cpuWarnThreshold float64
	inboxCap         int

	// agentMu serializes all agent record mutation. The tick loop, the
	// message delivery path and the spawn/terminate paths each acquire it
	// before touching a record, so a drained bridge envelope can never
	// interleave with a running Execute hook. Template hooks run with it
	// held; execContext re-enters through the *Locked variants.
	agentMu sync.Mutex

	// mu guards counters, gauges and the spawn/terminate bookkeeping that
	// both loops may touch.
	mu               sync.Mutex
	totalExecs       int64
	successExecs     int64
	failedExecs      int64
	lastQueueLen     int
	memGauge         float64
	cpuGauge         float64
	executing        int32
	rnd              *rand.Rand
	syncState        map[string]any

	// tickInFlight enforces no-overlap between ticks.
	tickInFlight atomic.Bool

	// loop lifecycle
	loopMu  sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	clock func() time.Time
}

// New constructs a Scheduler over the given registry.
func New(reg *registry.Registry, optFns ...func(o *Options)) *Scheduler {
	opts := Options{
		TickInterval:     100 * time.Millisecond,
		MonitorInterval:  time.Second,
		CPUWarnThreshold: 0.8,
		InboxCapacity:    50,
		SignalBufferSize: 128,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Governance == nil {
		opts.Governance = governance.New(governance.WithLogger(opts.Logger))
	}
	seed := opts.RandSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s := &Scheduler{
		reg:              reg,
		gov:              opts.Governance,
		logger:           opts.Logger,
		notifier:         core.NewNotifier(opts.SignalBufferSize),
		tickInterval:     opts.TickInterval,
		monitorInterval:  opts.MonitorInterval,
		cpuWarnThreshold: opts.CPUWarnThreshold,
		inboxCap:         opts.InboxCapacity,
		rnd:              rand.New(rand.NewSource(seed)),
		syncState:        make(map[string]any),
		clock:            func() time.Time { return time.Now().UTC() },
	}
	reg.SetContextFactory(s.newExecContext)
	return s
}

// WithTickInterval sets the execution loop cadence.
func WithTickInterval(d time.Duration) func(o *Options) {
	return func(o *Options) { o.TickInterval = d }
}

// WithMonitorInterval sets the resource monitoring cadence.
func WithMonitorInterval(d time.Duration) func(o *Options) {
	return func(o *Options) { o.MonitorInterval = d }
}

// WithCPUWarnThreshold sets the synthetic CPU gauge warning threshold.
func WithCPUWarnThreshold(v float64) func(o *Options) {
	return func(o *Options) { o.CPUWarnThreshold = v }
}

// WithInboxCapacity bounds per-agent inboxes.
func WithInboxCapacity(n int) func(o *Options) {
	return func(o *Options) { o.InboxCapacity = n }
}

// WithGovernance injects a custom evaluator.
func WithGovernance(g *governance.Evaluator) func(o *Options) {
	return func(o *Options) { o.Governance = g }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// WithRandSeed makes the scheduler's random source deterministic.
func WithRandSeed(seed int64) func(o *Options) {
	return func(o *Options) { o.RandSeed = seed }
}

// Registry exposes the backing agent store.
func (s *Scheduler) Registry() *registry.Registry { return s.reg }

// Governance exposes the evaluator.
func (s *Scheduler) Governance() *governance.Evaluator { return s.gov }

// Signals returns the bounded diagnostic signal channel.
func (s *Scheduler) Signals() <-chan core.Signal { return s.notifier.Signals() }

// CreateAgent registers a new root agent (generation 0).
func (s *Scheduler) CreateAgent(cfg core.AgentConfig) (*core.Agent, error) {
	s.agentMu.Lock()
	defer s.agentMu.Unlock()
	return s.reg.Create(cfg)
}

// tickTask pairs an agent id with the priority captured when the task was
// enqueued.
type tickTask struct {
	agentID  string
	priority int
}

// Tick executes one scheduling pass: snapshot ready+active agents, enqueue
// one task per agent tagged with its priority, stable-sort descending (ties
// preserve registration order) and execute strictly in that order, draining
// the queue completely. If a previous tick is still in flight the call is
// skipped and returns 0; ticks never overlap.
func (s *Scheduler) Tick() int {
	if !s.tickInFlight.CompareAndSwap(false, true) {
		s.logger.Debug("tick skipped: previous tick still in flight")
		return 0
	}
	defer s.tickInFlight.Store(false)

	s.agentMu.Lock()
	defer s.agentMu.Unlock()

	var tasks []tickTask
	for _, a := range s.reg.List() {
		if a.Runnable() {
			tasks = append(tasks, tickTask{agentID: a.ID, priority: a.Priority})
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].priority > tasks[j].priority })

	s.mu.Lock()
	s.lastQueueLen = len(tasks)
	s.mu.Unlock()

	executed := 0
	for _, task := range tasks {
		if err := s.executeAgentLocked(task.agentID); err == nil {
			executed++
		}
	}
	return executed
}

// ExecuteAgent runs a single agent's Execute hook: ready -> executing, a
// governance consultation, the hook itself (panics recovered), then back to
// ready. Execution faults increment counters and emit a signal; they never
// move the agent to the error state. An Execute hook returning
// core.ErrLifespanElapsed triggers the self_terminate flow instead.
func (s *Scheduler) ExecuteAgent(id string) error {
	s.agentMu.Lock()
	defer s.agentMu.Unlock()
	return s.executeAgentLocked(id)
}

func (s *Scheduler) executeAgentLocked(id string) error {
	a, err := s.reg.Get(id)
	if err != nil {
		return err
	}
	if a.State != core.StateReady {
		return &core.ValidationError{Field: "state", Message: fmt.Sprintf("agent %s is %s, not ready", id, a.State)}
	}

	a.State = core.StateExecuting
	s.mu.Lock()
	s.executing++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.executing--
		s.mu.Unlock()
	}()

	if d := s.gov.Evaluate(a, governance.ActionExecute, nil); !d.Allowed {
		a.State = core.StateReady
		s.notifier.Publish(core.Signal{
			Kind:   core.SignalGovernanceDenial,
			Source: id,
			Data:   map[string]any{"action": string(governance.ActionExecute)},
		})
		return &core.GovernanceDeniedError{AgentID: id, Action: string(governance.ActionExecute)}
	}

	tmpl, ok := s.reg.Template(a.Kind)
	if !ok {
		a.State = core.StateReady
		return &core.ValidationError{Field: "kind", Message: fmt.Sprintf("no template for kind %q", a.Kind)}
	}

	s.mu.Lock()
	s.totalExecs++
	s.mu.Unlock()

	start := s.clock()
	execErr := s.runHook(func() error { return tmpl.Execute(a, s.newExecContext(a)) })
	elapsed := s.clock().Sub(start)

	if errors.Is(execErr, core.ErrLifespanElapsed) {
		s.mu.Lock()
		s.successExecs++
		s.mu.Unlock()
		a.Stats.RecordRun(start, elapsed)
		a.State = core.StateReady
		s.logExecution(id, elapsed, nil)
		return s.selfTerminate(a)
	}

	if execErr != nil {
		a.Stats.ErrorCount++
		a.State = core.StateReady
		s.mu.Lock()
		s.failedExecs++
		s.mu.Unlock()
		s.notifier.Publish(core.Signal{
			Kind:   core.SignalAgentError,
			Source: id,
			Error:  execErr.Error(),
		})
		s.logExecution(id, elapsed, execErr)
		return fmt.Errorf("execute agent %s: %w", id, execErr)
	}

	a.Stats.RecordRun(start, elapsed)
	a.State = core.StateReady
	s.mu.Lock()
	s.successExecs++
	s.mu.Unlock()
	s.logExecution(id, elapsed, nil)
	return nil
}

// logExecution emits the structured execution record. The rich logger gets
// the duration helper on success and the stack-carrying variant on failure;
// a plain Logger only hears about failures.
func (s *Scheduler) logExecution(id string, elapsed time.Duration, execErr error) {
	if al, ok := s.logger.(*logging.AgentBridgeLogger); ok {
		if execErr != nil {
			al.ErrorWithStack(execErr, "agent execution failed", "agent_id", id)
			return
		}
		al.LogAgentExecution(id, elapsed, true, nil)
		return
	}
	if execErr != nil {
		s.logger.Error("agent execution failed", "agent_id", id, "error", execErr.Error())
	}
}

// selfTerminate handles an agent requesting its own removal. This is a
// distinct governance action from forced termination and is allowed by the
// default ruleset for every kind, mirrors included.
func (s *Scheduler) selfTerminate(a *core.Agent) error {
	if d := s.gov.Evaluate(a, governance.ActionSelfTerminate, nil); !d.Allowed {
		return &core.GovernanceDeniedError{AgentID: a.ID, Action: string(governance.ActionSelfTerminate)}
	}
	s.logger.Info("agent self-terminating", "agent_id", a.ID)
	return s.reg.Terminate(a.ID)
}

// SendMessage constructs an agent_message envelope from one agent to
// another. Targets whose template implements core.MessageReceiver get the
// hook invoked directly; everyone else gets the envelope appended to a
// bounded drop-oldest inbox in their private memory.
func (s *Scheduler) SendMessage(fromID, toID string, payload any) error {
	s.agentMu.Lock()
	defer s.agentMu.Unlock()
	return s.sendMessageLocked(fromID, toID, payload)
}

func (s *Scheduler) sendMessageLocked(fromID, toID string, payload any) error {
	if fromID != RuntimePlatformName {
		if _, err := s.reg.Get(fromID); err != nil {
			return err
		}
	}
	target, err := s.reg.Get(toID)
	if err != nil {
		return err
	}

	env := core.NewEnvelope(core.TypeAgentMessage, fromID, toID, payload)
	return s.deliverToAgent(target, env)
}

// deliverToAgent routes an envelope into a target agent record.
func (s *Scheduler) deliverToAgent(target *core.Agent, env core.Envelope) error {
	tmpl, ok := s.reg.Template(target.Kind)
	if ok {
		if recv, ok := tmpl.(core.MessageReceiver); ok {
			if err := s.runHook(func() error { return recv.ReceiveMessage(target, env) }); err != nil {
				s.notifier.Publish(core.Signal{
					Kind:   core.SignalAgentError,
					Source: target.ID,
					Error:  err.Error(),
					Data:   map[string]any{"message_id": env.ID},
				})
				return fmt.Errorf("receive message for agent %s: %w", target.ID, err)
			}
			return nil
		}
	}

	inbox, _ := target.Memory["inbox"].([]core.Envelope)
	inbox = append(inbox, env)
	if len(inbox) > s.inboxCap {
		inbox = inbox[len(inbox)-s.inboxCap:]
	}
	target.Memory["inbox"] = inbox
	return nil
}

// Broadcast sends payload to every registered agent (optionally filtered),
// returning one result per target. A single failing target never aborts
// delivery to the rest.
func (s *Scheduler) Broadcast(payload any, filter func(*core.Agent) bool) []SendResult {
	s.agentMu.Lock()
	defer s.agentMu.Unlock()

	var results []SendResult
	for _, a := range s.reg.List() {
		if filter != nil && !filter(a) {
			continue
		}
		env := core.NewEnvelope(core.TypeAgentMessage, RuntimePlatformName, a.ID, payload)
		err := s.deliverToAgent(a, env)
		results = append(results, SendResult{AgentID: a.ID, Err: err})
	}
	return results
}

// SpawnChild creates a child agent under parentID. The children cap is
// checked before governance is consulted; the child inherits generation+1,
// the parent link, and partially inherited priority and affinity.
func (s *Scheduler) SpawnChild(parentID string, cfg core.AgentConfig) (*core.Agent, error) {
	s.agentMu.Lock()
	defer s.agentMu.Unlock()
	return s.spawnChildLocked(parentID, cfg)
}

func (s *Scheduler) spawnChildLocked(parentID string, cfg core.AgentConfig) (*core.Agent, error) {
	parent, err := s.reg.Get(parentID)
	if err != nil {
		return nil, err
	}

	if len(parent.ChildIDs) >= parent.MaxChildren {
		return nil, &core.CapacityExceededError{
			AgentID: parentID,
			Limit:   parent.MaxChildren,
			Reason:  "children cap reached",
		}
	}

	if d := s.gov.Evaluate(parent, governance.ActionSpawn, map[string]any{"generation": parent.Generation}); !d.Allowed {
		s.notifier.Publish(core.Signal{
			Kind:   core.SignalGovernanceDenial,
			Source: parentID,
			Data:   map[string]any{"action": string(governance.ActionSpawn)},
		})
		return nil, &core.GovernanceDeniedError{AgentID: parentID, Action: string(governance.ActionSpawn)}
	}

	// Partial inheritance: an unset priority lands one below the parent so
	// children never outrank their parent by default; affinity is averaged
	// with the parent's.
	if cfg.Priority == nil {
		p := parent.Priority - 1
		cfg.Priority = &p
	}
	childAffinity := cfg.Affinity
	if childAffinity == 0 {
		childAffinity = 0.5
	}
	cfg.Affinity = (parent.Affinity + childAffinity) / 2

	// The parent link and generation ride in on the config so the child's
	// Initialize hook already sees its place in the hierarchy.
	cfg.ParentID = parentID
	cfg.Generation = parent.Generation + 1

	child, err := s.reg.Create(cfg)
	if err != nil {
		return nil, err
	}
	parent.ChildIDs = append(parent.ChildIDs, child.ID)

	s.logger.Info("child agent spawned", "parent_id", parentID, "child_id", child.ID, "generation", child.Generation)
	return child, nil
}

// TerminateAgent forcibly terminates an agent, subject to governance. The
// default ruleset protects mirror and sovereign agents from this path; they
// can still self-terminate from their own Execute hook.
func (s *Scheduler) TerminateAgent(id string) error {
	s.agentMu.Lock()
	defer s.agentMu.Unlock()
	a, err := s.reg.Get(id)
	if err != nil {
		return err
	}
	if d := s.gov.Evaluate(a, governance.ActionTerminate, nil); !d.Allowed {
		s.notifier.Publish(core.Signal{
			Kind:   core.SignalGovernanceDenial,
			Source: id,
			Data:   map[string]any{"action": string(governance.ActionTerminate)},
		})
		return &core.GovernanceDeniedError{AgentID: id, Action: string(governance.ActionTerminate)}
	}
	return s.reg.Terminate(id)
}

// SuspendAgent parks a ready agent outside the tick set.
func (s *Scheduler) SuspendAgent(id string) error {
	s.agentMu.Lock()
	defer s.agentMu.Unlock()
	a, err := s.reg.Get(id)
	if err != nil {
		return err
	}
	if a.State != core.StateReady {
		return &core.ValidationError{Field: "state", Message: fmt.Sprintf("agent %s is %s, not ready", id, a.State)}
	}
	a.State = core.StateSuspended
	return nil
}

// ResumeAgent returns a suspended agent to the tick set.
func (s *Scheduler) ResumeAgent(id string) error {
	s.agentMu.Lock()
	defer s.agentMu.Unlock()
	a, err := s.reg.Get(id)
	if err != nil {
		return err
	}
	if a.State != core.StateSuspended {
		return &core.ValidationError{Field: "state", Message: fmt.Sprintf("agent %s is %s, not suspended", id, a.State)}
	}
	a.State = core.StateReady
	return nil
}

// Metrics returns a snapshot of the process-wide counters and gauges.
func (s *Scheduler) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Metrics{
		TotalExecutions:      s.totalExecs,
		SuccessfulExecutions: s.successExecs,
		FailedExecutions:     s.failedExecs,
		OverrideCount:        s.gov.Overrides(),
		QueueLength:          s.lastQueueLen,
		AgentCount:           s.reg.Count(),
		ExecutingCount:       int(s.executing),
		MemoryGauge:          s.memGauge,
		CPUGauge:             s.cpuGauge,
	}
}

// Start launches the tick loop and the resource monitoring loop on their
// own tickers. It returns an error if the scheduler is already running.
func (s *Scheduler) Start() error {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(2)
	go s.tickLoop(ctx)
	go s.monitorLoop(ctx)

	s.logger.Info("scheduler started", "tick_interval", s.tickInterval.String())
	return nil
}

// Pause stops both loops without dropping any state. Resume restarts them.
func (s *Scheduler) Pause() {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	s.pauseLocked()
}

func (s *Scheduler) pauseLocked() {
	if !s.running {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.running = false
	s.logger.Info("scheduler paused")
}

// Resume restarts the loops after a Pause.
func (s *Scheduler) Resume() error {
	return s.Start()
}

// Shutdown pauses the loops and force-terminates every registered agent,
// bypassing governance: shutdown is not a governed termination request.
func (s *Scheduler) Shutdown() {
	s.loopMu.Lock()
	s.pauseLocked()
	s.loopMu.Unlock()

	s.agentMu.Lock()
	gov := s.gov.Enabled()
	s.gov.SetEnabled(false)
	for _, a := range s.reg.List() {
		if err := s.reg.Terminate(a.ID); err != nil {
			s.logger.Warn("shutdown terminate failed", "agent_id", a.ID, "error", err.Error())
		}
	}
	s.gov.SetEnabled(gov)
	s.agentMu.Unlock()

	s.notifier.Close()
	s.logger.Info("scheduler shut down")
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// runHook invokes a template hook converting panics into errors so a
// misbehaving template cannot crash the tick loop.
func (s *Scheduler) runHook(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("hook panic: %v", rec)
		}
	}()
	return fn()
}
