package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentbridge/core"
	"github.com/hupe1980/agentbridge/logging"
)

// DefaultHiddenSink is the hidden sink platform name used when none is
// configured.
const DefaultHiddenSink = "mirror"

// Options configures a Bridge.
type Options struct {
	// HiddenSink names the platform that is unreachable from anyone but
	// itself by default.
	HiddenSink string
	// Secret derives the AES-GCM key used to seal sensitive payloads.
	Secret string
	// QueueCapacity bounds the message queue (reject-on-full).
	QueueCapacity int
	// HistoryCapacity bounds the rolling audit history (drop-oldest).
	HistoryCapacity int
	// DrainInterval is the cadence of the queue drain loop.
	DrainInterval time.Duration
	// SignalBufferSize bounds the outbound signal channel.
	SignalBufferSize int
	// Logger receives diagnostic output. Defaults to NoOpLogger.
	Logger logging.Logger
}

// HistoryEntry is one audit record in the rolling history buffer.
type HistoryEntry struct {
	MessageID string    `json:"message_id"`
	Type      string    `json:"type"`
	RouteKey  string    `json:"route_key"`
	Allowed   bool      `json:"allowed"`
	Sealed    bool      `json:"sealed"`
	Timestamp time.Time `json:"timestamp"`
}

// Tunnel is advisory metadata recording that two platforms hold an active
// communication channel. It records traffic but never authorizes routing.
type Tunnel struct {
	ID           string    `json:"id"`
	PlatformA    string    `json:"platform_a"`
	PlatformB    string    `json:"platform_b"`
	Active       bool      `json:"active"`
	MessageCount int64     `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// links reports whether the tunnel connects the unordered pair (a, b).
func (t *Tunnel) links(a, b string) bool {
	return (t.PlatformA == a && t.PlatformB == b) || (t.PlatformA == b && t.PlatformB == a)
}

// Bridge routes envelopes between registered platforms. Construct with New,
// register platforms, then either route synchronously or Enqueue and Start
// the drain loop.
type Bridge struct {
	mu        sync.RWMutex
	platforms map[string]any
	order     []string
	tunnels   map[string]*Tunnel

	routes   *RoutingTable
	history  *core.Ring[HistoryEntry]
	queue    chan core.Envelope
	notifier *core.Notifier
	sealer   *payloadSealer
	logger   logging.Logger

	drainInterval time.Duration

	loopMu  sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New constructs a Bridge.
func New(optFns ...func(o *Options)) (*Bridge, error) {
	opts := Options{
		HiddenSink:       DefaultHiddenSink,
		Secret:           "agentbridge-transport",
		QueueCapacity:    256,
		HistoryCapacity:  200,
		DrainInterval:    50 * time.Millisecond,
		SignalBufferSize: 128,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	sealer, err := newPayloadSealer(opts.Secret)
	if err != nil {
		return nil, fmt.Errorf("init sealer: %w", err)
	}

	return &Bridge{
		platforms:     make(map[string]any),
		tunnels:       make(map[string]*Tunnel),
		routes:        NewRoutingTable(opts.HiddenSink),
		history:       core.NewRing[HistoryEntry](opts.HistoryCapacity),
		queue:         make(chan core.Envelope, opts.QueueCapacity),
		notifier:      core.NewNotifier(opts.SignalBufferSize),
		sealer:        sealer,
		logger:        opts.Logger,
		drainInterval: opts.DrainInterval,
	}, nil
}

// WithHiddenSink names the hidden sink platform.
func WithHiddenSink(name string) func(o *Options) {
	return func(o *Options) { o.HiddenSink = name }
}

// WithSecret sets the payload sealing secret.
func WithSecret(secret string) func(o *Options) {
	return func(o *Options) { o.Secret = secret }
}

// WithQueueCapacity bounds the message queue.
func WithQueueCapacity(n int) func(o *Options) {
	return func(o *Options) { o.QueueCapacity = n }
}

// WithHistoryCapacity bounds the audit history.
func WithHistoryCapacity(n int) func(o *Options) {
	return func(o *Options) { o.HistoryCapacity = n }
}

// WithDrainInterval sets the drain loop cadence.
func WithDrainInterval(d time.Duration) func(o *Options) {
	return func(o *Options) { o.DrainInterval = d }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// RegisterPlatform adds a named platform. The contract expects the value to
// expose ReceiveMessage or HandleBridgeMessage; a platform without either is
// still registered but every delivery to it becomes a warning no-op.
func (b *Bridge) RegisterPlatform(name string, p any) error {
	if name == "" {
		return &core.ValidationError{Field: "name", Message: "platform name is required"}
	}
	if !hasHandler(p) {
		b.platformLogger(name).Warn("platform exposes no message handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.platforms[name]; exists {
		return &core.ValidationError{Field: "name", Message: fmt.Sprintf("platform %q already registered", name)}
	}
	b.platforms[name] = p
	b.order = append(b.order, name)
	b.logger.Debug("platform registered", "platform", name)
	return nil
}

// Platform returns the registered platform value for name.
func (b *Bridge) Platform(name string) (any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.platforms[name]
	if !ok {
		return nil, &core.UnknownTargetError{Target: name}
	}
	return p, nil
}

// PlatformNames returns all registered platform names in registration order.
func (b *Bridge) PlatformNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// Routes exposes the routing table for configuration.
func (b *Bridge) Routes() *RoutingTable { return b.routes }

// Signals returns the bounded diagnostic signal channel.
func (b *Bridge) Signals() <-chan core.Signal { return b.notifier.Signals() }

// History returns the retained audit entries, oldest first.
func (b *Bridge) History() []HistoryEntry { return b.history.Snapshot() }

// RouteMessage validates an envelope, consults the permission matrix, seals
// sensitive payloads, records the attempt in the history and delivers. A
// broadcast-typed envelope fans out to every platform except the sender,
// with per-target permission checks.
func (b *Bridge) RouteMessage(env core.Envelope) (any, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if env.Type == core.TypeBroadcast {
		return b.fanOut(env), nil
	}
	return b.routeDirect(env)
}

// routeDirect handles a single addressed envelope: permission check, audit,
// sealing and delivery.
func (b *Bridge) routeDirect(env core.Envelope) (any, error) {
	allowed, matched := b.routes.Check(env.From, env.To)
	b.history.Push(HistoryEntry{
		MessageID: env.ID,
		Type:      string(env.Type),
		RouteKey:  matched,
		Allowed:   allowed,
		Sealed:    isSensitive(env),
		Timestamp: time.Now().UTC(),
	})
	b.logRoute(matched, allowed, env.ID)
	if !allowed {
		return nil, &core.RoutingDeniedError{RouteKey: matched}
	}

	if isSensitive(env) {
		sealed, err := b.sealer.Seal(env.Payload)
		if err != nil {
			return nil, fmt.Errorf("seal payload: %w", err)
		}
		env.Payload = sealed
	}

	b.countTunnelTraffic(env.From, env.To)
	return b.DeliverMessage(env.To, env)
}

// fanOut delivers a broadcast envelope to every platform except the sender.
// Each targeted copy goes through routeDirect, never back into RouteMessage:
// the copies keep the broadcast type, so re-entering RouteMessage would fan
// out again without bound. Per-target route denials are recorded as results,
// never fatal.
func (b *Bridge) fanOut(env core.Envelope) map[string]any {
	results := make(map[string]any)
	for _, name := range b.PlatformNames() {
		if name == env.From {
			continue
		}
		targeted := env
		targeted.To = name
		res, err := b.routeDirect(targeted)
		if err != nil {
			results[name] = map[string]any{"error": err.Error()}
			continue
		}
		results[name] = res
	}
	return results
}

// DeliverMessage hands an envelope to the named platform's handler,
// preferring ReceiveMessage over HandleBridgeMessage. A platform exposing
// neither yields a warning result, not an error. Handler panics are
// converted to errors so a misbehaving platform cannot crash the drain loop.
func (b *Bridge) DeliverMessage(platformName string, env core.Envelope) (any, error) {
	p, err := b.Platform(platformName)
	if err != nil {
		return nil, err
	}

	var res any
	var handlerErr error
	invoked := false

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				handlerErr = fmt.Errorf("platform %s handler panic: %v", platformName, rec)
			}
		}()
		switch h := p.(type) {
		case MessageReceiver:
			invoked = true
			res, handlerErr = h.ReceiveMessage(env)
		case BridgeMessageHandler:
			invoked = true
			res, handlerErr = h.HandleBridgeMessage(env)
		}
	}()

	if !invoked {
		b.platformLogger(platformName).Warn("platform has no handler", "message_id", env.ID)
		return map[string]any{"warning": fmt.Sprintf("platform %s has no message handler", platformName)}, nil
	}
	if handlerErr != nil {
		return nil, fmt.Errorf("deliver to %s: %w", platformName, handlerErr)
	}
	return res, nil
}

// Enqueue appends an envelope to the bounded message queue for the drain
// loop. A full queue rejects with core.ErrQueueFull; the source had no
// bound here, rejecting on overflow is a deliberate hardening.
func (b *Bridge) Enqueue(env core.Envelope) error {
	select {
	case b.queue <- env:
		return nil
	default:
		return core.ErrQueueFull
	}
}

// QueueLength returns the number of queued envelopes.
func (b *Bridge) QueueLength() int { return len(b.queue) }

// Start launches the drain loop on its own ticker, independent of the
// scheduler's cadence.
func (b *Bridge) Start() error {
	b.loopMu.Lock()
	defer b.loopMu.Unlock()
	if b.running {
		return fmt.Errorf("bridge already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.running = true
	b.wg.Add(1)
	go b.drainLoop(ctx)
	b.logger.Info("bridge started", "drain_interval", b.drainInterval.String())
	return nil
}

// Pause stops the drain loop without dropping queued envelopes.
func (b *Bridge) Pause() {
	b.loopMu.Lock()
	defer b.loopMu.Unlock()
	b.pauseLocked()
}

func (b *Bridge) pauseLocked() {
	if !b.running {
		return
	}
	b.cancel()
	b.wg.Wait()
	b.running = false
	b.logger.Info("bridge paused")
}

// Resume restarts the drain loop after a Pause.
func (b *Bridge) Resume() error {
	return b.Start()
}

// Shutdown pauses the drain loop and closes every tunnel.
func (b *Bridge) Shutdown() {
	b.loopMu.Lock()
	b.pauseLocked()
	b.loopMu.Unlock()

	b.mu.Lock()
	for _, t := range b.tunnels {
		t.Active = false
	}
	b.mu.Unlock()

	b.notifier.Close()
	b.logger.Info("bridge shut down")
}

func (b *Bridge) drainLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Drain()
		}
	}
}

// Drain routes every currently queued envelope. A routing or delivery
// failure is caught per-item and surfaced as a bridge error signal; it
// never stops the drain. Exported so tests and manual drivers can drain
// without the loop.
func (b *Bridge) Drain() int {
	drained := 0
	for {
		select {
		case env := <-b.queue:
			drained++
			if _, err := b.RouteMessage(env); err != nil {
				b.notifier.Publish(core.Signal{
					Kind:   core.SignalBridgeError,
					Source: env.From,
					Error:  err.Error(),
					Data:   map[string]any{"message_id": env.ID},
				})
				b.logger.Error("drain route failed", "message_id", env.ID, "error", err.Error())
			}
		default:
			return drained
		}
	}
}

// logRoute records one routing decision through the rich logger's LogRoute
// helper when available, falling back to a plain warning for denials.
func (b *Bridge) logRoute(routeKey string, allowed bool, messageID string) {
	if al, ok := b.logger.(*logging.AgentBridgeLogger); ok {
		al.LogRoute(routeKey, allowed, messageID)
		return
	}
	if !allowed {
		b.logger.Warn("route denied", "route", routeKey, "message_id", messageID)
	}
}

// platformLogger returns the bridge logger scoped to one platform when the
// rich logger is in use.
func (b *Bridge) platformLogger(name string) logging.Logger {
	if al, ok := b.logger.(*logging.AgentBridgeLogger); ok {
		return al.WithPlatform(name)
	}
	return b.logger
}

// countTunnelTraffic bumps the message counter of any active tunnel linking
// the pair.
func (b *Bridge) countTunnelTraffic(from, to string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.tunnels {
		if t.Active && t.links(from, to) {
			t.MessageCount++
		}
	}
}

// CreateTunnel registers tunnel metadata between two platforms and notifies
// each side exposing the OnTunnelCreated hook. A tunnel records traffic; it
// never bypasses the routing table.
func (b *Bridge) CreateTunnel(platformA, platformB string, _ map[string]any) (*Tunnel, error) {
	pa, err := b.Platform(platformA)
	if err != nil {
		return nil, err
	}
	pb, err := b.Platform(platformB)
	if err != nil {
		return nil, err
	}

	t := &Tunnel{
		ID:        core.NewID(),
		PlatformA: platformA,
		PlatformB: platformB,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	b.mu.Lock()
	b.tunnels[t.ID] = t
	b.mu.Unlock()

	if obs, ok := pa.(TunnelObserver); ok {
		obs.OnTunnelCreated(t.ID, platformB)
	}
	if obs, ok := pb.(TunnelObserver); ok {
		obs.OnTunnelCreated(t.ID, platformA)
	}

	b.logger.Info("tunnel created", "tunnel_id", t.ID, "a", platformA, "b", platformB)
	return t, nil
}

// Tunnels returns a copy of the registered tunnels.
func (b *Bridge) Tunnels() []*Tunnel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Tunnel, 0, len(b.tunnels))
	for _, t := range b.tunnels {
		c := *t
		out = append(out, &c)
	}
	return out
}

// ExportPlatformState asks a named platform for a state snapshot through
// its StateExporter hook. A platform without the hook yields a validation
// error.
func (b *Bridge) ExportPlatformState(name string, opts map[string]any) (map[string]any, error) {
	p, err := b.Platform(name)
	if err != nil {
		return nil, err
	}
	exp, ok := p.(StateExporter)
	if !ok {
		return nil, &core.ValidationError{Field: "platform", Message: fmt.Sprintf("platform %q does not export state", name)}
	}
	return exp.ExportState(opts), nil
}

// Synchronize pulls sync data from every SyncSource platform, pushes the
// aggregate (minus the hidden sink's own contribution) to every SyncTarget
// except the sink, and hands the full aggregate to the sink's RecordSync.
// The sink always sees a superset of what others see; others never see the
// sink's data.
func (b *Bridge) Synchronize() (map[string]any, error) {
	if al, ok := b.logger.(*logging.AgentBridgeLogger); ok {
		defer al.StartTimer("synchronize")()
	}

	sink := b.routes.Sink()
	aggregate := make(map[string]any)

	names := b.PlatformNames()
	for _, name := range names {
		p, err := b.Platform(name)
		if err != nil {
			continue
		}
		if src, ok := p.(SyncSource); ok {
			aggregate[name] = src.GetSyncData()
		}
	}

	shared := make(map[string]any, len(aggregate))
	for k, v := range aggregate {
		if k == sink {
			continue
		}
		shared[k] = v
	}

	for _, name := range names {
		if name == sink {
			continue
		}
		p, err := b.Platform(name)
		if err != nil {
			continue
		}
		if tgt, ok := p.(SyncTarget); ok {
			tgt.ApplySyncData(shared)
		}
	}

	if p, err := b.Platform(sink); err == nil {
		if rec, ok := p.(SyncRecorder); ok {
			rec.RecordSync(aggregate)
		}
	}

	b.logger.Debug("synchronization complete", "sources", len(aggregate))
	return aggregate, nil
}
