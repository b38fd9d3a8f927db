package agentbridge

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/agentbridge/bridge"
	"github.com/hupe1980/agentbridge/core"
	"github.com/hupe1980/agentbridge/internal/testutil"
	"github.com/hupe1980/agentbridge/scheduler"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNew_RegistersRuntimePlatform(t *testing.T) {
	ab, err := New()
	require.NoError(t, err)

	assert.Equal(t, []string{scheduler.RuntimePlatformName}, ab.Bridge().PlatformNames())

	p, err := ab.Bridge().Platform(scheduler.RuntimePlatformName)
	require.NoError(t, err)
	assert.Same(t, ab.Scheduler(), p)
}

func TestAgentBridge_EndToEnd(t *testing.T) {
	ab, err := New()
	require.NoError(t, err)

	telemetry := testutil.NewRecorderPlatform()
	require.NoError(t, ab.RegisterPlatform("telemetry", telemetry))

	a, err := ab.CreateAgent(core.AgentConfig{Name: "worker", Kind: core.KindBasic})
	require.NoError(t, err)

	// Drive the runtime through the bridge the way an external platform would.
	env := testutil.NewEnvelopeBuilder().
		Type(core.TypeCommand).
		From("telemetry").To(scheduler.RuntimePlatformName).
		Payload(map[string]any{"action": "execute", "agent_id": a.ID}).
		Build()
	_, err = ab.Bridge().RouteMessage(env)
	require.NoError(t, err)
	assert.EqualValues(t, 1, a.Stats.RunCount)

	// And back out: the runtime can whisper to a peer platform.
	results, err := ab.Bridge().Broadcast(scheduler.RuntimePlatformName, "report", bridge.PatternOptions{
		Pattern: bridge.PatternWhisper,
		Target:  "telemetry",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Faulted())
	assert.Len(t, telemetry.Received(), 1)
}

func TestAgentBridge_StartPauseShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickInterval = Duration(5 * time.Millisecond)
	cfg.MonitorInterval = Duration(5 * time.Millisecond)
	cfg.DrainInterval = Duration(5 * time.Millisecond)

	ab, err := New(WithConfig(cfg))
	require.NoError(t, err)

	_, err = ab.CreateAgent(core.AgentConfig{Kind: core.KindBasic})
	require.NoError(t, err)

	require.NoError(t, ab.Start())
	time.Sleep(25 * time.Millisecond)
	ab.Pause()

	m := ab.Scheduler().Metrics()
	assert.Greater(t, m.TotalExecutions, int64(0))

	require.NoError(t, ab.Resume())
	ab.Shutdown()
	assert.Equal(t, 0, ab.Scheduler().Registry().Count())
}

func TestNew_GovernanceToggle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GovernanceEnabled = false

	ab, err := New(WithConfig(cfg))
	require.NoError(t, err)

	m, err := ab.CreateAgent(core.AgentConfig{Kind: core.KindMirror})
	require.NoError(t, err)
	assert.NoError(t, ab.Scheduler().TerminateAgent(m.ID),
		"disabled governance allows terminating a mirror")
}

func TestNew_ConfigRoutesSeedTheTable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Routes = map[string]bool{"runtime->telemetry": false}

	ab, err := New(WithConfig(cfg))
	require.NoError(t, err)

	allowed, _ := ab.Bridge().Routes().Check("runtime", "telemetry")
	assert.False(t, allowed)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentbridge.yaml")
	data := []byte(`
tick_interval: 250ms
hidden_sink: vault
governance_enabled: false
routes:
  alpha->beta: false
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval.Std())
	assert.Equal(t, "vault", cfg.HiddenSink)
	assert.False(t, cfg.GovernanceEnabled)
	assert.Equal(t, map[string]bool{"alpha->beta": false}, cfg.Routes)

	// Untouched fields keep their defaults.
	assert.Equal(t, 50*time.Millisecond, cfg.DrainInterval.Std())
	assert.Equal(t, 256, cfg.QueueCapacity)
}

func TestLoadConfigFile_Errors(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tick_interval: [not, a, duration]"), 0o600))
	_, err = LoadConfigFile(path)
	assert.Error(t, err)
}
