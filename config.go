package agentbridge

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can use human-readable
// values like "100ms" or "2s".
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config carries the tunable parameters for the scheduler and bridge. The
// default governance rules and routing behavior of the core are reproduced
// without any configuration; everything here is an optional override.
type Config struct {
	// TickInterval is the scheduler execution cadence.
	TickInterval Duration `yaml:"tick_interval"`
	// MonitorInterval is the resource monitoring cadence.
	MonitorInterval Duration `yaml:"monitor_interval"`
	// DrainInterval is the bridge queue drain cadence.
	DrainInterval Duration `yaml:"drain_interval"`
	// CPUWarnThreshold triggers resource warnings above this gauge value.
	CPUWarnThreshold float64 `yaml:"cpu_warn_threshold"`
	// HiddenSink names the default-deny sink platform.
	HiddenSink string `yaml:"hidden_sink"`
	// Secret derives the payload sealing key.
	Secret string `yaml:"secret"`
	// GovernanceEnabled toggles the governance evaluator.
	GovernanceEnabled bool `yaml:"governance_enabled"`
	// QueueCapacity bounds the bridge message queue.
	QueueCapacity int `yaml:"queue_capacity"`
	// HistoryCapacity bounds the bridge audit history.
	HistoryCapacity int `yaml:"history_capacity"`
	// InboxCapacity bounds per-agent inboxes.
	InboxCapacity int `yaml:"inbox_capacity"`
	// Routes seeds the routing table with string-keyed booleans, e.g.
	// "runtime->telemetry": true.
	Routes map[string]bool `yaml:"routes"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		TickInterval:      Duration(100 * time.Millisecond),
		MonitorInterval:   Duration(time.Second),
		DrainInterval:     Duration(50 * time.Millisecond),
		CPUWarnThreshold:  0.8,
		HiddenSink:        "mirror",
		Secret:            "agentbridge-transport",
		GovernanceEnabled: true,
		QueueCapacity:     256,
		HistoryCapacity:   200,
		InboxCapacity:     50,
	}
}

// LoadConfigFile reads a YAML config, layering it over the defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
