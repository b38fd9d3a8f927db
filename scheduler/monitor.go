package scheduler

import (
	"context"
	"time"

	"github.com/hupe1980/agentbridge/core"
)

// Synthetic gauge coefficients. The gauges are derived from agent counts,
// not real OS measurements, mirroring the placeholder formulas of the
// original system; treat them as approximate load indicators only.
const (
	cpuPerExecuting = 0.15
	cpuPerAgent     = 0.01
	memPerAgent     = 0.02
)

// monitorLoop recomputes the coarse resource gauges on its own cadence,
// independent of the tick loop. It only ever notifies; execution is never
// throttled here.
func (s *Scheduler) monitorLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.MonitorTick()
		}
	}
}

// MonitorTick recomputes the gauges once and emits a resource warning
// signal when the CPU gauge exceeds the configured threshold. Exported so
// tests and manual drivers can run the monitor without the loop.
func (s *Scheduler) MonitorTick() {
	agents := s.reg.Count()

	s.mu.Lock()
	executing := int(s.executing)
	cpu := float64(executing)*cpuPerExecuting + float64(agents)*cpuPerAgent
	if cpu > 1 {
		cpu = 1
	}
	mem := float64(agents) * memPerAgent
	if mem > 1 {
		mem = 1
	}
	s.cpuGauge = cpu
	s.memGauge = mem
	threshold := s.cpuWarnThreshold
	s.mu.Unlock()

	if cpu > threshold {
		s.notifier.Publish(core.Signal{
			Kind:   core.SignalResourceWarning,
			Source: RuntimePlatformName,
			Data: map[string]any{
				"cpu_gauge":       cpu,
				"agent_count":     agents,
				"executing_count": executing,
			},
		})
		s.logger.Warn("resource warning", "cpu_gauge", cpu, "agent_count", agents)
	}
}
