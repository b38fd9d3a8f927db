package scheduler

import (
	"fmt"

	"github.com/hupe1980/agentbridge/core"
)

// The scheduler doubles as the "runtime" platform behind the bridge. This
// file implements the uniform platform surface: ReceiveMessage plus the
// optional sync/export/tunnel hooks the bridge probes for.

// ReceiveMessage handles an envelope delivered by the bridge. Commands drive
// the registry (create/execute/terminate/tick), agent messages are forwarded
// into the agent mail path, broadcasts fan out to every agent.
func (s *Scheduler) ReceiveMessage(env core.Envelope) (any, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	switch env.Type {
	case core.TypeCommand:
		return s.handleCommand(env)
	case core.TypeAgentMessage:
		return s.handleAgentMail(env)
	case core.TypeBroadcast:
		results := s.Broadcast(env.Payload, nil)
		faulted := 0
		for _, r := range results {
			if r.Faulted() {
				faulted++
			}
		}
		return map[string]any{"delivered": len(results) - faulted, "faulted": faulted}, nil
	case core.TypeBridgeRequest:
		return s.handleBridgeRequest(env)
	default:
		return nil, &core.ValidationError{Field: "type", Message: fmt.Sprintf("unhandled message type %q", env.Type)}
	}
}

// handleCommand executes a runtime command carried in the payload:
// {"action": "...", ...}.
func (s *Scheduler) handleCommand(env core.Envelope) (any, error) {
	payload, ok := env.Payload.(map[string]any)
	if !ok {
		return nil, &core.ValidationError{Field: "payload", Message: "command payload must be an object"}
	}
	action, _ := payload["action"].(string)

	switch action {
	case "create":
		kind, _ := payload["kind"].(string)
		name, _ := payload["name"].(string)
		a, err := s.CreateAgent(core.AgentConfig{Name: name, Kind: core.TemplateKind(kind)})
		if err != nil {
			return nil, err
		}
		return map[string]any{"agent_id": a.ID, "state": string(a.State)}, nil
	case "execute":
		id, _ := payload["agent_id"].(string)
		if err := s.ExecuteAgent(id); err != nil {
			return nil, err
		}
		return map[string]any{"executed": id}, nil
	case "terminate":
		id, _ := payload["agent_id"].(string)
		if err := s.TerminateAgent(id); err != nil {
			return nil, err
		}
		return map[string]any{"terminated": id}, nil
	case "tick":
		return map[string]any{"executed": s.Tick()}, nil
	default:
		return nil, &core.ValidationError{Field: "action", Message: fmt.Sprintf("unknown command action %q", action)}
	}
}

// handleAgentMail forwards a bridge-delivered envelope to the agent named in
// the payload: {"agent_id": "...", "data": ...}.
func (s *Scheduler) handleAgentMail(env core.Envelope) (any, error) {
	payload, ok := env.Payload.(map[string]any)
	if !ok {
		return nil, &core.ValidationError{Field: "payload", Message: "agent_message payload must be an object"}
	}
	agentID, _ := payload["agent_id"].(string)
	if agentID == "" {
		return nil, &core.ValidationError{Field: "agent_id", Message: "missing target agent id"}
	}
	if err := s.SendMessage(RuntimePlatformName, agentID, payload["data"]); err != nil {
		return nil, err
	}
	return map[string]any{"forwarded": agentID}, nil
}

// handleBridgeRequest answers read-only queries about the runtime.
func (s *Scheduler) handleBridgeRequest(env core.Envelope) (any, error) {
	payload, _ := env.Payload.(map[string]any)
	query, _ := payload["query"].(string)

	switch query {
	case "metrics":
		return s.Metrics(), nil
	case "agents":
		s.agentMu.Lock()
		defer s.agentMu.Unlock()
		var out []map[string]any
		for _, a := range s.reg.List() {
			out = append(out, map[string]any{
				"id":       a.ID,
				"name":     a.Name,
				"kind":     string(a.Kind),
				"state":    string(a.State),
				"priority": a.Priority,
			})
		}
		return out, nil
	default:
		return nil, &core.ValidationError{Field: "query", Message: fmt.Sprintf("unknown bridge request query %q", query)}
	}
}

// GetSyncData contributes the runtime's aggregate view to a bridge
// synchronization round.
func (s *Scheduler) GetSyncData() map[string]any {
	m := s.Metrics()
	return map[string]any{
		"agent_count":       m.AgentCount,
		"total_executions":  m.TotalExecutions,
		"failed_executions": m.FailedExecutions,
		"cpu_gauge":         m.CPUGauge,
	}
}

// ApplySyncData stores the aggregate pushed by the bridge for later
// inspection by runtime commands.
func (s *Scheduler) ApplySyncData(data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range data {
		s.syncState[k] = v
	}
}

// SyncState returns a copy of the last aggregate received via ApplySyncData.
func (s *Scheduler) SyncState() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.syncState))
	for k, v := range s.syncState {
		out[k] = v
	}
	return out
}

// ExportState returns a partial or full snapshot of the runtime for a
// requesting platform.
func (s *Scheduler) ExportState(opts map[string]any) map[string]any {
	partial, _ := opts["partial"].(bool)
	state := map[string]any{
		"platform": RuntimePlatformName,
		"metrics":  s.Metrics(),
	}
	if partial {
		return state
	}
	s.agentMu.Lock()
	defer s.agentMu.Unlock()
	var agents []map[string]any
	for _, a := range s.reg.List() {
		agents = append(agents, map[string]any{
			"id":         a.ID,
			"kind":       string(a.Kind),
			"state":      string(a.State),
			"generation": a.Generation,
		})
	}
	state["agents"] = agents
	return state
}

// OnTunnelCreated records that a tunnel now links the runtime with another
// platform. Tunnels are advisory; nothing changes in scheduling.
func (s *Scheduler) OnTunnelCreated(tunnelID, otherPlatform string) {
	s.logger.Info("tunnel created", "tunnel_id", tunnelID, "peer", otherPlatform)
}
