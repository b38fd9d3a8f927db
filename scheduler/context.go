package scheduler

import (
	"math/rand"
	"time"

	"github.com/hupe1980/agentbridge/core"
	"github.com/hupe1980/agentbridge/logging"
)

// execContext is the concrete capability surface handed to template hooks.
// It exposes scoped logging, agent messaging, spawning, the scheduler clock
// and a random source. Templates never see the registry or another agent's
// memory.
type execContext struct {
	s       *Scheduler
	agentID string
	logger  logging.Logger
	rnd     *rand.Rand
}

// newExecContext builds the context for one agent. The random source is
// derived from the scheduler's seeded source so runs can be made
// deterministic with WithRandSeed.
func (s *Scheduler) newExecContext(a *core.Agent) core.ExecContext {
	s.mu.Lock()
	seed := s.rnd.Int63()
	s.mu.Unlock()

	logger := s.logger
	if bl, ok := logger.(*logging.AgentBridgeLogger); ok {
		logger = bl.WithAgent(a.ID)
	}

	return &execContext{
		s:       s,
		agentID: a.ID,
		logger:  logger,
		rnd:     rand.New(rand.NewSource(seed)),
	}
}

// AgentID returns the id of the agent this context is scoped to.
func (c *execContext) AgentID() string { return c.agentID }

// Logger returns the agent-scoped logger.
func (c *execContext) Logger() logging.Logger { return c.logger }

// SendMessage delivers payload to another agent as an agent_message. Hooks
// run with the scheduler's agent mutex held, so this re-enters through the
// locked variant rather than the public entry point.
func (c *execContext) SendMessage(targetID string, payload any) error {
	return c.s.sendMessageLocked(c.agentID, targetID, payload)
}

// Spawn creates a child of the context's agent, subject to the children cap
// and governance.
func (c *execContext) Spawn(cfg core.AgentConfig) (*core.Agent, error) {
	return c.s.spawnChildLocked(c.agentID, cfg)
}

// Now returns the current time as seen by the scheduler clock.
func (c *execContext) Now() time.Time { return c.s.clock() }

// Rand returns the context's random source.
func (c *execContext) Rand() *rand.Rand { return c.rnd }
