package core

import (
	"context"
	"time"
)

// AgentState tracks the lifecycle of an agent.
//
// State machine: uninitialized → initializing → ready → (busy ↔ ready) →
// degraded (after repeated task failures) → failed (after consecutive
// failures cross the threshold). A failed agent returns to ready only via
// an explicit Reset, never automatically.
type AgentState string

const (
	// AgentUninitialized is the zero state before Initialize.
	AgentUninitialized AgentState = "uninitialized"
	// AgentInitializing means setup is in progress.
	AgentInitializing AgentState = "initializing"
	// AgentReady means the agent accepts new tasks.
	AgentReady AgentState = "ready"
	// AgentBusy means a task is being processed.
	AgentBusy AgentState = "busy"
	// AgentDegraded means repeated failures occurred; the agent still
	// accepts tasks but is deprioritized.
	AgentDegraded AgentState = "degraded"
	// AgentFailed means the consecutive-failure threshold was crossed;
	// only Reset recovers the agent.
	AgentFailed AgentState = "failed"
)

// AcceptsTasks reports whether an agent in this state may be assigned work.
func (s AgentState) AcceptsTasks() bool { return s == AgentReady || s == AgentDegraded }

// HealthStatus is the snapshot returned by an agent health check.
type HealthStatus struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	State        AgentState `json:"state"`
	Capabilities []TaskKind `json:"capabilities"`
	Timestamp    time.Time  `json:"timestamp"`
}

// Agent is the uniform runtime contract every worker implements.
//
// Initialize must be idempotent: internal failures are captured and
// returned as an error, never panicked, so orchestration control flow stays
// uniform. ProcessTask is invoked by the bus delivery worker for one task
// at a time per agent instance; implementations must respect ctx
// cancellation as the bounded-wait discipline for external calls.
type Agent interface {
	ID() string
	Name() string
	Capabilities() []TaskKind
	Initialize(ctx context.Context) error
	ProcessTask(ctx context.Context, task Task) (TaskResult, error)
	HealthCheck() HealthStatus
	State() AgentState
	Reset() error
}

// MessageReceiver is optionally implemented by agents that want to observe
// non-task messages (status updates, broadcasts). The bus invokes it for
// envelope types it does not interpret itself.
type MessageReceiver interface {
	OnMessage(msg Message)
}
