package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/forgemesh/forgemesh/core"
	"github.com/forgemesh/forgemesh/logging"
)

// Handler processes one task of a specific kind.
type Handler func(ctx context.Context, task core.Task) (core.TaskResult, error)

// Options configures a BaseAgent.
type Options struct {
	// DegradedAfter is the consecutive-failure count that moves a ready
	// agent to degraded. Degraded agents still accept tasks.
	DegradedAfter int

	// FailedAfter is the consecutive-failure count that moves the agent
	// to failed. Failed agents accept nothing until Reset.
	FailedAfter int

	// InitFn runs during Initialize for scoped setup (acquire clients,
	// register sub-resources). Failures are captured, logged, and
	// returned; they never escape as faults.
	InitFn func(ctx context.Context) error

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// BaseAgent bundles the shared lifecycle and kind-gated dispatch every
// worker needs. Embed it and register handlers per task kind. All exported
// methods are goroutine-safe.
type BaseAgent struct {
	id   string
	name string
	opts Options

	mu           sync.Mutex
	state        core.AgentState
	consecFails  int
	handlers     map[core.TaskKind]Handler
	capabilities []core.TaskKind

	logger logging.Logger
}

// NewBaseAgent constructs a BaseAgent in the uninitialized state.
func NewBaseAgent(id, name string, optFns ...func(o *Options)) *BaseAgent {
	opts := Options{
		DegradedAfter: 3,
		FailedAfter:   5,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &BaseAgent{
		id:       id,
		name:     name,
		opts:     opts,
		state:    core.AgentUninitialized,
		handlers: make(map[core.TaskKind]Handler),
		logger:   opts.Logger,
	}
}

// ID implements core.Agent.
func (b *BaseAgent) ID() string { return b.id }

// Name implements core.Agent.
func (b *BaseAgent) Name() string { return b.name }

// Capabilities implements core.Agent: the closed list of task kinds with a
// registered handler, in registration order.
func (b *BaseAgent) Capabilities() []core.TaskKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.TaskKind, len(b.capabilities))
	copy(out, b.capabilities)
	return out
}

// RegisterHandler binds a handler to a task kind. Registering twice for
// one kind replaces the previous handler.
func (b *BaseAgent) RegisterHandler(kind core.TaskKind, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.handlers[kind]; !exists {
		b.capabilities = append(b.capabilities, kind)
	}
	b.handlers[kind] = fn
}

// Initialize implements core.Agent. It is idempotent: an agent that is
// already past initializing returns immediately. Setup failures are logged
// and returned, leaving the agent uninitialized so the caller may retry;
// an agent that reached failed at runtime recovers only through Reset.
func (b *BaseAgent) Initialize(ctx context.Context) error {
	b.mu.Lock()
	if b.state != core.AgentUninitialized {
		b.mu.Unlock()
		return nil
	}
	b.state = core.AgentInitializing
	initFn := b.opts.InitFn
	b.mu.Unlock()

	if initFn != nil {
		if err := initFn(ctx); err != nil {
			b.mu.Lock()
			b.state = core.AgentUninitialized
			b.mu.Unlock()
			b.logger.Error("agent initialization failed", "agent_id", b.id, "error", err)
			return fmt.Errorf("initialize agent %s: %w", b.id, err)
		}
	}

	b.mu.Lock()
	b.state = core.AgentReady
	b.consecFails = 0
	b.mu.Unlock()
	b.logger.Info("agent initialized", "agent_id", b.id, "name", b.name)
	return nil
}

// ProcessTask implements core.Agent. Unsupported kinds are a
// PermanentFailure; handler outcomes feed the consecutive-failure counter
// that drives the degraded and failed transitions.
func (b *BaseAgent) ProcessTask(ctx context.Context, task core.Task) (core.TaskResult, error) {
	b.mu.Lock()
	if !b.state.AcceptsTasks() {
		state := b.state
		b.mu.Unlock()
		return core.TaskResult{}, &core.TransientFailure{
			Op:  "process task",
			Err: fmt.Errorf("agent %s not accepting tasks in state %s", b.id, state),
		}
	}
	handler, ok := b.handlers[task.Kind]
	if !ok {
		b.mu.Unlock()
		return core.TaskResult{}, &core.PermanentFailure{
			Op:     "process task",
			Reason: fmt.Sprintf("agent %s does not support task kind %q", b.id, task.Kind),
		}
	}
	prev := b.state
	b.state = core.AgentBusy
	b.mu.Unlock()

	result, err := handler(ctx, task)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.consecFails++
		switch {
		case b.consecFails >= b.opts.FailedAfter:
			b.state = core.AgentFailed
			b.logger.Error("agent failed after consecutive errors",
				"agent_id", b.id, "failures", b.consecFails)
		case b.consecFails >= b.opts.DegradedAfter:
			b.state = core.AgentDegraded
			b.logger.Warn("agent degraded",
				"agent_id", b.id, "failures", b.consecFails)
		default:
			b.state = prev
		}
		return result, err
	}

	b.consecFails = 0
	b.state = core.AgentReady
	return result, nil
}

// HealthCheck implements core.Agent.
func (b *BaseAgent) HealthCheck() core.HealthStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	caps := make([]core.TaskKind, len(b.capabilities))
	copy(caps, b.capabilities)
	return core.HealthStatus{
		ID:           b.id,
		Name:         b.name,
		State:        b.state,
		Capabilities: caps,
		Timestamp:    time.Now().UTC(),
	}
}

// State implements core.Agent.
func (b *BaseAgent) State() core.AgentState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset implements core.Agent: the only path out of failed. It clears the
// failure counter and returns the agent to ready.
func (b *BaseAgent) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == core.AgentUninitialized {
		return fmt.Errorf("agent %s not initialized", b.id)
	}
	b.state = core.AgentReady
	b.consecFails = 0
	b.logger.Info("agent reset", "agent_id", b.id)
	return nil
}
