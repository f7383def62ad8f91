package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/forgemesh/forgemesh/core"
)

// StubAgent is a scriptable core.Agent for tests. By default it initializes
// to ready and completes every task with one artifact. Behavior is
// customized per task id via Script, or globally via the hook fields.
type StubAgent struct {
	AgentID    string
	AgentName  string
	Kinds      []core.TaskKind
	InitErr    error
	ProcessFn  func(ctx context.Context, task core.Task) (core.TaskResult, error)
	Delay      time.Duration

	mu        sync.Mutex
	state     core.AgentState
	initCalls int
	processed []string
	script    map[string][]error
}

// NewStubAgent creates a ready-to-register stub accepting the given kinds
// (all kinds when none given).
func NewStubAgent(id string, kinds ...core.TaskKind) *StubAgent {
	if len(kinds) == 0 {
		kinds = core.Kinds()
	}
	return &StubAgent{
		AgentID:   id,
		AgentName: "stub " + id,
		Kinds:     kinds,
		state:     core.AgentUninitialized,
		script:    make(map[string][]error),
	}
}

// FailTask scripts errors returned for successive attempts of one task id.
// Attempts beyond the scripted errors succeed.
func (s *StubAgent) FailTask(taskID string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[taskID] = append(s.script[taskID], errs...)
}

// ID implements core.Agent.
func (s *StubAgent) ID() string { return s.AgentID }

// Name implements core.Agent.
func (s *StubAgent) Name() string { return s.AgentName }

// Capabilities implements core.Agent.
func (s *StubAgent) Capabilities() []core.TaskKind { return s.Kinds }

// Initialize implements core.Agent.
func (s *StubAgent) Initialize(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initCalls++
	if s.InitErr != nil {
		s.state = core.AgentFailed
		return s.InitErr
	}
	s.state = core.AgentReady
	return nil
}

// InitCalls returns how many times Initialize ran.
func (s *StubAgent) InitCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initCalls
}

// Processed returns task ids in processing order, including retries.
func (s *StubAgent) Processed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.processed))
	copy(out, s.processed)
	return out
}

// ProcessTask implements core.Agent.
func (s *StubAgent) ProcessTask(ctx context.Context, task core.Task) (core.TaskResult, error) {
	s.mu.Lock()
	s.state = core.AgentBusy
	s.processed = append(s.processed, task.ID)
	var scripted error
	if errs := s.script[task.ID]; len(errs) > 0 {
		scripted = errs[0]
		s.script[task.ID] = errs[1:]
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.state = core.AgentReady
		s.mu.Unlock()
	}()

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return core.TaskResult{}, &core.TransientFailure{Op: "stub", Err: ctx.Err()}
		}
	}

	if scripted != nil {
		return core.TaskResult{}, scripted
	}
	if s.ProcessFn != nil {
		return s.ProcessFn(ctx, task)
	}

	return core.TaskResult{
		TaskID: task.ID,
		Status: core.TaskCompleted,
		Artifacts: []core.ArtifactMeta{{
			ID:        core.NewID(),
			TaskID:    task.ID,
			ProjectID: task.ProjectID,
			Phase:     task.Phase,
			Name:      task.Title,
			Kind:      task.Kind,
			Generator: "template",
			CreatedAt: time.Now().UTC(),
		}},
		Output: "stub output for " + task.Title,
	}, nil
}

// HealthCheck implements core.Agent.
func (s *StubAgent) HealthCheck() core.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.HealthStatus{
		ID:           s.AgentID,
		Name:         s.AgentName,
		State:        s.state,
		Capabilities: s.Kinds,
		Timestamp:    time.Now().UTC(),
	}
}

// State implements core.Agent.
func (s *StubAgent) State() core.AgentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState overrides the lifecycle state for gating tests.
func (s *StubAgent) SetState(st core.AgentState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// Reset implements core.Agent.
func (s *StubAgent) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = core.AgentReady
	return nil
}
