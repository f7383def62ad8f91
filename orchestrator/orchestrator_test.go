package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgemesh/forgemesh/artifact"
	"github.com/forgemesh/forgemesh/bus"
	"github.com/forgemesh/forgemesh/core"
	"github.com/forgemesh/forgemesh/internal/testutil"
	"github.com/forgemesh/forgemesh/logging"
	"github.com/forgemesh/forgemesh/memory"
	"github.com/forgemesh/forgemesh/protocol"
	"github.com/forgemesh/forgemesh/quality"
	"github.com/forgemesh/forgemesh/resource"
	"github.com/forgemesh/forgemesh/scheduler"
)

type stubPlanner struct {
	plan *core.Plan
	err  error
}

func (p stubPlanner) Plan(context.Context, core.ProjectRequest) (*core.Plan, error) {
	return p.plan, p.err
}

type stubGate struct{ pass bool }

func (g stubGate) Evaluate(manifest []core.ArtifactMeta) quality.Report {
	return quality.Report{Score: 1.0, Pass: g.pass, Breakdown: map[string]float64{}}
}

type fixture struct {
	bus   *bus.Bus
	alloc *resource.Allocator
	sched *scheduler.Scheduler
	orch  *Orchestrator
	agent *testutil.StubAgent
	store *artifact.InMemoryStore
}

func newFixture(t *testing.T, optFns ...func(o *Options)) *fixture {
	t.Helper()

	b := bus.New()
	alloc := resource.NewAllocator(resource.DefaultCapacities(), logging.NoOpLogger{})
	sched, err := scheduler.New(b, alloc, func(o *scheduler.Options) {
		o.MaxRetries = 3
		o.InitialBackoff = 5 * time.Millisecond
		o.MaxBackoff = 50 * time.Millisecond
		o.ResourceMaxWait = 2 * time.Second
	})
	require.NoError(t, err)
	runner := protocol.NewRunner(sched, b)

	agent := testutil.NewStubAgent("worker-1")
	require.NoError(t, b.Register(context.Background(), agent))

	store := artifact.NewInMemoryStore()
	base := []func(o *Options){
		func(o *Options) {
			o.Artifacts = store
			o.Gate = stubGate{pass: true}
			o.PhaseTimeout = 10 * time.Second
		},
	}
	orch := New(b, sched, runner, alloc, append(base, optFns...)...)

	t.Cleanup(func() {
		orch.Close()
		sched.Close()
		b.Close()
	})
	return &fixture{bus: b, alloc: alloc, sched: sched, orch: orch, agent: agent, store: store}
}

func await(t *testing.T, orch *Orchestrator, projectID string) core.StatusSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snap, err := orch.AwaitProject(ctx, projectID)
	require.NoError(t, err)
	return snap
}

func sequentialPhase(name string, tasks ...core.Task) core.Phase {
	return core.Phase{Name: name, Mode: core.ModeSequential, Tasks: tasks}
}

func newTask(phase string, kind core.TaskKind, title string) core.Task {
	task := core.NewTask("", phase, kind, title)
	task.Footprint = core.Footprint{core.ResourceCompute: 5, core.ResourceMemory: 5, core.ResourceSlots: 1}
	return task
}

// Three sequential tasks, all succeed: the project completes with a
// manifest of three artifacts in declared order.
func TestOrchestrator_SequentialProjectCompletes(t *testing.T) {
	t1 := newTask("implementation", core.KindBackend, "first")
	t2 := newTask("implementation", core.KindBackend, "second")
	t3 := newTask("implementation", core.KindBackend, "third")
	f := newFixture(t, func(o *Options) {
		o.Planner = stubPlanner{plan: &core.Plan{
			Name:   "three-step",
			Phases: []core.Phase{sequentialPhase("implementation", t1, t2, t3)},
		}}
	})

	id, err := f.orch.SubmitProject(core.ProjectRequest{Type: "api_service", Description: "demo"})
	require.NoError(t, err)

	snap := await(t, f.orch, id)
	assert.Equal(t, core.ProjectCompleted, snap.State)
	assert.InDelta(t, 1.0, snap.Progress, 1e-9)
	assert.Nil(t, snap.Err)

	manifest, err := f.orch.Manifest(id)
	require.NoError(t, err)
	require.Len(t, manifest, 3)
	assert.Equal(t, "first", manifest[0].Name)
	assert.Equal(t, "second", manifest[1].Name)
	assert.Equal(t, "third", manifest[2].Name)

	// The manifest store holds the same entries.
	stored, err := f.store.List(id)
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	// Terminal projects stay queryable from the archive.
	again, err := f.orch.ProjectStatus(id)
	require.NoError(t, err)
	assert.Equal(t, core.ProjectCompleted, again.State)
}

// A task fails transiently twice then succeeds: the project completes and
// the recorded retry count is exactly two.
func TestOrchestrator_TransientFailuresRetriedToCompletion(t *testing.T) {
	task := newTask("implementation", core.KindBackend, "flaky step")
	f := newFixture(t, func(o *Options) {
		o.Planner = stubPlanner{plan: &core.Plan{
			Name:   "retry-plan",
			Phases: []core.Phase{sequentialPhase("implementation", task)},
		}}
	})
	f.agent.FailTask(task.ID,
		&core.TransientFailure{Op: "stub", Err: errors.New("flaky")},
		&core.TransientFailure{Op: "stub", Err: errors.New("flaky")},
	)

	id, err := f.orch.SubmitProject(core.ProjectRequest{Type: "api_service"})
	require.NoError(t, err)

	snap := await(t, f.orch, id)
	assert.Equal(t, core.ProjectCompleted, snap.State)

	result, ok := f.sched.Result(task.ID)
	require.True(t, ok)
	assert.Equal(t, core.TaskCompleted, result.Status)
	assert.Equal(t, 2, result.RetryCount)
	assert.Len(t, f.agent.Processed(), 3)
}

// A required sync-point task fails permanently: the protocol aborts, the
// project fails, and the manifest keeps only prior-completed entries.
func TestOrchestrator_SyncPointFailurePreservesPriorManifest(t *testing.T) {
	design := newTask("design", core.KindBackend, "design contract")
	good := newTask("implementation", core.KindBackend, "build api")
	bad := newTask("implementation", core.KindBackend, "build schema")
	f := newFixture(t, func(o *Options) {
		o.Planner = stubPlanner{plan: &core.Plan{
			Name: "failing-plan",
			Phases: []core.Phase{
				sequentialPhase("design", design),
				{
					Name:      "implementation",
					Mode:      core.ModeParallel,
					SyncPoint: "implementation-complete",
					Tasks:     []core.Task{good, bad},
				},
			},
		}}
	})
	f.agent.FailTask(bad.ID, &core.PermanentFailure{Op: "stub", Reason: "invalid requirements"})

	id, err := f.orch.SubmitProject(core.ProjectRequest{Type: "api_service"})
	require.NoError(t, err)

	snap := await(t, f.orch, id)
	assert.Equal(t, core.ProjectFailed, snap.State)
	require.NotNil(t, snap.Err)
	assert.Equal(t, string(protocol.StatusAborted), snap.Err.Kind)
	assert.Equal(t, "implementation", snap.Err.Phase)

	manifest, err := f.orch.Manifest(id)
	require.NoError(t, err)
	names := make([]string, 0, len(manifest))
	for _, m := range manifest {
		names = append(names, m.Name)
	}
	assert.Contains(t, names, "design contract")
	assert.NotContains(t, names, "build schema")
}

func TestOrchestrator_PlanningFailureFailsProject(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Planner = stubPlanner{err: errors.New("model unreachable and no fallback")}
	})

	id, err := f.orch.SubmitProject(core.ProjectRequest{Type: "web_application"})
	require.NoError(t, err)

	snap := await(t, f.orch, id)
	assert.Equal(t, core.ProjectFailed, snap.State)
	require.NotNil(t, snap.Err)
	assert.Equal(t, "planning", snap.Err.Kind)
	assert.Zero(t, snap.Artifacts)
}

func TestOrchestrator_NoCapableAgentFailsRequiredTask(t *testing.T) {
	task := newTask("implementation", core.KindFrontend, "build ui")
	f := newFixture(t, func(o *Options) {
		o.Planner = stubPlanner{plan: &core.Plan{
			Name:   "ui-plan",
			Phases: []core.Phase{sequentialPhase("implementation", task)},
		}}
	})
	// The only registered agent no longer accepts frontend work.
	f.agent.Kinds = []core.TaskKind{core.KindBackend}

	id, err := f.orch.SubmitProject(core.ProjectRequest{Type: "web_application"})
	require.NoError(t, err)

	snap := await(t, f.orch, id)
	assert.Equal(t, core.ProjectFailed, snap.State)
	require.NotNil(t, snap.Err)
	assert.Equal(t, "scheduling", snap.Err.Kind)
}

func TestOrchestrator_OptionalTaskWithoutAgentIsDropped(t *testing.T) {
	required := newTask("implementation", core.KindBackend, "build api")
	optional := newTask("implementation", core.KindFrontend, "build ui")
	optional.Optional = true
	f := newFixture(t, func(o *Options) {
		o.Planner = stubPlanner{plan: &core.Plan{
			Name:   "mixed-plan",
			Phases: []core.Phase{sequentialPhase("implementation", required, optional)},
		}}
	})
	f.agent.Kinds = []core.TaskKind{core.KindBackend}

	id, err := f.orch.SubmitProject(core.ProjectRequest{Type: "api_service"})
	require.NoError(t, err)

	snap := await(t, f.orch, id)
	assert.Equal(t, core.ProjectCompleted, snap.State)
	manifest, err := f.orch.Manifest(id)
	require.NoError(t, err)
	require.Len(t, manifest, 1)
	assert.Equal(t, "build api", manifest[0].Name)
}

func TestOrchestrator_QualityGateRejectionFailsProject(t *testing.T) {
	task := newTask("implementation", core.KindBackend, "build api")
	f := newFixture(t, func(o *Options) {
		o.Planner = stubPlanner{plan: &core.Plan{
			Name:   "gated-plan",
			Phases: []core.Phase{sequentialPhase("implementation", task)},
		}}
		o.Gate = stubGate{pass: false}
	})

	id, err := f.orch.SubmitProject(core.ProjectRequest{Type: "api_service"})
	require.NoError(t, err)

	snap := await(t, f.orch, id)
	assert.Equal(t, core.ProjectFailed, snap.State)
	require.NotNil(t, snap.Err)
	assert.Equal(t, "quality_gate", snap.Err.Kind)
	// Rejection preserves the manifest that was built.
	assert.Equal(t, 1, snap.Artifacts)
}

func TestOrchestrator_CancelAbortsActiveProject(t *testing.T) {
	t1 := newTask("implementation", core.KindBackend, "slow step")
	t2 := newTask("implementation", core.KindBackend, "never runs")
	f := newFixture(t, func(o *Options) {
		o.Planner = stubPlanner{plan: &core.Plan{
			Name:   "slow-plan",
			Phases: []core.Phase{sequentialPhase("implementation", t1, t2)},
		}}
	})
	f.agent.Delay = 300 * time.Millisecond

	id, err := f.orch.SubmitProject(core.ProjectRequest{Type: "api_service"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := f.orch.ProjectStatus(id)
		return err == nil && snap.State == core.ProjectExecuting
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, f.orch.Cancel(id))

	snap := await(t, f.orch, id)
	assert.Equal(t, core.ProjectFailed, snap.State)
	require.NotNil(t, snap.Err)
	assert.Zero(t, f.alloc.Outstanding(), "cancellation must release all allocations")

	// Cancelling a terminal project is a no-op.
	assert.NoError(t, f.orch.Cancel(id))
	// Cancelling an unknown project is an error.
	assert.Error(t, f.orch.Cancel("nope"))
}

func TestOrchestrator_TemplatePlannerEndToEnd(t *testing.T) {
	f := newFixture(t) // default planner, default project templates

	id, err := f.orch.SubmitProject(core.ProjectRequest{
		Type:        "api_service",
		Description: "inventory service",
		Technologies: map[string]string{
			"backend": "FastAPI",
		},
	})
	require.NoError(t, err)

	snap := await(t, f.orch, id)
	assert.Equal(t, core.ProjectCompleted, snap.State)
	assert.Positive(t, snap.Artifacts)
}

func TestOrchestrator_MemoryRecordsLifecycle(t *testing.T) {
	mem := memory.NewStore()
	defer mem.Close()
	task := newTask("implementation", core.KindBackend, "build api")
	f := newFixture(t, func(o *Options) {
		o.Planner = stubPlanner{plan: &core.Plan{
			Name:   "recorded-plan",
			Phases: []core.Phase{sequentialPhase("implementation", task)},
		}}
		o.Memory = mem
	})

	id, err := f.orch.SubmitProject(core.ProjectRequest{Type: "api_service"})
	require.NoError(t, err)
	await(t, f.orch, id)

	require.Eventually(t, func() bool {
		return len(mem.Query(id, "", 0)) >= 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, mem.Query(id, "plan", 0))
}

func TestOrchestrator_MetricsAndHealth(t *testing.T) {
	task := newTask("implementation", core.KindBackend, "build api")
	f := newFixture(t, func(o *Options) {
		o.Planner = stubPlanner{plan: &core.Plan{
			Name:   "metrics-plan",
			Phases: []core.Phase{sequentialPhase("implementation", task)},
		}}
	})

	id, err := f.orch.SubmitProject(core.ProjectRequest{Type: "api_service"})
	require.NoError(t, err)
	await(t, f.orch, id)

	metrics := f.orch.Metrics()
	assert.Equal(t, 1, metrics.ProjectsSubmitted)
	assert.Equal(t, 1, metrics.ProjectsCompleted)
	assert.Zero(t, metrics.ProjectsFailed)
	assert.Equal(t, 1, metrics.TasksCompleted)
	assert.Contains(t, metrics.ResourceUtilization, core.ResourceCompute)

	health := f.orch.AggregateHealth()
	require.Len(t, health, 1)
	assert.Equal(t, "worker-1", health[0].ID)
}

func TestOrchestrator_UnknownProjectQueries(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.ProjectStatus("missing")
	assert.Error(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = f.orch.AwaitProject(ctx, "missing")
	assert.Error(t, err)
	_, err = f.orch.Manifest("missing")
	assert.Error(t, err)
}
