package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgemesh/forgemesh/bus"
	"github.com/forgemesh/forgemesh/core"
	"github.com/forgemesh/forgemesh/internal/testutil"
	"github.com/forgemesh/forgemesh/logging"
	"github.com/forgemesh/forgemesh/resource"
)

type fixture struct {
	bus   *bus.Bus
	alloc *resource.Allocator
	sched *Scheduler
}

func newFixture(t *testing.T, optFns ...func(o *Options)) *fixture {
	t.Helper()
	b := bus.New()
	alloc := resource.NewAllocator(resource.DefaultCapacities(), logging.NoOpLogger{})
	opts := append([]func(o *Options){func(o *Options) {
		o.InitialBackoff = 10 * time.Millisecond
		o.MaxBackoff = 100 * time.Millisecond
		o.ResourceMaxWait = 500 * time.Millisecond
	}}, optFns...)
	s, err := New(b, alloc, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
		b.Close()
	})
	return &fixture{bus: b, alloc: alloc, sched: s}
}

func (f *fixture) register(t *testing.T, a core.Agent) {
	t.Helper()
	require.NoError(t, f.bus.Register(context.Background(), a))
}

func awaitResult(t *testing.T, s *Scheduler, taskID string) core.TaskResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := s.Await(ctx, taskID)
	require.NoError(t, err)
	return res
}

func TestScheduler_DispatchAndComplete(t *testing.T) {
	f := newFixture(t)
	agent := testutil.NewStubAgent("backend-1")
	f.register(t, agent)

	task := testutil.NewTaskBuilder("proj-1").Agent("backend-1").Build()
	require.NoError(t, f.sched.Submit(task))

	res := awaitResult(t, f.sched, task.ID)

	assert.Equal(t, core.TaskCompleted, res.Status)
	assert.Equal(t, "backend-1", res.AgentID)
	assert.Len(t, res.Artifacts, 1)
	assert.Equal(t, 0, f.alloc.Outstanding(), "footprint must be released on completion")
}

func TestScheduler_UnknownKindRejected(t *testing.T) {
	f := newFixture(t)

	task := testutil.NewTaskBuilder("proj-1").Agent("backend-1").Build()
	task.Kind = core.TaskKind("mainframe")

	err := f.sched.Submit(task)
	var se *core.SchedulingError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Reason, "unknown task kind")
}

func TestScheduler_DependencyCycleRejected(t *testing.T) {
	f := newFixture(t)

	a := testutil.NewTaskBuilder("proj-1").ID("task-a").Agent("backend-1").DependsOn("task-b").Build()
	b := testutil.NewTaskBuilder("proj-1").ID("task-b").Agent("backend-1").DependsOn("task-a").Build()

	require.NoError(t, f.sched.Submit(a))
	err := f.sched.Submit(b)
	var se *core.SchedulingError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Reason, "cycle")
}

func TestScheduler_DependencyGating(t *testing.T) {
	f := newFixture(t)
	agent := testutil.NewStubAgent("backend-1")
	agent.Delay = 20 * time.Millisecond
	f.register(t, agent)

	first := testutil.NewTaskBuilder("proj-1").ID("dep-1").Agent("backend-1").Build()
	second := testutil.NewTaskBuilder("proj-1").ID("dep-2").Agent("backend-1").Build()
	last := testutil.NewTaskBuilder("proj-1").ID("final").Agent("backend-1").
		DependsOn("dep-1", "dep-2").Build()

	// Submit the dependent first to prove ordering comes from gating, not
	// submission order.
	require.NoError(t, f.sched.SubmitAll([]core.Task{last, first, second}))

	awaitResult(t, f.sched, "final")

	order := agent.Processed()
	require.Len(t, order, 3)
	assert.Equal(t, "final", order[2], "dependent task must run after both dependencies")
}

func TestScheduler_FailedDependencyFailsDependent(t *testing.T) {
	f := newFixture(t)
	agent := testutil.NewStubAgent("backend-1")
	agent.FailTask("dep-1", &core.PermanentFailure{Op: "generate", Reason: "invalid requirements"})
	f.register(t, agent)

	dep := testutil.NewTaskBuilder("proj-1").ID("dep-1").Agent("backend-1").Build()
	dependent := testutil.NewTaskBuilder("proj-1").ID("final").Agent("backend-1").DependsOn("dep-1").Build()
	require.NoError(t, f.sched.SubmitAll([]core.Task{dep, dependent}))

	res := awaitResult(t, f.sched, "final")

	assert.Equal(t, core.TaskFailed, res.Status)
	assert.Contains(t, res.Error, "dependency dep-1 failed")
	assert.NotContains(t, agent.Processed(), "final")
}

func TestScheduler_OptionalDependencyFailureIgnored(t *testing.T) {
	f := newFixture(t)
	agent := testutil.NewStubAgent("backend-1")
	agent.FailTask("dep-1", &core.PermanentFailure{Op: "generate", Reason: "nope"})
	f.register(t, agent)

	dep := testutil.NewTaskBuilder("proj-1").ID("dep-1").Agent("backend-1").Optional().Build()
	dependent := testutil.NewTaskBuilder("proj-1").ID("final").Agent("backend-1").DependsOn("dep-1").Build()
	require.NoError(t, f.sched.SubmitAll([]core.Task{dep, dependent}))

	res := awaitResult(t, f.sched, "final")

	assert.Equal(t, core.TaskCompleted, res.Status)
}

func TestScheduler_TransientRetryExactAttempts(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxRetries = 3 })
	agent := testutil.NewStubAgent("backend-1")
	f.register(t, agent)

	task := testutil.NewTaskBuilder("proj-1").ID("flaky").Agent("backend-1").Build()
	// Fail every attempt: 1 initial + 3 retries, all transient.
	agent.FailTask("flaky",
		&core.TransientFailure{Op: "backend", Err: context.DeadlineExceeded},
		&core.TransientFailure{Op: "backend", Err: context.DeadlineExceeded},
		&core.TransientFailure{Op: "backend", Err: context.DeadlineExceeded},
		&core.TransientFailure{Op: "backend", Err: context.DeadlineExceeded},
	)
	require.NoError(t, f.sched.Submit(task))

	res := awaitResult(t, f.sched, "flaky")

	assert.Equal(t, core.TaskFailed, res.Status)
	assert.Equal(t, 3, res.RetryCount)
	assert.Len(t, agent.Processed(), 4, "initial attempt plus exactly MaxRetries retries")
	assert.Equal(t, 0, f.alloc.Outstanding())
}

func TestScheduler_TransientThenSuccessRecordsRetryCount(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxRetries = 3 })
	agent := testutil.NewStubAgent("backend-1")
	f.register(t, agent)

	task := testutil.NewTaskBuilder("proj-1").ID("flaky").Agent("backend-1").Build()
	agent.FailTask("flaky",
		&core.TransientFailure{Op: "backend", Err: context.DeadlineExceeded},
		&core.TransientFailure{Op: "backend", Err: context.DeadlineExceeded},
	)
	require.NoError(t, f.sched.Submit(task))

	res := awaitResult(t, f.sched, "flaky")

	assert.Equal(t, core.TaskCompleted, res.Status)
	assert.Equal(t, 2, res.RetryCount)
}

func TestScheduler_BackoffStrictlyIncreasing(t *testing.T) {
	f := newFixture(t)
	bo := f.sched.newBackoff()

	prev := time.Duration(0)
	for i := 0; i < 4; i++ {
		next := bo.NextBackOff()
		assert.Greater(t, next, prev, "delay %d must exceed delay %d", i, i-1)
		prev = next
	}
}

func TestScheduler_PermanentFailureNotRetried(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxRetries = 3 })
	agent := testutil.NewStubAgent("backend-1")
	f.register(t, agent)

	task := testutil.NewTaskBuilder("proj-1").ID("broken").Agent("backend-1").Build()
	agent.FailTask("broken", &core.PermanentFailure{Op: "generate", Reason: "unsupported requirements"})
	require.NoError(t, f.sched.Submit(task))

	res := awaitResult(t, f.sched, "broken")

	assert.Equal(t, core.TaskFailed, res.Status)
	assert.Equal(t, 0, res.RetryCount)
	assert.Len(t, agent.Processed(), 1)
}

func TestScheduler_ResourceGating(t *testing.T) {
	f := newFixture(t)
	agent := testutil.NewStubAgent("backend-1")
	agent.Delay = 30 * time.Millisecond
	f.register(t, agent)

	// Each task wants more than half the compute pool, so they cannot
	// overlap.
	fp := core.Footprint{core.ResourceCompute: 60}
	first := testutil.NewTaskBuilder("proj-1").ID("big-1").Agent("backend-1").Footprint(fp).Build()
	second := testutil.NewTaskBuilder("proj-1").ID("big-2").Agent("backend-1").Footprint(fp).Build()
	require.NoError(t, f.sched.SubmitAll([]core.Task{first, second}))

	awaitResult(t, f.sched, "big-1")
	awaitResult(t, f.sched, "big-2")

	assert.Equal(t, 0, f.alloc.Outstanding())
}

func TestScheduler_ResourceMaxWaitFailsTask(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ResourceMaxWait = 50 * time.Millisecond })
	agent := testutil.NewStubAgent("backend-1")
	f.register(t, agent)

	// Footprint larger than the whole pool can never be satisfied.
	task := testutil.NewTaskBuilder("proj-1").ID("huge").Agent("backend-1").
		Footprint(core.Footprint{core.ResourceCompute: 1e6}).Build()
	require.NoError(t, f.sched.Submit(task))

	res := awaitResult(t, f.sched, "huge")

	assert.Equal(t, core.TaskFailed, res.Status)
	assert.Contains(t, res.Error, "max wait")
}

func TestScheduler_UnregisteredAgentFailsPastMaxWait(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ResourceMaxWait = 50 * time.Millisecond })

	task := testutil.NewTaskBuilder("proj-1").ID("orphan").Agent("nobody").Build()
	require.NoError(t, f.sched.Submit(task))

	res := awaitResult(t, f.sched, "orphan")

	assert.Equal(t, core.TaskFailed, res.Status)
	assert.Contains(t, res.Error, "unavailable")
}

func TestScheduler_CancelProject(t *testing.T) {
	f := newFixture(t)
	agent := testutil.NewStubAgent("backend-1")
	f.register(t, agent)

	// Gate the tasks behind a dependency that never completes so they stay
	// queued.
	blocker := testutil.NewTaskBuilder("proj-1").ID("blocker").Agent("backend-1").
		Footprint(core.Footprint{core.ResourceCompute: 1e6}).Build()
	queued := testutil.NewTaskBuilder("proj-1").ID("queued-1").Agent("backend-1").
		DependsOn("blocker").Build()
	other := testutil.NewTaskBuilder("proj-2").ID("other").Agent("backend-1").Build()
	require.NoError(t, f.sched.SubmitAll([]core.Task{blocker, queued}))
	require.NoError(t, f.sched.Submit(other))

	awaitResult(t, f.sched, "other")

	cancelled := f.sched.CancelProject("proj-1")

	assert.Equal(t, 2, cancelled)
	res, ok := f.sched.Result("queued-1")
	require.True(t, ok)
	assert.Equal(t, core.TaskFailed, res.Status)
	assert.Equal(t, "project cancelled", res.Error)

	// The other project is untouched.
	otherRes, ok := f.sched.Result("other")
	require.True(t, ok)
	assert.Equal(t, core.TaskCompleted, otherRes.Status)
}

func TestScheduler_PhaseOrdering(t *testing.T) {
	f := newFixture(t)
	agent := testutil.NewStubAgent("backend-1")
	agent.Delay = 10 * time.Millisecond
	f.register(t, agent)

	late := testutil.NewTaskBuilder("proj-1").ID("impl-task").Phase("implementation").Agent("backend-1").Build()
	early := testutil.NewTaskBuilder("proj-1").ID("arch-task").Phase("architecture").Agent("backend-1").Build()

	// Phase rank follows first-seen order, so architecture outranks
	// implementation here despite later submission of its task being
	// impossible to distinguish by time alone.
	require.NoError(t, f.sched.SubmitAll([]core.Task{early, late}))

	awaitResult(t, f.sched, "impl-task")
	awaitResult(t, f.sched, "arch-task")

	order := agent.Processed()
	require.Len(t, order, 2)
	assert.Equal(t, "arch-task", order[0])
}

func TestScheduler_PriorityOrderingWithinBatch(t *testing.T) {
	f := newFixture(t)
	agent := testutil.NewStubAgent("backend-1")
	agent.Delay = 10 * time.Millisecond
	f.register(t, agent)

	low := testutil.NewTaskBuilder("proj-1").ID("low").Agent("backend-1").Priority(core.PriorityLow).Build()
	critical := testutil.NewTaskBuilder("proj-1").ID("critical").Agent("backend-1").Priority(core.PriorityCritical).Build()
	require.NoError(t, f.sched.SubmitAll([]core.Task{low, critical}))

	awaitResult(t, f.sched, "low")
	awaitResult(t, f.sched, "critical")

	order := agent.Processed()
	require.Len(t, order, 2)
	assert.Equal(t, "critical", order[0])
}

func TestScheduler_StatsSnapshot(t *testing.T) {
	f := newFixture(t)
	agent := testutil.NewStubAgent("backend-1")
	agent.FailTask("bad", &core.PermanentFailure{Op: "generate", Reason: "nope"})
	f.register(t, agent)

	good := testutil.NewTaskBuilder("proj-1").ID("good").Agent("backend-1").Build()
	bad := testutil.NewTaskBuilder("proj-1").ID("bad").Agent("backend-1").Build()
	require.NoError(t, f.sched.SubmitAll([]core.Task{good, bad}))

	awaitResult(t, f.sched, "good")
	awaitResult(t, f.sched, "bad")

	st := f.sched.Stats()
	assert.Equal(t, 1, st.Completed)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 0, st.Queued)
	assert.Equal(t, 0, st.InFlight)
}

func TestScheduler_AwaitUnknownTask(t *testing.T) {
	f := newFixture(t)

	_, err := f.sched.Await(context.Background(), "ghost")
	var se *core.SchedulingError
	require.ErrorAs(t, err, &se)
}
