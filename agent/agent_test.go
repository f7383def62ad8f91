package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgemesh/forgemesh/core"
	"github.com/forgemesh/forgemesh/internal/testutil"
	"github.com/forgemesh/forgemesh/model"
)

func okHandler(ctx context.Context, task core.Task) (core.TaskResult, error) {
	return core.TaskResult{TaskID: task.ID, Status: core.TaskCompleted}, nil
}

func failHandler(ctx context.Context, task core.Task) (core.TaskResult, error) {
	return core.TaskResult{}, errors.New("boom")
}

func TestBaseAgent_Lifecycle(t *testing.T) {
	a := NewBaseAgent("agent-1", "Agent One")
	a.RegisterHandler(core.KindBackend, okHandler)

	assert.Equal(t, core.AgentUninitialized, a.State())

	task := testutil.NewTaskBuilder("proj-1").ID("task-1").Build()
	_, err := a.ProcessTask(context.Background(), task)
	var transient *core.TransientFailure
	require.ErrorAs(t, err, &transient)

	require.NoError(t, a.Initialize(context.Background()))
	assert.Equal(t, core.AgentReady, a.State())

	// Initialize is idempotent once ready.
	require.NoError(t, a.Initialize(context.Background()))
	assert.Equal(t, core.AgentReady, a.State())

	result, err := a.ProcessTask(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCompleted, result.Status)

	health := a.HealthCheck()
	assert.Equal(t, "agent-1", health.ID)
	assert.Equal(t, "Agent One", health.Name)
	assert.Equal(t, core.AgentReady, health.State)
	assert.Equal(t, []core.TaskKind{core.KindBackend}, health.Capabilities)
	assert.False(t, health.Timestamp.IsZero())
}

func TestBaseAgent_InitFailureRecoverable(t *testing.T) {
	initErr := errors.New("connect refused")
	calls := 0
	a := NewBaseAgent("agent-1", "Agent One", func(o *Options) {
		o.InitFn = func(ctx context.Context) error {
			calls++
			if calls == 1 {
				return initErr
			}
			return nil
		}
	})

	err := a.Initialize(context.Background())
	require.ErrorIs(t, err, initErr)
	assert.Equal(t, core.AgentUninitialized, a.State())

	// Setup never completed, so the caller may retry.
	require.NoError(t, a.Initialize(context.Background()))
	assert.Equal(t, core.AgentReady, a.State())
}

func TestBaseAgent_InitializeDoesNotRecoverFailed(t *testing.T) {
	a := NewBaseAgent("agent-1", "Agent One", func(o *Options) {
		o.DegradedAfter = 1
		o.FailedAfter = 1
	})
	a.RegisterHandler(core.KindBackend, func(context.Context, core.Task) (core.TaskResult, error) {
		return core.TaskResult{}, &core.TransientFailure{Op: "generate", Err: errors.New("backend down")}
	})
	require.NoError(t, a.Initialize(context.Background()))

	task := testutil.NewTaskBuilder("proj-1").Kind(core.KindBackend).Build()
	_, err := a.ProcessTask(context.Background(), task)
	require.Error(t, err)
	require.Equal(t, core.AgentFailed, a.State())

	// Re-initialization is a no-op: Reset is the only way back to ready.
	require.NoError(t, a.Initialize(context.Background()))
	assert.Equal(t, core.AgentFailed, a.State())

	require.NoError(t, a.Reset())
	assert.Equal(t, core.AgentReady, a.State())
}

func TestBaseAgent_UnsupportedKindPermanent(t *testing.T) {
	a := NewBaseAgent("agent-1", "Agent One")
	a.RegisterHandler(core.KindBackend, okHandler)
	require.NoError(t, a.Initialize(context.Background()))

	task := testutil.NewTaskBuilder("proj-1").ID("task-1").Kind(core.KindFrontend).Build()
	_, err := a.ProcessTask(context.Background(), task)
	var permanent *core.PermanentFailure
	require.ErrorAs(t, err, &permanent)
	assert.Equal(t, core.AgentReady, a.State(), "unsupported kind must not count against health")
}

func TestBaseAgent_DegradedThenFailedThenReset(t *testing.T) {
	a := NewBaseAgent("agent-1", "Agent One", func(o *Options) {
		o.DegradedAfter = 2
		o.FailedAfter = 3
	})
	a.RegisterHandler(core.KindBackend, failHandler)
	require.NoError(t, a.Initialize(context.Background()))

	task := testutil.NewTaskBuilder("proj-1").ID("task-1").Build()

	_, err := a.ProcessTask(context.Background(), task)
	require.Error(t, err)
	assert.Equal(t, core.AgentReady, a.State())

	_, err = a.ProcessTask(context.Background(), task)
	require.Error(t, err)
	assert.Equal(t, core.AgentDegraded, a.State())
	assert.True(t, a.State().AcceptsTasks())

	_, err = a.ProcessTask(context.Background(), task)
	require.Error(t, err)
	assert.Equal(t, core.AgentFailed, a.State())

	// Failed agents reject work until reset.
	_, err = a.ProcessTask(context.Background(), task)
	var transient *core.TransientFailure
	require.ErrorAs(t, err, &transient)

	require.NoError(t, a.Reset())
	assert.Equal(t, core.AgentReady, a.State())
}

func TestBaseAgent_SuccessClearsFailureStreak(t *testing.T) {
	fail := true
	a := NewBaseAgent("agent-1", "Agent One", func(o *Options) {
		o.DegradedAfter = 2
		o.FailedAfter = 3
	})
	a.RegisterHandler(core.KindBackend, func(ctx context.Context, task core.Task) (core.TaskResult, error) {
		if fail {
			return core.TaskResult{}, errors.New("boom")
		}
		return core.TaskResult{TaskID: task.ID, Status: core.TaskCompleted}, nil
	})
	require.NoError(t, a.Initialize(context.Background()))

	task := testutil.NewTaskBuilder("proj-1").ID("task-1").Build()
	_, _ = a.ProcessTask(context.Background(), task)
	_, _ = a.ProcessTask(context.Background(), task)
	assert.Equal(t, core.AgentDegraded, a.State())

	fail = false
	_, err := a.ProcessTask(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, core.AgentReady, a.State())

	// The streak restarted from zero.
	fail = true
	_, _ = a.ProcessTask(context.Background(), task)
	assert.Equal(t, core.AgentReady, a.State())
}

func TestBaseAgent_ResetRequiresInitialized(t *testing.T) {
	a := NewBaseAgent("agent-1", "Agent One")
	assert.Error(t, a.Reset())
}

func TestWorker_BackendSuccess(t *testing.T) {
	backend := model.NewMockBackend()
	w := NewWorker(BackendProfile(), func(o *WorkerOptions) {
		o.Backend = backend
	})
	require.NoError(t, w.Initialize(context.Background()))

	task := testutil.NewTaskBuilder("proj-1").ID("task-1").Kind(core.KindBackend).Title("User API").Build()
	backend.AddResponse(taskPrompt(task), "def main(): ...")

	result, err := w.ProcessTask(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCompleted, result.Status)
	assert.Equal(t, "def main(): ...", result.Output)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "model", result.Artifacts[0].Generator)
	assert.Equal(t, "User API", result.Artifacts[0].Name)
	assert.Equal(t, 1, backend.Calls())
}

func TestWorker_BackendErrorFallsBackToTemplate(t *testing.T) {
	backend := model.NewMockBackend()
	backend.Err = errors.New("model unavailable")
	w := NewWorker(BackendProfile(), func(o *WorkerOptions) {
		o.Backend = backend
	})
	require.NoError(t, w.Initialize(context.Background()))

	task := testutil.NewTaskBuilder("proj-1").ID("task-1").Kind(core.KindBackend).Title("User API").Build()
	result, err := w.ProcessTask(context.Background(), task)
	require.NoError(t, err, "fallback must absorb backend failures")
	assert.Equal(t, core.TaskCompleted, result.Status)
	require.NotEmpty(t, result.Artifacts)
	for _, artifact := range result.Artifacts {
		assert.Equal(t, "template", artifact.Generator)
	}
	assert.Equal(t, core.AgentReady, w.State(), "a served fallback is not an agent failure")
}

func TestWorker_EmptyResponseFallsBack(t *testing.T) {
	backend := model.NewMockBackend()
	w := NewWorker(FrontendProfile(), func(o *WorkerOptions) {
		o.Backend = backend
	})
	require.NoError(t, w.Initialize(context.Background()))

	task := testutil.NewTaskBuilder("proj-1").ID("task-1").Kind(core.KindFrontend).Title("Landing Page").Build()
	backend.AddResponse(taskPrompt(task), "   ")

	result, err := w.ProcessTask(context.Background(), task)
	require.NoError(t, err)
	require.NotEmpty(t, result.Artifacts)
	assert.Equal(t, "template", result.Artifacts[0].Generator)
}

func TestWorker_NilBackendUsesTemplate(t *testing.T) {
	w := NewWorker(DatabaseProfile())
	require.NoError(t, w.Initialize(context.Background()))

	task := testutil.NewTaskBuilder("proj-1").ID("task-1").Kind(core.KindDatabase).Title("Schema").Build()
	result, err := w.ProcessTask(context.Background(), task)
	require.NoError(t, err)
	require.NotEmpty(t, result.Artifacts)
	assert.Equal(t, "template", result.Artifacts[0].Generator)
}

func TestWorker_ProfilesCoverAllKinds(t *testing.T) {
	seen := make(map[core.TaskKind]bool)
	for _, profile := range Profiles() {
		w := NewWorker(profile)
		require.NoError(t, w.Initialize(context.Background()))
		for _, kind := range profile.Kinds {
			seen[kind] = true
			assert.Contains(t, w.Capabilities(), kind)
		}
	}
	for _, kind := range []core.TaskKind{
		core.KindFrontend, core.KindBackend, core.KindDatabase, core.KindDevOps, core.KindQuality,
	} {
		assert.True(t, seen[kind], "no profile handles %s", kind)
	}
}
