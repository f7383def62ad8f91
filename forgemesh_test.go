package forgemesh

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgemesh/forgemesh/config"
	"github.com/forgemesh/forgemesh/core"
)

func newMesh(t *testing.T, optFns ...func(o *Options)) *Mesh {
	t.Helper()
	m, err := New(optFns...)
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	return m
}

func TestMesh_TemplateOnlyProjectCompletes(t *testing.T) {
	m := newMesh(t)
	require.NoError(t, m.RegisterDefaultWorkers(context.Background()))

	id, err := m.SubmitProject(core.ProjectRequest{
		Type:        "web_application",
		Description: "task tracker",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	snap, err := m.AwaitProject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.ProjectCompleted, snap.State)
	assert.Positive(t, snap.Artifacts)

	manifest, err := m.Manifest(id)
	require.NoError(t, err)
	require.NotEmpty(t, manifest)
	for _, meta := range manifest {
		assert.Equal(t, "template", meta.Generator, "no backend means template generation")
		assert.Equal(t, id, meta.ProjectID)
	}

	metrics := m.Metrics()
	assert.Equal(t, 1, metrics.ProjectsCompleted)
}

func TestMesh_MockBackendProjectCompletes(t *testing.T) {
	m := newMesh(t, func(o *Options) {
		cfg := config.Default()
		cfg.Model.Provider = "mock"
		o.Config = cfg
	})
	require.NoError(t, m.RegisterDefaultWorkers(context.Background()))

	id, err := m.SubmitProject(core.ProjectRequest{Type: "api_service", Description: "inventory"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	snap, err := m.AwaitProject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.ProjectCompleted, snap.State)

	manifest, err := m.Manifest(id)
	require.NoError(t, err)
	require.NotEmpty(t, manifest)
	assert.Equal(t, "model", manifest[0].Generator)
}

func TestMesh_InvalidConfigIsFatal(t *testing.T) {
	cfg := config.Default()
	cfg.Resources.Compute = -1
	_, err := New(func(o *Options) { o.Config = cfg })
	var fatal *core.FatalInitError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "config", fatal.Service)
}

func TestMesh_AggregateHealthListsWorkers(t *testing.T) {
	m := newMesh(t)
	require.NoError(t, m.RegisterDefaultWorkers(context.Background()))

	health := m.AggregateHealth()
	require.Len(t, health, 5)
	for _, h := range health {
		assert.Equal(t, core.AgentReady, h.State)
	}
}

func TestMesh_CancelUnknownProject(t *testing.T) {
	m := newMesh(t)
	assert.Error(t, m.Cancel("missing"))
}
