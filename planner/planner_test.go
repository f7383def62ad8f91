package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgemesh/forgemesh/core"
	"github.com/forgemesh/forgemesh/model"
)

func TestTemplatePlanner_WebApplication(t *testing.T) {
	p := NewTemplatePlanner()

	plan, err := p.Plan(context.Background(), core.ProjectRequest{
		Type:        "web_application",
		Description: "todo list",
	})

	require.NoError(t, err)
	require.Len(t, plan.Phases, 4)
	assert.Equal(t, "design", plan.Phases[0].Name)
	assert.Equal(t, core.ModeSequential, plan.Phases[0].Mode)
	assert.Equal(t, core.ModeParallel, plan.Phases[1].Mode)
	assert.Equal(t, "implementation-complete", plan.Phases[1].SyncPoint)

	for _, phase := range plan.Phases {
		for _, task := range phase.Tasks {
			assert.True(t, core.ValidKind(task.Kind))
			assert.NotEmpty(t, task.Footprint)
			assert.Equal(t, phase.Name, task.Phase)
		}
	}
}

func TestTemplatePlanner_UnknownTypeGetsDefault(t *testing.T) {
	p := NewTemplatePlanner()

	plan, err := p.Plan(context.Background(), core.ProjectRequest{Type: "spaceship"})

	require.NoError(t, err)
	assert.Equal(t, "Full-Stack Web Application", plan.Name)
}

func TestTemplatePlanner_TechnologiesReachDescriptions(t *testing.T) {
	p := NewTemplatePlanner()

	plan, err := p.Plan(context.Background(), core.ProjectRequest{
		Type:         "api_service",
		Technologies: map[string]string{"backend": "FastAPI"},
	})

	require.NoError(t, err)
	assert.Contains(t, plan.Phases[0].Tasks[0].Description, "FastAPI")
}

func TestModelPlanner_UsesValidBackendPlan(t *testing.T) {
	backend := model.NewMockBackend()
	p := NewModelPlanner(backend)

	req := core.ProjectRequest{Type: "api_service", Description: "orders API"}
	backend.AddResponse(planUserPrompt(req), `Here is the plan:
{
  "project_name": "Orders API",
  "phases": [
    {
      "name": "implementation",
      "mode": "parallel",
      "tasks": [
        {"kind": "backend", "title": "Build orders endpoint"},
        {"kind": "database", "title": "Create orders table"}
      ]
    },
    {
      "name": "validation",
      "mode": "sequential",
      "tasks": [
        {"kind": "qa", "title": "Write endpoint tests", "depends_on": ["Build orders endpoint"]}
      ]
    }
  ]
}`)

	plan, err := p.Plan(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, "Orders API", plan.Name)
	require.Len(t, plan.Phases, 2)

	// The depends_on title resolved to the generated task id.
	qaTask := plan.Phases[1].Tasks[0]
	require.Len(t, qaTask.DependsOn, 1)
	assert.Equal(t, plan.Phases[0].Tasks[0].ID, qaTask.DependsOn[0])
}

func TestModelPlanner_BackendErrorFallsBack(t *testing.T) {
	backend := model.NewMockBackend()
	backend.Err = errors.New("connection refused")
	p := NewModelPlanner(backend)

	plan, err := p.Plan(context.Background(), core.ProjectRequest{Type: "api_service"})

	require.NoError(t, err)
	assert.Equal(t, "REST API Service", plan.Name, "template fallback expected")
}

func TestModelPlanner_MalformedJSONFallsBack(t *testing.T) {
	backend := model.NewMockBackend()
	p := NewModelPlanner(backend)

	req := core.ProjectRequest{Type: "web_application"}
	backend.AddResponse(planUserPrompt(req), "I think you should start with the frontend.")

	plan, err := p.Plan(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, "Full-Stack Web Application", plan.Name)
}

func TestModelPlanner_InvalidKindFallsBack(t *testing.T) {
	backend := model.NewMockBackend()
	p := NewModelPlanner(backend)

	req := core.ProjectRequest{Type: "web_application"}
	backend.AddResponse(planUserPrompt(req), `{"project_name":"x","phases":[{"name":"p","tasks":[{"kind":"mainframe","title":"t"}]}]}`)

	plan, err := p.Plan(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, "Full-Stack Web Application", plan.Name)
}

func TestParsePlan_RejectsEmptyPhases(t *testing.T) {
	_, err := parsePlan(`{"project_name":"x","phases":[]}`)
	assert.Error(t, err)
}

func TestParsePlan_UnknownDependencyRejected(t *testing.T) {
	_, err := parsePlan(`{"phases":[{"name":"p","tasks":[{"kind":"backend","title":"t","depends_on":["ghost"]}]}]}`)
	assert.Error(t, err)
}
