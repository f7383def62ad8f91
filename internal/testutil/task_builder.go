package testutil

import (
	"time"

	"github.com/forgemesh/forgemesh/core"
)

// TaskBuilder provides a fluent helper for constructing tasks in tests.
// Example:
//
//	task := NewTaskBuilder("proj-1").Kind(core.KindBackend).Agent("backend-1").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type TaskBuilder struct {
	task core.Task
}

// NewTaskBuilder creates a builder with defaults for the given project.
func NewTaskBuilder(projectID string) *TaskBuilder {
	t := core.NewTask(projectID, "implementation", core.KindBackend, "test task")
	return &TaskBuilder{task: t}
}

// ID overrides the generated task id.
func (b *TaskBuilder) ID(id string) *TaskBuilder { b.task.ID = id; return b }

// Phase sets the phase tag.
func (b *TaskBuilder) Phase(name string) *TaskBuilder { b.task.Phase = name; return b }

// Kind sets the task kind.
func (b *TaskBuilder) Kind(k core.TaskKind) *TaskBuilder { b.task.Kind = k; return b }

// Agent sets the assigned agent id.
func (b *TaskBuilder) Agent(id string) *TaskBuilder { b.task.AgentID = id; return b }

// Title sets the task title.
func (b *TaskBuilder) Title(t string) *TaskBuilder { b.task.Title = t; return b }

// DependsOn declares dependency task ids.
func (b *TaskBuilder) DependsOn(ids ...string) *TaskBuilder {
	b.task.DependsOn = append(b.task.DependsOn, ids...)
	return b
}

// Footprint overrides the resource footprint.
func (b *TaskBuilder) Footprint(fp core.Footprint) *TaskBuilder { b.task.Footprint = fp; return b }

// Priority sets the priority hint.
func (b *TaskBuilder) Priority(p core.Priority) *TaskBuilder { b.task.Priority = p; return b }

// Optional marks the task optional.
func (b *TaskBuilder) Optional() *TaskBuilder { b.task.Optional = true; return b }

// Build returns the constructed task.
func (b *TaskBuilder) Build() core.Task {
	b.task.SubmittedAt = time.Now().UTC()
	return b.task
}
