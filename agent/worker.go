package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/forgemesh/forgemesh/core"
	"github.com/forgemesh/forgemesh/logging"
	"github.com/forgemesh/forgemesh/model"
	"github.com/forgemesh/forgemesh/template"
)

// Profile names a worker specialization: its identity, the task kinds it
// accepts, and the system prompt framing its generation calls.
type Profile struct {
	ID     string
	Name   string
	Kinds  []core.TaskKind
	System string
}

// FrontendProfile builds UI scaffolding.
func FrontendProfile() Profile {
	return Profile{
		ID:     "frontend-agent",
		Name:   "Frontend Developer",
		Kinds:  []core.TaskKind{core.KindFrontend},
		System: "You are an expert frontend developer. Generate clean, modern UI scaffolding code for the requested task. Output code only.",
	}
}

// BackendProfile builds service and API scaffolding.
func BackendProfile() Profile {
	return Profile{
		ID:     "backend-agent",
		Name:   "Backend Developer",
		Kinds:  []core.TaskKind{core.KindBackend},
		System: "You are an expert backend developer. Generate robust service and API scaffolding code for the requested task. Output code only.",
	}
}

// DatabaseProfile builds schema and persistence scaffolding.
func DatabaseProfile() Profile {
	return Profile{
		ID:     "database-agent",
		Name:   "Database Engineer",
		Kinds:  []core.TaskKind{core.KindDatabase},
		System: "You are an expert database engineer. Generate schemas, migrations and persistence code for the requested task. Output code only.",
	}
}

// DevOpsProfile builds deployment and delivery scaffolding.
func DevOpsProfile() Profile {
	return Profile{
		ID:     "devops-agent",
		Name:   "DevOps Engineer",
		Kinds:  []core.TaskKind{core.KindDevOps},
		System: "You are an expert DevOps engineer. Generate container, pipeline and deployment configuration for the requested task. Output configuration only.",
	}
}

// QAProfile generates test suites and review notes.
func QAProfile() Profile {
	return Profile{
		ID:     "qa-agent",
		Name:   "QA Engineer",
		Kinds:  []core.TaskKind{core.KindQuality},
		System: "You are an expert QA engineer. Generate thorough automated tests for the requested task. Output test code only.",
	}
}

// Profiles returns the standard worker set, one per task kind.
func Profiles() []Profile {
	return []Profile{
		FrontendProfile(),
		BackendProfile(),
		DatabaseProfile(),
		DevOpsProfile(),
		QAProfile(),
	}
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	// Backend drives generation. A nil backend skips straight to the
	// template fallback for every task.
	Backend model.Backend

	// CallTimeout bounds one backend call. The task's own processing
	// deadline still applies on top.
	CallTimeout time.Duration

	// DegradedAfter and FailedAfter feed the lifecycle thresholds.
	DegradedAfter int
	FailedAfter   int

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Worker is the concrete generation agent. It prompts the backend for each
// task and answers any backend failure (error, timeout, empty response)
// with the deterministic template scaffold, so a task only fails when even
// the fallback cannot serve its kind.
type Worker struct {
	*BaseAgent
	profile  Profile
	backend  model.Backend
	fallback *template.Generator
	opts     WorkerOptions
	logger   logging.Logger
}

// NewWorker creates a worker for the profile and registers one handler per
// profile kind.
func NewWorker(profile Profile, optFns ...func(o *WorkerOptions)) *Worker {
	opts := WorkerOptions{
		CallTimeout:   60 * time.Second,
		DegradedAfter: 3,
		FailedAfter:   5,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	w := &Worker{
		BaseAgent: NewBaseAgent(profile.ID, profile.Name, func(o *Options) {
			o.DegradedAfter = opts.DegradedAfter
			o.FailedAfter = opts.FailedAfter
			o.Logger = opts.Logger
		}),
		profile:  profile,
		backend:  opts.Backend,
		fallback: template.NewGenerator(),
		opts:     opts,
		logger:   opts.Logger,
	}
	for _, kind := range profile.Kinds {
		w.RegisterHandler(kind, w.generate)
	}
	return w
}

// generate handles one task: backend first, template fallback on any error.
func (w *Worker) generate(ctx context.Context, task core.Task) (core.TaskResult, error) {
	if w.backend != nil {
		result, err := w.generateWithBackend(ctx, task)
		if err == nil {
			return result, nil
		}
		w.logger.Warn("backend generation failed, falling back to template",
			"agent_id", w.ID(),
			"task_id", task.ID,
			"error", err,
		)
	}
	return w.generateFromTemplate(task)
}

func (w *Worker) generateWithBackend(ctx context.Context, task core.Task) (core.TaskResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, w.opts.CallTimeout)
	defer cancel()

	resp, err := w.backend.Generate(callCtx, model.Request{
		Prompt: taskPrompt(task),
		System: w.profile.System,
	})
	if err != nil {
		return core.TaskResult{}, err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return core.TaskResult{}, fmt.Errorf("backend returned empty response")
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
			Generator: "model",
			CreatedAt: time.Now().UTC(),
		}},
		Output: resp.Text,
	}, nil
}

func (w *Worker) generateFromTemplate(task core.Task) (core.TaskResult, error) {
	scaffold, err := w.fallback.Generate(task)
	if err != nil {
		return core.TaskResult{}, err
	}

	artifacts := make([]core.ArtifactMeta, 0, len(scaffold.Files))
	for _, file := range scaffold.Files {
		artifacts = append(artifacts, core.ArtifactMeta{
			ID:        core.NewID(),
			TaskID:    task.ID,
			ProjectID: task.ProjectID,
			Phase:     task.Phase,
			Name:      file.Name,
			Kind:      task.Kind,
			Generator: "template",
			CreatedAt: time.Now().UTC(),
		})
	}

	return core.TaskResult{
		TaskID:    task.ID,
		Status:    core.TaskCompleted,
		Artifacts: artifacts,
		Output:    scaffold.Notes,
	}, nil
}

func taskPrompt(task core.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "Details: %s\n", task.Description)
	}
	for key, value := range task.Requirements {
		fmt.Fprintf(&b, "Requirement %s: %v\n", key, value)
	}
	return b.String()
}
