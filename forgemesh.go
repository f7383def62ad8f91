// Package forgemesh provides a high-level façade over the orchestration
// core: message bus, resource allocator, scheduler, protocol runner and
// orchestrator, wired together with safe in-process defaults. Most
// applications interact with this package by:
//  1. Creating a Mesh via New() (optionally from a config.Config)
//  2. Registering agents (the standard worker profiles or custom ones)
//  3. Submitting projects and tracking them to a terminal state
//
// All defaults are suitable for local development and testing: template-only
// generation, in-memory stores, no-op logging. Production deployments supply
// a generation backend, a structured logger and tuned capacities.
package forgemesh

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/forgemesh/forgemesh/agent"
	"github.com/forgemesh/forgemesh/artifact"
	"github.com/forgemesh/forgemesh/bus"
	"github.com/forgemesh/forgemesh/config"
	"github.com/forgemesh/forgemesh/core"
	"github.com/forgemesh/forgemesh/logging"
	"github.com/forgemesh/forgemesh/memory"
	"github.com/forgemesh/forgemesh/model"
	anthropicmodel "github.com/forgemesh/forgemesh/model/anthropic"
	openaimodel "github.com/forgemesh/forgemesh/model/openai"
	"github.com/forgemesh/forgemesh/orchestrator"
	"github.com/forgemesh/forgemesh/planner"
	"github.com/forgemesh/forgemesh/protocol"
	"github.com/forgemesh/forgemesh/quality"
	"github.com/forgemesh/forgemesh/resource"
	"github.com/forgemesh/forgemesh/scheduler"
)

// Options configures a Mesh instance.
type Options struct {
	// Config supplies capacities, retry policy, timeouts, model settings
	// and the quality threshold. Defaults to config.Default().
	Config config.Config

	// Backend overrides the generation backend derived from Config.Model.
	// Nil with an empty provider means template-only generation.
	Backend model.Backend

	// Planner overrides the default: model-backed planning with a
	// template fallback when a backend exists, template-only otherwise.
	Planner planner.Planner

	// Artifacts defaults to the in-memory manifest store.
	Artifacts artifact.Store

	// Memory defaults to an in-process history store.
	Memory *memory.Store

	// Gate defaults to the heuristic gate at Config.Quality.Threshold.
	Gate quality.Gate

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Mesh aggregates the running subsystems behind a small surface.
type Mesh struct {
	opts   Options
	logger logging.Logger

	bus    *bus.Bus
	alloc  *resource.Allocator
	sched  *scheduler.Scheduler
	runner *protocol.Runner
	orch   *orchestrator.Orchestrator
	memory *memory.Store
}

// New builds and starts a Mesh. A failure to bring up a required subsystem
// is a FatalInitError; nothing is left half-running.
func New(optFns ...func(o *Options)) (*Mesh, error) {
	opts := Options{
		Config: config.Default(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, &core.FatalInitError{Service: "config", Err: err}
	}

	backend := opts.Backend
	if backend == nil {
		b, err := backendFromConfig(opts.Config.Model)
		if err != nil {
			return nil, &core.FatalInitError{Service: "model backend", Err: err}
		}
		backend = b
	}

	if opts.Memory == nil {
		opts.Memory = memory.NewStore(func(o *memory.Options) {
			o.QueueSize = opts.Config.Memory.QueueSize
			o.Logger = opts.Logger
		})
	}
	if opts.Artifacts == nil {
		opts.Artifacts = artifact.NewInMemoryStore()
	}
	if opts.Gate == nil {
		opts.Gate = quality.NewHeuristicGate(func(o *quality.Options) {
			o.Threshold = opts.Config.Quality.Threshold
			o.Logger = opts.Logger
		})
	}
	if opts.Planner == nil {
		if backend != nil {
			opts.Planner = planner.NewModelPlanner(backend, func(o *planner.Options) {
				o.Logger = opts.Logger
			})
		} else {
			opts.Planner = planner.NewTemplatePlanner()
		}
	}

	b := bus.New(func(o *bus.Options) {
		o.Logger = opts.Logger
	})
	alloc := resource.NewAllocator(opts.Config.Capacities(), opts.Logger)
	sched, err := scheduler.New(b, alloc, func(o *scheduler.Options) {
		o.MaxRetries = opts.Config.Scheduler.MaxRetries
		o.InitialBackoff = opts.Config.Scheduler.InitialBackoff
		o.MaxBackoff = opts.Config.Scheduler.MaxBackoff
		o.BackoffMultiplier = opts.Config.Scheduler.BackoffMultiplier
		o.ResourceMaxWait = opts.Config.Scheduler.ResourceMaxWait
		o.Logger = opts.Logger
	})
	if err != nil {
		b.Close()
		return nil, &core.FatalInitError{Service: "scheduler", Err: err}
	}
	runner := protocol.NewRunner(sched, b, func(o *protocol.Options) {
		o.DefaultTimeout = opts.Config.Protocol.DefaultTimeout
		o.Logger = opts.Logger
	})
	orch := orchestrator.New(b, sched, runner, alloc, func(o *orchestrator.Options) {
		o.Planner = opts.Planner
		o.Artifacts = opts.Artifacts
		o.Memory = opts.Memory
		o.Gate = opts.Gate
		o.PhaseTimeout = opts.Config.Protocol.DefaultTimeout
		o.Logger = opts.Logger
	})

	m := &Mesh{
		opts:   opts,
		logger: opts.Logger,
		bus:    b,
		alloc:  alloc,
		sched:  sched,
		runner: runner,
		orch:   orch,
		memory: opts.Memory,
	}
	m.opts.Backend = backend
	return m, nil
}

// backendFromConfig maps the model section to a concrete backend.
func backendFromConfig(cfg config.ModelConfig) (model.Backend, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "mock":
		return model.NewMockBackend(), nil
	case "anthropic":
		return anthropicmodel.New(func(o *anthropicmodel.Options) {
			if cfg.Name != "" {
				o.Model = anthropic.Model(cfg.Name)
			}
			if cfg.APIKey != "" {
				o.APIKey = cfg.APIKey
			}
			if cfg.Temperature > 0 {
				o.Temperature = cfg.Temperature
			}
			if cfg.MaxTokens > 0 {
				o.MaxTokens = cfg.MaxTokens
			}
		}), nil
	case "openai":
		return openaimodel.New(func(o *openaimodel.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
			if cfg.Temperature > 0 {
				o.Temperature = cfg.Temperature
			}
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = cfg.MaxTokens
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

// RegisterAgent binds an agent on the bus, invoking its Initialize.
func (m *Mesh) RegisterAgent(ctx context.Context, a core.Agent) error {
	return m.bus.Register(ctx, a)
}

// RegisterDefaultWorkers registers one worker per standard profile
// (frontend, backend, database, devops, qa), each backed by the mesh's
// generation backend with template fallback.
func (m *Mesh) RegisterDefaultWorkers(ctx context.Context) error {
	for _, profile := range agent.Profiles() {
		w := agent.NewWorker(profile, func(o *agent.WorkerOptions) {
			o.Backend = m.opts.Backend
			o.Logger = m.logger
		})
		if err := m.bus.Register(ctx, w); err != nil {
			return fmt.Errorf("register worker %s: %w", profile.ID, err)
		}
	}
	return nil
}

// SubmitProject accepts a project request and returns its id immediately.
func (m *Mesh) SubmitProject(req core.ProjectRequest) (string, error) {
	return m.orch.SubmitProject(req)
}

// ProjectStatus returns the status snapshot for an active or archived
// project.
func (m *Mesh) ProjectStatus(projectID string) (core.StatusSnapshot, error) {
	return m.orch.ProjectStatus(projectID)
}

// AwaitProject blocks until the project is terminal or the context expires.
func (m *Mesh) AwaitProject(ctx context.Context, projectID string) (core.StatusSnapshot, error) {
	return m.orch.AwaitProject(ctx, projectID)
}

// Manifest returns the project's artifact metadata in production order.
func (m *Mesh) Manifest(projectID string) ([]core.ArtifactMeta, error) {
	return m.orch.Manifest(projectID)
}

// Cancel aborts an active project and releases everything it holds.
func (m *Mesh) Cancel(projectID string) error {
	return m.orch.Cancel(projectID)
}

// AggregateHealth snapshots every registered agent.
func (m *Mesh) AggregateHealth() []core.HealthStatus {
	return m.orch.AggregateHealth()
}

// Metrics returns the orchestrator's performance counters.
func (m *Mesh) Metrics() orchestrator.Metrics {
	return m.orch.Metrics()
}

// Memory exposes the history store for inspection queries.
func (m *Mesh) Memory() *memory.Store { return m.memory }

// Shutdown stops the mesh in dependency order: no new projects, drain
// project goroutines, stop the scheduler, close the bus, flush history.
func (m *Mesh) Shutdown() {
	m.orch.Close()
	m.sched.Close()
	m.bus.Close()
	m.memory.Close()
}
