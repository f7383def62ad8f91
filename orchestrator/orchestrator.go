package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/forgemesh/forgemesh/artifact"
	"github.com/forgemesh/forgemesh/bus"
	"github.com/forgemesh/forgemesh/core"
	"github.com/forgemesh/forgemesh/logging"
	"github.com/forgemesh/forgemesh/memory"
	"github.com/forgemesh/forgemesh/planner"
	"github.com/forgemesh/forgemesh/protocol"
	"github.com/forgemesh/forgemesh/quality"
	"github.com/forgemesh/forgemesh/resource"
	"github.com/forgemesh/forgemesh/scheduler"
)

// Options configures an Orchestrator. Every collaborator has a working
// default so a bare New(bus, sched, runner, alloc) is runnable.
type Options struct {
	// Planner produces phase plans. Defaults to the template planner.
	Planner planner.Planner

	// Artifacts stores the per-project manifest. Defaults to in-memory.
	Artifacts artifact.Store

	// Memory receives fire-and-forget history records. Optional.
	Memory *memory.Store

	// Gate is the validation-phase evaluator. Defaults to the heuristic
	// gate with its default threshold.
	Gate quality.Gate

	// PhaseTimeout is the coordination budget for one phase protocol.
	PhaseTimeout time.Duration

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Metrics is a point-in-time performance snapshot.
type Metrics struct {
	ProjectsSubmitted int
	ProjectsCompleted int
	ProjectsFailed    int

	TasksCompleted      int
	TasksFailed         int
	AverageTaskDuration time.Duration

	// ResourceUtilization maps each pool to allocated/capacity in [0, 1].
	ResourceUtilization map[core.ResourceKind]float64
}

// Orchestrator owns the project registry and the per-project execution
// goroutines. All exported methods are goroutine-safe.
type Orchestrator struct {
	bus    *bus.Bus
	sched  *scheduler.Scheduler
	runner *protocol.Runner
	alloc  *resource.Allocator
	opts   Options
	logger logging.Logger

	mu        sync.RWMutex
	projects  map[string]*core.Project // active, by id
	archive   map[string]*core.Project // terminal, by id
	progress  map[string]*progressState
	done      map[string]chan struct{}
	cancelled map[string]bool
	submitted int
	completed int
	failed    int
	closed    bool

	wg sync.WaitGroup
}

type progressState struct {
	total     int
	completed int
}

// New creates an Orchestrator over already-running subsystems.
func New(b *bus.Bus, sched *scheduler.Scheduler, runner *protocol.Runner, alloc *resource.Allocator, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		PhaseTimeout: 5 * time.Minute,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Planner == nil {
		opts.Planner = planner.NewTemplatePlanner()
	}
	if opts.Artifacts == nil {
		opts.Artifacts = artifact.NewInMemoryStore()
	}
	if opts.Gate == nil {
		opts.Gate = quality.NewHeuristicGate(func(o *quality.Options) {
			o.Logger = opts.Logger
		})
	}

	return &Orchestrator{
		bus:       b,
		sched:     sched,
		runner:    runner,
		alloc:     alloc,
		opts:      opts,
		logger:    opts.Logger,
		projects:  make(map[string]*core.Project),
		archive:   make(map[string]*core.Project),
		progress:  make(map[string]*progressState),
		done:      make(map[string]chan struct{}),
		cancelled: make(map[string]bool),
	}
}

// SubmitProject accepts a request, creates the project in the planning
// state and starts its execution goroutine. It returns the project id
// immediately; track completion via ProjectStatus or AwaitProject.
func (o *Orchestrator) SubmitProject(req core.ProjectRequest) (string, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", fmt.Errorf("orchestrator is closed")
	}
	p := core.NewProject(req)
	o.projects[p.ID] = p
	o.progress[p.ID] = &progressState{}
	o.done[p.ID] = make(chan struct{})
	o.submitted++
	o.wg.Add(1)
	o.mu.Unlock()

	o.record(p.ID, "", "project", fmt.Sprintf("project submitted: type=%s", req.Type))
	o.logger.Info("project submitted", "project_id", p.ID, "type", req.Type)

	go o.execute(p)
	return p.ID, nil
}

// AwaitProject blocks until the project reaches a terminal state or the
// context expires, then returns its status snapshot.
func (o *Orchestrator) AwaitProject(ctx context.Context, projectID string) (core.StatusSnapshot, error) {
	o.mu.RLock()
	ch, ok := o.done[projectID]
	o.mu.RUnlock()
	if !ok {
		// Already archived or never known.
		if snap, err := o.ProjectStatus(projectID); err == nil {
			return snap, nil
		}
		return core.StatusSnapshot{}, fmt.Errorf("unknown project %s", projectID)
	}
	select {
	case <-ch:
		return o.ProjectStatus(projectID)
	case <-ctx.Done():
		return core.StatusSnapshot{}, ctx.Err()
	}
}

// ProjectStatus returns the externally visible snapshot for an active or
// archived project.
func (o *Orchestrator) ProjectStatus(projectID string) (core.StatusSnapshot, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.projects[projectID]
	if !ok {
		p, ok = o.archive[projectID]
	}
	if !ok {
		return core.StatusSnapshot{}, fmt.Errorf("unknown project %s", projectID)
	}
	return core.StatusSnapshot{
		ProjectID: p.ID,
		State:     p.State,
		Phase:     p.Phase,
		Progress:  o.progressLocked(p),
		Artifacts: len(p.Manifest),
		Err:       p.Err,
	}, nil
}

// Manifest returns the project's accumulated artifact metadata in
// production order.
func (o *Orchestrator) Manifest(projectID string) ([]core.ArtifactMeta, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.projects[projectID]
	if !ok {
		p, ok = o.archive[projectID]
	}
	if !ok {
		return nil, fmt.Errorf("unknown project %s", projectID)
	}
	manifest := make([]core.ArtifactMeta, len(p.Manifest))
	copy(manifest, p.Manifest)
	return manifest, nil
}

// Cancel aborts an active project: queued tasks are dropped, held
// resources force-released, and the project fails with a cancellation
// record. Cancelling a terminal project is a no-op.
func (o *Orchestrator) Cancel(projectID string) error {
	o.mu.Lock()
	p, active := o.projects[projectID]
	if !active {
		_, archived := o.archive[projectID]
		o.mu.Unlock()
		if archived {
			return nil
		}
		return fmt.Errorf("unknown project %s", projectID)
	}
	o.cancelled[projectID] = true
	phase := p.Phase
	o.mu.Unlock()

	dropped := o.sched.CancelProject(projectID)
	released := o.alloc.ReleaseProject(projectID)
	o.logger.Info("project cancelled",
		"project_id", projectID,
		"dropped_tasks", dropped,
		"released_allocations", released,
	)
	o.record(projectID, phase, "project", "project cancelled by caller")
	return nil
}

// AggregateHealth snapshots every registered agent.
func (o *Orchestrator) AggregateHealth() []core.HealthStatus {
	agents := o.bus.Agents()
	statuses := make([]core.HealthStatus, 0, len(agents))
	for _, a := range agents {
		statuses = append(statuses, a.HealthCheck())
	}
	return statuses
}

// Metrics returns the current performance counters.
func (o *Orchestrator) Metrics() Metrics {
	stats := o.sched.Stats()

	utilization := make(map[core.ResourceKind]float64)
	for kind, stat := range o.alloc.Snapshot() {
		if stat.Capacity > 0 {
			utilization[kind] = stat.Allocated / stat.Capacity
		}
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	return Metrics{
		ProjectsSubmitted:   o.submitted,
		ProjectsCompleted:   o.completed,
		ProjectsFailed:      o.failed,
		TasksCompleted:      stats.Completed,
		TasksFailed:         stats.Failed,
		AverageTaskDuration: stats.AverageDuration,
		ResourceUtilization: utilization,
	}
}

// Close waits for all in-flight project goroutines to finish. New
// submissions are rejected once closing starts.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.wg.Wait()
}

// execute runs one project start to finish.
func (o *Orchestrator) execute(p *core.Project) {
	defer o.wg.Done()
	defer o.finalize(p)

	// Planning.
	plan, err := o.opts.Planner.Plan(context.Background(), p.Request)
	if err != nil {
		o.fail(p, "planning", "planning", fmt.Sprintf("plan request: %v", err))
		return
	}
	o.record(p.ID, "", "planning", fmt.Sprintf("plan %q accepted with %d phases, %d tasks", plan.Name, len(plan.Phases), plan.TaskCount()))

	// Scheduling: bind the plan, stamp ownership, assign agents.
	o.mu.Lock()
	if o.cancelled[p.ID] {
		o.mu.Unlock()
		o.fail(p, p.Phase, "cancelled", "project cancelled")
		return
	}
	p.Plan = plan
	p.State = core.ProjectScheduling
	p.Updated = time.Now().UTC()
	o.progress[p.ID].total = plan.TaskCount()
	o.mu.Unlock()

	if err := o.assignAgents(p.ID, plan); err != nil {
		o.fail(p, "scheduling", "scheduling", err.Error())
		return
	}

	// Executing: one coordination protocol per phase, in plan order.
	o.setState(p, core.ProjectExecuting, "")
	for _, phase := range plan.Phases {
		if o.isCancelled(p.ID) {
			o.fail(p, phase.Name, "cancelled", "project cancelled")
			return
		}
		o.setState(p, core.ProjectExecuting, phase.Name)

		outcome, err := o.runPhase(p, phase)
		o.absorb(p, outcome)
		if err != nil {
			o.sched.CancelProject(p.ID)
			o.fail(p, phase.Name, "coordination", err.Error())
			return
		}
		if outcome.Status != protocol.StatusCompleted {
			o.sched.CancelProject(p.ID)
			o.fail(p, phase.Name, string(outcome.Status), phaseFailureMessage(phase.Name, outcome))
			return
		}
	}

	// Integrating: the manifest was merged phase by phase; persist order.
	o.setState(p, core.ProjectIntegrating, "")
	o.record(p.ID, "", "integration", fmt.Sprintf("manifest aggregated: %d artifacts", o.manifestLen(p)))

	// Validating.
	o.setState(p, core.ProjectValidating, "")
	report := o.opts.Gate.Evaluate(o.manifestCopy(p))
	if !report.Pass {
		o.fail(p, "validation", "quality_gate",
			fmt.Sprintf("quality score %.2f below threshold (structure %.2f, coverage %.2f, docs %.2f)",
				report.Score, report.Breakdown["structure"], report.Breakdown["coverage"], report.Breakdown["docs"]))
		return
	}
	o.record(p.ID, "validation", "quality", fmt.Sprintf("quality gate passed with score %.2f", report.Score))

	o.mu.Lock()
	p.State = core.ProjectCompleted
	p.Updated = time.Now().UTC()
	o.mu.Unlock()
}

// runPhase materializes the phase's coordination protocol and executes it.
func (o *Orchestrator) runPhase(p *core.Project, phase core.Phase) (protocol.Outcome, error) {
	tasks := make([]core.Task, len(phase.Tasks))
	participants := make([]string, 0, len(phase.Tasks))
	seen := make(map[string]bool)
	for i, task := range phase.Tasks {
		task.ProjectID = p.ID
		task.Phase = phase.Name
		tasks[i] = task
		if task.AgentID != "" && !seen[task.AgentID] {
			seen[task.AgentID] = true
			participants = append(participants, task.AgentID)
		}
	}

	proto := core.Protocol{
		ID:              core.NewID(),
		ProjectID:       p.ID,
		Participants:    participants,
		Mode:            phase.Mode,
		Timeout:         o.opts.PhaseTimeout,
		RequiredSuccess: phase.RequiredSuccess,
	}
	if phase.SyncPoint != "" {
		proto.SyncPoints = []string{phase.SyncPoint}
	}

	o.logger.Info("phase starting",
		"project_id", p.ID,
		"phase", phase.Name,
		"mode", proto.Mode,
		"tasks", len(tasks),
	)
	return o.runner.Execute(context.Background(), proto, tasks)
}

// absorb merges a phase outcome into the project manifest and progress,
// keeping everything that succeeded regardless of the overall verdict.
func (o *Orchestrator) absorb(p *core.Project, outcome protocol.Outcome) {
	artifacts := outcome.Artifacts()
	for _, meta := range artifacts {
		if err := o.opts.Artifacts.Save(meta); err != nil {
			o.logger.Warn("manifest save failed", "project_id", p.ID, "artifact_id", meta.ID, "error", err)
		}
	}

	succeeded := 0
	for _, result := range outcome.Results {
		if result.Succeeded() {
			succeeded++
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	p.Manifest = append(p.Manifest, artifacts...)
	p.Updated = time.Now().UTC()
	if ps, ok := o.progress[p.ID]; ok {
		ps.completed += succeeded
	}
}

// assignAgents binds every task to the least-loaded registered agent whose
// capabilities cover the task kind. Optional tasks with no capable agent
// are dropped; required tasks with no capable agent fail the plan.
func (o *Orchestrator) assignAgents(projectID string, plan *core.Plan) error {
	load := make(map[string]int)
	dropped := 0
	for pi := range plan.Phases {
		kept := plan.Phases[pi].Tasks[:0]
		for _, task := range plan.Phases[pi].Tasks {
			if task.AgentID != "" {
				load[task.AgentID]++
				kept = append(kept, task)
				continue
			}
			agentID := o.pickAgent(task.Kind, load)
			if agentID == "" {
				if task.Optional {
					dropped++
					o.record(projectID, plan.Phases[pi].Name, "scheduling",
						fmt.Sprintf("optional task %q dropped, no agent for kind %s", task.Title, task.Kind))
					continue
				}
				return fmt.Errorf("no registered agent accepts task kind %q", task.Kind)
			}
			task.AgentID = agentID
			load[agentID]++
			kept = append(kept, task)
		}
		plan.Phases[pi].Tasks = kept
	}
	if dropped > 0 {
		o.mu.Lock()
		if ps, ok := o.progress[projectID]; ok {
			ps.total -= dropped
		}
		o.mu.Unlock()
	}
	return nil
}

// pickAgent returns the capable agent with the fewest assignments so far.
func (o *Orchestrator) pickAgent(kind core.TaskKind, load map[string]int) string {
	best := ""
	bestLoad := 0
	for _, a := range o.bus.Agents() {
		if !a.State().AcceptsTasks() {
			continue
		}
		capable := false
		for _, k := range a.Capabilities() {
			if k == kind {
				capable = true
				break
			}
		}
		if !capable {
			continue
		}
		if best == "" || load[a.ID()] < bestLoad {
			best = a.ID()
			bestLoad = load[a.ID()]
		}
	}
	return best
}

// fail moves the project to the terminal failed state, preserving the
// manifest built so far. The first terminal write wins.
func (o *Orchestrator) fail(p *core.Project, phase, kind, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p.State.Terminal() {
		return
	}
	p.State = core.ProjectFailed
	p.Err = &core.ProjectError{Kind: kind, Phase: phase, Message: message}
	p.Updated = time.Now().UTC()
	o.logger.Error("project failed",
		"project_id", p.ID,
		"phase", phase,
		"kind", kind,
		"reason", message,
		"artifacts_preserved", len(p.Manifest),
	)
}

// finalize archives the project and closes its completion channel.
func (o *Orchestrator) finalize(p *core.Project) {
	o.mu.Lock()
	if !p.State.Terminal() {
		// Execution goroutine exited without a verdict; treat as failure.
		p.State = core.ProjectFailed
		p.Err = &core.ProjectError{Kind: "internal", Message: "execution ended without terminal state"}
		p.Updated = time.Now().UTC()
	}
	if p.State == core.ProjectCompleted {
		o.completed++
	} else {
		o.failed++
	}
	delete(o.projects, p.ID)
	delete(o.cancelled, p.ID)
	o.archive[p.ID] = p
	ch := o.done[p.ID]
	delete(o.done, p.ID)
	o.mu.Unlock()

	o.record(p.ID, p.Phase, "project", fmt.Sprintf("project %s", p.State))
	o.logger.Info("project archived", "project_id", p.ID, "state", p.State, "artifacts", len(p.Manifest))
	if ch != nil {
		close(ch)
	}
}

func (o *Orchestrator) setState(p *core.Project, state core.ProjectState, phase string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p.State.Terminal() {
		return
	}
	p.State = state
	if phase != "" {
		p.Phase = phase
	}
	p.Updated = time.Now().UTC()
}

func (o *Orchestrator) isCancelled(projectID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cancelled[projectID]
}

func (o *Orchestrator) manifestLen(p *core.Project) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(p.Manifest)
}

func (o *Orchestrator) manifestCopy(p *core.Project) []core.ArtifactMeta {
	o.mu.RLock()
	defer o.mu.RUnlock()
	manifest := make([]core.ArtifactMeta, len(p.Manifest))
	copy(manifest, p.Manifest)
	return manifest
}

// progressLocked computes completed/total; callers hold at least a read
// lock.
func (o *Orchestrator) progressLocked(p *core.Project) float64 {
	if p.State == core.ProjectCompleted {
		return 1.0
	}
	ps, ok := o.progress[p.ID]
	if !ok || ps.total == 0 {
		return 0
	}
	frac := float64(ps.completed) / float64(ps.total)
	if frac > 1 {
		frac = 1
	}
	return frac
}

func (o *Orchestrator) record(projectID, phase, topic, content string) {
	if o.opts.Memory == nil {
		return
	}
	o.opts.Memory.Record(memory.Entry{
		ProjectID: projectID,
		Topic:     topic,
		Content:   content,
		Metadata:  map[string]any{"phase": phase},
	})
}

func phaseFailureMessage(phase string, outcome protocol.Outcome) string {
	if outcome.Err != nil {
		return fmt.Sprintf("phase %s %s: %v", phase, outcome.Status, outcome.Err)
	}
	return fmt.Sprintf("phase %s %s", phase, outcome.Status)
}
