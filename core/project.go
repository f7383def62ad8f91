package core

import "time"

// ProjectState tracks a project through the orchestrator state machine.
// Transitions move strictly forward; completed and failed are terminal.
type ProjectState string

const (
	// ProjectPlanning means a phase plan is being produced.
	ProjectPlanning ProjectState = "planning"
	// ProjectScheduling means plan phases are being converted into tasks.
	ProjectScheduling ProjectState = "scheduling"
	// ProjectExecuting means phase tasks are running under coordination.
	ProjectExecuting ProjectState = "executing"
	// ProjectIntegrating means per-phase artifact metadata is being merged.
	ProjectIntegrating ProjectState = "integrating"
	// ProjectValidating means the quality gate is evaluating the manifest.
	ProjectValidating ProjectState = "validating"
	// ProjectCompleted is the terminal success state.
	ProjectCompleted ProjectState = "completed"
	// ProjectFailed is terminal; the manifest built so far is preserved.
	ProjectFailed ProjectState = "failed"
)

// Terminal reports whether the state is terminal.
func (s ProjectState) Terminal() bool { return s == ProjectCompleted || s == ProjectFailed }

// ProjectRequest is the client-supplied description of what to scaffold.
type ProjectRequest struct {
	Type         string            `json:"type"`
	Description  string            `json:"description"`
	Technologies map[string]string `json:"technologies,omitempty"`
	Requirements map[string]any    `json:"requirements,omitempty"`
}

// Phase is one named stage of a project plan together with the coordination
// semantics its tasks run under.
type Phase struct {
	Name            string           `json:"name"`
	Mode            CoordinationMode `json:"mode"`
	SyncPoint       string           `json:"sync_point,omitempty"`
	RequiredSuccess float64          `json:"required_success,omitempty"`
	Tasks           []Task           `json:"tasks"`
}

// Plan is the derived phase plan for a project.
type Plan struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Phases      []Phase `json:"phases"`
}

// TaskCount returns the total number of tasks across all phases.
func (p *Plan) TaskCount() int {
	n := 0
	for _, ph := range p.Phases {
		n += len(ph.Tasks)
	}
	return n
}

// ProjectError is the structured error record attached to a failed project.
type ProjectError struct {
	Kind    string `json:"kind"`
	Phase   string `json:"phase,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ProjectError) Error() string { return e.Kind + ": " + e.Message }

// Project aggregates the request, derived plan, execution state and the
// accumulated artifact manifest. Terminal projects are archived, never
// destroyed; a failure in a later phase never discards earlier-phase
// manifest entries.
type Project struct {
	ID       string         `json:"id"`
	Request  ProjectRequest `json:"request"`
	Plan     *Plan          `json:"plan,omitempty"`
	State    ProjectState   `json:"state"`
	Phase    string         `json:"phase,omitempty"`
	Manifest []ArtifactMeta `json:"manifest,omitempty"`
	Err      *ProjectError  `json:"error,omitempty"`
	Created  time.Time      `json:"created"`
	Updated  time.Time      `json:"updated"`
}

// NewProject creates a project in the planning state.
func NewProject(req ProjectRequest) *Project {
	now := time.Now().UTC()
	return &Project{
		ID:      NewID(),
		Request: req,
		State:   ProjectPlanning,
		Created: now,
		Updated: now,
	}
}

// StatusSnapshot is the externally visible view of a project returned by
// status queries.
type StatusSnapshot struct {
	ProjectID string        `json:"project_id"`
	State     ProjectState  `json:"state"`
	Phase     string        `json:"phase,omitempty"`
	Progress  float64       `json:"progress"`
	Artifacts int           `json:"artifacts"`
	Err       *ProjectError `json:"error,omitempty"`
}

// CoordinationMode selects how a protocol instance drives its tasks.
type CoordinationMode string

const (
	// ModeSequential executes tasks strictly in declared order, fail-fast.
	ModeSequential CoordinationMode = "sequential"
	// ModeParallel dispatches tasks concurrently up to allocator capacity.
	ModeParallel CoordinationMode = "parallel"
	// ModeEventDriven triggers tasks on message-type subscriptions.
	ModeEventDriven CoordinationMode = "event_driven"
)

// Protocol declares how a group of agents works one phase: participants,
// mode, sync points, a timeout budget and the success threshold required to
// pass a sync point (fraction of feeding tasks, 0 meaning all).
type Protocol struct {
	ID              string           `json:"id"`
	ProjectID       string           `json:"project_id"`
	Participants    []string         `json:"participants"`
	Mode            CoordinationMode `json:"mode"`
	SyncPoints      []string         `json:"sync_points,omitempty"`
	Timeout         time.Duration    `json:"timeout"`
	RequiredSuccess float64          `json:"required_success,omitempty"`
}
