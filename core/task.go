package core

import "time"

// TaskKind is the closed set of work categories agents can accept. Dispatch
// resolves through a kind→handler map on each agent rather than string
// comparisons scattered through the code.
type TaskKind string

const (
	// KindFrontend covers UI scaffolding work.
	KindFrontend TaskKind = "frontend"
	// KindBackend covers service/API scaffolding work.
	KindBackend TaskKind = "backend"
	// KindDatabase covers schema and persistence scaffolding.
	KindDatabase TaskKind = "database"
	// KindDevOps covers build/deploy scaffolding.
	KindDevOps TaskKind = "devops"
	// KindQuality covers review and test-generation work.
	KindQuality TaskKind = "qa"
)

// Kinds returns all valid task kinds in a stable order.
func Kinds() []TaskKind {
	return []TaskKind{KindFrontend, KindBackend, KindDatabase, KindDevOps, KindQuality}
}

// ValidKind reports whether k is a member of the closed kind set.
func ValidKind(k TaskKind) bool {
	switch k {
	case KindFrontend, KindBackend, KindDatabase, KindDevOps, KindQuality:
		return true
	}
	return false
}

// TaskStatus tracks a task through its lifecycle.
type TaskStatus string

const (
	// TaskPending means the task is queued and not yet dispatchable.
	TaskPending TaskStatus = "pending"
	// TaskAssigned means the task has been handed to an agent.
	TaskAssigned TaskStatus = "assigned"
	// TaskRunning means the agent is actively processing the task.
	TaskRunning TaskStatus = "running"
	// TaskCompleted is the terminal success state.
	TaskCompleted TaskStatus = "completed"
	// TaskFailed is the terminal failure state.
	TaskFailed TaskStatus = "failed"
	// TaskRetrying means a transient failure occurred and the task is
	// queued for another attempt.
	TaskRetrying TaskStatus = "retrying"
)

// Terminal reports whether the status is a terminal state.
func (s TaskStatus) Terminal() bool { return s == TaskCompleted || s == TaskFailed }

// Priority orders tasks within the same phase and submission instant.
// Lower values dispatch first.
type Priority int

const (
	// PriorityCritical is dispatched before everything else in its phase.
	PriorityCritical Priority = 1
	// PriorityHigh is elevated priority.
	PriorityHigh Priority = 2
	// PriorityMedium is the default.
	PriorityMedium Priority = 3
	// PriorityLow runs after the defaults.
	PriorityLow Priority = 4
	// PriorityDeferred runs only when nothing else is eligible.
	PriorityDeferred Priority = 5
)

// ResourceKind names one bounded capacity pool.
type ResourceKind string

const (
	// ResourceCompute is the compute weight pool.
	ResourceCompute ResourceKind = "compute"
	// ResourceMemory is the memory weight pool.
	ResourceMemory ResourceKind = "memory"
	// ResourceSlots is the agent slot pool.
	ResourceSlots ResourceKind = "agent_slots"
)

// Footprint declares how much of each pool a task reserves while running.
// Reservations are all-or-nothing; a zero or nil footprint reserves nothing.
type Footprint map[ResourceKind]float64

// DefaultFootprint is the reservation applied to tasks that do not declare
// their own: a modest compute/memory weight plus one agent slot.
func DefaultFootprint() Footprint {
	return Footprint{ResourceCompute: 10, ResourceMemory: 10, ResourceSlots: 1}
}

// Task is one unit of scaffolding work owned by a project phase.
type Task struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"project_id"`
	Phase        string         `json:"phase"`
	AgentID      string         `json:"agent_id"`
	Kind         TaskKind       `json:"kind"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	Requirements map[string]any `json:"requirements,omitempty"`
	DependsOn    []string       `json:"depends_on,omitempty"`
	Footprint    Footprint      `json:"footprint,omitempty"`
	Priority     Priority       `json:"priority"`
	// Optional tasks do not abort a sequential chain or fail a sync point
	// when they fail.
	Optional    bool       `json:"optional,omitempty"`
	Status      TaskStatus `json:"status"`
	Retries     int        `json:"retries"`
	SubmittedAt time.Time  `json:"submitted_at"`
}

// NewTask constructs a pending task with a generated id and default
// priority/footprint.
func NewTask(projectID, phase string, kind TaskKind, title string) Task {
	return Task{
		ID:        NewID(),
		ProjectID: projectID,
		Phase:     phase,
		Kind:      kind,
		Title:     title,
		Footprint: DefaultFootprint(),
		Priority:  PriorityMedium,
		Status:    TaskPending,
	}
}

// TaskResult is the terminal record produced for every processed task.
// Exactly one result exists per completed task.
type TaskResult struct {
	TaskID      string         `json:"task_id"`
	ProjectID   string         `json:"project_id"`
	AgentID     string         `json:"agent_id"`
	Status      TaskStatus     `json:"status"`
	Artifacts   []ArtifactMeta `json:"artifacts,omitempty"`
	Output      string         `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	// Transient marks a failed result as eligible for scheduler retry
	// (timeout, agent-unavailable). Permanent failures leave it false.
	Transient   bool           `json:"transient,omitempty"`
	RetryCount  int            `json:"retry_count"`
	CompletedAt time.Time      `json:"completed_at"`
}

// Succeeded reports whether the result records a completed task.
func (r TaskResult) Succeeded() bool { return r.Status == TaskCompleted }

// ArtifactMeta describes a generated artifact. The orchestration core tracks
// completion metadata only; artifact content lives with whoever produced it.
type ArtifactMeta struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	ProjectID string    `json:"project_id"`
	Phase     string    `json:"phase"`
	Name      string    `json:"name"`
	Kind      TaskKind  `json:"kind"`
	// Generator records whether the backend or the deterministic template
	// fallback produced the artifact ("model" or "template").
	Generator string    `json:"generator"`
	SizeHint  int       `json:"size_hint,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
