package planner

import (
	"context"
	"strings"

	"github.com/forgemesh/forgemesh/core"
)

// Planner derives a phase plan from a project request.
type Planner interface {
	Plan(ctx context.Context, req core.ProjectRequest) (*core.Plan, error)
}

// projectTemplate is one reusable plan pattern.
type projectTemplate struct {
	name   string
	phases []phaseTemplate
}

type phaseTemplate struct {
	name      string
	mode      core.CoordinationMode
	syncPoint string
	tasks     []taskTemplate
}

type taskTemplate struct {
	kind     core.TaskKind
	title    string
	priority core.Priority
}

// TemplatePlanner maps project types to fixed plan patterns. It never
// fails: unknown project types get the web application template.
type TemplatePlanner struct {
	templates map[string]projectTemplate
}

// NewTemplatePlanner creates a planner covering the standard project types
// (web_application, api_service, fullstack_app).
func NewTemplatePlanner() *TemplatePlanner {
	return &TemplatePlanner{templates: defaultProjectTemplates()}
}

// Plan implements Planner deterministically.
func (p *TemplatePlanner) Plan(_ context.Context, req core.ProjectRequest) (*core.Plan, error) {
	tmpl, ok := p.templates[req.Type]
	if !ok {
		tmpl = p.templates["web_application"]
	}

	plan := &core.Plan{
		Name:        tmpl.name,
		Description: req.Description,
	}
	for _, pt := range tmpl.phases {
		phase := core.Phase{
			Name:      pt.name,
			Mode:      pt.mode,
			SyncPoint: pt.syncPoint,
		}
		for _, tt := range pt.tasks {
			task := core.NewTask("", pt.name, tt.kind, tt.title)
			task.Description = describeTask(tt, req)
			task.Priority = tt.priority
			task.Footprint = kindFootprint(tt.kind)
			phase.Tasks = append(phase.Tasks, task)
		}
		plan.Phases = append(plan.Phases, phase)
	}
	return plan, nil
}

func describeTask(tt taskTemplate, req core.ProjectRequest) string {
	var b strings.Builder
	b.WriteString(tt.title)
	if req.Description != "" {
		b.WriteString(" for: ")
		b.WriteString(req.Description)
	}
	if tech, ok := req.Technologies[string(tt.kind)]; ok {
		b.WriteString(" using ")
		b.WriteString(tech)
	}
	return b.String()
}

// kindFootprint sizes reservations per task kind, mirroring the observed
// relative cost of each work type.
func kindFootprint(kind core.TaskKind) core.Footprint {
	switch kind {
	case core.KindFrontend:
		return core.Footprint{core.ResourceCompute: 20, core.ResourceMemory: 25, core.ResourceSlots: 1}
	case core.KindBackend:
		return core.Footprint{core.ResourceCompute: 25, core.ResourceMemory: 30, core.ResourceSlots: 1}
	case core.KindDatabase:
		return core.Footprint{core.ResourceCompute: 15, core.ResourceMemory: 20, core.ResourceSlots: 1}
	case core.KindDevOps:
		return core.Footprint{core.ResourceCompute: 15, core.ResourceMemory: 20, core.ResourceSlots: 1}
	case core.KindQuality:
		return core.Footprint{core.ResourceCompute: 10, core.ResourceMemory: 15, core.ResourceSlots: 1}
	}
	return core.DefaultFootprint()
}

func defaultProjectTemplates() map[string]projectTemplate {
	return map[string]projectTemplate{
		"web_application": {
			name: "Full-Stack Web Application",
			phases: []phaseTemplate{
				{
					name: "design",
					mode: core.ModeSequential,
					tasks: []taskTemplate{
						{kind: core.KindBackend, title: "Design API contract", priority: core.PriorityHigh},
						{kind: core.KindDatabase, title: "Design data model", priority: core.PriorityHigh},
					},
				},
				{
					name:      "implementation",
					mode:      core.ModeParallel,
					syncPoint: "implementation-complete",
					tasks: []taskTemplate{
						{kind: core.KindFrontend, title: "Build UI scaffold", priority: core.PriorityMedium},
						{kind: core.KindBackend, title: "Build API service", priority: core.PriorityMedium},
						{kind: core.KindDatabase, title: "Provision schema", priority: core.PriorityMedium},
					},
				},
				{
					name: "integration",
					mode: core.ModeSequential,
					tasks: []taskTemplate{
						{kind: core.KindDevOps, title: "Containerize and compose services", priority: core.PriorityMedium},
					},
				},
				{
					name: "validation",
					mode: core.ModeSequential,
					tasks: []taskTemplate{
						{kind: core.KindQuality, title: "Generate test suite", priority: core.PriorityMedium},
					},
				},
			},
		},
		"api_service": {
			name: "REST API Service",
			phases: []phaseTemplate{
				{
					name: "design",
					mode: core.ModeSequential,
					tasks: []taskTemplate{
						{kind: core.KindBackend, title: "Design API contract", priority: core.PriorityHigh},
					},
				},
				{
					name:      "implementation",
					mode:      core.ModeParallel,
					syncPoint: "implementation-complete",
					tasks: []taskTemplate{
						{kind: core.KindBackend, title: "Build API service", priority: core.PriorityMedium},
						{kind: core.KindDatabase, title: "Provision schema", priority: core.PriorityMedium},
					},
				},
				{
					name: "validation",
					mode: core.ModeSequential,
					tasks: []taskTemplate{
						{kind: core.KindQuality, title: "Generate test suite", priority: core.PriorityMedium},
					},
				},
			},
		},
		"fullstack_app": {
			name: "Full-Stack Application with Delivery Pipeline",
			phases: []phaseTemplate{
				{
					name: "design",
					mode: core.ModeSequential,
					tasks: []taskTemplate{
						{kind: core.KindBackend, title: "Design API contract", priority: core.PriorityHigh},
						{kind: core.KindDatabase, title: "Design data model", priority: core.PriorityHigh},
					},
				},
				{
					name:      "implementation",
					mode:      core.ModeParallel,
					syncPoint: "implementation-complete",
					tasks: []taskTemplate{
						{kind: core.KindFrontend, title: "Build UI scaffold", priority: core.PriorityMedium},
						{kind: core.KindBackend, title: "Build API service", priority: core.PriorityMedium},
						{kind: core.KindDatabase, title: "Provision schema", priority: core.PriorityMedium},
						{kind: core.KindDevOps, title: "Prepare delivery pipeline", priority: core.PriorityLow},
					},
				},
				{
					name: "validation",
					mode: core.ModeSequential,
					tasks: []taskTemplate{
						{kind: core.KindQuality, title: "Generate test suite", priority: core.PriorityMedium},
					},
				},
			},
		},
	}
}
