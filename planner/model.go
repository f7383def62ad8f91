package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/forgemesh/forgemesh/core"
	"github.com/forgemesh/forgemesh/logging"
	"github.com/forgemesh/forgemesh/model"
)

// Options configures a ModelPlanner.
type Options struct {
	// CallTimeout bounds the backend planning call.
	CallTimeout time.Duration

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// ModelPlanner asks a generation backend for a plan and falls back to the
// template planner on any failure: transport error, timeout, malformed
// JSON, or a plan that fails validation.
type ModelPlanner struct {
	backend  model.Backend
	fallback *TemplatePlanner
	opts     Options
	logger   logging.Logger
}

// NewModelPlanner creates a ModelPlanner over the backend.
func NewModelPlanner(backend model.Backend, optFns ...func(o *Options)) *ModelPlanner {
	opts := Options{
		CallTimeout: 60 * time.Second,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ModelPlanner{
		backend:  backend,
		fallback: NewTemplatePlanner(),
		opts:     opts,
		logger:   opts.Logger,
	}
}

// planDoc is the JSON shape requested from the backend.
type planDoc struct {
	ProjectName string     `json:"project_name"`
	Description string     `json:"description"`
	Phases      []phaseDoc `json:"phases"`
}

type phaseDoc struct {
	Name      string    `json:"name"`
	Mode      string    `json:"mode"`
	SyncPoint string    `json:"sync_point,omitempty"`
	Tasks     []taskDoc `json:"tasks"`
}

type taskDoc struct {
	Kind        string   `json:"kind"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"` // titles of earlier tasks
}

const planSystemPrompt = `You are a senior software architect. Produce a phased
scaffolding plan as a single JSON object, no prose, matching:
{
  "project_name": "...",
  "description": "...",
  "phases": [
    {
      "name": "...",
      "mode": "sequential|parallel|event_driven",
      "sync_point": "optional barrier name",
      "tasks": [
        {"kind": "frontend|backend|database|devops|qa", "title": "...", "description": "...", "depends_on": ["earlier task title"]}
      ]
    }
  ]
}
Phases execute in order. Keep 2-5 phases and 1-4 tasks per phase.`

// Plan implements Planner. The backend's plan is used only when it parses
// and validates cleanly; everything else falls back to the template plan
// for the request's project type.
func (p *ModelPlanner) Plan(ctx context.Context, req core.ProjectRequest) (*core.Plan, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.opts.CallTimeout)
	defer cancel()

	resp, err := p.backend.Generate(callCtx, model.Request{
		Prompt: planUserPrompt(req),
		System: planSystemPrompt,
	})
	if err != nil {
		p.logger.Warn("plan generation failed, using template plan", "error", err)
		return p.fallback.Plan(ctx, req)
	}

	plan, err := parsePlan(resp.Text)
	if err != nil {
		p.logger.Warn("generated plan rejected, using template plan", "error", err)
		return p.fallback.Plan(ctx, req)
	}
	return plan, nil
}

func planUserPrompt(req core.ProjectRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project type: %s\n", req.Type)
	fmt.Fprintf(&b, "Description: %s\n", req.Description)
	if len(req.Technologies) > 0 {
		tech, _ := json.Marshal(req.Technologies)
		fmt.Fprintf(&b, "Technologies: %s\n", tech)
	}
	if len(req.Requirements) > 0 {
		reqs, _ := json.Marshal(req.Requirements)
		fmt.Fprintf(&b, "Requirements: %s\n", reqs)
	}
	return b.String()
}

// parsePlan decodes and validates a backend plan, converting it into core
// tasks. Task depends_on references name earlier task titles and resolve
// to task ids; a reference to an unknown title rejects the plan.
func parsePlan(text string) (*core.Plan, error) {
	raw := extractJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in plan response")
	}

	var doc planDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if len(doc.Phases) == 0 {
		return nil, fmt.Errorf("plan has no phases")
	}

	plan := &core.Plan{Name: doc.ProjectName, Description: doc.Description}
	idByTitle := make(map[string]string)

	for _, pd := range doc.Phases {
		if pd.Name == "" {
			return nil, fmt.Errorf("phase without a name")
		}
		mode := core.CoordinationMode(pd.Mode)
		switch mode {
		case core.ModeSequential, core.ModeParallel, core.ModeEventDriven:
		case "":
			mode = core.ModeSequential
		default:
			return nil, fmt.Errorf("phase %s: unknown mode %q", pd.Name, pd.Mode)
		}
		if len(pd.Tasks) == 0 {
			return nil, fmt.Errorf("phase %s has no tasks", pd.Name)
		}

		phase := core.Phase{Name: pd.Name, Mode: mode, SyncPoint: pd.SyncPoint}
		for _, td := range pd.Tasks {
			kind := core.TaskKind(td.Kind)
			if !core.ValidKind(kind) {
				return nil, fmt.Errorf("phase %s: unknown task kind %q", pd.Name, td.Kind)
			}
			if td.Title == "" {
				return nil, fmt.Errorf("phase %s: task without a title", pd.Name)
			}

			task := core.NewTask("", pd.Name, kind, td.Title)
			task.Description = td.Description
			task.Footprint = kindFootprint(kind)
			for _, depTitle := range td.DependsOn {
				depID, ok := idByTitle[depTitle]
				if !ok {
					return nil, fmt.Errorf("phase %s: task %q depends on unknown task %q", pd.Name, td.Title, depTitle)
				}
				task.DependsOn = append(task.DependsOn, depID)
			}
			idByTitle[td.Title] = task.ID
			phase.Tasks = append(phase.Tasks, task)
		}
		plan.Phases = append(plan.Phases, phase)
	}
	return plan, nil
}

// extractJSON pulls the outermost JSON object out of a response that may
// wrap it in prose or a code fence.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
