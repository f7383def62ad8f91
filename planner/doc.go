// Package planner produces phase plans for project requests.
//
// ModelPlanner asks a generation backend for a JSON plan and validates it;
// any failure along that path, from transport errors to malformed JSON,
// falls back to the deterministic TemplatePlanner so a project request
// always yields a usable plan. TemplatePlanner alone also serves as the
// planner when no backend is configured.
package planner
