// Package agent implements the worker runtime contract: lifecycle state
// machine, capability-gated task dispatch, and health reporting.
//
// BaseAgent carries the shared lifecycle. It moves uninitialized →
// initializing → ready, oscillates ready ↔ busy while processing, degrades
// after repeated consecutive failures, and fails hard after the configured
// threshold. A failed agent returns to ready only through an explicit
// Reset, never automatically. Embed it and register one handler per task
// kind; string-typed kinds never leak into scattered comparisons.
//
// Worker is the concrete generation agent: it drives a model backend and
// answers every backend failure with the deterministic template fallback.
package agent
