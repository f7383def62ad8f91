// Package orchestrator drives projects through their state machine:
// planning, scheduling, executing, integrating, validating, and finally
// completed or failed.
//
// The orchestrator composes the other subsystems rather than duplicating
// them: a planner produces the phase plan, the scheduler owns task dispatch
// and retries, the protocol runner owns per-phase coordination, and the
// quality gate owns acceptance. Failure in a later phase never discards the
// manifest entries earlier phases produced.
package orchestrator
