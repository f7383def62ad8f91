package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RegistrationError reports a failed agent registration: a duplicate id
// bound to a different instance, or an Initialize that reported failure.
type RegistrationError struct {
	AgentID string
	Reason  string
	Err     error
}

// Error implements the error interface.
func (e *RegistrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("registration failed for agent %s: %s: %v", e.AgentID, e.Reason, e.Err)
	}
	return fmt.Sprintf("registration failed for agent %s: %s", e.AgentID, e.Reason)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *RegistrationError) Unwrap() error { return e.Err }

// SchedulingError reports a task that can never be scheduled: a dependency
// cycle or an unknown task kind. Scheduling errors are permanent.
type SchedulingError struct {
	TaskID string
	Reason string
}

// Error implements the error interface.
func (e *SchedulingError) Error() string {
	return fmt.Sprintf("cannot schedule task %s: %s", e.TaskID, e.Reason)
}

// ResourceExhausted reports that the allocator could not satisfy a
// footprint. Tasks hitting it stay queued with backoff and only become
// fatal past the scheduler's configured max wait.
type ResourceExhausted struct {
	Kind      ResourceKind
	Requested float64
	Available float64
}

// Error implements the error interface.
func (e *ResourceExhausted) Error() string {
	return fmt.Sprintf("resource %s exhausted: requested %.1f, available %.1f", e.Kind, e.Requested, e.Available)
}

// TransientFailure wraps a failure eligible for local retry by the
// scheduler: timeouts and agent-unavailable conditions.
type TransientFailure struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransientFailure) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *TransientFailure) Unwrap() error { return e.Err }

// PermanentFailure wraps a failure that must not be retried: validation
// errors and unsupported task kinds. It propagates immediately.
type PermanentFailure struct {
	Op     string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *PermanentFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent failure in %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("permanent failure in %s: %s", e.Op, e.Reason)
}

// Unwrap exposes the underlying cause.
func (e *PermanentFailure) Unwrap() error { return e.Err }

// ProtocolTimeout reports that a protocol instance exceeded its timeout
// budget. Unresolved tasks are failed with this reason; completed
// sub-results are preserved alongside it.
type ProtocolTimeout struct {
	ProtocolID string
	Elapsed    time.Duration
}

// Error implements the error interface.
func (e *ProtocolTimeout) Error() string {
	return fmt.Sprintf("protocol %s timed out after %s", e.ProtocolID, e.Elapsed)
}

// FatalInitError reports that a required core service stayed unreachable
// past the maximum startup retries. It halts orchestrator startup.
type FatalInitError struct {
	Service string
	Err     error
}

// Error implements the error interface.
func (e *FatalInitError) Error() string {
	return fmt.Sprintf("fatal init error: service %s unavailable: %v", e.Service, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *FatalInitError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried locally. Context
// deadline errors count as transient per the timeout-as-transient rule;
// anything wrapped in PermanentFailure never does.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perm *PermanentFailure
	if errors.As(err, &perm) {
		return false
	}
	var sched *SchedulingError
	if errors.As(err, &sched) {
		return false
	}
	var trans *TransientFailure
	if errors.As(err, &trans) {
		return true
	}
	var exhausted *ResourceExhausted
	if errors.As(err, &exhausted) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
