package protocol

import (
	"context"
	"errors"
	"sync"

	"github.com/forgemesh/forgemesh/core"
)

// TriggerKey is the task requirement naming the message type that triggers
// an event-driven task. Tasks without it dispatch immediately when the
// session starts.
const TriggerKey = "trigger"

// EventSession is one live event-driven protocol instance. Tasks carrying a
// trigger requirement sit in a subscription table and submit when a bus
// message of the matching type is observed; nothing blocks globally.
// Callers impose local waits through WaitSync.
type EventSession struct {
	runner *Runner
	proto  core.Protocol
	tasks  []core.Task

	mu        sync.Mutex
	pending   map[core.MessageType][]core.Task
	submitted map[string]bool
	failed    map[string]core.TaskResult
	closed    bool
	untap     func()

	wake chan struct{}
}

// StartEventDriven opens an event-driven protocol session. Untriggered
// tasks submit immediately; triggered ones are entered into the
// subscription table and fire on matching bus traffic. The session taps
// the bus until Close.
func (r *Runner) StartEventDriven(p core.Protocol, tasks []core.Task) (*EventSession, error) {
	s := &EventSession{
		runner:    r,
		proto:     p,
		tasks:     tasks,
		pending:   make(map[core.MessageType][]core.Task),
		submitted: make(map[string]bool),
		failed:    make(map[string]core.TaskResult),
		wake:      make(chan struct{}, 1),
	}

	for _, task := range tasks {
		trigger, ok := task.Requirements[TriggerKey].(string)
		if !ok || trigger == "" {
			if err := r.sched.Submit(task); err != nil {
				return nil, err
			}
			s.submitted[task.ID] = true
			continue
		}
		mt := core.MessageType(trigger)
		s.pending[mt] = append(s.pending[mt], task)
	}

	s.untap = r.bus.Tap(s.onMessage)
	return s, nil
}

// onMessage fires pending subscriptions matching the observed message
// type. Each subscription fires at most once.
func (s *EventSession) onMessage(msg core.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	tasks := s.pending[msg.Type]
	if len(tasks) == 0 {
		s.mu.Unlock()
		return
	}
	delete(s.pending, msg.Type)
	s.mu.Unlock()

	for _, task := range tasks {
		if err := s.runner.sched.Submit(task); err != nil {
			s.runner.logger.Warn("triggered task rejected",
				"protocol_id", s.proto.ID,
				"task_id", task.ID,
				"error", err,
			)
			s.mu.Lock()
			s.failed[task.ID] = core.TaskResult{
				TaskID:    task.ID,
				ProjectID: task.ProjectID,
				Status:    core.TaskFailed,
				Error:     err.Error(),
			}
			s.mu.Unlock()
			continue
		}
		s.mu.Lock()
		s.submitted[task.ID] = true
		s.mu.Unlock()
		s.runner.logger.Debug("subscription fired",
			"protocol_id", s.proto.ID,
			"task_id", task.ID,
			"message_type", string(msg.Type),
		)
	}
	s.kick()
}

func (s *EventSession) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// WaitSync blocks locally until every session task reaches a terminal
// state or the context expires. Tasks whose trigger never arrived count as
// unresolved and fail with the timeout reason; completed sub-results are
// preserved either way.
func (s *EventSession) WaitSync(ctx context.Context) Outcome {
	out := newOutcome(s.tasks)

	for {
		s.mu.Lock()
		for id, res := range s.failed {
			out.Results[id] = res
		}
		var awaitable []string
		for id := range s.submitted {
			if _, done := out.Results[id]; !done {
				awaitable = append(awaitable, id)
			}
		}
		s.mu.Unlock()

		for _, id := range awaitable {
			res, err := s.runner.sched.Await(ctx, id)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return s.runner.timedOut(s.proto, out)
				}
				out.Results[id] = core.TaskResult{
					TaskID: id,
					Status: core.TaskFailed,
					Error:  err.Error(),
				}
				continue
			}
			out.Results[id] = res
		}

		if len(out.Results) == len(out.TaskOrder) {
			break
		}

		// Remaining tasks are still waiting on their trigger.
		select {
		case <-s.wake:
		case <-ctx.Done():
			return s.runner.timedOut(s.proto, out)
		}
	}

	if passed, got, want := meetsThreshold(s.proto, s.tasks, out.Results); !passed {
		out.Status = StatusAborted
		out.Err = &core.PermanentFailure{
			Op:     "protocol " + s.proto.ID,
			Reason: requiredSuccessReason(got, want),
		}
		return out
	}
	out.Status = StatusCompleted
	return out
}

// Close detaches the session from bus traffic. Pending subscriptions never
// fire afterwards. Safe to call more than once.
func (s *EventSession) Close() {
	s.mu.Lock()
	s.closed = true
	s.pending = make(map[core.MessageType][]core.Task)
	untap := s.untap
	s.untap = nil
	s.mu.Unlock()

	if untap != nil {
		untap()
	}
}
