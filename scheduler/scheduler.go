package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/forgemesh/forgemesh/bus"
	"github.com/forgemesh/forgemesh/core"
	"github.com/forgemesh/forgemesh/logging"
	"github.com/forgemesh/forgemesh/resource"
)

// Options configures a Scheduler.
type Options struct {
	// EndpointID is the bus endpoint the scheduler dispatches from and
	// receives task responses on.
	EndpointID string

	// MaxRetries bounds local retries of transient task failures. A task
	// exhausting its retries surfaces as a terminal failure.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between consecutive retries.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the retry delay; must be > 1 for the delays
	// to strictly increase.
	BackoffMultiplier float64

	// ResourceMaxWait bounds how long a task may sit queued because its
	// footprint cannot be reserved or its agent is unavailable. Past it
	// the task fails with the blocking reason.
	ResourceMaxWait time.Duration

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Stats is a point-in-time snapshot of scheduler activity.
type Stats struct {
	Queued          int           `json:"queued"`
	InFlight        int           `json:"in_flight"`
	Completed       int           `json:"completed"`
	Failed          int           `json:"failed"`
	AverageDuration time.Duration `json:"average_duration"`
}

// Scheduler owns the dependency- and resource-gated task queue. Tasks are
// dispatched to their assigned agents through the bus; responses arrive on
// the scheduler's bus endpoint and either finalize the task or requeue it
// for a retry.
type Scheduler struct {
	bus    *bus.Bus
	alloc  *resource.Allocator
	opts   Options
	logger logging.Logger

	mu        sync.Mutex
	entries   map[string]*entry
	queue     taskQueue
	phases    map[string]int
	seq       uint64
	inFlight  int
	completed int
	failed    int
	totalRun  time.Duration

	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Scheduler bound to the bus and allocator and starts its
// dispatch loop. It registers a bus endpoint under Options.EndpointID to
// receive task responses.
func New(b *bus.Bus, alloc *resource.Allocator, optFns ...func(o *Options)) (*Scheduler, error) {
	opts := Options{
		EndpointID:        "scheduler",
		MaxRetries:        3,
		InitialBackoff:    200 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2,
		ResourceMaxWait:   30 * time.Second,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Scheduler{
		bus:     b,
		alloc:   alloc,
		opts:    opts,
		logger:  opts.Logger,
		entries: make(map[string]*entry),
		phases:  make(map[string]int),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if err := b.Subscribe(opts.EndpointID, s.onMessage); err != nil {
		return nil, fmt.Errorf("scheduler: bind endpoint %s: %w", opts.EndpointID, err)
	}

	go s.run()

	return s, nil
}

// Submit queues one task. It fails with a SchedulingError when the task
// kind is unknown, the id is already tracked, or the declared dependencies
// introduce a cycle. Phases rank in first-seen order, so callers submit
// phases in plan order.
func (s *Scheduler) Submit(task core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.submitLocked(task); err != nil {
		return err
	}
	s.kick()
	return nil
}

// SubmitAll queues a batch of tasks under one submission instant, so the
// priority hint orders them relative to each other. The batch is
// all-or-nothing: the first rejected task unwinds the whole call.
func (s *Scheduler) SubmitAll(tasks []core.Task) error {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	accepted := make([]string, 0, len(tasks))
	for _, task := range tasks {
		task.SubmittedAt = now
		if err := s.submitLocked(task); err != nil {
			for _, id := range accepted {
				s.evictLocked(id)
			}
			return err
		}
		accepted = append(accepted, task.ID)
	}
	s.kick()
	return nil
}

func (s *Scheduler) submitLocked(task core.Task) error {
	if !core.ValidKind(task.Kind) {
		return &core.SchedulingError{TaskID: task.ID, Reason: fmt.Sprintf("unknown task kind %q", task.Kind)}
	}
	if _, exists := s.entries[task.ID]; exists {
		return &core.SchedulingError{TaskID: task.ID, Reason: "task id already submitted"}
	}
	if cyclic := s.findCycle(task); cyclic != "" {
		return &core.SchedulingError{TaskID: task.ID, Reason: fmt.Sprintf("dependency cycle through task %s", cyclic)}
	}

	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = time.Now().UTC()
	}
	if task.Footprint == nil {
		task.Footprint = core.DefaultFootprint()
	}
	task.Status = core.TaskPending

	rank, ok := s.phases[task.Phase]
	if !ok {
		rank = len(s.phases)
		s.phases[task.Phase] = rank
	}

	s.seq++
	e := &entry{task: task, phaseRank: rank, seq: s.seq, index: -1}
	s.entries[task.ID] = e
	heap.Push(&s.queue, e)

	s.logger.Debug("task queued",
		"task_id", task.ID,
		"project_id", task.ProjectID,
		"phase", task.Phase,
		"agent_id", task.AgentID,
	)
	return nil
}

// findCycle walks the dependency graph that would exist after adding task
// and returns the id of a task on a cycle, or "".
func (s *Scheduler) findCycle(task core.Task) string {
	deps := func(id string) []string {
		if id == task.ID {
			return task.DependsOn
		}
		if e, ok := s.entries[id]; ok {
			return e.task.DependsOn
		}
		return nil
	}

	const (
		visiting = 1
		visited  = 2
	)
	marks := make(map[string]int)

	var walk func(id string) string
	walk = func(id string) string {
		switch marks[id] {
		case visiting:
			return id
		case visited:
			return ""
		}
		marks[id] = visiting
		for _, dep := range deps(id) {
			if hit := walk(dep); hit != "" {
				return hit
			}
		}
		marks[id] = visited
		return ""
	}

	return walk(task.ID)
}

func (s *Scheduler) evictLocked(id string) {
	e, ok := s.entries[id]
	if !ok {
		return
	}
	if e.index >= 0 {
		heap.Remove(&s.queue, e.index)
	}
	delete(s.entries, id)
}

// Await blocks until the task reaches a terminal state or the context is
// done. It is the completion feed for protocol sync points.
func (s *Scheduler) Await(ctx context.Context, taskID string) (core.TaskResult, error) {
	s.mu.Lock()
	e, ok := s.entries[taskID]
	if !ok {
		s.mu.Unlock()
		return core.TaskResult{}, &core.SchedulingError{TaskID: taskID, Reason: "unknown task"}
	}
	if e.terminal() {
		res := *e.result
		s.mu.Unlock()
		return res, nil
	}
	ch := make(chan core.TaskResult, 1)
	e.waiters = append(e.waiters, ch)
	s.mu.Unlock()

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return core.TaskResult{}, ctx.Err()
	}
}

// Result returns the terminal result of a task, if it has one.
func (s *Scheduler) Result(taskID string) (core.TaskResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[taskID]
	if !ok || !e.terminal() {
		return core.TaskResult{}, false
	}
	return *e.result, true
}

// TaskStatus reports the current lifecycle status of a tracked task.
func (s *Scheduler) TaskStatus(taskID string) (core.TaskStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[taskID]
	if !ok {
		return "", false
	}
	return e.task.Status, true
}

// CancelProject drops every queued, non-terminal task belonging to the
// project, failing each with a cancellation result, and force-releases the
// project's resource reservations. In-flight responses arriving afterwards
// are ignored. Returns the number of tasks cancelled.
func (s *Scheduler) CancelProject(projectID string) int {
	s.mu.Lock()
	cancelled := 0
	for _, e := range s.entries {
		if e.task.ProjectID != projectID || e.terminal() {
			continue
		}
		if e.index >= 0 {
			heap.Remove(&s.queue, e.index)
		}
		if e.inFlight {
			e.inFlight = false
			s.inFlight--
		}
		s.finalizeLocked(e, core.TaskResult{
			TaskID:    e.task.ID,
			ProjectID: projectID,
			AgentID:   e.task.AgentID,
			Status:    core.TaskFailed,
			Error:     "project cancelled",
		})
		cancelled++
	}
	s.mu.Unlock()

	released := s.alloc.ReleaseProject(projectID)
	if cancelled > 0 || released > 0 {
		s.logger.Info("project cancelled",
			"project_id", projectID,
			"tasks_cancelled", cancelled,
			"allocations_released", released,
		)
	}
	return cancelled
}

// Stats returns a snapshot of queue depth, in-flight work, and terminal
// counts.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Queued:    s.queue.Len(),
		InFlight:  s.inFlight,
		Completed: s.completed,
		Failed:    s.failed,
	}
	if s.completed > 0 {
		st.AverageDuration = s.totalRun / time.Duration(s.completed)
	}
	return st
}

// Close stops the dispatch loop and detaches the bus endpoint. Queued
// tasks are left unresolved.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		s.bus.Unsubscribe(s.opts.EndpointID)
	})
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// onMessage handles bus traffic addressed to the scheduler endpoint.
func (s *Scheduler) onMessage(msg core.Message) {
	if msg.Type != core.MessageTaskResponse {
		return
	}
	result, ok := msg.Result()
	if !ok {
		s.logger.Warn("task response without result payload dropped", "message_id", msg.ID)
		return
	}

	s.mu.Lock()
	e, ok := s.entries[result.TaskID]
	if !ok || e.terminal() || !e.inFlight {
		// Late response for a cancelled or unknown task.
		s.mu.Unlock()
		return
	}
	e.inFlight = false
	s.inFlight--
	s.mu.Unlock()

	s.alloc.Release(result.TaskID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e.terminal() {
		// CancelProject finalized the task while we released its footprint.
		return
	}

	if result.Succeeded() {
		s.finalizeLocked(e, result)
		s.kick()
		return
	}

	if result.Transient && e.task.Retries < s.opts.MaxRetries {
		e.task.Retries++
		e.task.Status = core.TaskRetrying
		if e.retryDelays == nil {
			e.retryDelays = s.newBackoff()
		}
		delay := e.retryDelays.NextBackOff()
		e.retryAt = time.Now().Add(delay)
		heap.Push(&s.queue, e)
		s.logger.Info("task retry scheduled",
			"task_id", e.task.ID,
			"attempt", e.task.Retries,
			"delay", delay,
			"error", result.Error,
		)
		s.kick()
		return
	}

	s.finalizeLocked(e, result)
	s.kick()
}

func (s *Scheduler) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.InitialBackoff
	bo.MaxInterval = s.opts.MaxBackoff
	bo.Multiplier = s.opts.BackoffMultiplier
	// Zero jitter keeps the delay sequence strictly increasing.
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// finalizeLocked records the terminal result and releases waiters. Caller
// holds s.mu.
func (s *Scheduler) finalizeLocked(e *entry, result core.TaskResult) {
	result.RetryCount = e.task.Retries
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now().UTC()
	}
	e.task.Status = result.Status
	e.result = &result

	if result.Succeeded() {
		s.completed++
		s.totalRun += result.CompletedAt.Sub(e.task.SubmittedAt)
	} else {
		s.failed++
	}

	for _, ch := range e.waiters {
		ch <- result
	}
	e.waiters = nil
}

// run is the dispatch loop: it wakes on queue activity, task responses, or
// the earliest pending retry deadline, and pushes out every task whose
// gates are open.
func (s *Scheduler) run() {
	defer close(s.done)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		next := s.dispatchEligible()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if next > 0 {
			timer.Reset(next)
		} else {
			timer.Reset(time.Hour)
		}

		select {
		case <-s.stop:
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// dispatchEligible sweeps the queue in priority order, dispatching every
// task whose dependency, agent, and resource gates are all open. It
// returns the wait until the earliest retry or re-check deadline, or 0 if
// nothing is waiting on time.
func (s *Scheduler) dispatchEligible() time.Duration {
	now := time.Now()
	var nextWake time.Duration

	s.mu.Lock()
	defer s.mu.Unlock()

	var deferred []*entry
	for s.queue.Len() > 0 {
		e := heap.Pop(&s.queue).(*entry)

		switch s.gateLocked(e, now) {
		case gateOpen:
			s.dispatchLocked(e)
		case gateWait:
			deferred = append(deferred, e)
			if wait := s.waitHintLocked(e, now); wait > 0 && (nextWake == 0 || wait < nextWake) {
				nextWake = wait
			}
		case gateDead:
			// gateLocked already finalized the entry.
		}
	}
	for _, e := range deferred {
		heap.Push(&s.queue, e)
	}

	return nextWake
}

type gateState int

const (
	gateOpen gateState = iota
	gateWait
	gateDead
)

// gateLocked decides whether an entry may dispatch now. Entries that can
// never run (failed dependency, blocked past ResourceMaxWait) are
// finalized here and reported dead. Caller holds s.mu.
func (s *Scheduler) gateLocked(e *entry, now time.Time) gateState {
	if now.Before(e.retryAt) {
		return gateWait
	}

	for _, dep := range e.task.DependsOn {
		de, ok := s.entries[dep]
		if !ok {
			s.failLocked(e, fmt.Sprintf("dependency %s was never submitted", dep))
			return gateDead
		}
		if !de.terminal() {
			return gateWait
		}
		if !de.result.Succeeded() && !de.task.Optional {
			s.failLocked(e, fmt.Sprintf("dependency %s failed: %s", dep, de.result.Error))
			return gateDead
		}
	}

	agent, registered := s.bus.Agent(e.task.AgentID)
	agentReady := registered && agent.State().AcceptsTasks()
	resourcesOK := s.alloc.CanSatisfy(e.task.Footprint)

	if agentReady && resourcesOK {
		e.blockedSince = time.Time{}
		return gateOpen
	}

	if e.blockedSince.IsZero() {
		e.blockedSince = now
		return gateWait
	}
	if now.Sub(e.blockedSince) > s.opts.ResourceMaxWait {
		if !agentReady {
			s.failLocked(e, fmt.Sprintf("agent %s unavailable past max wait", e.task.AgentID))
		} else {
			s.failLocked(e, "resource footprint unsatisfiable past max wait")
		}
		return gateDead
	}
	return gateWait
}

// waitHintLocked returns how long until the entry should be re-checked on
// a timer rather than an event. Caller holds s.mu.
func (s *Scheduler) waitHintLocked(e *entry, now time.Time) time.Duration {
	var hint time.Duration
	if e.retryAt.After(now) {
		hint = e.retryAt.Sub(now)
	}
	if !e.blockedSince.IsZero() {
		deadline := e.blockedSince.Add(s.opts.ResourceMaxWait).Sub(now)
		if deadline < 0 {
			deadline = time.Millisecond
		}
		if hint == 0 || deadline < hint {
			hint = deadline
		}
	}
	return hint
}

func (s *Scheduler) failLocked(e *entry, reason string) {
	s.logger.Warn("task failed without dispatch", "task_id", e.task.ID, "reason", reason)
	s.finalizeLocked(e, core.TaskResult{
		TaskID:    e.task.ID,
		ProjectID: e.task.ProjectID,
		AgentID:   e.task.AgentID,
		Status:    core.TaskFailed,
		Error:     reason,
	})
}

// dispatchLocked reserves the task's footprint and sends it to its agent.
// Caller holds s.mu.
func (s *Scheduler) dispatchLocked(e *entry) {
	if err := s.alloc.Reserve(e.task.ProjectID, e.task.ID, e.task.Footprint); err != nil {
		// CanSatisfy raced with another reservation; put the task back.
		e.blockedSince = time.Now()
		heap.Push(&s.queue, e)
		return
	}

	e.task.Status = core.TaskAssigned
	msg := core.NewTaskRequest(s.opts.EndpointID, e.task)
	if err := s.bus.Send(msg); err != nil {
		s.alloc.Release(e.task.ID)
		s.failLocked(e, fmt.Sprintf("bus send failed: %v", err))
		return
	}

	e.task.Status = core.TaskRunning
	e.inFlight = true
	s.inFlight++
	s.logger.Debug("task dispatched",
		"task_id", e.task.ID,
		"agent_id", e.task.AgentID,
		"attempt", e.task.Retries,
	)
}
