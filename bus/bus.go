package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/forgemesh/forgemesh/core"
	"github.com/forgemesh/forgemesh/logging"
)

// HandlerFunc is invoked inline by the dispatcher for messages addressed to
// a plain endpoint (scheduler, orchestrator, protocol instance). Handlers
// must be quick or hand off to their own goroutine; they run on the
// dispatcher goroutine.
type HandlerFunc func(msg core.Message)

// Options configures a Bus instance.
type Options struct {
	// QueueSize is the admission queue buffer. Send fails once it is full.
	QueueSize int

	// InboxSize is the per-agent inbox buffer. Delivery to a full inbox is
	// logged and dropped.
	InboxSize int

	// HistorySize bounds the message history ring buffer.
	HistorySize int

	// InitTimeout bounds an agent's Initialize call during registration.
	InitTimeout time.Duration

	// TaskTimeout bounds a single ProcessTask invocation. A task exceeding
	// it is cancelled and reported as a transient failure.
	TaskTimeout time.Duration

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Bus delivers messages between registered agents and endpoints. All routing
// runs through one cooperative dispatcher goroutine so queue admission order
// is the only ordering key: messages from the same origin to the same
// destination arrive in send order, with no guarantee across routes.
//
// The registry and history are owned state of the Bus instance; create one
// with New and tear it down with Close.
type Bus struct {
	opts Options

	mu        sync.RWMutex
	bindings  map[string]*binding
	endpoints map[string]HandlerFunc
	taps      map[int]func(core.Message)
	nextTap   int

	queue   chan core.Message
	history *history

	stop    chan struct{}
	done    chan struct{}
	closing bool

	logger logging.Logger
}

// binding couples a registered agent with its inbox and delivery worker.
// The worker processes one message at a time, so an individual agent never
// runs two tasks concurrently.
type binding struct {
	agent core.Agent
	inbox chan core.Message
	done  chan struct{}
}

// New creates a Bus and starts its dispatcher loop.
func New(optFns ...func(o *Options)) *Bus {
	opts := Options{
		QueueSize:   256,
		InboxSize:   32,
		HistorySize: 1024,
		InitTimeout: 10 * time.Second,
		TaskTimeout: 2 * time.Minute,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	b := &Bus{
		opts:      opts,
		bindings:  make(map[string]*binding),
		endpoints: make(map[string]HandlerFunc),
		taps:      make(map[int]func(core.Message)),
		queue:     make(chan core.Message, opts.QueueSize),
		history:   newHistory(opts.HistorySize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		logger:    opts.Logger,
	}

	go b.dispatchLoop()

	return b
}

// Register binds an agent to the bus, invoking its Initialize under the
// configured timeout and starting a delivery worker for its inbox.
//
// Registering the same agent instance twice while it still accepts tasks is
// idempotent: the existing registration is kept and Initialize is not
// re-invoked. A different instance under an already-bound id, or an
// Initialize that reports failure, yields a RegistrationError.
func (b *Bus) Register(ctx context.Context, a core.Agent) error {
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return &core.RegistrationError{AgentID: a.ID(), Reason: "bus is closed"}
	}
	if existing, ok := b.bindings[a.ID()]; ok {
		b.mu.Unlock()
		if existing.agent == a && a.State().AcceptsTasks() {
			return nil
		}
		return &core.RegistrationError{AgentID: a.ID(), Reason: "id already bound"}
	}
	b.mu.Unlock()

	initCtx, cancel := context.WithTimeout(ctx, b.opts.InitTimeout)
	defer cancel()
	if err := a.Initialize(initCtx); err != nil {
		return &core.RegistrationError{AgentID: a.ID(), Reason: "initialize failed", Err: err}
	}

	bd := &binding{
		agent: a,
		inbox: make(chan core.Message, b.opts.InboxSize),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if _, ok := b.bindings[a.ID()]; ok {
		b.mu.Unlock()
		return &core.RegistrationError{AgentID: a.ID(), Reason: "id already bound"}
	}
	b.bindings[a.ID()] = bd
	b.mu.Unlock()

	go b.deliveryWorker(bd)

	b.logger.Info("agent registered", "agent_id", a.ID(), "name", a.Name())

	return nil
}

// Subscribe binds an endpoint handler to an id. Endpoints receive messages
// inline on the dispatcher goroutine.
func (b *Bus) Subscribe(id string, fn HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.endpoints[id]; ok {
		return fmt.Errorf("endpoint %s already subscribed", id)
	}
	if _, ok := b.bindings[id]; ok {
		return fmt.Errorf("id %s already bound to an agent", id)
	}
	b.endpoints[id] = fn
	return nil
}

// Unsubscribe removes an endpoint handler.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.endpoints, id)
}

// Tap registers an observer invoked for every dispatched message. Taps run
// on the dispatcher goroutine after routing; event-driven protocols use
// them as their subscription source. The returned detach function removes
// the tap and is safe to call more than once.
func (b *Bus) Tap(fn func(core.Message)) func() {
	b.mu.Lock()
	id := b.nextTap
	b.nextTap++
	b.taps[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.taps, id)
		b.mu.Unlock()
	}
}

// Agent returns a registered agent by id.
func (b *Bus) Agent(id string) (core.Agent, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bd, ok := b.bindings[id]
	if !ok {
		return nil, false
	}
	return bd.agent, true
}

// Agents returns a snapshot of all registered agents.
func (b *Bus) Agents() []core.Agent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]core.Agent, 0, len(b.bindings))
	for _, bd := range b.bindings {
		out = append(out, bd.agent)
	}
	return out
}

// Send enqueues a message without blocking the caller. The envelope is
// appended to history at admission time. Send fails when the queue is full
// or the bus is closed; it never blocks.
func (b *Bus) Send(msg core.Message) error {
	b.mu.RLock()
	closing := b.closing
	b.mu.RUnlock()
	if closing {
		return fmt.Errorf("bus is closed")
	}

	b.history.add(msg)

	select {
	case b.queue <- msg:
		return nil
	default:
		return fmt.Errorf("bus queue full, message %s dropped", msg.ID)
	}
}

// Broadcast fans a message out to every registered agent except the sender.
// Each copy is an independent envelope with a fresh id sharing the original
// correlation id. It returns the number of copies enqueued.
func (b *Bus) Broadcast(msg core.Message) int {
	b.mu.RLock()
	ids := make([]string, 0, len(b.bindings))
	for id := range b.bindings {
		if id != msg.From {
			ids = append(ids, id)
		}
	}
	b.mu.RUnlock()

	sent := 0
	for _, id := range ids {
		if err := b.Send(msg.CloneFor(id)); err != nil {
			b.logger.Warn("broadcast copy dropped", "to", id, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// History returns up to limit most recent messages, newest last. A non-empty
// agentID filters to envelopes sent by or addressed to that agent.
func (b *Bus) History(agentID string, limit int) []core.Message {
	return b.history.list(agentID, limit)
}

// Close stops the dispatcher, closes agent inboxes and waits for delivery
// workers to drain. Messages still queued at close time are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return
	}
	b.closing = true
	b.mu.Unlock()

	close(b.stop)
	<-b.done

	b.mu.Lock()
	bindings := make([]*binding, 0, len(b.bindings))
	for _, bd := range b.bindings {
		bindings = append(bindings, bd)
	}
	b.mu.Unlock()

	for _, bd := range bindings {
		close(bd.inbox)
		<-bd.done
	}
}

// dispatchLoop is the single cooperative dispatcher: one message at a time,
// with the stop channel as the shutdown check between pulls.
func (b *Bus) dispatchLoop() {
	defer close(b.done)
	for {
		select {
		case msg := <-b.queue:
			b.deliver(msg)
		case <-b.stop:
			return
		}
	}
}

// deliver routes one message. Failures are logged and the message dropped;
// retry is the scheduler's concern, not the bus's.
func (b *Bus) deliver(msg core.Message) {
	b.mu.RLock()
	handler, isEndpoint := b.endpoints[msg.To]
	bd, isAgent := b.bindings[msg.To]
	taps := make([]func(core.Message), 0, len(b.taps))
	for _, tap := range b.taps {
		taps = append(taps, tap)
	}
	b.mu.RUnlock()

	switch {
	case isEndpoint:
		b.invokeHandler(handler, msg)
	case isAgent:
		select {
		case bd.inbox <- msg:
		default:
			b.logger.Warn("agent inbox full, message dropped", "to", msg.To, "message_id", msg.ID)
		}
	default:
		b.logger.Warn("no destination for message", "to", msg.To, "type", string(msg.Type), "message_id", msg.ID)
	}

	for _, tap := range taps {
		b.invokeHandler(tap, msg)
	}
}

// invokeHandler shields the dispatcher from handler panics.
func (b *Bus) invokeHandler(fn func(core.Message), msg core.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panic, message dropped", "message_id", msg.ID, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn(msg)
}

// deliveryWorker drains one agent's inbox. Task requests invoke the agent's
// task-processing capability under the configured timeout and send the
// result back to the requester; other envelope types are offered to the
// agent's optional MessageReceiver hook.
func (b *Bus) deliveryWorker(bd *binding) {
	defer close(bd.done)
	for msg := range bd.inbox {
		switch msg.Type {
		case core.MessageTaskRequest:
			b.processTask(bd.agent, msg)
		default:
			if recv, ok := bd.agent.(core.MessageReceiver); ok {
				recv.OnMessage(msg)
			}
		}
	}
}

func (b *Bus) processTask(a core.Agent, msg core.Message) {
	task, ok := msg.Task()
	if !ok {
		b.logger.Warn("task request without task payload dropped", "message_id", msg.ID)
		return
	}

	var result core.TaskResult
	if !a.State().AcceptsTasks() {
		result = core.TaskResult{
			TaskID:    task.ID,
			ProjectID: task.ProjectID,
			AgentID:   a.ID(),
			Status:    core.TaskFailed,
			Error:     fmt.Sprintf("agent %s unavailable in state %s", a.ID(), a.State()),
			Transient: true,
		}
	} else {
		before := a.State()
		ctx, cancel := context.WithTimeout(context.Background(), b.opts.TaskTimeout)
		res, err := a.ProcessTask(ctx, task)
		cancel()
		if after := a.State(); after != before && (after == core.AgentDegraded || after == core.AgentFailed) {
			n := b.Broadcast(core.NewMessage(core.MessageStatusUpdate, a.ID(), "", a.HealthCheck()))
			b.logger.Warn("agent state change announced", "agent_id", a.ID(), "state", string(after), "copies", n)
		}
		result = res
		result.TaskID = task.ID
		result.ProjectID = task.ProjectID
		result.AgentID = a.ID()
		if err != nil {
			result.Status = core.TaskFailed
			result.Error = err.Error()
			result.Transient = core.IsTransient(err)
			b.logger.Warn("task processing failed", "task_id", task.ID, "agent_id", a.ID(), "error", err)
		} else if result.Status == "" {
			result.Status = core.TaskCompleted
		}
	}
	result.CompletedAt = time.Now().UTC()

	if err := b.Send(core.NewReply(msg, core.MessageTaskResponse, result)); err != nil {
		b.logger.Error("task response dropped", "task_id", task.ID, "error", err)
	}
}
