package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/forgemesh/forgemesh/bus"
	"github.com/forgemesh/forgemesh/core"
	"github.com/forgemesh/forgemesh/logging"
	"github.com/forgemesh/forgemesh/scheduler"
)

// Status is the terminal verdict of one protocol run.
type Status string

const (
	// StatusCompleted means every required task succeeded and the sync
	// point threshold was met.
	StatusCompleted Status = "completed"
	// StatusAborted means a required task failed, or the sync point
	// threshold was missed; completed sub-results are preserved.
	StatusAborted Status = "aborted"
	// StatusTimedOut means the timeout budget was exceeded with tasks
	// still unresolved.
	StatusTimedOut Status = "timed_out"
)

// Outcome carries the verdict of a protocol run together with every
// sub-result observed before the run ended. Partial results survive aborts
// and timeouts; TaskOrder preserves the declared task order so callers can
// aggregate artifacts deterministically.
type Outcome struct {
	ProtocolID string                     `json:"protocol_id"`
	Status     Status                     `json:"status"`
	Results    map[string]core.TaskResult `json:"results"`
	TaskOrder  []string                   `json:"task_order"`
	Err        error                      `json:"-"`
	Elapsed    time.Duration              `json:"elapsed"`
}

// Artifacts collects artifact metadata from completed tasks in declared
// task order.
func (o Outcome) Artifacts() []core.ArtifactMeta {
	var out []core.ArtifactMeta
	for _, id := range o.TaskOrder {
		if res, ok := o.Results[id]; ok && res.Succeeded() {
			out = append(out, res.Artifacts...)
		}
	}
	return out
}

// Options configures a Runner.
type Options struct {
	// DefaultTimeout applies to protocols that declare no timeout budget.
	DefaultTimeout time.Duration

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Runner executes coordination protocols on top of the scheduler. One
// Runner serves any number of concurrent protocol instances.
type Runner struct {
	sched  *scheduler.Scheduler
	bus    *bus.Bus
	opts   Options
	logger logging.Logger
}

// NewRunner creates a protocol runner bound to the scheduler and bus.
func NewRunner(sched *scheduler.Scheduler, b *bus.Bus, optFns ...func(o *Options)) *Runner {
	opts := Options{
		DefaultTimeout: 5 * time.Minute,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Runner{sched: sched, bus: b, opts: opts, logger: opts.Logger}
}

// Execute runs one protocol instance to its verdict. The tasks are the
// phase's tasks in declared order. The returned error reports setup
// problems (rejected submissions, unknown mode); protocol-semantic
// failures (aborts, timeouts, missed thresholds) land in the Outcome.
//
// Event-driven protocols block here too, bounded by the timeout budget;
// callers wanting no global blocking use StartEventDriven directly.
func (r *Runner) Execute(ctx context.Context, p core.Protocol, tasks []core.Task) (Outcome, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = r.opts.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var (
		out Outcome
		err error
	)
	switch p.Mode {
	case core.ModeSequential:
		out, err = r.runSequential(ctx, p, tasks)
	case core.ModeParallel:
		out, err = r.runParallel(ctx, p, tasks)
	case core.ModeEventDriven:
		var session *EventSession
		session, err = r.StartEventDriven(p, tasks)
		if err == nil {
			defer session.Close()
			out = session.WaitSync(ctx)
		}
	default:
		err = fmt.Errorf("protocol %s: unknown coordination mode %q", p.ID, p.Mode)
	}
	if err != nil {
		return Outcome{}, err
	}

	out.ProtocolID = p.ID
	out.Elapsed = time.Since(start)
	r.logger.Info("protocol finished",
		"protocol_id", p.ID,
		"project_id", p.ProjectID,
		"mode", string(p.Mode),
		"status", string(out.Status),
		"tasks", len(tasks),
		"elapsed", out.Elapsed,
	)
	return out, nil
}

func (r *Runner) runSequential(ctx context.Context, p core.Protocol, tasks []core.Task) (Outcome, error) {
	out := newOutcome(tasks)

	for _, task := range tasks {
		if err := r.sched.Submit(task); err != nil {
			return Outcome{}, err
		}
		res, err := r.sched.Await(ctx, task.ID)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return r.timedOut(p, out), nil
			}
			return Outcome{}, err
		}
		out.Results[task.ID] = res

		if !res.Succeeded() && !task.Optional {
			// Fail-fast: the rest of the chain never dispatches.
			out.Status = StatusAborted
			out.Err = &core.PermanentFailure{
				Op:     "protocol " + p.ID,
				Reason: fmt.Sprintf("task %s failed: %s", task.ID, res.Error),
			}
			return out, nil
		}
	}

	out.Status = StatusCompleted
	return out, nil
}

func (r *Runner) runParallel(ctx context.Context, p core.Protocol, tasks []core.Task) (Outcome, error) {
	out := newOutcome(tasks)

	if err := r.sched.SubmitAll(tasks); err != nil {
		return Outcome{}, err
	}

	type arrival struct {
		id  string
		res core.TaskResult
		err error
	}
	arrivals := make(chan arrival, len(tasks))
	for _, task := range tasks {
		go func(id string) {
			res, err := r.sched.Await(ctx, id)
			arrivals <- arrival{id: id, res: res, err: err}
		}(task.ID)
	}

	// Sync point: block until every feeding task is terminal or the
	// budget runs out.
	for range tasks {
		a := <-arrivals
		if a.err != nil {
			return r.timedOut(p, out), nil
		}
		out.Results[a.id] = a.res
	}

	if passed, got, want := meetsThreshold(p, tasks, out.Results); !passed {
		out.Status = StatusAborted
		out.Err = &core.PermanentFailure{
			Op:     "protocol " + p.ID,
			Reason: requiredSuccessReason(got, want),
		}
		return out, nil
	}

	out.Status = StatusCompleted
	return out, nil
}

// timedOut converts a run that exceeded its budget into a timed-out
// outcome: every unresolved task is failed with the ProtocolTimeout reason
// and every completed sub-result is kept.
func (r *Runner) timedOut(p core.Protocol, out Outcome) Outcome {
	pt := &core.ProtocolTimeout{ProtocolID: p.ID, Elapsed: p.Timeout}
	for _, id := range out.TaskOrder {
		if _, resolved := out.Results[id]; resolved {
			continue
		}
		res, ok := r.sched.Result(id)
		if !ok {
			res = core.TaskResult{
				TaskID:    id,
				ProjectID: p.ProjectID,
				Status:    core.TaskFailed,
				Error:     pt.Error(),
			}
		}
		out.Results[id] = res
	}
	out.Status = StatusTimedOut
	out.Err = pt
	r.logger.Warn("protocol timed out", "protocol_id", p.ID, "project_id", p.ProjectID)
	return out
}

func newOutcome(tasks []core.Task) Outcome {
	order := make([]string, len(tasks))
	for i, t := range tasks {
		order[i] = t.ID
	}
	return Outcome{
		Results:   make(map[string]core.TaskResult, len(tasks)),
		TaskOrder: order,
	}
}

func requiredSuccessReason(got, want float64) string {
	return fmt.Sprintf("sync point missed success threshold: %.2f < %.2f", got, want)
}

// meetsThreshold checks the sync point success fraction over the required
// (non-optional) tasks. A zero RequiredSuccess means all must succeed.
func meetsThreshold(p core.Protocol, tasks []core.Task, results map[string]core.TaskResult) (bool, float64, float64) {
	want := p.RequiredSuccess
	if want <= 0 || want > 1 {
		want = 1
	}

	required, succeeded := 0, 0
	for _, task := range tasks {
		if task.Optional {
			continue
		}
		required++
		if res, ok := results[task.ID]; ok && res.Succeeded() {
			succeeded++
		}
	}
	if required == 0 {
		return true, 1, want
	}
	got := float64(succeeded) / float64(required)
	return got >= want, got, want
}
