package scheduler

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/forgemesh/forgemesh/core"
)

// entry tracks one submitted task through its queue lifetime. An entry is
// created on Submit and kept until the scheduler is closed; result and
// waiters record its terminal outcome for Await.
type entry struct {
	task      core.Task
	phaseRank int
	seq       uint64
	index     int // heap index, -1 while off the queue

	retryAt      time.Time
	blockedSince time.Time
	retryDelays  *backoff.ExponentialBackOff

	inFlight bool
	result   *core.TaskResult
	waiters  []chan core.TaskResult
}

func (e *entry) terminal() bool { return e.result != nil }

// taskQueue is a min-heap ordered by (phase rank, submission time,
// priority hint, submission sequence).
type taskQueue []*entry

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.phaseRank != b.phaseRank {
		return a.phaseRank < b.phaseRank
	}
	if !a.task.SubmittedAt.Equal(b.task.SubmittedAt) {
		return a.task.SubmittedAt.Before(b.task.SubmittedAt)
	}
	if a.task.Priority != b.task.Priority {
		return a.task.Priority < b.task.Priority
	}
	return a.seq < b.seq
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}
