// Package scheduler feeds tasks to agents through the bus once their
// dependencies, target agent, and resource reservations all line up.
//
// Tasks enter a priority queue ordered by phase, submission time, and
// priority hint. A task is dispatched only when every dependency has
// completed, its agent accepts work, and the allocator grants its full
// footprint. Transient failures are retried locally with exponential
// backoff; permanent failures and exhausted retries surface to whoever
// awaits the task.
package scheduler
