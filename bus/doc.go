// Package bus implements ordered, best-effort in-process message delivery
// between registered agents and plain endpoints (scheduler, orchestrator,
// protocol instances).
//
// A single cooperative dispatcher goroutine pulls one message at a time off
// the admission queue and routes it: endpoint handlers are invoked inline,
// agent-bound messages are appended to the agent's inbox where a dedicated
// delivery worker processes them one at a time. Admission order is the only
// ordering key, so messages from one origin to one destination are delivered
// in send order; no ordering is guaranteed across different routes.
//
// Delivery is best-effort: a failed delivery is logged and dropped. Retrying
// failed tasks is the scheduler's responsibility, never the bus's.
package bus
