// Package protocol binds a group of agents working one project phase under
// a coordination mode.
//
// Sequential protocols run tasks strictly in declared order and abort the
// remaining chain on the first non-optional failure. Parallel protocols
// dispatch everything at once and block at the sync point until every
// feeding task terminates, passing only when the required success fraction
// is met. Event-driven protocols trigger tasks from message-type
// subscriptions without global blocking.
//
// Every protocol instance carries a timeout budget. Exceeding it fails the
// unresolved tasks with a ProtocolTimeout reason while preserving every
// sub-result that did complete.
package protocol
