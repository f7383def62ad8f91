// Package core contains the shared data model of forgemesh: message
// envelopes, agents, tasks, projects, coordination protocols and the error
// taxonomy used across the bus, scheduler, protocol engine and orchestrator.
//
// Types in this package are plain data plus small invariant-preserving
// helpers; the behavioral components live in their own packages (bus,
// scheduler, protocol, orchestrator) and depend on core, never the other
// way around.
package core
