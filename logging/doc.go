// Package logging provides a minimal logging interface and adapters for forgemesh.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the bus, scheduler, protocol engine and orchestrator use
// for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ForgeLogger with contextual project/protocol helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewLogger(nil)
//	mesh := forgemesh.New(func(o *forgemesh.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor
// lock-in while supporting structured logging where available.
package logging
