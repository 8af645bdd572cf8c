// Package logging provides a minimal logging interface and adapters for penny.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the session runner, orchestrator and tools use for
// observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - PennyLogger with contextual helpers (component, session, turn)
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	mgr := session.NewManager(registry, resolution, store, session.WithLogger(logger))
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
