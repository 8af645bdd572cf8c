// Package core provides the foundational domain types and execution contexts
// shared by the penny packages. It defines the core abstractions for:
//
//   - Identities and scope sets (who a session acts for, what it may touch)
//   - Events (immutable turn trace records with role-based content parts)
//   - TurnContext / ToolContext (scoped execution & tool sandboxing)
//   - The MemoryStore contract for per-identity persistent memory
//
// The package intentionally keeps implementation concerns (file persistence,
// model backends, the turn loop) out of scope, exposing small interfaces so
// the subsystem packages stay decoupled.
package core
