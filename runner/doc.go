// Package runner is the front door for executing conversation turns.
//
// The Runner sits between the interactive surface (CLI loop, embedding
// application) and the agent.Orchestrator. It owns the concerns that span
// turns rather than living inside one:
//
//   - Per-session serialization: turns of the same session never overlap
//   - History commit: a turn's events join the session history only when the
//     turn succeeds, and old events are trimmed at turn boundaries
//   - Run lifecycle: asynchronous streaming execution with cancellation by
//     run id
//
// See runner.go for the operational implementation details.
package runner
