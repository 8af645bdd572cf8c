// Package agent drives a single conversational turn from user message to
// final answer. The Orchestrator owns the model/tool loop:
//
//	AWAITING_INPUT -> MODEL_CALL -> (TOOL_DISPATCH -> MODEL_CALL)* -> DONE | FAILED
//
// Each model call is counted against the session model's per-turn budget;
// exceeding it or losing the backend fails the turn, never the session. Tool
// failures are demoted to data and sent back to the model, which decides how
// to recover.
//
// The Orchestrator itself is stateless across turns. All conversation state
// (history, scopes, resolved model, memory access) travels with the
// session.Session, so a single Orchestrator can serve many sessions. Turns
// within one session must be serialized by the caller; the runner package
// does this.
package agent
