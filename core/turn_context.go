package core

import (
	"context"
	"fmt"

	"github.com/agent-penny/penny/logging"
)

// TurnContext carries the execution state for a single turn. It encapsulates
// the per-turn scope passed to the orchestrator and, through ToolContext, to
// tool handlers. It aggregates:
//   - The ambient cancellation Context
//   - Correlation (TurnID) and the acting Identity with its granted Scopes
//   - The triggering user Content and prior conversation History
//   - The model-call Limiter enforcing the turn budget
//   - The session-bound MemoryAccessor
//   - An optional Emit channel streaming trace events to a transport
//
// A TurnContext is created by the session runner for each turn and discarded
// when the turn reaches a terminal state. It never outlives its session.
type TurnContext struct {
	Context     context.Context
	TurnID      string
	Identity    Identity
	Scopes      ScopeSet
	UserContent Content
	History     []Event
	Emit        chan<- Event
	Limiter     *TurnLimiter
	Memory      MemoryAccessor

	*loggerAdapter
}

// NewTurnContext constructs a TurnContext. maxModelCalls bounds the number of
// model calls within the turn (0 = unlimited). emit may be nil when no
// transport consumes the trace incrementally.
func NewTurnContext(
	ctx context.Context,
	turnID string,
	identity Identity,
	scopes ScopeSet,
	userContent Content,
	history []Event,
	maxModelCalls int,
	emit chan<- Event,
	memory MemoryAccessor,
	logger logging.Logger,
) *TurnContext {
	return &TurnContext{
		Context:       ctx,
		TurnID:        turnID,
		Identity:      identity,
		Scopes:        scopes,
		UserContent:   userContent,
		History:       history,
		Emit:          emit,
		Limiter:       NewTurnLimiter(maxModelCalls),
		Memory:        memory,
		loggerAdapter: newLoggerAdapter(logger),
	}
}

// Done returns a channel closed when the underlying context is cancelled.
func (tc *TurnContext) Done() <-chan struct{} { return tc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (tc *TurnContext) Err() error { return tc.Context.Err() }

// GetHistory returns a defensive copy of the prior conversation events.
func (tc *TurnContext) GetHistory() []Event {
	events := make([]Event, len(tc.History))
	copy(events, tc.History)
	return events
}

// RecallMemory returns the identity's namespace via the session-bound
// accessor.
func (tc *TurnContext) RecallMemory() (MemoryNamespace, error) {
	if tc.Memory == nil {
		return nil, fmt.Errorf("memory accessor not configured")
	}

	return tc.Memory.Memory(tc.Context)
}

// SaveFact writes one record through the session-bound accessor.
func (tc *TurnContext) SaveFact(key, value string) error {
	if tc.Memory == nil {
		return fmt.Errorf("memory accessor not configured")
	}

	return tc.Memory.SaveFact(tc.Context, key, value)
}

// EmitEvent streams ev to the transport. It is a no-op when no Emit channel
// is configured. If the context is cancelled before emission it returns the
// cancellation error.
func (tc *TurnContext) EmitEvent(ev Event) error {
	if tc.Emit == nil {
		return nil
	}

	select {
	case <-tc.Context.Done():
		return tc.Context.Err()
	case tc.Emit <- ev:
	}

	return nil
}
