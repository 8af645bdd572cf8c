package core

import (
	"context"
	"fmt"

	"github.com/agent-penny/penny/logging"
)

// ToolContext provides a constrained, auditable surface for tool handlers.
// It exposes only what a handler may legitimately reach: the cancellation
// context, the acting identity and scopes, the function call correlation id,
// and the session-bound memory accessor. Handlers never see the raw store or
// another identity's namespace.
type ToolContext struct {
	turnCtx        *TurnContext
	functionCallID string
	valid          bool

	*loggerAdapter
}

// NewToolContext constructs a tool context bound to a parent TurnContext and
// unique functionCallID.
func NewToolContext(turnCtx *TurnContext, functionCallID string) *ToolContext {
	return &ToolContext{
		turnCtx:        turnCtx,
		functionCallID: functionCallID,
		valid:          true,
		loggerAdapter:  newLoggerAdapter(turnCtx.Logger()),
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.turnCtx.Context }

// TurnID returns the turn ID associated with the tool invocation.
func (tc *ToolContext) TurnID() string { return tc.turnCtx.TurnID }

// Identity returns the identity the invocation acts for.
func (tc *ToolContext) Identity() Identity { return tc.turnCtx.Identity }

// Scopes returns the scope set granted to the session.
func (tc *ToolContext) Scopes() ScopeSet { return tc.turnCtx.Scopes }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.loggerAdapter.Logger() }

// FunctionCallID returns the function call ID associated with the tool
// invocation.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// RecallMemory returns the acting identity's memory namespace.
func (tc *ToolContext) RecallMemory() (MemoryNamespace, error) {
	if tc.turnCtx.Memory == nil {
		return nil, fmt.Errorf("memory accessor not configured")
	}

	return tc.turnCtx.Memory.Memory(tc.turnCtx.Context)
}

// SaveFact writes one record to the acting identity's namespace.
func (tc *ToolContext) SaveFact(key, value string) error {
	if tc.turnCtx.Memory == nil {
		return fmt.Errorf("memory accessor not configured")
	}

	return tc.turnCtx.Memory.SaveFact(tc.turnCtx.Context, key, value)
}

// GetHistory returns the prior conversation events for context.
func (tc *ToolContext) GetHistory() []Event {
	return tc.turnCtx.GetHistory()
}

// Validate performs a structural sanity check of the context.
func (tc *ToolContext) Validate() error {
	if !tc.valid || tc.turnCtx == nil || tc.turnCtx.Identity == "" || tc.functionCallID == "" {
		return fmt.Errorf("invalid ToolContext")
	}

	return nil
}

// IsValid reports whether Validate would succeed (fast path).
func (tc *ToolContext) IsValid() bool {
	return tc.valid && tc.turnCtx != nil && tc.turnCtx.Identity != "" && tc.functionCallID != ""
}
