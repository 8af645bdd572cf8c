// Package tool implements the function calling subsystem: schema validated
// tools, a scope-gated registry and consistent error handling so a failing
// tool surfaces to the model as data instead of ending the conversation.
package tool

import (
	"fmt"

	"github.com/agent-penny/penny/core"
	"github.com/agent-penny/penny/internal/util"
)

// Error codes carried by ToolError. EXECUTION_ERROR and VALIDATION_ERROR are
// recoverable: the orchestrator feeds them back to the model. NOT_FOUND and
// FORBIDDEN are produced by the registry before any handler runs.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeExecutionError  = "EXECUTION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeForbidden       = "FORBIDDEN"
)

// Tool defines the interface for extending the assistant with external
// capabilities such as API calls, calculations or storage access.
//
// Tools receive a ToolContext carrying the calling session's identity, scopes
// and memory accessor. Implementations should:
//   - Provide clear, descriptive names (snake_case recommended)
//   - Define proper JSON schema for parameters
//   - Handle errors gracefully
//   - Be safe for concurrent use across sessions
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description of what this tool does.
	// This description is provided to the model to help it understand when and
	// how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	// This schema is used for parameter validation and model function calling.
	Parameters() map[string]interface{}

	// RequiredScopes returns the scopes a session must hold for this tool to
	// be visible and invocable. An empty set marks the tool as public.
	RequiredScopes() core.ScopeSet

	// Call executes the tool with structured arguments and ToolContext.
	// Arguments are parsed from JSON and validated against the tool's schema.
	Call(toolCtx *core.ToolContext, args map[string]interface{}) (interface{}, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors raised while resolving or executing a tool.
type ToolError struct {
	Tool    string      `json:"tool"`              // Name of the tool that failed
	Message string      `json:"message"`           // Error message
	Code    string      `json:"code"`              // Error code for categorization
	Details interface{} `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
