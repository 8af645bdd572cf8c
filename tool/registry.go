package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/agent-penny/penny/core"
	"github.com/agent-penny/penny/logging"
	"github.com/agent-penny/penny/model"
)

// Registry holds the full set of tools known to the process. Registration
// happens at wiring time; once sealed the registry is read-only and safe for
// unlocked concurrent reads from any number of sessions.
//
// Visibility and dispatch are both scope-gated. Visible filtering keeps a
// session's tool list stable (and in registration order, so identical scope
// sets produce byte-identical tool blocks across turns). Invoke re-checks
// scopes at dispatch because the model can name tools it was never shown.
type Registry struct {
	mu      sync.RWMutex
	ordered []Tool
	byName  map[string]Tool
	sealed  bool
	logger  logging.Logger
}

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

// WithRegistryLogger sets the logger used for dispatch diagnostics.
func WithRegistryLogger(l logging.Logger) func(o *RegistryOptions) {
	return func(o *RegistryOptions) { o.Logger = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Registry{
		byName: make(map[string]Tool),
		logger: opts.Logger,
	}
}

// Register adds a tool. Duplicate names and registration after Seal are
// errors: name collisions would make dispatch ambiguous and are caught here,
// at wiring time, rather than mid-conversation.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("registry is sealed, cannot register %q", t.Name())
	}
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("tool %q is already registered", name)
	}

	r.byName[name] = t
	r.ordered = append(r.ordered, t)
	return nil
}

// MustRegister is Register for wiring code, panicking on error.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Seal marks the registry read-only. Idempotent.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// Visible returns the tools whose required scopes are satisfied by the given
// scope set, in registration order.
func (r *Registry) Visible(scopes core.ScopeSet) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	visible := make([]Tool, 0, len(r.ordered))
	for _, t := range r.ordered {
		if scopes.Satisfies(t.RequiredScopes()) {
			visible = append(visible, t)
		}
	}
	return visible
}

// Definitions renders the visible tools as model function declarations, in
// registration order.
func (r *Registry) Definitions(scopes core.ScopeSet) []model.ToolDefinition {
	visible := r.Visible(scopes)

	defs := make([]model.ToolDefinition, 0, len(visible))
	for _, t := range visible {
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Invoke resolves name, re-checks the caller's scopes and runs the tool with
// JSON-decoded arguments. Failures come back as *ToolError:
//
//	unknown name            -> NOT_FOUND (no handler runs)
//	unsatisfied scopes      -> FORBIDDEN (no handler runs)
//	malformed argument JSON -> VALIDATION_ERROR
//	handler error or panic  -> EXECUTION_ERROR (or the handler's own ToolError)
//
// A panicking handler is recovered here so one bad tool cannot take down the
// conversation loop.
func (r *Registry) Invoke(toolCtx *core.ToolContext, name, args string) (result any, err error) {
	t, ok := r.Lookup(name)
	if !ok {
		r.logger.Warn("tool.call.not_found", "tool", name, "fc_id", toolCtx.FunctionCallID())
		return nil, &ToolError{
			Tool:    name,
			Message: fmt.Sprintf("no tool registered under %q", name),
			Code:    CodeNotFound,
		}
	}

	if !toolCtx.Scopes().Satisfies(t.RequiredScopes()) {
		r.logger.Warn("tool.call.forbidden",
			"tool", name,
			"identity", string(toolCtx.Identity()),
			"fc_id", toolCtx.FunctionCallID(),
		)
		return nil, &ToolError{
			Tool:    name,
			Message: "session scopes do not permit this tool",
			Code:    CodeForbidden,
		}
	}

	argMap := map[string]any{}
	if args != "" {
		if jsonErr := json.Unmarshal([]byte(args), &argMap); jsonErr != nil {
			return nil, &ToolError{
				Tool:    name,
				Message: fmt.Sprintf("failed to unmarshal args: %v", jsonErr),
				Code:    CodeValidationError,
			}
		}
	}

	defer func() { // panic safety
		if rec := recover(); rec != nil {
			r.logger.Error("tool.call.panic", "tool", name, "recover", rec, "stack", string(debug.Stack()))
			result = nil
			err = &ToolError{
				Tool:    name,
				Message: fmt.Sprintf("tool panicked: %v", rec),
				Code:    CodeExecutionError,
			}
		}
	}()

	result, err = t.Call(toolCtx, argMap)
	if err != nil {
		var te *ToolError
		if !errors.As(err, &te) {
			// Tools implemented outside FunctionTool may return plain errors.
			err = &ToolError{
				Tool:    name,
				Message: err.Error(),
				Code:    CodeExecutionError,
			}
		}
	}
	return result, err
}
